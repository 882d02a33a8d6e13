package iso7816

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

func TestPINBlock(t *testing.T) {
	tests := []struct {
		pin  string
		want []byte
	}{
		{pin: "1234", want: tlv.Hex("24 12 34 FF FF FF FF FF")},
		{pin: "12345", want: tlv.Hex("25 12 34 5F FF FF FF FF")},
		{pin: "123456789012", want: tlv.Hex("2C 12 34 56 78 90 12 FF")},
	}

	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			got, err := PINBlock(tt.pin)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPINBlock_Invalid(t *testing.T) {
	for _, pin := range []string{"", "123", "1234567890123", "12a4"} {
		_, err := PINBlock(pin)
		assert.Error(t, err, "PIN %q", pin)
	}
}

func TestSecurityCommands(t *testing.T) {
	challenge, err := GetChallenge(BasicClass, 8)
	require.NoError(t, err)

	verify, err := VerifyPIN(BasicClass, PINRefCardholder, "1234")
	require.NoError(t, err)

	change, err := ChangePIN(BasicClass, PINRefCardholder, "1234", "5678")
	require.NoError(t, err)

	tests := []struct {
		name string
		cmd  *CommandAPDU
		want []byte
	}{
		{
			name: "GET CHALLENGE",
			cmd:  challenge,
			want: tlv.Hex("00 84 00 00 08"),
		},
		{
			name: "VERIFY",
			cmd:  verify,
			want: tlv.Hex("00 20 00 01 08 24 12 34 FF FF FF FF FF"),
		},
		{
			name: "PIN status",
			cmd:  PINStatus(BasicClass, PINRefCardholder),
			want: tlv.Hex("00 20 00 01"),
		},
		{
			name: "CHANGE REFERENCE DATA",
			cmd:  change,
			want: tlv.Hex("00 24 00 01 10 24 12 34 FF FF FF FF FF 24 56 78 FF FF FF FF FF"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cmd.Bytes()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = GetChallenge(BasicClass, 0)
	assert.Error(t, err)
}
