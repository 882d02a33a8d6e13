package iso7816

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

// scriptedCard answers each Transmit with the next scripted response and
// records the commands it received.
type scriptedCard struct {
	responses [][]byte
	errs      []error
	sent      [][]byte
}

func (s *scriptedCard) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := len(s.sent)
	s.sent = append(s.sent, append([]byte(nil), cmd...))
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, errors.New("unexpected command")
	}
	return s.responses[i], nil
}

// loopingCard answers 61 01 forever.
type loopingCard struct{ calls int }

func (l *loopingCard) Transmit(context.Context, []byte) ([]byte, error) {
	l.calls++
	return []byte{0xAA, 0x61, 0x01}, nil
}

func TestClient_Transceive_ChainedResponse(t *testing.T) {
	first := bytes.Repeat([]byte{0x11}, 0x10)
	second := bytes.Repeat([]byte{0x22}, 0x05)

	card := &scriptedCard{responses: [][]byte{
		tlv.Hex("61 10"),
		append(append([]byte(nil), first...), 0x61, 0x05),
		append(append([]byte(nil), second...), 0x90, 0x00),
	}}

	cmd, err := SelectByPath(BasicClass, tlv.Hex("DF01 4031"), ReturnFCI)
	require.NoError(t, err)

	resp, err := NewClient(card).Transceive(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, append(first, second...), resp.Data)
	assert.Equal(t, SW_NO_ERROR, resp.Status)

	require.Len(t, card.sent, 3)
	assert.Equal(t, tlv.Hex("00 C0 00 00 10"), card.sent[1])
	assert.Equal(t, tlv.Hex("00 C0 00 00 05"), card.sent[2])
}

func TestClient_Send_GetResponseKeepsChannel(t *testing.T) {
	cla, err := NewInterindustryClass(false, SMNone, 2)
	require.NoError(t, err)

	card := &scriptedCard{responses: [][]byte{
		tlv.Hex("61 00"),
		append(make([]byte, 256), 0x90, 0x00),
	}}

	cmd, _ := GetChallenge(cla, 8)
	trace, err := NewClient(card).Send(context.Background(), cmd)
	require.NoError(t, err)
	require.Len(t, trace, 2)

	// 61 00 announces 256 bytes, encoded as Le 00 on channel 2.
	assert.Equal(t, tlv.Hex("02 C0 00 00 00"), card.sent[1])
	assert.Equal(t, 256, trace[1].Command.Ne)
}

func TestClient_Send_WrongLength(t *testing.T) {
	t.Run("Re-issued once with corrected Le", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{
			tlv.Hex("6C 04"),
			tlv.Hex("01 02 03 04 90 00"),
		}}

		cmd, _ := ReadBinary(BasicClass, 0, 256)
		resp, err := NewClient(card).Transceive(context.Background(), cmd)
		require.NoError(t, err)

		assert.Equal(t, tlv.Hex("01 02 03 04"), resp.Data)
		assert.Equal(t, tlv.Hex("00 B0 00 00 04"), card.sent[1])
		assert.Equal(t, 256, cmd.Ne, "original command must not be mutated")
	})

	t.Run("Second 6CXX is a protocol error", func(t *testing.T) {
		card := &scriptedCard{responses: [][]byte{
			tlv.Hex("6C 04"),
			tlv.Hex("6C 02"),
		}}

		cmd, _ := ReadBinary(BasicClass, 0, 256)
		_, err := NewClient(card).Transceive(context.Background(), cmd)
		require.Error(t, err)
		assert.Equal(t, carderr.ProtocolError, carderr.KindOf(err))
		assert.Len(t, card.sent, 2)
	})
}

func TestClient_Send_BoundedChain(t *testing.T) {
	card := &loopingCard{}
	client := NewClient(card)
	client.MaxExchanges = 5

	cmd, _ := GetChallenge(BasicClass, 1)
	trace, err := client.Send(context.Background(), cmd)

	require.Error(t, err)
	assert.True(t, errors.Is(err, carderr.ErrProtocol))
	assert.Len(t, trace, 5)
	assert.Equal(t, 5, card.calls)
}

func TestClient_Transceive_Classification(t *testing.T) {
	tests := []struct {
		name     string
		response []byte
		err      error
		wantKind carderr.Kind
	}{
		{name: "Success", response: tlv.Hex("CA FE 90 00")},
		{name: "Warning is not an error", response: tlv.Hex("CA 62 82")},
		{name: "File not found", response: tlv.Hex("6A 82"), wantKind: carderr.ObjectNotFound},
		{name: "Wrong PIN", response: tlv.Hex("63 C2"), wantKind: carderr.SecurityConditionNotSatisfied},
		{name: "Security status", response: tlv.Hex("69 82"), wantKind: carderr.SecurityConditionNotSatisfied},
		{name: "Instruction not supported", response: tlv.Hex("6D 00"), wantKind: carderr.ProtocolError},
		{name: "Malformed response", response: tlv.Hex("90"), wantKind: carderr.ProtocolError},
		{name: "Transport failure", err: errors.New("reader unplugged"), wantKind: carderr.TransportError},
		{name: "Classified failure kept", err: carderr.New("transmit", carderr.CardChanged), wantKind: carderr.CardChanged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := &scriptedCard{responses: [][]byte{tt.response}, errs: []error{tt.err}}
			cmd, _ := GetChallenge(BasicClass, 2)

			_, err := NewClient(card).Transceive(context.Background(), cmd)
			if tt.wantKind == carderr.KindUnknown {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, carderr.KindOf(err))
		})
	}
}

func TestClient_Transceive_WrongPINKeepsResponse(t *testing.T) {
	card := &scriptedCard{responses: [][]byte{tlv.Hex("63 C1")}}
	cmd, _ := VerifyPIN(BasicClass, PINRefCardholder, "0000")

	resp, err := NewClient(card).Transceive(context.Background(), cmd)

	var cerr *carderr.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Retries)
	assert.Equal(t, "verify: security condition not satisfied (SW 63C1), 1 retry remaining", err.Error())
	require.NotNil(t, resp)
	assert.Equal(t, NewStatusWord(0x63, 0xC1), resp.Status)
}

func TestClient_Transceive_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	card := &scriptedCard{}
	cmd, _ := GetChallenge(BasicClass, 8)

	_, err := NewClient(card).Transceive(ctx, cmd)
	require.Error(t, err)
	assert.True(t, carderr.IsTimeout(err))
}
