package iso7816

import (
	"fmt"

	"github.com/gregLibert/eid-middleware/pkg/bits"
)

// SECURITY AND CARD COMMANDS:
// GET CHALLENGE (INS '84') returns Le random bytes.
// VERIFY (INS '20') and CHANGE REFERENCE DATA (INS '24') carry PINs as
// format 2 blocks (ISO 9564):
//
//	2N PP PP .. FF   N = number of digits, P = BCD digits, padded with F
//
// A wrong PIN is answered with 63CX, X being the tries left; 6983 means the
// PIN is blocked.

// PIN length limits of a format 2 block.
const (
	MinPINLength = 4
	MaxPINLength = 12

	pinBlockSize = 8
)

// PIN references on the eID applet.
const (
	PINRefCardholder byte = 0x01
)

// GetChallenge requests n random bytes from the card.
func GetChallenge(cla Class, n int) (*CommandAPDU, error) {
	if n < 1 || n > MaxShortLe {
		return nil, fmt.Errorf("challenge length %d out of range (1-%d)", n, MaxShortLe)
	}
	return NewCommandAPDU(cla, mustInstruction(INS_GET_CHALLENGE), 0x00, 0x00, nil, n), nil
}

// PINBlock encodes pin as a format 2 block.
func PINBlock(pin string) ([]byte, error) {
	if len(pin) < MinPINLength || len(pin) > MaxPINLength {
		return nil, fmt.Errorf("PIN must have %d to %d digits, got %d", MinPINLength, MaxPINLength, len(pin))
	}

	block := make([]byte, pinBlockSize)
	for i := range block {
		block[i] = 0xFF
	}
	block[0] = bits.PackNibbles(0x2, byte(len(pin)))

	for i := 0; i < len(pin); i++ {
		d := pin[i]
		if d < '0' || d > '9' {
			return nil, fmt.Errorf("PIN must contain digits only")
		}
		pos := 1 + i/2
		if i%2 == 0 {
			block[pos] = bits.PackNibbles(d-'0', bits.LowNibble(block[pos]))
		} else {
			block[pos] = bits.PackNibbles(bits.HighNibble(block[pos]), d-'0')
		}
	}
	return block, nil
}

// VerifyPIN builds a VERIFY command for the given PIN reference.
func VerifyPIN(cla Class, ref byte, pin string) (*CommandAPDU, error) {
	block, err := PINBlock(pin)
	if err != nil {
		return nil, err
	}
	return NewCommandAPDU(cla, mustInstruction(INS_VERIFY), 0x00, ref, block, 0), nil
}

// PINStatus builds an empty VERIFY, which cards answer with 63CX (tries left)
// or 9000 (already verified) without consuming a try.
func PINStatus(cla Class, ref byte) *CommandAPDU {
	return NewCommandAPDU(cla, mustInstruction(INS_VERIFY), 0x00, ref, nil, 0)
}

// ChangePIN builds a CHANGE REFERENCE DATA command carrying the current and
// the new PIN blocks.
func ChangePIN(cla Class, ref byte, oldPIN, newPIN string) (*CommandAPDU, error) {
	oldBlock, err := PINBlock(oldPIN)
	if err != nil {
		return nil, fmt.Errorf("current PIN: %w", err)
	}
	newBlock, err := PINBlock(newPIN)
	if err != nil {
		return nil, fmt.Errorf("new PIN: %w", err)
	}
	data := append(oldBlock, newBlock...)
	return NewCommandAPDU(cla, mustInstruction(INS_CHANGE_REFERENCE_DATA), 0x00, ref, data, 0), nil
}
