package iso7816

import (
	"bytes"
	"fmt"
)

// APDU framing according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU: Header (CLA INS P1 P2) followed by an optional body.
//
//	Case 1: header only
//	Case 2: header + Le
//	Case 3: header + Lc + data
//	Case 4: header + Lc + data + Le
//
// Short lengths take one byte (Lc <= 255, Le <= 256 with 00 meaning 256).
// Extended lengths are used as soon as Lc > 255 or Le > 256: Lc becomes
// 00 XX XX and Le two bytes (0000 meaning 65536), preceded by 00 in case 2.
//
// RESPONSE APDU: optional data followed by the SW1 SW2 trailer.

// APDU limits according to ISO 7816-3.
const (
	MaxShortLc    = 255
	MaxShortLe    = 256
	MaxExtendedLc = 65535
	MaxExtendedLe = 65536

	// MaxAPDUBufferSize is the largest extended command: header, Lc, data, Le.
	MaxAPDUBufferSize = 4 + 3 + MaxExtendedLc + 2
)

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // expected response length, 0 means none
}

// NewCommandAPDU creates a command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Bytes encodes the command, choosing short or extended lengths from Nc and Ne.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	ne := c.Ne

	if nc > MaxExtendedLc {
		return nil, fmt.Errorf("command data too long: %d bytes", nc)
	}
	if ne < 0 || ne > MaxExtendedLe {
		return nil, fmt.Errorf("expected length out of range: %d", ne)
	}

	cla, err := c.Class.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode Class: %w", err)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+3+nc+3))
	buf.Write([]byte{cla, byte(c.Instruction.Raw), c.P1, c.P2})

	extended := nc > MaxShortLc || ne > MaxShortLe

	if nc > 0 {
		if extended {
			buf.Write([]byte{0x00, byte(nc >> 8), byte(nc)})
		} else {
			buf.WriteByte(byte(nc))
		}
		buf.Write(c.Data)
	}

	if ne > 0 {
		switch {
		case !extended:
			// 256 wraps to 00
			buf.WriteByte(byte(ne))
		default:
			if nc == 0 {
				buf.WriteByte(0x00)
			}
			// 65536 wraps to 0000
			buf.Write([]byte{byte(ne >> 8), byte(ne)})
		}
	}

	return buf.Bytes(), nil
}

// ParseCommandAPDU decodes a raw command. It is the inverse of Bytes and is
// used by card simulators.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("command too short: length %d", len(raw))
	}

	cla, err := ParseClass(raw[0])
	if err != nil {
		return nil, err
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, err
	}

	cmd := &CommandAPDU{Class: cla, Instruction: ins, P1: raw[2], P2: raw[3]}
	body := raw[4:]

	switch {
	case len(body) == 0:
		// case 1

	case len(body) == 1:
		// case 2 short
		cmd.Ne = decodeLe(uint(body[0]), MaxShortLe)

	case body[0] != 0x00 || len(body) < 3:
		// short case 3 or 4
		nc := int(body[0])
		switch len(body) {
		case 1 + nc:
		case 2 + nc:
			cmd.Ne = decodeLe(uint(body[1+nc]), MaxShortLe)
		default:
			return nil, fmt.Errorf("short body of %d bytes inconsistent with Lc=%d", len(body), nc)
		}
		cmd.Data = body[1 : 1+nc]

	case len(body) == 3:
		// case 2 extended
		cmd.Ne = decodeLe(uint(body[1])<<8|uint(body[2]), MaxExtendedLe)

	default:
		// extended case 3 or 4
		nc := int(body[1])<<8 | int(body[2])
		switch len(body) {
		case 3 + nc:
		case 5 + nc:
			cmd.Ne = decodeLe(uint(body[3+nc])<<8|uint(body[4+nc]), MaxExtendedLe)
		default:
			return nil, fmt.Errorf("extended body of %d bytes inconsistent with Lc=%d", len(body), nc)
		}
		cmd.Data = body[3 : 3+nc]
	}

	return cmd, nil
}

func decodeLe(v uint, zeroMeans int) int {
	if v == 0 {
		return zeroMeans
	}
	return int(v)
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card.
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw bytes into data and status word.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: length %d", len(raw))
	}

	n := len(raw) - 2
	return &ResponseAPDU{
		Data:   raw[:n],
		Status: NewStatusWord(raw[n], raw[n+1]),
	}, nil
}

// Bytes encodes the response as sent by a card.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
