package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/eid-middleware/pkg/bits"
	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

// READ BINARY COMMAND LOGIC (ISO 7816-4, INS 'B0'):
// Reads a transparent EF, the currently selected one unless P1 carries a
// short EF identifier.
//
//	P1 b8 = 0: P1-P2 is a 15-bit offset into the current EF
//	P1 b8 = 1: P1 b5-b1 is an SFI, P2 is an 8-bit offset
//
// Reading at or past the end of the file yields 6B00; a shorter tail than Le
// yields 6282 (end of file reached before Le bytes) with the remaining data.

// MaxBinaryOffset is the largest offset addressable without an SFI.
const MaxBinaryOffset = 0x7FFF

// ReadBinary reads le bytes (1-256) at offset in the current EF.
func ReadBinary(cla Class, offset int, le int) (*CommandAPDU, error) {
	if offset < 0 || offset > MaxBinaryOffset {
		return nil, fmt.Errorf("offset %d out of range (max %d)", offset, MaxBinaryOffset)
	}
	if le < 1 || le > MaxShortLe {
		return nil, fmt.Errorf("le %d out of range (1-%d)", le, MaxShortLe)
	}
	return NewCommandAPDU(cla, mustInstruction(INS_READ_BINARY), byte(offset>>8), byte(offset), nil, le), nil
}

// ReadBinarySFI reads le bytes at an 8-bit offset of the EF designated by sfi.
func ReadBinarySFI(cla Class, sfi byte, offset byte, le int) (*CommandAPDU, error) {
	if sfi < 1 || sfi > 30 {
		return nil, fmt.Errorf("sfi %d out of range (1-30)", sfi)
	}
	if le < 1 || le > MaxShortLe {
		return nil, fmt.Errorf("le %d out of range (1-%d)", le, MaxShortLe)
	}
	p1 := bits.Set(sfi&0x1F, 8)
	return NewCommandAPDU(cla, mustInstruction(INS_READ_BINARY), p1, offset, nil, le), nil
}

// ReadBinaryResult represents the outcome of a READ BINARY command execution.
type ReadBinaryResult struct {
	Trace
}

// NewReadBinaryResult wraps a trace that must start with READ BINARY.
func NewReadBinaryResult(t Trace) (*ReadBinaryResult, error) {
	if err := startResult(t, INS_READ_BINARY); err != nil {
		return nil, err
	}
	return &ReadBinaryResult{Trace: t}, nil
}

// Data returns the assembled data of the read.
func (r *ReadBinaryResult) Data() []byte {
	if resp := r.Assemble(); resp != nil {
		return resp.Data
	}
	return nil
}

// Describe generates a detailed, ASCII-formatted report of the read operation.
func (r *ReadBinaryResult) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== READ BINARY COMMAND REPORT ===\n")

	tx0 := r.Trace[0]
	cmd := tx0.Command

	sb.WriteString("[1] Command: READ BINARY\n")
	if bits.IsSet(cmd.P1, 8) {
		sfi := bits.GetRange(cmd.P1, 5, 1)
		fmt.Fprintf(&sb, "    + Target:  SFI %02X (%d)\n", sfi, sfi)
		fmt.Fprintf(&sb, "    + Offset:  %d\n", cmd.P2)
	} else {
		sb.WriteString("    + Target:  Current EF\n")
		fmt.Fprintf(&sb, "    + Offset:  %d\n", int(cmd.P1)<<8|int(cmd.P2))
	}
	fmt.Fprintf(&sb, "    + Le:      %d\n", cmd.Ne)
	sb.WriteString(describeResult(tx0.Response.Status))
	sb.WriteString("\n")

	describeChain(&sb, r.Trace)

	data := r.Data()
	sb.WriteString("[=] DATA OUTCOME:\n")
	if len(data) > 0 {
		fmt.Fprintf(&sb, "    + Length: %d bytes\n", len(data))
		fmt.Fprintf(&sb, "    + Dump:   %X\n", data)
		fmt.Fprintf(&sb, "    + ASCII:  %q\n", tlv.SafeASCII(data))
	} else {
		sb.WriteString("    - No Data Received.\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
