package iso7816

import (
	"fmt"

	"github.com/gregLibert/eid-middleware/pkg/bits"
)

// Instruction byte (INS) according to ISO/IEC 7816-4.
//
// Bit 1 of an interindustry INS flags BER-TLV encoded data (B0 READ BINARY,
// B1 READ BINARY with BER-TLV offset). Values 6X and 9X are invalid: they
// collide with SW1 procedure bytes of the T=0 protocol.

// InsCode is the raw instruction byte.
type InsCode byte

// Interindustry instruction codes.
const (
	INS_DEACTIVATE_FILE              InsCode = 0x04
	INS_ERASE_BINARY                 InsCode = 0x0E
	INS_VERIFY                       InsCode = 0x20
	INS_MANAGE_SECURITY_ENVIRONMENT  InsCode = 0x22
	INS_CHANGE_REFERENCE_DATA        InsCode = 0x24
	INS_PERFORM_SECURITY_OPERATION   InsCode = 0x2A
	INS_RESET_RETRY_COUNTER          InsCode = 0x2C
	INS_ACTIVATE_FILE                InsCode = 0x44
	INS_GENERATE_ASYMMETRIC_KEY_PAIR InsCode = 0x46
	INS_MANAGE_CHANNEL               InsCode = 0x70
	INS_EXTERNAL_AUTHENTICATE        InsCode = 0x82
	INS_GET_CHALLENGE                InsCode = 0x84
	INS_GENERAL_AUTHENTICATE         InsCode = 0x86
	INS_INTERNAL_AUTHENTICATE        InsCode = 0x88
	INS_SELECT                       InsCode = 0xA4
	INS_READ_BINARY                  InsCode = 0xB0
	INS_READ_BINARY_BER              InsCode = 0xB1
	INS_READ_RECORD                  InsCode = 0xB2
	INS_GET_RESPONSE                 InsCode = 0xC0
	INS_ENVELOPE                     InsCode = 0xC2
	INS_GET_DATA                     InsCode = 0xCA
	INS_UPDATE_BINARY                InsCode = 0xD6
	INS_PUT_DATA                     InsCode = 0xDA
)

var insNames = map[InsCode]string{
	INS_DEACTIVATE_FILE:              "DEACTIVATE FILE",
	INS_ERASE_BINARY:                 "ERASE BINARY",
	INS_VERIFY:                       "VERIFY",
	INS_MANAGE_SECURITY_ENVIRONMENT:  "MANAGE SECURITY ENVIRONMENT",
	INS_CHANGE_REFERENCE_DATA:        "CHANGE REFERENCE DATA",
	INS_PERFORM_SECURITY_OPERATION:   "PERFORM SECURITY OPERATION",
	INS_RESET_RETRY_COUNTER:          "RESET RETRY COUNTER",
	INS_ACTIVATE_FILE:                "ACTIVATE FILE",
	INS_GENERATE_ASYMMETRIC_KEY_PAIR: "GENERATE ASYMMETRIC KEY PAIR",
	INS_MANAGE_CHANNEL:               "MANAGE CHANNEL",
	INS_EXTERNAL_AUTHENTICATE:        "EXTERNAL AUTHENTICATE",
	INS_GET_CHALLENGE:                "GET CHALLENGE",
	INS_GENERAL_AUTHENTICATE:         "GENERAL AUTHENTICATE",
	INS_INTERNAL_AUTHENTICATE:        "INTERNAL AUTHENTICATE",
	INS_SELECT:                       "SELECT",
	INS_READ_BINARY:                  "READ BINARY",
	INS_READ_BINARY_BER:              "READ BINARY (BER-TLV)",
	INS_READ_RECORD:                  "READ RECORD",
	INS_GET_RESPONSE:                 "GET RESPONSE",
	INS_ENVELOPE:                     "ENVELOPE",
	INS_GET_DATA:                     "GET DATA",
	INS_UPDATE_BINARY:                "UPDATE BINARY",
	INS_PUT_DATA:                     "PUT DATA",
}

func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS(0x%02X)", byte(i))
}

// Instruction is a validated INS byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates ins, rejecting 6X and 9X.
func NewInstruction(ins InsCode) (Instruction, error) {
	switch bits.HighNibble(byte(ins)) {
	case 0x6, 0x9:
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", byte(ins))
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// mustInstruction is for the package's own well-known codes.
func mustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw, format)
}
