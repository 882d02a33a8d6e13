package iso7816

import (
	"fmt"
)

// SELECT (INS 'A4', ISO 7816-4 section 11.2.2).
//
// P1 tells how the target is named: file identifier, DF name (AID) or path.
// The eID applet is walked by absolute path, e.g. 3F00/DF01/4031 is sent as
// P1=08 with data DF01 4031 (the MF itself is implicit).
//
// P2 bits 4-3 choose the answer (FCI, FCP, FMD or nothing), bits 2-1 the
// occurrence when several files share a name.

// SelectionMethod is the P1 of a SELECT.
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectChildDF           SelectionMethod = 0x01
	SelectEFUnderCurrentDF  SelectionMethod = 0x02
	SelectParentDF          SelectionMethod = 0x03
	SelectByDFName          SelectionMethod = 0x04
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

var selectionMethodNames = map[SelectionMethod]string{
	SelectByFileID:          "Select by File ID",
	SelectChildDF:           "Select Child DF",
	SelectEFUnderCurrentDF:  "Select EF under current DF",
	SelectParentDF:          "Select Parent DF",
	SelectByDFName:          "Select by DF Name (AID)",
	SelectPathFromMF:        "Select Path from MF",
	SelectPathFromCurrentDF: "Select Path from Current DF",
}

func (s SelectionMethod) String() string {
	if name, ok := selectionMethodNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Method (0x%02X)", byte(s))
}

// FileOccurrence is P2 bits 2-1.
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = 0b00
	LastOccurrence        FileOccurrence = 0b01
	NextOccurrence        FileOccurrence = 0b10
	PreviousOccurrence    FileOccurrence = 0b11
)

func (f FileOccurrence) String() string {
	return [...]string{"First/Only", "Last", "Next", "Previous"}[f&0b11]
}

// SelectionControl is P2 bits 4-3.
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000
	ReturnFCP    SelectionControl = 0b0100
	ReturnFMD    SelectionControl = 0b1000
	ReturnNoData SelectionControl = 0b1100
)

func (s SelectionControl) String() string {
	return [...]string{"Return FCI", "Return FCP", "Return FMD", "No Response Data"}[(s>>2)&0b11]
}

// NewSelectCommand builds a SELECT from its parts.
//
// A SELECT carrying data is sent without Le: T=0 readers cannot carry both
// Lc and Le, the card answers 61XX instead and the Client fetches the
// content. Without data, Le is 256 unless no answer is wanted.
func NewSelectCommand(cla Class, method SelectionMethod, occurrence FileOccurrence, ctrl SelectionControl, data []byte) *CommandAPDU {
	p2 := byte(ctrl) | byte(occurrence)

	ne := 0
	if len(data) == 0 && ctrl != ReturnNoData {
		ne = MaxShortLe
	}
	return NewCommandAPDU(cla, mustInstruction(INS_SELECT), byte(method), p2, data, ne)
}

// SelectByAID selects an applet by its DF name and asks for the FCI.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	return NewSelectCommand(cla, SelectByDFName, FirstOrOnlyOccurrence, ReturnFCI, aid)
}

// SelectByPath selects a file by its path from the MF, without the leading
// 3F00: a sequence of two-byte file identifiers such as DF01 4031.
func SelectByPath(cla Class, path []byte, ctrl SelectionControl) (*CommandAPDU, error) {
	if len(path) == 0 || len(path)%2 != 0 {
		return nil, fmt.Errorf("invalid path %X: expected a non-empty sequence of 2-byte file identifiers", path)
	}
	return NewSelectCommand(cla, SelectPathFromMF, FirstOrOnlyOccurrence, ctrl, path), nil
}

// SelectFileID selects a file by its identifier in the current DF.
func SelectFileID(cla Class, fid uint16, ctrl SelectionControl) *CommandAPDU {
	return NewSelectCommand(cla, SelectByFileID, FirstOrOnlyOccurrence, ctrl, []byte{byte(fid >> 8), byte(fid)})
}
