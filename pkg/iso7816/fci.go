package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/eid-middleware/pkg/bits"
	"github.com/gregLibert/eid-middleware/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// FILE CONTROL INFORMATION according to ISO/IEC 7816-4, section 7.4.
//
// The data returned by SELECT depends on bits 4-3 of P2:
//
//	00  FCI, an optional '6F' wrapper around '62' and/or '64'
//	01  FCP '62', technical attributes (size, identifier, life cycle)
//	10  FMD '64', administrative data
//	11  no data
//
// eID files are transparent EFs: the interesting FCP fields are the size
// ('80' or '81') and the file identifier ('83').

// FCPTemplate (File Control Parameters) - Tag '62'.
type FCPTemplate struct {
	DataSize                []byte `tlv:"80" fmt:"int"`
	TotalFileSize           []byte `tlv:"81" fmt:"int"`
	FileDescriptor          []byte `tlv:"82"`
	FileIdentifier          []byte `tlv:"83"`
	DFName                  []byte `tlv:"84" fmt:"ascii"`
	ProprietaryInfo         []byte `tlv:"85"`
	SecurityAttrProprietary []byte `tlv:"86"`
	ShortEFIdentifier       []byte `tlv:"88"`
	LifeCycleStatus         []byte `tlv:"8A"`
	SecAttrRefExpanded      []byte `tlv:"8B"`
	SecurityAttrCompact     []byte `tlv:"8C"`
	ProprietaryDataBER      []byte `tlv:"A5"`
	SecurityAttrExpanded    []byte `tlv:"AB"`

	Rest []bertlv.TLV `tlv:",rest"`
}

// FMDTemplate (File Management Data) - Tag '64'.
type FMDTemplate struct {
	ApplicationIdentifier []byte `tlv:"4F"`
	ApplicationLabel      []byte `tlv:"50" fmt:"ascii"`

	Rest []bertlv.TLV `tlv:",rest"`
}

// FileControlInfo is the parsed data field of a SELECT response.
type FileControlInfo struct {
	FCP *FCPTemplate
	FMD *FMDTemplate

	// Rest holds packets matching neither template (flat FCI only).
	Rest []bertlv.TLV

	ProprietaryRawData []byte
}

// FileSize returns the number of data bytes of a transparent EF, preferring
// tag '80' over '81'.
func (fci *FileControlInfo) FileSize() (int, bool) {
	if fci == nil || fci.FCP == nil {
		return 0, false
	}
	switch {
	case len(fci.FCP.DataSize) > 0:
		return int(tlv.Uint(fci.FCP.DataSize)), true
	case len(fci.FCP.TotalFileSize) > 0:
		return int(tlv.Uint(fci.FCP.TotalFileSize)), true
	}
	return 0, false
}

// FileID returns the two-byte file identifier (tag '83').
func (fci *FileControlInfo) FileID() (uint16, bool) {
	if fci == nil || fci.FCP == nil || len(fci.FCP.FileIdentifier) != 2 {
		return 0, false
	}
	return uint16(tlv.Uint(fci.FCP.FileIdentifier)), true
}

// GetAID returns the DF name (tag '84') or the FMD application identifier.
func (fci *FileControlInfo) GetAID() []byte {
	if fci.FCP != nil && len(fci.FCP.DFName) > 0 {
		return fci.FCP.DFName
	}
	if fci.FMD != nil && len(fci.FMD.ApplicationIdentifier) > 0 {
		return fci.FMD.ApplicationIdentifier
	}
	return nil
}

// ApplicationLabel returns the Application Label (tag '50') from FMD.
func (fci *FileControlInfo) ApplicationLabel() []byte {
	if fci.FMD != nil {
		return fci.FMD.ApplicationLabel
	}
	return nil
}

// ParseSelectData parses the data field of a SELECT response according to
// the P2 of the command. It returns nil, nil when there is nothing to parse.
func ParseSelectData(data []byte, p2 byte) (*FileControlInfo, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] >= 0xC0 {
		return &FileControlInfo{ProprietaryRawData: data}, nil
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("BER-TLV decode failed: %w", err)
	}

	fci := &FileControlInfo{}

	switch SelectionControl(bits.GetRange(p2, 4, 3) << 2) {
	case ReturnFCP:
		fci.FCP = &FCPTemplate{}
		return fci, requireTemplate(packets, "62", fci.FCP)

	case ReturnFMD:
		fci.FMD = &FMDTemplate{}
		return fci, requireTemplate(packets, "64", fci.FMD)

	case ReturnFCI:
		working := packets
		if p, ok := findTag(packets, "6F"); ok {
			working = p.TLVs
		}

		if p, ok := findTag(working, "62"); ok {
			fci.FCP = &FCPTemplate{}
			if err := tlv.UnmarshalPackets(p.TLVs, fci.FCP); err != nil {
				return nil, fmt.Errorf("FCP unmarshal failed: %w", err)
			}
		}
		if p, ok := findTag(working, "64"); ok {
			fci.FMD = &FMDTemplate{}
			if err := tlv.UnmarshalPackets(p.TLVs, fci.FMD); err != nil {
				return nil, fmt.Errorf("FMD unmarshal failed: %w", err)
			}
		}
		if fci.FCP != nil || fci.FMD != nil {
			return fci, nil
		}

		return fci, parseFlat(working, fci)
	}

	return nil, nil
}

// parseFlat handles cards that omit the 62/64 templates: packets are offered
// to FCP first, then FMD, and whatever remains is kept in Rest.
func parseFlat(packets []bertlv.TLV, fci *FileControlInfo) error {
	fcp := &FCPTemplate{}
	if err := tlv.UnmarshalPackets(packets, fcp); err != nil {
		return fmt.Errorf("flat FCP unmarshal failed: %w", err)
	}
	remaining := fcp.Rest
	fcp.Rest = nil
	if len(remaining) < len(packets) {
		fci.FCP = fcp
	}

	fmd := &FMDTemplate{}
	if err := tlv.UnmarshalPackets(remaining, fmd); err != nil {
		return fmt.Errorf("flat FMD unmarshal failed: %w", err)
	}
	if len(fmd.Rest) < len(remaining) {
		fci.FMD = fmd
	}
	fci.Rest = fmd.Rest
	fmd.Rest = nil
	return nil
}

func requireTemplate(packets []bertlv.TLV, tag string, target any) error {
	p, ok := findTag(packets, tag)
	if !ok {
		return fmt.Errorf("mandatory tag '%s' not found", tag)
	}
	return tlv.UnmarshalPackets(p.TLVs, target)
}

func findTag(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}
