package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

// SelectResult wraps the trace of a SELECT command to give access to the
// parsed FCI and to a human-readable report.
type SelectResult struct {
	Trace
}

// NewSelectResult wraps a trace that must start with SELECT.
func NewSelectResult(t Trace) (*SelectResult, error) {
	if err := startResult(t, INS_SELECT); err != nil {
		return nil, err
	}
	return &SelectResult{Trace: t}, nil
}

// FCI parses the assembled response data according to the P2 of the
// initial SELECT.
func (r *SelectResult) FCI() (*FileControlInfo, error) {
	if !r.IsSuccess() {
		return nil, fmt.Errorf("selection failed, cannot parse FCI")
	}

	resp := r.Assemble()
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("no response data found")
	}

	return ParseSelectData(resp.Data, r.Trace[0].Command.P2)
}

// Describe generates a report of the selection: the request, the protocol
// auto-handling and a field-by-field dump of the FCI.
func (r *SelectResult) Describe() string {
	var sb strings.Builder

	sb.WriteString("=== SELECT COMMAND REPORT ===\n")

	tx0 := r.Trace[0]
	cmd := tx0.Command

	method := SelectionMethod(cmd.P1)
	occ := FileOccurrence(cmd.P2 & 0x03)
	ctrl := SelectionControl(cmd.P2 & 0x0C)

	sb.WriteString("[1] Command: SELECT FILE (Initial Request)\n")
	fmt.Fprintf(&sb, "    + Method:  %02X -> %s\n", cmd.P1, method)
	fmt.Fprintf(&sb, "    + Control: %02X -> %s | %s\n", cmd.P2, occ, ctrl)
	if len(cmd.Data) > 0 {
		fmt.Fprintf(&sb, "    + Data:    %s\n", tlv.FormatValue(cmd.Data, dataFormat(method)))
	}
	sb.WriteString(describeResult(tx0.Response.Status))
	if len(tx0.Response.Data) > 0 {
		fmt.Fprintf(&sb, "    + Payload: %d bytes received directly\n", len(tx0.Response.Data))
	}
	sb.WriteString("\n")

	describeChain(&sb, r.Trace)

	sb.WriteString("[=] FINAL OUTCOME:\n")

	fci, err := r.FCI()
	if err != nil || fci == nil {
		if resp := r.Assemble(); resp != nil && len(resp.Data) > 0 {
			fmt.Fprintf(&sb, "    - FCI Parsing Failed: %v\n", err)
		} else {
			sb.WriteString("    - No Data returned to parse.\n")
		}
		return sb.String()
	}

	var structures []string
	if fci.FCP != nil {
		structures = append(structures, "FCP")
	}
	if fci.FMD != nil {
		structures = append(structures, "FMD")
	}
	if len(fci.ProprietaryRawData) > 0 {
		structures = append(structures, "ProprietaryRaw")
	}
	list := "None"
	if len(structures) > 0 {
		list = strings.Join(structures, " + ")
	}
	fmt.Fprintf(&sb, "    - Structure: %s\n", list)

	for _, line := range tlv.DescribeFields("FCP", fci.FCP) {
		sb.WriteString(line + "\n")
	}
	for _, line := range tlv.DescribeFields("FMD", fci.FMD) {
		sb.WriteString(line + "\n")
	}
	for _, p := range fci.Rest {
		fmt.Fprintf(&sb, "    - Unknown Tag %s: %X\n", strings.ToUpper(p.Tag), p.Value)
	}
	if size, ok := fci.FileSize(); ok {
		fmt.Fprintf(&sb, "    - File Size: %d bytes\n", size)
	}
	if len(fci.ProprietaryRawData) > 0 {
		fmt.Fprintf(&sb, "    - Proprietary:   %X\n", fci.ProprietaryRawData)
	}

	return sb.String()
}

func dataFormat(m SelectionMethod) string {
	if m == SelectByDFName {
		return "ascii"
	}
	return ""
}
