package iso7816

import (
	"fmt"
	"strings"
)

// Helpers shared by the result reports (SELECT, READ BINARY).

// describeResult renders the "Result:" line of the first exchange.
func describeResult(sw StatusWord) string {
	mark := "[OK]"
	desc := "SW_NO_ERROR"

	switch {
	case sw.HasMoreData():
		desc = fmt.Sprintf("%02X (%d) bytes still available", sw.SW2(), sw.SW2())
	case sw.IsWrongLength():
		mark = "[!!]"
		desc = fmt.Sprintf("Wrong length, correct is %02X (%d)", sw.SW2(), sw.SW2())
	case sw != SW_NO_ERROR:
		mark = "[!!]"
		desc = sw.Verbose()
	}

	return fmt.Sprintf("    + Result:  [%02X %02X] %s %s\n", sw.SW1(), sw.SW2(), mark, desc)
}

// describeChain renders the auto-handling section when the trace holds more
// than one exchange.
func describeChain(sb *strings.Builder, t Trace) {
	if len(t) < 2 {
		return
	}

	var getResponses, corrections int
	for _, tx := range t[1:] {
		if tx.Command.Instruction.Raw == INS_GET_RESPONSE {
			getResponses++
		} else {
			corrections++
		}
	}

	last := t.Last()
	fmt.Fprintf(sb, "[2] Protocol: Auto-handling (Sequence of %d steps)\n", len(t))
	if corrections > 0 {
		fmt.Fprintf(sb, "    + Action:  Re-issued %s with corrected Le\n", t[0].Command.Instruction.Raw)
	}
	if getResponses > 0 {
		fmt.Fprintf(sb, "    + Action:  Sending GET RESPONSE (x%d)\n", getResponses)
	}
	fmt.Fprintf(sb, "    + Result:  [%04X] Final Status\n", uint16(last.Response.Status))
	sb.WriteString("\n")
}

func startResult(t Trace, ins InsCode) error {
	if len(t) == 0 {
		return fmt.Errorf("cannot create result from empty trace")
	}
	if t[0].Command == nil || t[0].Response == nil {
		return fmt.Errorf("trace starts with an incomplete transaction")
	}
	if got := t[0].Command.Instruction.Raw; got != ins {
		return fmt.Errorf("trace must start with %s command (got %02X)", ins, byte(got))
	}
	return nil
}
