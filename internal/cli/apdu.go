package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/pkg/eid"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
)

func (a *app) apduCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apdu <hex>",
		Short: "Send a raw command APDU",
		Long: `Send a raw command APDU, e.g. "00 84 00 00 08".

61XX and 6CXX answers are followed automatically; every physical exchange
is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.Join(strings.Fields(strings.Join(args, " ")), ""))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			capdu, err := iso7816.ParseCommandAPDU(raw)
			if err != nil {
				return err
			}

			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				client, _, err := card.Client()
				if err != nil {
					return err
				}

				trace, err := client.Send(ctx, capdu)
				printTrace(cmd.OutOrStdout(), trace)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), trace)
				return nil
			})
		},
	}
}

func printTrace(w io.Writer, trace iso7816.Trace) {
	for i, tx := range trace {
		req, _ := tx.Command.Bytes()
		fmt.Fprintf(w, "[%d] > %X\n", i+1, req)
		fmt.Fprintf(w, "    < %X\n", tx.Response.Bytes())
	}
	if last := trace.Last(); last != nil {
		fmt.Fprintf(w, "Status: %04X %s\n", uint16(last.Response.Status), last.Response.Status.Verbose())
	}
}

// printReport adds the structured report for the commands that have one.
func printReport(w io.Writer, trace iso7816.Trace) {
	if len(trace) == 0 {
		return
	}

	switch trace[0].Command.Instruction.Raw {
	case iso7816.INS_SELECT:
		if res, err := iso7816.NewSelectResult(trace); err == nil {
			fmt.Fprintln(w)
			fmt.Fprint(w, res.Describe())
		}
	case iso7816.INS_READ_BINARY:
		if res, err := iso7816.NewReadBinaryResult(trace); err == nil {
			fmt.Fprintln(w)
			fmt.Fprint(w, res.Describe())
		}
	}
}
