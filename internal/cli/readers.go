package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/pkg/eid"
	"github.com/gregLibert/eid-middleware/pkg/session"
)

func (a *app) readersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List the available readers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			source, closeSource, err := a.openSource()
			if err != nil {
				return err
			}
			defer closeSource()

			readers, err := source.ListReaders(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(readers) == 0 {
				fmt.Fprintln(out, "No readers found.")
				return nil
			}
			for i, r := range readers {
				fmt.Fprintf(out, "%d: %s\n", i, r)
			}
			return nil
		},
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a card is present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCore(cmd, func(ctx context.Context, core *eid.Core, transitions <-chan session.Transition) error {
				// Presence of cards already inserted is reported on the first
				// monitoring round.
				_ = awaitCard(ctx, core, transitions, a.cfg.Reader.PollInterval+time.Second)

				state, err := core.State(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "State: %s\n", state)
				if s, err := core.CurrentSession(); err == nil {
					fmt.Fprintf(out, "Reader:  %s\n", s.Reader)
					fmt.Fprintf(out, "Session: %d (trace %s)\n", s.ID, s.TraceID)
					fmt.Fprintf(out, "ATR:     %X\n", s.ATR)
				}
				return nil
			})
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print card sessions as cards are inserted and removed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCore(cmd, func(ctx context.Context, core *eid.Core, transitions <-chan session.Transition) error {
				out := cmd.OutOrStdout()
				for {
					select {
					case tr, ok := <-transitions:
						if !ok {
							return nil
						}
						switch tr.Kind {
						case session.Activated:
							fmt.Fprintf(out, "%s  + session %d on %s, ATR %X\n", tr.At.Format(time.RFC3339), tr.SessionID, tr.Reader, tr.ATR)
						case session.Deactivated:
							fmt.Fprintf(out, "%s  - session %d on %s\n", tr.At.Format(time.RFC3339), tr.SessionID, tr.Reader)
						}
					case <-ctx.Done():
						return nil
					}
				}
			})
		},
	}
}
