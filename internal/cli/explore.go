package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/pkg/carderr"
	"github.com/gregLibert/eid-middleware/pkg/eid"
	"github.com/gregLibert/eid-middleware/pkg/iso7816"
)

func (a *app) exploreCommand() *cobra.Command {
	var chunk int

	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Walk the eID files and print a protocol report for each",
		Long: `Walk the eID files and print a protocol report for each.

Every known file is selected with its FCP, then the first chunk is read.
Each exchange is reported along with the GET RESPONSE and Le corrections
performed on the way.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if chunk < 1 || chunk > iso7816.MaxShortLe {
				return fmt.Errorf("chunk %d out of range (1-%d)", chunk, iso7816.MaxShortLe)
			}

			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				client, ch, err := card.Client()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				found := 0
				err = ch.Exclusive(ctx, func() error {
					for i, f := range eid.KnownFiles {
						ok, err := exploreFile(ctx, out, client, i+1, f, chunk)
						if err != nil {
							return err
						}
						if ok {
							found++
						}
					}
					return nil
				})
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "\n>> Exploration finished: %d/%d files readable\n", found, len(eid.KnownFiles))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&chunk, "chunk", eid.DefaultReadChunk, "Le of the first READ BINARY")
	return cmd
}

// exploreFile reports the selection and the first read of f. Card statuses
// are printed, not returned: only a lost card or a broken link stops the walk.
func exploreFile(ctx context.Context, w io.Writer, client *iso7816.Client, step int, f eid.FileID, chunk int) (bool, error) {
	fmt.Fprintln(w, "\n=============================================")
	fmt.Fprintf(w, " Step %d: %s\n", step, f)
	fmt.Fprintln(w, "=============================================")

	sel, err := iso7816.SelectByPath(iso7816.BasicClass, f.Path, iso7816.ReturnFCP)
	if err != nil {
		return false, err
	}
	trace, err := client.Send(ctx, sel)
	if err != nil {
		return false, err
	}

	selRes, err := iso7816.NewSelectResult(trace)
	if err != nil {
		return false, carderr.Wrap("select", carderr.ProtocolError, err)
	}
	fmt.Fprintln(w, selRes.Describe())

	if !selRes.IsSuccess() {
		fmt.Fprintf(w, ">> Selection failed: %s\n", selRes.Last().Response.Status.Verbose())
		return false, nil
	}

	read, err := iso7816.ReadBinary(iso7816.BasicClass, 0, chunk)
	if err != nil {
		return false, err
	}
	trace, err = client.Send(ctx, read)
	if err != nil {
		return false, err
	}

	readRes, err := iso7816.NewReadBinaryResult(trace)
	if err != nil {
		return false, carderr.Wrap("read binary", carderr.ProtocolError, err)
	}
	fmt.Fprintln(w, readRes.Describe())

	return readRes.IsSuccess(), nil
}
