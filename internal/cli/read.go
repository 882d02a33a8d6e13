package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/pkg/eid"
	"github.com/gregLibert/eid-middleware/pkg/tlv"
)

func (a *app) readCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "read <file>",
		Short: "Read a file from the card",
		Long: `Read a file from the card.

<file> is one of ` + knownFileNames() + `
or a hex path from the MF such as DF014031.

The identity and address files are decoded; other files are hex dumped
unless --out is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := eid.ParseFileID(args[0])
			if err != nil {
				return err
			}

			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				data, err := card.ReadFile(ctx, f)
				if err != nil {
					return err
				}

				if outFile != "" {
					if err := os.WriteFile(outFile, data, 0o600); err != nil {
						return fmt.Errorf("write %s: %w", outFile, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), outFile)
					return nil
				}
				return printFile(cmd.OutOrStdout(), f, data)
			})
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "Write the raw file content to this path")
	return cmd
}

func (a *app) dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Read the identity, address, photo and certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				snap, err := card.ReadAll(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %d\n\n", snap.SessionID)
				printIdentity(out, snap.Identity)
				fmt.Fprintln(out)
				printAddress(out, snap.Address)
				fmt.Fprintf(out, "\nPhoto: %d bytes\n", len(snap.Photo))
				for _, kind := range eid.CertificateKinds {
					if der, ok := snap.Certificates[kind]; ok {
						fmt.Fprintf(out, "Certificate %-14s %d bytes\n", kind.String()+":", len(der))
					}
				}
				return nil
			})
		},
	}
}

func (a *app) statCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>",
		Short: "Show the file control parameters of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := eid.ParseFileID(args[0])
			if err != nil {
				return err
			}

			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				fci, err := card.Stat(ctx, f)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "File: %s\n", f)
				if size, ok := fci.FileSize(); ok {
					fmt.Fprintf(out, "Size: %d bytes\n", size)
				}
				if fid, ok := fci.FileID(); ok {
					fmt.Fprintf(out, "FID:  %04X\n", fid)
				}
				for _, line := range tlv.DescribeFields("FCP", fci.FCP) {
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}
}

func printFile(w io.Writer, f eid.FileID, data []byte) error {
	switch f.Name {
	case eid.FileIdentity.Name:
		id, err := eid.ParseIdentity(data)
		if err != nil {
			return err
		}
		printIdentity(w, id)
	case eid.FileAddress.Name:
		addr, err := eid.ParseAddress(data)
		if err != nil {
			return err
		}
		printAddress(w, addr)
	default:
		fmt.Fprintf(w, "%s, %d bytes\n", f, len(data))
		fmt.Fprint(w, hex.Dump(data))
	}
	return nil
}

func printIdentity(w io.Writer, id *eid.Identity) {
	fmt.Fprintf(w, "Name:            %s\n", id.FullName())
	fmt.Fprintf(w, "National number: %s\n", id.NationalNumber)
	fmt.Fprintf(w, "Birth:           %s, %s\n", id.BirthDate, id.BirthLocation)
	fmt.Fprintf(w, "Sex:             %s\n", id.Sex)
	fmt.Fprintf(w, "Nationality:     %s\n", id.Nationality)
	fmt.Fprintf(w, "Card number:     %s\n", id.CardNumber)
	fmt.Fprintf(w, "Valid:           %s - %s\n", id.ValidityBegin, id.ValidityEnd)
	fmt.Fprintf(w, "Issued in:       %s\n", id.DeliveryMunicipality)
}

func printAddress(w io.Writer, addr *eid.Address) {
	fmt.Fprintf(w, "Address:         %s\n", addr)
}

func knownFileNames() string {
	names := make([]string, len(eid.KnownFiles))
	for i, f := range eid.KnownFiles {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}
