package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gregLibert/eid-middleware/pkg/eid"
)

func (a *app) challengeCommand() *cobra.Command {
	var length int

	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Ask the card for random bytes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				challenge, err := card.Challenge(ctx, length)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%X\n", challenge)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&length, "length", "n", 8, "Number of bytes")
	return cmd
}

func (a *app) verifyPINCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-pin <pin>",
		Short: "Verify the cardholder PIN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				if err := card.VerifyPIN(ctx, args[0]); err != nil {
					describeError(cmd.ErrOrStderr(), err)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "PIN verified.")
				return nil
			})
		},
	}
}

func (a *app) changePINCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "change-pin <current> <new>",
		Short: "Change the cardholder PIN",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				if err := card.ChangePIN(ctx, args[0], args[1]); err != nil {
					describeError(cmd.ErrOrStderr(), err)
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "PIN changed.")
				return nil
			})
		},
	}
}

func (a *app) pinStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pin-status",
		Short: "Show the cardholder PIN state without consuming a try",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCard(cmd, func(ctx context.Context, card *eid.Card) error {
				state, err := card.PINStatus(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				switch {
				case state.Blocked:
					fmt.Fprintln(out, "PIN blocked.")
				case state.Verified:
					fmt.Fprintln(out, "PIN verified.")
				case state.TriesLeft >= 0:
					fmt.Fprintf(out, "PIN not verified, %d tries left.\n", state.TriesLeft)
				default:
					fmt.Fprintln(out, "PIN not verified.")
				}
				return nil
			})
		},
	}
}
