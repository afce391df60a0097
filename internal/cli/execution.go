package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func (a *app) executionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execution",
		Short: "Inspect or reset execution records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.executionListCommand())
	cmd.AddCommand(a.executionResetCommand())
	return cmd
}

func (a *app) executionListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List execution records with per-payout results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()
			execs, err := stores.Executions.List(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no executions")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, exec := range execs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", exec.ExecutionID, exec.Status, exec.TotalAmount, exec.StartedAt.Format(time.RFC3339))
				for _, p := range exec.Payouts {
					msg := ""
					if p.LastError != nil {
						msg = *p.LastError
					}
					fmt.Fprintf(tw, "  %d\t%s\t%d\t%s\t%s\n", p.Seq, p.AccountID, p.Amount, p.Status, msg)
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of records")
	return cmd
}

func (a *app) executionResetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Archive execution records so the engine can execute again",
		Long: `Archive every non-archived execution record.

While a COMPLETED record exists the engine never executes again, and a
STARTED record is resumed on the next cycle. Archiving re-arms the engine.
Payouts already sent are not reversed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()
			n, err := stores.Executions.Archive(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d execution(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}
