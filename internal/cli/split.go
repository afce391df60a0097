package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appPayout "github.com/willexec/willexec/internal/application/payout"
	"github.com/willexec/willexec/internal/application/willstore"
	"github.com/willexec/willexec/internal/config"
	"github.com/willexec/willexec/internal/domain/will"
)

func (a *app) splitCommand() *cobra.Command {
	var (
		total int64
		file  string
	)
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Preview how a pool would be divided",
		Long: `Compute the payout split for a pool without moving any money.

The will is read from the store, or from a YAML file with --file.

Examples:
  willctl split --total 1000000
  willctl split --total 100 --file will.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if total < 0 {
				return errors.New("--total must not be negative")
			}
			var w *will.Will
			if file != "" {
				var err error
				if w, err = config.LoadWillFile(file); err != nil {
					return err
				}
			} else {
				stores, err := a.open(cmd.Context())
				if err != nil {
					return err
				}
				defer stores.Close()
				if w, err = willstore.NewService(stores.Wills, a.logger).Snapshot(cmd.Context()); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("total") {
				if w.FixedPayoutAmount == nil {
					return errors.New("--total is required when the will has no fixedPayoutAmount")
				}
				total = *w.FixedPayoutAmount
			}

			allocations, err := appPayout.Split(total, w.Beneficiaries)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACCOUNT\tWEIGHT\tAMOUNT")
			for i, alloc := range allocations {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", alloc.AccountID, w.Beneficiaries[i].SplitWeight.String(), alloc.Amount)
			}
			fmt.Fprintf(tw, "TOTAL\t\t%d\n", total)
			return tw.Flush()
		},
	}
	cmd.Flags().Int64Var(&total, "total", 0, "Pool size in minor units")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the will from a YAML file instead of the store")
	return cmd
}
