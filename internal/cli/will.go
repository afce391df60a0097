package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willexec/willexec/internal/application/willstore"
	"github.com/willexec/willexec/internal/config"
)

func (a *app) willCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "will",
		Short: "Inspect or replace the stored will",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.willShowCommand())
	cmd.AddCommand(a.willApplyCommand())
	return cmd
}

func (a *app) willShowCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current will",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()
			w, err := willstore.NewService(stores.Wills, a.logger).Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(w)
			}
			out, err := config.EncodeWill(w)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format, including activity timestamps")
	return cmd
}

func (a *app) willApplyCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Replace the will with a YAML file",
		Long: `Validate a YAML will and store it, replacing the current one.

Cached activity timestamps are kept for accounts that remain listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := config.LoadWillFile(file)
			if err != nil {
				return err
			}
			stores, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer stores.Close()
			saved, err := willstore.NewService(stores.Wills, a.logger).WithMinGraceWindow(a.minGrace).Replace(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "will applied: %d beneficiaries, %d monitored accounts\n",
				len(saved.Beneficiaries), len(saved.MonitoredAccounts))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML will file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
