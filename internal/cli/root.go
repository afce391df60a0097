// Package cli implements willctl, the operator command line.
package cli

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/willexec/willexec/internal/application/schedule"
	"github.com/willexec/willexec/internal/config"
	"github.com/willexec/willexec/internal/infrastructure/storage"
)

// StoreOpener opens the repositories a command works on.
type StoreOpener func(ctx context.Context) (*storage.Stores, error)

// EnvStores opens the store configured by the environment.
func EnvStores(logger zerolog.Logger) StoreOpener {
	return func(ctx context.Context) (*storage.Stores, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		return storage.Open(ctx, cfg, true, logger)
	}
}

type app struct {
	open     StoreOpener
	minGrace time.Duration
	logger   zerolog.Logger
}

// NewRootCommand builds the willctl command tree.
func NewRootCommand(open StoreOpener, logger zerolog.Logger) *cobra.Command {
	a := &app{open: open, minGrace: schedule.DefaultFloor, logger: logger}
	if cfg, err := config.Load(); err == nil {
		a.minGrace = cfg.MinPollInterval
	}
	root := &cobra.Command{
		Use:   "willctl",
		Short: "Operate the proof-of-life executor",
		Long: `willctl inspects and edits the will, previews payout splits and
manages execution records of a willexec deployment.

The store is selected with the same environment variables as the server
(STORE_DRIVER, DATABASE_URL, SQLITE_PATH).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(a.splitCommand())
	root.AddCommand(a.willCommand())
	root.AddCommand(a.executionCommand())
	return root
}

// Execute runs willctl against the environment-configured store.
func Execute() int {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	if err := NewRootCommand(EnvStores(logger), logger).Execute(); err != nil {
		return 1
	}
	return 0
}
