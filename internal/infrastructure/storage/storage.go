// Package storage opens the will and execution repositories for the
// configured driver.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/config"
	"github.com/willexec/willexec/internal/domain/execution"
	"github.com/willexec/willexec/internal/domain/will"
	"github.com/willexec/willexec/internal/infrastructure/memory"
	"github.com/willexec/willexec/internal/infrastructure/postgres"
	"github.com/willexec/willexec/internal/infrastructure/sqlite"
)

// Stores bundles the repositories of one backend.
type Stores struct {
	Wills      will.Repository
	Executions execution.Repository
	closeFn    func()
}

// Close releases the backend's connections.
func (s *Stores) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// Open connects to the backend named by cfg.StoreDriver. Postgres
// migrations are applied when migrate is true; SQLite always creates its
// schema.
func Open(ctx context.Context, cfg *config.Config, migrate bool, logger zerolog.Logger) (*Stores, error) {
	logger = logger.With().Str("service", "storage").Str("driver", cfg.StoreDriver).Logger()
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if migrate {
			if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		logger.Info().Msg("store opened")
		return &Stores{
			Wills:      postgres.NewWillRepository(pool),
			Executions: postgres.NewExecutionRepository(pool),
			closeFn:    pool.Close,
		}, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("store opened")
		return &Stores{
			Wills:      sqlite.NewWillRepository(db),
			Executions: sqlite.NewExecutionRepository(db),
			closeFn:    func() { _ = db.Close() },
		}, nil
	case config.StoreMemory:
		logger.Warn().Msg("in-memory store: will and execution records are lost on restart")
		return &Stores{
			Wills:      memory.NewWillRepository(),
			Executions: memory.NewExecutionRepository(),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
