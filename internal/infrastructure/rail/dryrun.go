package rail

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/domain/payout"
)

// DryRun logs transfers instead of moving money.
type DryRun struct {
	balance int64
	logger  zerolog.Logger
}

// NewDryRun creates a logging rail that reports balance as its pool size.
func NewDryRun(balance int64, logger zerolog.Logger) *DryRun {
	return &DryRun{
		balance: balance,
		logger:  logger.With().Str("service", "rail_dry_run").Logger(),
	}
}

func (d *DryRun) Transfer(ctx context.Context, req payout.TransferRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info().
		Str("idempotency_key", req.IdempotencyKey).
		Str("account_id", req.AccountID).
		Int64("amount", req.Amount).
		Msg("dry-run transfer")
	return nil
}

func (d *DryRun) AvailableBalance(ctx context.Context) (int64, error) {
	return d.balance, nil
}
