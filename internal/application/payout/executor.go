package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/willexec/willexec/internal/domain/execution"
	domain "github.com/willexec/willexec/internal/domain/payout"
)

// ErrOutcomeUnknown marks a payout that was in flight when the process
// stopped. It is never retried automatically.
var ErrOutcomeUnknown = errors.New("transfer outcome unknown after restart")

// Observer is notified after each payout reaches a final status.
type Observer interface {
	PayoutFinished(ctx context.Context, p *execution.Payout)
}

// Report summarizes one Disburse call.
type Report struct {
	ExecutionID uuid.UUID
	Succeeded   int
	Failed      int
	Skipped     int
	Unknown     int
	Disbursed   int64
	Errors      []error
	Completed   bool
}

// Executor submits planned payouts to the rail one at a time, in order.
type Executor struct {
	rail     domain.Rail
	repo     execution.Repository
	limiter  *rate.Limiter
	observer Observer
	now      func() time.Time
	logger   zerolog.Logger
}

func NewExecutor(rail domain.Rail, repo execution.Repository, logger zerolog.Logger) *Executor {
	return &Executor{
		rail:   rail,
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("service", "payout").Logger(),
	}
}

// WithRateLimit caps rail calls at tps transfers per second. Zero disables the cap.
func (e *Executor) WithRateLimit(tps float64) *Executor {
	if tps > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(tps), 1)
	} else {
		e.limiter = nil
	}
	return e
}

func (e *Executor) WithObserver(o Observer) *Executor {
	e.observer = o
	return e
}

func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Disburse attempts every pending payout of exec. Individual failures are
// recorded and reported without stopping the batch; a returned error means
// the batch itself could not proceed (persistence failure or cancellation)
// and the remaining payouts are still pending.
func (e *Executor) Disburse(ctx context.Context, exec *execution.Execution) (*Report, error) {
	report := &Report{ExecutionID: exec.ExecutionID}
	log := e.logger.With().Str("execution_id", exec.ExecutionID.String()).Logger()

	for _, p := range exec.Payouts {
		switch p.Status {
		case execution.PayoutInFlight:
			if err := e.finish(ctx, p, execution.PayoutUnknown, ErrOutcomeUnknown); err != nil {
				return report, err
			}
			report.Unknown++
			report.Errors = append(report.Errors, &domain.PayoutError{AccountID: p.AccountID, Amount: p.Amount, Err: ErrOutcomeUnknown})
			log.Warn().Str("account_id", p.AccountID).Int64("amount", p.Amount).Msg("payout outcome unknown, reconcile with rail")
			continue
		case execution.PayoutPending:
		default:
			continue
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}

		if p.Amount <= 0 {
			if err := e.finish(ctx, p, execution.PayoutSkipped, domain.ErrSkippedZeroPayout); err != nil {
				return report, err
			}
			report.Skipped++
			report.Errors = append(report.Errors, &domain.PayoutError{AccountID: p.AccountID, Amount: p.Amount, Err: domain.ErrSkippedZeroPayout})
			log.Error().Str("account_id", p.AccountID).Int64("amount", p.Amount).Msg("payout skipped: amount is not positive")
			continue
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		if err := p.Begin(e.now()); err != nil {
			return report, err
		}
		if err := e.repo.UpdatePayout(ctx, p); err != nil {
			return report, fmt.Errorf("mark payout in flight: %w", err)
		}

		transferErr := e.rail.Transfer(ctx, domain.TransferRequest{
			IdempotencyKey: p.PayoutID.String(),
			AccountID:      p.AccountID,
			Amount:         p.Amount,
		})
		if transferErr != nil && ctx.Err() != nil {
			// Cancelled mid-transfer; the rail may still have completed it.
			if err := e.finish(context.WithoutCancel(ctx), p, execution.PayoutUnknown, ErrOutcomeUnknown); err != nil {
				return report, err
			}
			report.Unknown++
			report.Errors = append(report.Errors, &domain.PayoutError{AccountID: p.AccountID, Amount: p.Amount, Err: ErrOutcomeUnknown})
			log.Warn().Err(transferErr).Str("account_id", p.AccountID).Int64("amount", p.Amount).Msg("transfer interrupted, outcome unknown")
			return report, ctx.Err()
		}
		if transferErr != nil {
			if err := e.finish(ctx, p, execution.PayoutFailed, transferErr); err != nil {
				return report, err
			}
			report.Failed++
			report.Errors = append(report.Errors, &domain.PayoutError{AccountID: p.AccountID, Amount: p.Amount, Err: transferErr})
			log.Error().Err(transferErr).Str("account_id", p.AccountID).Int64("amount", p.Amount).Msg("payout failed")
			continue
		}
		if err := e.finish(ctx, p, execution.PayoutSucceeded, nil); err != nil {
			return report, err
		}
		report.Succeeded++
		report.Disbursed += p.Amount
		log.Info().Str("account_id", p.AccountID).Int64("amount", p.Amount).Msg("payout sent")
	}

	if !exec.Outstanding() {
		at := e.now()
		if err := e.repo.Complete(ctx, exec.ExecutionID, at); err != nil {
			return report, fmt.Errorf("complete execution: %w", err)
		}
		exec.Status = execution.StatusCompleted
		exec.CompletedAt = &at
		report.Completed = true
	}
	return report, nil
}

func (e *Executor) finish(ctx context.Context, p *execution.Payout, status execution.PayoutStatus, cause error) error {
	if err := p.Finish(status, cause, e.now()); err != nil {
		return err
	}
	if err := e.repo.UpdatePayout(ctx, p); err != nil {
		return fmt.Errorf("record payout %s: %w", status, err)
	}
	if e.observer != nil {
		e.observer.PayoutFinished(ctx, p)
	}
	return nil
}
