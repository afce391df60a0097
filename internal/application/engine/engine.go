package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appLiveness "github.com/willexec/willexec/internal/application/liveness"
	appPayout "github.com/willexec/willexec/internal/application/payout"
	"github.com/willexec/willexec/internal/application/schedule"
	"github.com/willexec/willexec/internal/domain/event"
	"github.com/willexec/willexec/internal/domain/execution"
	domainPayout "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/domain/will"
)

// State is a control loop state.
type State string

const (
	StateIdle      State = "IDLE"
	StateSleeping  State = "SLEEPING"
	StateChecking  State = "CHECKING"
	StateDeciding  State = "DECIDING"
	StateExecuting State = "EXECUTING"
	StateFaulted   State = "FAULTED"
)

// Outcome classifies how a cycle ended. Operators react differently to each.
type Outcome string

const (
	OutcomeAlive                Outcome = "alive"
	OutcomeFailSafe             Outcome = "fail_safe"
	OutcomeNoAccounts           Outcome = "no_accounts"
	OutcomeNotConfigured        Outcome = "not_configured"
	OutcomeInvalidConfiguration Outcome = "invalid_configuration"
	OutcomeExecuted             Outcome = "executed"
	OutcomePartiallyFailed      Outcome = "partially_failed"
	OutcomeAlreadyExecuted      Outcome = "already_executed"
)

// DefaultCooldown is how long the Faulted state waits before sleeping again.
const DefaultCooldown = 30 * time.Second

// WillSource reads the current will.
type WillSource interface {
	Snapshot(ctx context.Context) (*will.Will, error)
}

// Checker produces the liveness verdict for a set of accounts.
type Checker interface {
	Check(ctx context.Context, accounts []will.MonitoredAccount) (*appLiveness.Report, error)
}

// Disburser submits the payouts of an execution.
type Disburser interface {
	Disburse(ctx context.Context, exec *execution.Execution) (*appPayout.Report, error)
}

// CycleRecorder records cycle metrics.
type CycleRecorder interface {
	CycleFinished(ctx context.Context, outcome string, d time.Duration)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Status is a point-in-time view of the engine for the API.
type Status struct {
	State       State      `json:"state"`
	LastOutcome Outcome    `json:"lastOutcome,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	LastCycleAt *time.Time `json:"lastCycleAt,omitempty"`
	NextCheckAt *time.Time `json:"nextCheckAt,omitempty"`
	Cycles      int64      `json:"cycles"`
}

// Engine is the proof-of-life control loop.
type Engine struct {
	wills      WillSource
	checker    Checker
	disburser  Disburser
	executions execution.Repository
	balance    domainPayout.BalanceSource
	publisher  event.Publisher
	recorder   CycleRecorder
	floor      time.Duration
	cooldown   time.Duration
	sleep      Sleeper
	now        func() time.Time
	tracer     trace.Tracer
	logger     zerolog.Logger

	mu     sync.RWMutex
	status Status
}

func New(
	wills WillSource,
	checker Checker,
	disburser Disburser,
	executions execution.Repository,
	balance domainPayout.BalanceSource,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		wills:      wills,
		checker:    checker,
		disburser:  disburser,
		executions: executions,
		balance:    balance,
		floor:      schedule.DefaultFloor,
		cooldown:   DefaultCooldown,
		sleep:      sleepTimer,
		now:        func() time.Time { return time.Now().UTC() },
		tracer:     otel.Tracer("github.com/willexec/willexec/engine"),
		logger:     logger.With().Str("service", "engine").Logger(),
		status:     Status{State: StateIdle},
	}
}

func (e *Engine) WithFloor(d time.Duration) *Engine {
	if d > 0 {
		e.floor = d
	}
	return e
}

func (e *Engine) WithCooldown(d time.Duration) *Engine {
	if d > 0 {
		e.cooldown = d
	}
	return e
}

func (e *Engine) WithSleeper(s Sleeper) *Engine {
	e.sleep = s
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) WithPublisher(p event.Publisher) *Engine {
	e.publisher = p
	return e
}

func (e *Engine) WithRecorder(r CycleRecorder) *Engine {
	e.recorder = r
	return e
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Run drives the loop until ctx is cancelled. Unexpected errors never end
// the loop; they move it to Faulted for one cooldown.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Dur("floor", e.floor).Dur("cooldown", e.cooldown).Msg("engine started")
	for {
		d, err := e.nextInterval(ctx)
		if err == nil {
			e.setState(StateSleeping)
			e.setNextCheck(e.now().Add(d))
			if err := e.sleep(ctx, d); err != nil {
				return e.stopped(ctx)
			}
			_, err = e.RunCycle(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return e.stopped(ctx)
			}
			e.fault(err)
			if err := e.sleep(ctx, e.cooldown); err != nil {
				return e.stopped(ctx)
			}
			continue
		}
		e.setState(StateIdle)
	}
}

// RunCycle performs one check → decide → (maybe) execute pass. A returned
// error is unexpected; configuration problems are reported as outcomes.
func (e *Engine) RunCycle(ctx context.Context) (outcome Outcome, err error) {
	started := e.now()
	ctx, span := e.tracer.Start(ctx, "engine.cycle")
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("willexec.outcome", string(outcome)))
			e.finishCycle(ctx, outcome, started)
		}
		span.End()
	}()

	e.setState(StateChecking)
	active, err := e.executions.Active(ctx)
	if err != nil {
		return "", fmt.Errorf("load execution record: %w", err)
	}
	if active != nil {
		if active.Status == execution.StatusCompleted {
			e.logger.Info().Str("execution_id", active.ExecutionID.String()).Msg("will already executed, skipping cycle")
			return OutcomeAlreadyExecuted, nil
		}
		e.logger.Warn().Str("execution_id", active.ExecutionID.String()).Msg("resuming interrupted execution")
		return e.disburse(ctx, active)
	}

	w, err := e.wills.Snapshot(ctx)
	if errors.Is(err, will.ErrNotFound) {
		e.logger.Info().Msg("no will configured, skipping cycle")
		return OutcomeNotConfigured, nil
	}
	if err != nil {
		return "", err
	}
	if len(w.MonitoredAccounts) == 0 {
		e.logger.Warn().Msg("no monitored accounts configured, cannot determine liveness")
		return OutcomeNoAccounts, nil
	}

	report, err := e.checker.Check(ctx, w.MonitoredAccounts)
	if err != nil {
		return "", fmt.Errorf("check liveness: %w", err)
	}

	e.setState(StateDeciding)
	if report.Alive {
		if report.FailSafe {
			e.logger.Warn().Int("accounts", len(report.Accounts)).Msg("no confirmed activity, execution withheld by fail-safe")
			return OutcomeFailSafe, nil
		}
		e.logger.Info().Int("accounts", len(report.Accounts)).Msg("principal active")
		return OutcomeAlive, nil
	}

	e.logger.Warn().Int("accounts", len(report.Accounts)).Msg("all monitored accounts silent beyond grace window")
	return e.execute(ctx, w, report)
}

func (e *Engine) execute(ctx context.Context, w *will.Will, report *appLiveness.Report) (Outcome, error) {
	e.setState(StateExecuting)

	if len(w.Beneficiaries) == 0 {
		e.logger.Error().Msg("invalid configuration: no beneficiaries, execution skipped")
		return OutcomeInvalidConfiguration, nil
	}

	total, err := e.resolveAmount(ctx, w)
	if err != nil {
		if errors.Is(err, domainPayout.ErrInvalidConfiguration) {
			e.logger.Error().Err(err).Msg("invalid configuration, execution skipped")
			return OutcomeInvalidConfiguration, nil
		}
		return "", err
	}

	allocations, err := appPayout.Split(total, w.Beneficiaries)
	if err != nil {
		if errors.Is(err, domainPayout.ErrInvalidConfiguration) {
			e.logger.Error().Err(err).Msg("invalid configuration, execution skipped")
			return OutcomeInvalidConfiguration, nil
		}
		return "", err
	}

	reason := fmt.Sprintf("%d monitored account(s) silent beyond grace window", len(report.Accounts))
	exec := execution.NewExecution(total, reason, allocations, e.now())
	if err := e.executions.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("record execution: %w", err)
	}
	e.publish(event.TypeExecution, map[string]any{
		"executionId": exec.ExecutionID.String(),
		"status":      string(exec.Status),
		"totalAmount": total,
		"payouts":     len(exec.Payouts),
	})
	e.logger.Warn().
		Str("execution_id", exec.ExecutionID.String()).
		Int64("total_amount", total).
		Int("payouts", len(exec.Payouts)).
		Msg("execution started")

	return e.disburse(ctx, exec)
}

func (e *Engine) disburse(ctx context.Context, exec *execution.Execution) (Outcome, error) {
	e.setState(StateExecuting)
	rep, err := e.disburser.Disburse(ctx, exec)
	if err != nil {
		return "", fmt.Errorf("disburse execution %s: %w", exec.ExecutionID, err)
	}
	outcome := OutcomeExecuted
	if len(rep.Errors) > 0 {
		outcome = OutcomePartiallyFailed
	}
	ev := e.logger.Info()
	if outcome == OutcomePartiallyFailed {
		ev = e.logger.Error().Errs("payout_errors", rep.Errors)
	}
	ev.Str("execution_id", exec.ExecutionID.String()).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("skipped", rep.Skipped).
		Int("unknown", rep.Unknown).
		Int64("disbursed", rep.Disbursed).
		Bool("completed", rep.Completed).
		Msg("execution finished")
	e.publish(event.TypeExecution, map[string]any{
		"executionId": exec.ExecutionID.String(),
		"status":      string(exec.Status),
		"succeeded":   rep.Succeeded,
		"failed":      rep.Failed,
		"skipped":     rep.Skipped,
		"unknown":     rep.Unknown,
		"disbursed":   rep.Disbursed,
	})
	return outcome, nil
}

func (e *Engine) resolveAmount(ctx context.Context, w *will.Will) (int64, error) {
	if w.FixedPayoutAmount != nil {
		if *w.FixedPayoutAmount <= 0 {
			return 0, fmt.Errorf("%w: fixed payout amount must be positive", domainPayout.ErrInvalidConfiguration)
		}
		return *w.FixedPayoutAmount, nil
	}
	if e.balance == nil {
		return 0, fmt.Errorf("%w: no fixed payout amount and no balance source", domainPayout.ErrInvalidConfiguration)
	}
	bal, err := e.balance.AvailableBalance(ctx)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	if bal <= 0 {
		return 0, fmt.Errorf("%w: available balance is %d", domainPayout.ErrInvalidConfiguration, bal)
	}
	return bal, nil
}

func (e *Engine) nextInterval(ctx context.Context) (time.Duration, error) {
	w, err := e.wills.Snapshot(ctx)
	if errors.Is(err, will.ErrNotFound) {
		return e.floor, nil
	}
	if err != nil {
		return 0, err
	}
	return schedule.Interval(w, e.floor), nil
}

func (e *Engine) finishCycle(ctx context.Context, outcome Outcome, started time.Time) {
	now := e.now()
	e.mu.Lock()
	e.status.LastOutcome = outcome
	e.status.LastError = ""
	e.status.LastCycleAt = &now
	e.status.Cycles++
	e.mu.Unlock()
	if e.recorder != nil {
		e.recorder.CycleFinished(ctx, string(outcome), now.Sub(started))
	}
	e.publish(event.TypeCycle, map[string]any{"outcome": string(outcome)})
}

func (e *Engine) fault(err error) {
	e.mu.Lock()
	e.status.State = StateFaulted
	e.status.LastError = err.Error()
	e.mu.Unlock()
	e.logger.Error().Err(err).Dur("cooldown", e.cooldown).Msg("cycle faulted, cooling down")
	e.publish(event.TypeState, map[string]any{"state": string(StateFaulted), "error": err.Error()})
}

func (e *Engine) stopped(ctx context.Context) error {
	e.setState(StateIdle)
	e.logger.Info().Msg("engine stopped")
	return ctx.Err()
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	changed := e.status.State != s
	e.status.State = s
	if s != StateSleeping {
		e.status.NextCheckAt = nil
	}
	e.mu.Unlock()
	if changed {
		e.logger.Debug().Str("state", string(s)).Msg("state changed")
	}
}

func (e *Engine) setNextCheck(at time.Time) {
	e.mu.Lock()
	e.status.NextCheckAt = &at
	e.mu.Unlock()
}

func (e *Engine) publish(t event.Type, data map[string]any) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(event.New(t, e.now(), data))
}

func sleepTimer(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
