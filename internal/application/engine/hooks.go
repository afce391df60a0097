package engine

import (
	"context"
	"time"

	appLiveness "github.com/willexec/willexec/internal/application/liveness"
	"github.com/willexec/willexec/internal/domain/event"
	"github.com/willexec/willexec/internal/domain/execution"
)

// OutcomeRecorder receives probe and payout measurements.
type OutcomeRecorder interface {
	ProbeFinished(ctx context.Context, platform, evidence string, withinGrace bool)
	PayoutFinished(ctx context.Context, status string, amount int64)
}

// Hooks forwards aggregator and payout outcomes to events and metrics.
// It satisfies both liveness.ProbeObserver and payout.Observer.
type Hooks struct {
	publisher event.Publisher
	recorder  OutcomeRecorder
	now       func() time.Time
}

func NewHooks(publisher event.Publisher, recorder OutcomeRecorder) *Hooks {
	return &Hooks{
		publisher: publisher,
		recorder:  recorder,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hooks) ProbeFinished(ctx context.Context, res appLiveness.AccountResult) {
	if h.recorder != nil {
		h.recorder.ProbeFinished(ctx, string(res.Account.Platform), string(res.Evidence), res.WithinGrace)
	}
	if h.publisher == nil {
		return
	}
	data := map[string]any{
		"platform":    string(res.Account.Platform),
		"identifier":  res.Account.Identifier,
		"evidence":    string(res.Evidence),
		"withinGrace": res.WithinGrace,
	}
	if res.ActivityAt != nil {
		data["activityAt"] = res.ActivityAt.UTC().Format(time.RFC3339)
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	h.publisher.Publish(event.New(event.TypeProbe, h.now(), data))
}

func (h *Hooks) PayoutFinished(ctx context.Context, p *execution.Payout) {
	if h.recorder != nil {
		h.recorder.PayoutFinished(ctx, string(p.Status), p.Amount)
	}
	if h.publisher == nil {
		return
	}
	data := map[string]any{
		"executionId": p.ExecutionID.String(),
		"payoutId":    p.PayoutID.String(),
		"accountId":   p.AccountID,
		"amount":      p.Amount,
		"status":      string(p.Status),
	}
	if p.LastError != nil {
		data["error"] = *p.LastError
	}
	h.publisher.Publish(event.New(event.TypePayout, h.now(), data))
}
