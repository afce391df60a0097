package liveness

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	domain "github.com/willexec/willexec/internal/domain/liveness"
	"github.com/willexec/willexec/internal/domain/will"
)

// Evidence records why an account counted as within grace or not.
type Evidence string

const (
	EvidenceProbe           Evidence = "probe"
	EvidenceFailSafeCached  Evidence = "fail_safe_cached"
	EvidenceFailSafeDefault Evidence = "fail_safe_default"
)

// AccountResult is the outcome of checking one account.
type AccountResult struct {
	Account     will.MonitoredAccount
	ActivityAt  *time.Time
	Age         time.Duration
	WithinGrace bool
	Evidence    Evidence
	Err         error
}

// Report is the aggregate liveness verdict of one cycle.
type Report struct {
	Alive      bool
	NoAccounts bool
	// FailSafe is set when the verdict is alive only because a probe failed
	// or returned no data.
	FailSafe  bool
	Accounts  []AccountResult
	CheckedAt time.Time
}

// ActivityRecorder persists fresh activity timestamps.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, updates []will.ActivityUpdate) error
}

// ProbeObserver is notified of every probe outcome.
type ProbeObserver interface {
	ProbeFinished(ctx context.Context, result AccountResult)
}

// Aggregator decides whether the principal is still alive.
type Aggregator struct {
	probe    domain.Probe
	recorder ActivityRecorder
	timeout  time.Duration
	observer ProbeObserver
	now      func() time.Time
	logger   zerolog.Logger
}

func NewAggregator(probe domain.Probe, recorder ActivityRecorder, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		probe:    probe,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("service", "liveness").Logger(),
	}
}

// WithProbeTimeout bounds each probe call. Zero leaves probes unbounded.
func (a *Aggregator) WithProbeTimeout(d time.Duration) *Aggregator {
	a.timeout = d
	return a
}

func (a *Aggregator) WithObserver(o ProbeObserver) *Aggregator {
	a.observer = o
	return a
}

func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Check probes every account concurrently and ORs the per-account verdicts.
// Fresh timestamps are persisted before the report is returned.
func (a *Aggregator) Check(ctx context.Context, accounts []will.MonitoredAccount) (*Report, error) {
	report := &Report{CheckedAt: a.now()}
	if len(accounts) == 0 {
		report.Alive = true
		report.NoAccounts = true
		return report, nil
	}

	type probeOutcome struct {
		ts  *time.Time
		err error
	}
	outcomes := make([]probeOutcome, len(accounts))

	var g errgroup.Group
	g.SetLimit(len(accounts))
	for i := range accounts {
		g.Go(func() error {
			ts, err := a.runProbe(ctx, accounts[i])
			outcomes[i] = probeOutcome{ts: ts, err: err}
			return nil
		})
	}
	_ = g.Wait()

	now := a.now()
	report.CheckedAt = now
	var updates []will.ActivityUpdate
	liveByProbe := false
	for i, acct := range accounts {
		res := AccountResult{Account: acct, Err: outcomes[i].err}
		if outcomes[i].err == nil && outcomes[i].ts != nil {
			ts := *outcomes[i].ts
			res.ActivityAt = &ts
			res.Age = now.Sub(ts)
			res.WithinGrace = res.Age <= acct.GraceWindow()
			res.Evidence = EvidenceProbe
			updates = append(updates, will.ActivityUpdate{Platform: acct.Platform, Identifier: acct.Identifier, At: ts})
			if res.WithinGrace {
				liveByProbe = true
			}
		} else {
			res.WithinGrace = true
			res.Evidence = EvidenceFailSafeDefault
			if acct.LastKnownActivityAt != nil {
				cached := *acct.LastKnownActivityAt
				res.ActivityAt = &cached
				res.Age = now.Sub(cached)
				res.Evidence = EvidenceFailSafeCached
			}
			ev := a.logger.Warn().Str("platform", string(acct.Platform)).Str("identifier", acct.Identifier).Str("evidence", string(res.Evidence))
			if res.Err != nil {
				ev = ev.Err(res.Err)
			}
			ev.Msg("probe inconclusive, applying fail-safe")
		}
		if res.WithinGrace {
			report.Alive = true
		}
		report.Accounts = append(report.Accounts, res)
		if a.observer != nil {
			a.observer.ProbeFinished(ctx, res)
		}
	}
	report.FailSafe = report.Alive && !liveByProbe

	if err := a.recorder.RecordActivity(ctx, updates); err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Aggregator) runProbe(ctx context.Context, acct will.MonitoredAccount) (ts *time.Time, err error) {
	defer func() {
		if r := recover(); r != nil {
			ts = nil
			err = &domain.ProbeError{Platform: acct.Platform, Identifier: acct.Identifier, Err: fmt.Errorf("probe panicked: %v", r)}
		}
	}()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.probe.Probe(ctx, acct)
}
