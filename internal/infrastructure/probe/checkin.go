package probe

import (
	"context"
	"sync"
	"time"

	"github.com/willexec/willexec/internal/domain/will"
)

// CheckinLedger keeps the latest check-in per identifier. It is the probe
// for will.PlatformCheckin.
type CheckinLedger struct {
	mu     sync.RWMutex
	latest map[string]time.Time
}

func NewCheckinLedger() *CheckinLedger {
	return &CheckinLedger{latest: make(map[string]time.Time)}
}

// Record stores a check-in. Older timestamps never replace newer ones.
func (l *CheckinLedger) Record(identifier string, at time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, ok := l.latest[identifier]; ok && prev.After(at) {
		return prev
	}
	l.latest[identifier] = at.UTC()
	return at.UTC()
}

func (l *CheckinLedger) Latest(identifier string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts, ok := l.latest[identifier]
	return ts, ok
}

// Probe reports the latest check-in. The ledger only holds check-ins seen
// by this process, so the account's persisted LastKnownActivityAt counts as
// a check-in too; whichever is newer wins. Nil means no check-in ever.
func (l *CheckinLedger) Probe(ctx context.Context, account will.MonitoredAccount) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts, ok := l.Latest(account.Identifier)
	if saved := account.LastKnownActivityAt; saved != nil && (!ok || saved.After(ts)) {
		ts, ok = saved.UTC(), true
	}
	if !ok {
		return nil, nil
	}
	return &ts, nil
}
