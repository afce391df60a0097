package willstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/willexec/willexec/internal/domain/will"
)

// Service owns the will. Every read and every mutation goes through one
// lock so an in-flight cycle never observes a half-applied edit.
type Service struct {
	mu       sync.Mutex
	repo     will.Repository
	minGrace time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewService(repo will.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With().Str("service", "willstore").Logger(),
	}
}

// WithClock overrides the timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMinGraceWindow rejects wills whose tightest grace window is shorter
// than d, normally the scheduler floor.
func (s *Service) WithMinGraceWindow(d time.Duration) *Service {
	s.minGrace = d
	return s
}

// Snapshot returns a deep copy of the current will.
func (s *Service) Snapshot(ctx context.Context) (*will.Will, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load will: %w", err)
	}
	if w == nil {
		return nil, will.ErrNotFound
	}
	return w.Clone(), nil
}

// Apply runs mutate against a copy of the current will (or an empty will if
// none exists), validates the result and persists it. The stored will only
// changes if every step succeeds.
func (s *Service) Apply(ctx context.Context, mutate func(w *will.Will) error) (*will.Will, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load will: %w", err)
	}
	next := current.Clone()
	if next == nil {
		next = &will.Will{}
	}
	if err := mutate(next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if grace, ok := next.SmallestGraceWindow(); ok && grace < s.minGrace {
		return nil, fmt.Errorf("%w: grace window %s is shorter than the minimum check interval %s", will.ErrInvalidWill, grace, s.minGrace)
	}

	now := s.now()
	if current != nil {
		next.CreatedAt = current.CreatedAt
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	if err := s.repo.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save will: %w", err)
	}
	s.logger.Info().
		Int("beneficiaries", len(next.Beneficiaries)).
		Int("accounts", len(next.MonitoredAccounts)).
		Int64("poll_interval_seconds", next.PollIntervalSeconds).
		Msg("will updated")
	return next.Clone(), nil
}

// Replace overwrites the will. Cached activity timestamps survive for
// accounts that are still listed; client-supplied values are ignored.
func (s *Service) Replace(ctx context.Context, replacement *will.Will) (*will.Will, error) {
	if replacement == nil {
		return nil, fmt.Errorf("%w: will is nil", will.ErrInvalidWill)
	}
	return s.Apply(ctx, func(w *will.Will) error {
		known := make(map[string]*time.Time, len(w.MonitoredAccounts))
		for _, a := range w.MonitoredAccounts {
			known[a.Key()] = a.LastKnownActivityAt
		}
		next := replacement.Clone()
		for i := range next.MonitoredAccounts {
			next.MonitoredAccounts[i].LastKnownActivityAt = known[next.MonitoredAccounts[i].Key()]
		}
		next.CreatedAt = w.CreatedAt
		*w = *next
		return nil
	})
}

// RecordActivity durably stores fresh activity timestamps. It returns only
// after the repository has accepted the write.
func (s *Service) RecordActivity(ctx context.Context, updates []will.ActivityUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.UpdateActivity(ctx, updates, s.now()); err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}
