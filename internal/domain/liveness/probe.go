package liveness

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_probe.go -package=mocks . Probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/willexec/willexec/internal/domain/will"
)

var ErrUnknownPlatform = errors.New("no probe registered for platform")

// Probe answers "when did this account last show activity?". A nil
// timestamp with a nil error means the platform reports no activity ever.
type Probe interface {
	Probe(ctx context.Context, account will.MonitoredAccount) (*time.Time, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, account will.MonitoredAccount) (*time.Time, error)

func (f ProbeFunc) Probe(ctx context.Context, account will.MonitoredAccount) (*time.Time, error) {
	return f(ctx, account)
}

// ProbeError reports a failed platform check.
type ProbeError struct {
	Platform   will.Platform
	Identifier string
	Err        error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s:%s: %v", e.Platform, e.Identifier, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Registry dispatches probes by platform.
type Registry struct {
	mu     sync.RWMutex
	probes map[will.Platform]Probe
}

func NewRegistry() *Registry {
	return &Registry{probes: make(map[will.Platform]Probe)}
}

func (r *Registry) Register(platform will.Platform, p Probe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes[platform] = p
}

func (r *Registry) Platforms() []will.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]will.Platform, 0, len(r.probes))
	for p := range r.probes {
		out = append(out, p)
	}
	return out
}

// Probe runs the platform's probe and wraps any failure in a ProbeError.
func (r *Registry) Probe(ctx context.Context, account will.MonitoredAccount) (*time.Time, error) {
	r.mu.RLock()
	p, ok := r.probes[account.Platform]
	r.mu.RUnlock()
	if !ok {
		return nil, &ProbeError{Platform: account.Platform, Identifier: account.Identifier, Err: ErrUnknownPlatform}
	}
	ts, err := p.Probe(ctx, account)
	if err != nil {
		var pe *ProbeError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &ProbeError{Platform: account.Platform, Identifier: account.Identifier, Err: err}
	}
	return ts, nil
}
