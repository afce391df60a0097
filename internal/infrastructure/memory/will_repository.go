package memory

import (
	"context"
	"sync"
	"time"

	"github.com/willexec/willexec/internal/domain/will"
)

// WillRepository implements will.Repository in process memory.
type WillRepository struct {
	mu   sync.Mutex
	will *will.Will
}

func NewWillRepository() *WillRepository {
	return &WillRepository{}
}

func (r *WillRepository) Get(ctx context.Context) (*will.Will, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.will.Clone(), nil
}

func (r *WillRepository) Save(ctx context.Context, w *will.Will) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.will = w.Clone()
	return nil
}

func (r *WillRepository) UpdateActivity(ctx context.Context, updates []will.ActivityUpdate, updatedAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.will == nil {
		return will.ErrNotFound
	}
	for _, u := range updates {
		for i := range r.will.MonitoredAccounts {
			a := &r.will.MonitoredAccounts[i]
			if a.Platform == u.Platform && a.Identifier == u.Identifier {
				at := u.At
				a.LastKnownActivityAt = &at
			}
		}
	}
	r.will.UpdatedAt = updatedAt
	return nil
}
