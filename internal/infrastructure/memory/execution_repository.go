package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/willexec/willexec/internal/domain/execution"
)

// ExecutionRepository implements execution.Repository in process memory.
type ExecutionRepository struct {
	mu    sync.Mutex
	execs []*execution.Execution
}

func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{}
}

func (r *ExecutionRepository) Create(ctx context.Context, exec *execution.Execution) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, cloneExecution(exec))
	return nil
}

func (r *ExecutionRepository) Active(ctx context.Context) (*execution.Execution, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.execs) - 1; i >= 0; i-- {
		if r.execs[i].Status != execution.StatusArchived {
			return cloneExecution(r.execs[i]), nil
		}
	}
	return nil, nil
}

func (r *ExecutionRepository) List(ctx context.Context, limit, offset int) ([]*execution.Execution, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*execution.Execution
	for i := len(r.execs) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneExecution(r.execs[i]))
	}
	return out, nil
}

func (r *ExecutionRepository) UpdatePayout(ctx context.Context, p *execution.Payout) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.execs {
		if e.ExecutionID != p.ExecutionID {
			continue
		}
		for i, existing := range e.Payouts {
			if existing.PayoutID == p.PayoutID {
				cp := *p
				e.Payouts[i] = &cp
				return nil
			}
		}
	}
	return execution.ErrNotFound
}

func (r *ExecutionRepository) Complete(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.execs {
		if e.ExecutionID == executionID {
			e.Status = execution.StatusCompleted
			e.CompletedAt = &at
			return nil
		}
	}
	return execution.ErrNotFound
}

func (r *ExecutionRepository) Archive(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.execs {
		if e.Status != execution.StatusArchived {
			e.Status = execution.StatusArchived
			n++
		}
	}
	return n, nil
}

func cloneExecution(e *execution.Execution) *execution.Execution {
	out := *e
	out.Payouts = make([]*execution.Payout, len(e.Payouts))
	for i, p := range e.Payouts {
		cp := *p
		out.Payouts[i] = &cp
	}
	return &out
}
