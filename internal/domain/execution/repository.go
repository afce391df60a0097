package execution

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines execution record persistence.
type Repository interface {
	// Create stores the execution and all of its payouts in one write.
	Create(ctx context.Context, exec *Execution) error
	// Active returns the newest non-archived execution, or nil, nil.
	Active(ctx context.Context) (*Execution, error)
	List(ctx context.Context, limit, offset int) ([]*Execution, error)
	UpdatePayout(ctx context.Context, p *Payout) error
	Complete(ctx context.Context, executionID uuid.UUID, at time.Time) error
	// Archive clears every non-archived execution and returns how many were cleared.
	Archive(ctx context.Context) (int64, error)
}
