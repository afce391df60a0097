package will

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"
)

// ActivityUpdate records a freshly observed activity timestamp for one account.
type ActivityUpdate struct {
	Platform   Platform
	Identifier string
	At         time.Time
}

// Repository defines will persistence.
type Repository interface {
	// Get returns nil, nil when no will has been stored yet.
	Get(ctx context.Context) (*Will, error)
	Save(ctx context.Context, w *Will) error
	UpdateActivity(ctx context.Context, updates []ActivityUpdate, updatedAt time.Time) error
}
