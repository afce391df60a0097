package execution

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle of a disbursement.
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	// StatusArchived marks a record cleared by an operator; archived records
	// no longer block a new execution.
	StatusArchived Status = "ARCHIVED"
)

// PayoutStatus represents the outcome of a single transfer.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutInFlight  PayoutStatus = "IN_FLIGHT"
	PayoutSucceeded PayoutStatus = "SUCCEEDED"
	PayoutFailed    PayoutStatus = "FAILED"
	PayoutSkipped   PayoutStatus = "SKIPPED"
	PayoutUnknown   PayoutStatus = "UNKNOWN"
)

var (
	ErrNotFound          = errors.New("execution not found")
	ErrInvalidTransition = errors.New("invalid payout status transition")
)

// Execution is the durable marker of one disbursement of the will.
type Execution struct {
	ExecutionID uuid.UUID  `json:"executionId"`
	Status      Status     `json:"status"`
	TotalAmount int64      `json:"totalAmount"`
	Reason      string     `json:"reason"`
	Payouts     []*Payout  `json:"payouts"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Payout is one planned transfer within an execution.
type Payout struct {
	PayoutID    uuid.UUID    `json:"payoutId"`
	ExecutionID uuid.UUID    `json:"executionId"`
	Seq         int          `json:"seq"`
	AccountID   string       `json:"accountId"`
	Amount      int64        `json:"amount"`
	Status      PayoutStatus `json:"status"`
	LastError   *string      `json:"lastError,omitempty"`
	AttemptedAt *time.Time   `json:"attemptedAt,omitempty"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty"`
}

// Allocation is one (account, amount) pair of a computed split.
type Allocation struct {
	AccountID string `json:"accountId"`
	Amount    int64  `json:"amount"`
}

// NewExecution builds a STARTED execution with one PENDING payout per allocation.
func NewExecution(total int64, reason string, allocations []Allocation, now time.Time) *Execution {
	exec := &Execution{
		ExecutionID: uuid.New(),
		Status:      StatusStarted,
		TotalAmount: total,
		Reason:      reason,
		StartedAt:   now,
		Payouts:     make([]*Payout, 0, len(allocations)),
	}
	for i, a := range allocations {
		exec.Payouts = append(exec.Payouts, &Payout{
			PayoutID:    uuid.New(),
			ExecutionID: exec.ExecutionID,
			Seq:         i,
			AccountID:   a.AccountID,
			Amount:      a.Amount,
			Status:      PayoutPending,
		})
	}
	return exec
}

// Outstanding reports whether any payout has not been attempted yet.
func (e *Execution) Outstanding() bool {
	for _, p := range e.Payouts {
		if p.Status == PayoutPending {
			return true
		}
	}
	return false
}

// Counts tallies payouts by status.
func (e *Execution) Counts() map[PayoutStatus]int {
	out := make(map[PayoutStatus]int)
	for _, p := range e.Payouts {
		out[p.Status]++
	}
	return out
}

// Begin moves a pending payout in flight.
func (p *Payout) Begin(now time.Time) error {
	if p.Status != PayoutPending {
		return ErrInvalidTransition
	}
	p.Status = PayoutInFlight
	p.AttemptedAt = &now
	return nil
}

// Finish records the final status of a payout that was pending or in flight.
func (p *Payout) Finish(status PayoutStatus, cause error, now time.Time) error {
	if p.Status != PayoutPending && p.Status != PayoutInFlight {
		return ErrInvalidTransition
	}
	switch status {
	case PayoutSucceeded, PayoutFailed, PayoutSkipped, PayoutUnknown:
	default:
		return ErrInvalidTransition
	}
	p.Status = status
	p.FinishedAt = &now
	if cause != nil {
		msg := cause.Error()
		p.LastError = &msg
	} else {
		p.LastError = nil
	}
	return nil
}
