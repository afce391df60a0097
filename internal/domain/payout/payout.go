package payout

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_payout.go -package=mocks . Rail,BalanceSource

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("invalid payout configuration")
	ErrSkippedZeroPayout    = errors.New("payout amount is not positive")
)

// Rail moves funds to a beneficiary. Failed transfers are reported, never
// retried by the caller.
type Rail interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// TransferRequest is one transfer submitted to the rail. IdempotencyKey is
// stable for a planned payout so rails that dedupe can do so.
type TransferRequest struct {
	IdempotencyKey string
	AccountID      string
	Amount         int64
}

// BalanceSource resolves the pool size when the will has no fixed amount.
type BalanceSource interface {
	AvailableBalance(ctx context.Context) (int64, error)
}

// PayoutError reports a single beneficiary's failed or skipped transfer.
type PayoutError struct {
	AccountID string
	Amount    int64
	Err       error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout to %s (%d): %v", e.AccountID, e.Amount, e.Err)
}

func (e *PayoutError) Unwrap() error { return e.Err }
