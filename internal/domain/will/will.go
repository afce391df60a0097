package will

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Platform identifies which liveness probe checks an account.
type Platform string

const (
	PlatformHeartbeat Platform = "heartbeat"
	PlatformCheckin   Platform = "checkin"
)

var (
	ErrInvalidWill = errors.New("invalid will configuration")
	ErrNotFound    = errors.New("will not configured")
)

var secondsPerDay = decimal.NewFromInt(24 * 60 * 60)

// BeneficiaryShare is one weighted recipient of the payout pool.
type BeneficiaryShare struct {
	AccountID   string          `json:"accountId"`
	SplitWeight decimal.Decimal `json:"splitWeight"`
}

// MonitoredAccount is an external account whose activity proves the principal is alive.
type MonitoredAccount struct {
	Platform            Platform        `json:"platform"`
	Identifier          string          `json:"identifier"`
	GraceWindowDays     decimal.Decimal `json:"graceWindowDays"`
	LastKnownActivityAt *time.Time      `json:"lastKnownActivityAt,omitempty"`
}

// Known reports whether a probe exists for the platform.
func (p Platform) Known() bool {
	switch p {
	case PlatformHeartbeat, PlatformCheckin:
		return true
	}
	return false
}

// Key identifies an account within a will.
func (a MonitoredAccount) Key() string {
	return string(a.Platform) + ":" + a.Identifier
}

// GraceWindow converts GraceWindowDays to a duration, saturating at the
// largest representable duration.
func (a MonitoredAccount) GraceWindow() time.Duration {
	secs := a.GraceWindowDays.Mul(secondsPerDay)
	if secs.Sign() <= 0 {
		return 0
	}
	maxSecs := decimal.NewFromInt(math.MaxInt64 / int64(time.Second))
	if secs.GreaterThanOrEqual(maxSecs) {
		return time.Duration(math.MaxInt64)
	}
	whole := secs.Truncate(0).IntPart()
	frac := secs.Sub(decimal.NewFromInt(whole)).Mul(decimal.NewFromInt(int64(time.Second))).Truncate(0).IntPart()
	return time.Duration(whole)*time.Second + time.Duration(frac)
}

// Will is the monitoring and payout configuration.
type Will struct {
	StatementText       string             `json:"statementText"`
	ExecutorIdentity    string             `json:"executorIdentity"`
	Beneficiaries       []BeneficiaryShare `json:"beneficiaries"`
	MonitoredAccounts   []MonitoredAccount `json:"monitoredAccounts"`
	PollIntervalSeconds int64              `json:"pollIntervalSeconds"`
	FixedPayoutAmount   *int64             `json:"fixedPayoutAmount,omitempty"`
	CreatedAt           time.Time          `json:"createdAt"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// Validate checks the structural rules enforced on every write. Rules that
// only matter at execution time (non-empty beneficiaries, non-zero weight
// sum) are left to the payout calculator.
func (w *Will) Validate() error {
	if w == nil {
		return fmt.Errorf("%w: will is nil", ErrInvalidWill)
	}
	if w.PollIntervalSeconds < 0 {
		return fmt.Errorf("%w: pollIntervalSeconds must be >= 0", ErrInvalidWill)
	}
	if w.FixedPayoutAmount != nil && *w.FixedPayoutAmount <= 0 {
		return fmt.Errorf("%w: fixedPayoutAmount must be positive", ErrInvalidWill)
	}
	for i, b := range w.Beneficiaries {
		if b.AccountID == "" {
			return fmt.Errorf("%w: beneficiary %d: accountId is required", ErrInvalidWill, i)
		}
		if b.SplitWeight.IsNegative() {
			return fmt.Errorf("%w: beneficiary %s: splitWeight must not be negative", ErrInvalidWill, b.AccountID)
		}
	}
	seen := make(map[string]struct{}, len(w.MonitoredAccounts))
	for i, a := range w.MonitoredAccounts {
		if a.Platform == "" {
			return fmt.Errorf("%w: account %d: platform is required", ErrInvalidWill, i)
		}
		if !a.Platform.Known() {
			return fmt.Errorf("%w: account %d: unsupported platform %q", ErrInvalidWill, i, a.Platform)
		}
		if a.Identifier == "" {
			return fmt.Errorf("%w: account %d: identifier is required", ErrInvalidWill, i)
		}
		if a.GraceWindowDays.Sign() <= 0 {
			return fmt.Errorf("%w: account %s: graceWindowDays must be positive", ErrInvalidWill, a.Key())
		}
		if _, dup := seen[a.Key()]; dup {
			return fmt.Errorf("%w: account %s listed twice", ErrInvalidWill, a.Key())
		}
		seen[a.Key()] = struct{}{}
	}
	return nil
}

// SmallestGraceWindow returns the tightest grace window across accounts.
func (w *Will) SmallestGraceWindow() (time.Duration, bool) {
	if len(w.MonitoredAccounts) == 0 {
		return 0, false
	}
	smallest := w.MonitoredAccounts[0].GraceWindow()
	for _, a := range w.MonitoredAccounts[1:] {
		if g := a.GraceWindow(); g < smallest {
			smallest = g
		}
	}
	return smallest, true
}

// Clone returns a deep copy so snapshots never alias store state.
func (w *Will) Clone() *Will {
	if w == nil {
		return nil
	}
	out := *w
	if w.Beneficiaries != nil {
		out.Beneficiaries = make([]BeneficiaryShare, len(w.Beneficiaries))
		copy(out.Beneficiaries, w.Beneficiaries)
	}
	if w.MonitoredAccounts != nil {
		out.MonitoredAccounts = make([]MonitoredAccount, len(w.MonitoredAccounts))
		for i, a := range w.MonitoredAccounts {
			if a.LastKnownActivityAt != nil {
				ts := *a.LastKnownActivityAt
				a.LastKnownActivityAt = &ts
			}
			out.MonitoredAccounts[i] = a
		}
	}
	if w.FixedPayoutAmount != nil {
		amt := *w.FixedPayoutAmount
		out.FixedPayoutAmount = &amt
	}
	return &out
}
