package payout

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/willexec/willexec/internal/domain/execution"
	domain "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/domain/will"
)

// Precision is the fixed-point scale applied to split weights.
const Precision = 10000

var precision = decimal.NewFromInt(Precision)

// Split divides total across beneficiaries by weight using integer
// arithmetic only. Every beneficiary but the last gets
// floor(total*unit/totalUnits); the last gets the exact remainder, so the
// allocations always sum to total.
func Split(total int64, beneficiaries []will.BeneficiaryShare) ([]execution.Allocation, error) {
	if len(beneficiaries) == 0 {
		return nil, fmt.Errorf("%w: no beneficiaries", domain.ErrInvalidConfiguration)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: total amount %d is negative", domain.ErrInvalidConfiguration, total)
	}

	units := make([]*big.Int, len(beneficiaries))
	totalUnits := new(big.Int)
	for i, b := range beneficiaries {
		if b.SplitWeight.IsNegative() {
			return nil, fmt.Errorf("%w: beneficiary %s has negative weight", domain.ErrInvalidConfiguration, b.AccountID)
		}
		units[i] = b.SplitWeight.Mul(precision).Round(0).BigInt()
		totalUnits.Add(totalUnits, units[i])
	}
	if totalUnits.Sign() == 0 {
		return nil, fmt.Errorf("%w: split weights sum to zero", domain.ErrInvalidConfiguration)
	}

	out := make([]execution.Allocation, len(beneficiaries))
	bigTotal := big.NewInt(total)
	allocated := int64(0)
	last := len(beneficiaries) - 1
	for i, b := range beneficiaries[:last] {
		share := new(big.Int).Mul(bigTotal, units[i])
		share.Quo(share, totalUnits)
		out[i] = execution.Allocation{AccountID: b.AccountID, Amount: share.Int64()}
		allocated += out[i].Amount
	}
	out[last] = execution.Allocation{AccountID: beneficiaries[last].AccountID, Amount: total - allocated}
	return out, nil
}
