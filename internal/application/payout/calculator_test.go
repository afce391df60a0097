package payout

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/willexec/willexec/internal/domain/payout"
	"github.com/willexec/willexec/internal/domain/will"
)

func shares(weights ...string) []will.BeneficiaryShare {
	out := make([]will.BeneficiaryShare, len(weights))
	for i, w := range weights {
		out[i] = will.BeneficiaryShare{AccountID: string(rune('a' + i)), SplitWeight: decimal.RequireFromString(w)}
	}
	return out
}

func amounts(t *testing.T, total int64, weights ...string) []int64 {
	t.Helper()
	allocs, err := Split(total, shares(weights...))
	require.NoError(t, err)
	out := make([]int64, len(allocs))
	for i, a := range allocs {
		out[i] = a.Amount
	}
	return out
}

func TestSplit(t *testing.T) {
	t.Run("equal thirds give remainder to last", func(t *testing.T) {
		assert.Equal(t, []int64{33, 33, 34}, amounts(t, 100, "1", "1", "1"))
	})

	t.Run("half and half of odd total", func(t *testing.T) {
		assert.Equal(t, []int64{500000, 500001}, amounts(t, 1000001, "0.5", "0.5"))
	})

	t.Run("weights need not sum to one", func(t *testing.T) {
		assert.Equal(t, []int64{100, 200}, amounts(t, 300, "0.1", "0.2"))
	})

	t.Run("zero weight gets nothing", func(t *testing.T) {
		assert.Equal(t, []int64{0, 100}, amounts(t, 100, "0", "1"))
		assert.Equal(t, []int64{100, 0}, amounts(t, 100, "1", "0"))
	})

	t.Run("zero total", func(t *testing.T) {
		assert.Equal(t, []int64{0, 0}, amounts(t, 0, "1", "1"))
	})

	t.Run("weights round to four decimal places", func(t *testing.T) {
		assert.Equal(t, []int64{0, 1000}, amounts(t, 1000, "0.00004", "1"))
	})

	t.Run("preserves order and ids", func(t *testing.T) {
		allocs, err := Split(10, shares("3", "7"))
		require.NoError(t, err)
		assert.Equal(t, "a", allocs[0].AccountID)
		assert.Equal(t, "b", allocs[1].AccountID)
	})
}

func TestSplit_Invalid(t *testing.T) {
	_, err := Split(100, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = Split(100, shares("0", "0"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = Split(-1, shares("1"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	_, err = Split(100, shares("-1", "2"))
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestSplitProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	toShares := func(units []int) ([]will.BeneficiaryShare, bool) {
		positive := false
		out := make([]will.BeneficiaryShare, len(units))
		for i, u := range units {
			if u > 0 {
				positive = true
			}
			out[i] = will.BeneficiaryShare{AccountID: string(rune('a' + i%26)), SplitWeight: decimal.New(int64(u), -4)}
		}
		return out, positive
	}

	properties.Property("allocations sum exactly to total and are non-negative", prop.ForAll(
		func(total int64, units []int) bool {
			bs, ok := toShares(units)
			if !ok {
				return true
			}
			allocs, err := Split(total, bs)
			if err != nil || len(allocs) != len(bs) {
				return false
			}
			var sum int64
			for _, a := range allocs {
				if a.Amount < 0 {
					return false
				}
				sum += a.Amount
			}
			return sum == total
		},
		gen.Int64Range(0, 1_000_000_000_000),
		gen.SliceOf(gen.IntRange(0, 100000)),
	))

	properties.Property("split is deterministic", prop.ForAll(
		func(total int64, units []int) bool {
			bs, ok := toShares(units)
			if !ok {
				return true
			}
			a, errA := Split(total, bs)
			b, errB := Split(total, bs)
			if errA != nil || errB != nil {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			return true
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.Property("zero weight yields zero amount", prop.ForAll(
		func(total int64, units []int) bool {
			bs, ok := toShares(append(units, 10000))
			if !ok {
				return false
			}
			bs = append([]will.BeneficiaryShare{{AccountID: "zero", SplitWeight: decimal.Zero}}, bs...)
			allocs, err := Split(total, bs)
			return err == nil && allocs[0].Amount == 0
		},
		gen.Int64Range(0, 1_000_000_000),
		gen.SliceOf(gen.IntRange(0, 10000)),
	))

	properties.TestingRun(t)
}
