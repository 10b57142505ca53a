package prizepool

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultShares pays the top three 50%, 30% and 20%.
var DefaultShares = []decimal.Decimal{
	decimal.NewFromInt(50),
	decimal.NewFromInt(30),
	decimal.NewFromInt(20),
}

// ValidateShares checks that shares are positive percentages summing to at most 100.
func ValidateShares(shares []decimal.Decimal) error {
	if len(shares) == 0 {
		return fmt.Errorf("prizepool: no payout shares")
	}
	total := decimal.Zero
	for i, s := range shares {
		if !s.IsPositive() {
			return fmt.Errorf("prizepool: share %d must be positive, got %s", i+1, s)
		}
		total = total.Add(s)
	}
	if total.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("prizepool: shares sum to %s%%", total)
	}
	return nil
}

// Split divides pool between winners by percentage shares, in rank order.
// Amounts are truncated to USDC precision so the total never exceeds the
// pool. Shares beyond the number of winners stay in the pool.
func Split(pool decimal.Decimal, shares []decimal.Decimal, winners int) []decimal.Decimal {
	n := winners
	if n > len(shares) {
		n = len(shares)
	}
	if n <= 0 || !pool.IsPositive() {
		return nil
	}
	hundred := decimal.NewFromInt(100)
	out := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		out[i] = pool.Mul(shares[i]).Div(hundred).Truncate(USDCDecimals)
	}
	return out
}

// ToUnits converts a USDC amount to integer base units.
func ToUnits(amount decimal.Decimal) int64 {
	return amount.Shift(USDCDecimals).IntPart()
}

// FromUnits converts integer base units to a USDC amount.
func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -USDCDecimals)
}
