package token

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Symbol is the reward token ticker recorded on history entries.
const Symbol = "MKIN"

// ToBaseUnits converts a decimal token amount to the chain's smallest unit.
// Fails on negative amounts and on amounts that do not fit in a uint64.
func ToBaseUnits(amount decimal.Decimal, decimals int) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount)
	}
	shifted := amount.Shift(int32(decimals)).Truncate(0)
	if !shifted.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows base units at %d decimals", amount, decimals)
	}
	return shifted.BigInt().Uint64(), nil
}

// FromBaseUnits converts a raw chain amount back to a decimal token amount.
func FromBaseUnits(raw uint64, decimals int) decimal.Decimal {
	return decimal.NewFromUint64(raw).Shift(int32(-decimals))
}

// FromRawString converts a raw base-unit amount string (the shape Solana
// token balances report) to a decimal token amount.
func FromRawString(raw string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid raw token amount %q: %w", raw, err)
	}
	return d.Shift(-decimals), nil
}

// WithinEpsilon reports whether two amounts differ by no more than the given
// rounding tolerance.
func WithinEpsilon(a, b, epsilon decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(epsilon)
}
