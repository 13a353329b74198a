// Package units converts between base-unit amounts and their decimal
// display form.
package units

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Format renders amount base units with the given number of decimals.
func Format(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).StringFixed(decimals)
}

// Parse converts a decimal display amount into base units. It rejects
// negative values, precision finer than one base unit and values that do
// not fit in 64 bits.
func Parse(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q: negative", s)
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %q: more than %d decimals", s, decimals)
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q: out of range", s)
	}
	return bi.Uint64(), nil
}
