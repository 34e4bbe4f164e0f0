// Package money converts between decimal major-unit amounts used at the API
// edge and the int64 minor units stored in the ledger.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount = errors.New("money: amount must not be negative")
	ErrPrecision      = errors.New("money: amount has more decimals than the currency allows")
	ErrOverflow       = errors.New("money: amount out of range")
)

// ISO 4217 exponents that differ from the default of 2.
var exponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
	"BHD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if e, ok := exponents[currency]; ok {
		return e
	}
	return 2
}

// ToMinor converts a major-unit amount to minor units. Rounding is never
// applied: an amount with sub-minor precision is rejected.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	scaled := amount.Shift(Exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s %s", ErrPrecision, amount, currency)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, amount)
	}
	return scaled.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -Exponent(currency))
}
