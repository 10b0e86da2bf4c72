package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxMinor bounds amounts so fee arithmetic cannot overflow int64.
const MaxMinor int64 = 100_000_000_000_000

// Inputs beyond these bounds are rejected before any decimal arithmetic,
// which otherwise scales with the exponent.
const (
	maxInputLength = 32
	maxScale       = 32
)

var (
	ErrEmpty    = errors.New("money: empty amount")
	ErrSyntax   = errors.New("money: not a number")
	ErrTooLarge = errors.New("money: amount out of range")
	ErrInexact  = errors.New("money: amount not representable in minor units")
	ErrScale    = errors.New("money: exponent out of range")
)

// Parse reads a decimal amount without rounding.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmpty
	}
	if len(s) > maxInputLength {
		return decimal.Zero, fmt.Errorf("%w: %d characters", ErrSyntax, len(s))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if exp := d.Exponent(); exp > maxScale || exp < -maxScale {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrScale, s)
	}
	return d, nil
}

// FractionDigits is the number of significant fractional digits of d.
// Trailing zeros do not count: 10.500 has one.
func FractionDigits(d decimal.Decimal) int32 {
	exp := d.Exponent()
	if exp >= 0 || d.IsZero() {
		return 0
	}
	coef := d.Coefficient().String()
	zeros := int32(len(coef) - len(strings.TrimRight(coef, "0")))
	if n := -exp - zeros; n > 0 {
		return n
	}
	return 0
}

// ToMinor converts d to integer minor units of a currency with exponent exp.
func ToMinor(d decimal.Decimal, exp int32) (int64, error) {
	shifted := d.Shift(exp)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrInexact
	}
	bi := shifted.BigInt()
	if !bi.IsInt64() || bi.Int64() > MaxMinor || bi.Int64() < -MaxMinor {
		return 0, ErrTooLarge
	}
	return bi.Int64(), nil
}

// FormatMinor renders minor units as a plain decimal with exactly exp
// fractional digits, e.g. 102000 with exp 2 is "1020.00".
func FormatMinor(minor int64, exp int32) string {
	return decimal.New(minor, -exp).StringFixed(exp)
}

// FeeMinor computes basisPoints/10000 of principal, rounded half up to the
// minor unit. Both inputs must be non-negative.
func FeeMinor(principal, basisPoints int64) (int64, error) {
	if principal < 0 || basisPoints < 0 {
		return 0, fmt.Errorf("money: negative fee input")
	}
	if principal > MaxMinor || basisPoints > 10_000 {
		return 0, ErrTooLarge
	}
	return (principal*basisPoints + 5_000) / 10_000, nil
}
