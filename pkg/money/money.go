// Package money converts between decimal strings and integer minor currency units.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitScale is the number of decimal places held by one major unit.
const MinorUnitScale = 2

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrAmountPrecision = errors.New("invalid_amount_precision")
	ErrAmountRange     = errors.New("invalid_amount_range")
)

var (
	minorFactor = decimal.New(1, MinorUnitScale)
	maxMinor    = decimal.NewFromInt(math.MaxInt64)
)

// ParseMinor parses "5000", "5000.5" or "5000.50" into minor units (500050).
// An empty string parses as zero.
func ParseMinor(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(d)
}

// FromDecimal converts d into minor units, refusing fractional minor units.
func FromDecimal(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(minorFactor)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrAmountPrecision
	}
	if scaled.Abs().GreaterThan(maxMinor) {
		return 0, ErrAmountRange
	}
	return scaled.IntPart(), nil
}

func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -MinorUnitScale)
}

// Format renders minor units with a fixed two-place fraction, e.g. 500000 → "5000.00".
func Format(minor int64) string {
	return ToDecimal(minor).StringFixed(MinorUnitScale)
}
