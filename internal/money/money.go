// Package money parses and validates the fixed-point amounts the ledger
// accepts: strictly positive, at most two fraction digits.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/piggybank/internal/domain"
)

const (
	Scale = 2
	// MaxIntDigits is the number of digits allowed before the decimal point.
	MaxIntDigits = 8
)

var (
	MaxAmount = decimal.RequireFromString("99999999.99")
	// MaxBalance is the largest value the balance columns can hold.
	MaxBalance = decimal.RequireFromString("999999999999.99")
)

// Parse reads a plain decimal string such as "10.50". Surrounding whitespace
// is ignored. Exponent notation and anything else that is not a valid
// amount is ErrInvalidAmount.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "eE") {
		return decimal.Zero, fmt.Errorf("Parse: exponent notation: %w", domain.ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("Parse: not a decimal: %w", domain.ErrInvalidAmount)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, fmt.Errorf("Parse: %w", err)
	}
	return d, nil
}

// Validate checks d using only its coefficient and exponent, so a value
// like 1e50000000 is rejected without ever being expanded.
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("Validate: not positive: %w", domain.ErrInvalidAmount)
	}
	exp := int64(d.Exponent())
	if exp+int64(d.NumDigits()) > MaxIntDigits {
		return fmt.Errorf("Validate: more than %d integer digits: %w", MaxIntDigits, domain.ErrInvalidAmount)
	}
	if exp < -Scale {
		coef := d.Coefficient().String()
		exp += int64(len(coef) - len(strings.TrimRight(coef, "0")))
		if exp < -Scale {
			return fmt.Errorf("Validate: more than %d decimal places: %w", Scale, domain.ErrInvalidAmount)
		}
	}
	return nil
}

// Format renders d with exactly two fraction digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}
