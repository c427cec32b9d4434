// Package money holds fixed-point helpers for KES amounts.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places amounts are stored with.
const Places = 2

var (
	ErrInvalidAmount   = errors.New("amount must be a valid number")
	ErrNonPositive     = errors.New("amount must be > 0")
	ErrTooManyDecimals = errors.New("amount has more than 2 decimal places")
)

// Parse parses a positive amount with at most two decimal places.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Validate checks that d is positive and representable to the cent.
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrNonPositive
	}
	if !d.Equal(d.Round(Places)) {
		return ErrTooManyDecimals
	}
	return nil
}

// Split divides gross into the payee's net share and the platform commission.
// Commission is rounded once, half away from zero, and net is the remainder,
// so net + commission == gross to the cent.
func Split(gross, rate decimal.Decimal) (net, commission decimal.Decimal) {
	commission = gross.Mul(rate).Round(Places)
	net = gross.Sub(commission)
	return net, commission
}

// WholeUnits returns the amount as whole shillings, failing on cents.
func WholeUnits(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("amount %s is not a whole number of shillings", d.StringFixed(Places))
	}
	return d.IntPart(), nil
}

// Format renders an amount the way customer messages show it, e.g. "4,500.00".
func Format(d decimal.Decimal) string {
	s := d.StringFixed(Places)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		return "-" + out
	}
	return out
}
