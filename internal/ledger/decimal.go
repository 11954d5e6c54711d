// Package ledger provides fixed-point decimal arithmetic for money and
// commodity quantities. Values travel as decimal strings (2 places for
// money, 4 for quantities) so that repeated add/subtract cycles never
// accumulate binary floating-point drift.
package ledger

import (
	"fmt"
	"math"
	"strings"
)

const (
	// MoneyPlaces is the scale used for balances, prices, and treasuries.
	MoneyPlaces = 2
	// QuantityPlaces is the scale used for inventory quantities.
	QuantityPlaces = 4
)

// Amount is a fixed-point decimal: units scaled by 10^places.
// Operations are pure numeric transforms — an Amount may go negative;
// callers validate balances and stock before subtracting.
type Amount struct {
	units  int64
	places int
}

// Parse converts a decimal string like "12.34" into an Amount with the
// given number of places. Extra fractional digits are rejected rather
// than silently rounded.
func Parse(s string, places int) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("parse amount: empty string")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return Amount{}, fmt.Errorf("parse amount %q: no digits", s)
	}
	if len(frac) > places {
		return Amount{}, fmt.Errorf("parse amount %q: more than %d decimal places", s, places)
	}

	units := int64(0)
	for _, c := range whole {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("parse amount %q: invalid character %q", s, c)
		}
		units = units*10 + int64(c-'0')
	}
	for _, c := range frac {
		if c < '0' || c > '9' {
			return Amount{}, fmt.Errorf("parse amount %q: invalid character %q", s, c)
		}
		units = units*10 + int64(c-'0')
	}
	for i := len(frac); i < places; i++ {
		units *= 10
	}
	if neg {
		units = -units
	}
	return Amount{units: units, places: places}, nil
}

// Money parses a 2-place monetary string. It returns the zero amount on
// malformed input; use Parse when the error matters.
func Money(s string) Amount {
	a, err := Parse(s, MoneyPlaces)
	if err != nil {
		return Amount{places: MoneyPlaces}
	}
	return a
}

// Quantity parses a 4-place quantity string, zero on malformed input.
func Quantity(s string) Amount {
	a, err := Parse(s, QuantityPlaces)
	if err != nil {
		return Amount{places: QuantityPlaces}
	}
	return a
}

// Zero returns the zero amount at the given scale.
func Zero(places int) Amount {
	return Amount{places: places}
}

// FromFloat converts a float to an Amount at the given scale, rounding
// half away from zero. Used where a computed coefficient (noise, decay)
// enters the fixed-point domain.
func FromFloat(f float64, places int) Amount {
	scale := math.Pow10(places)
	return Amount{units: int64(math.Round(f * scale)), places: places}
}

func (a Amount) checkScale(b Amount) {
	if a.places != b.places {
		panic(fmt.Sprintf("ledger: mixed scales %d and %d", a.places, b.places))
	}
}

// Add returns a + b. Both amounts must share the same scale.
func (a Amount) Add(b Amount) Amount {
	a.checkScale(b)
	return Amount{units: a.units + b.units, places: a.places}
}

// Sub returns a - b. Both amounts must share the same scale.
func (a Amount) Sub(b Amount) Amount {
	a.checkScale(b)
	return Amount{units: a.units - b.units, places: a.places}
}

// MulFloat returns a scaled by f, rounded half away from zero.
func (a Amount) MulFloat(f float64) Amount {
	return Amount{units: int64(math.Round(float64(a.units) * f)), places: a.places}
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	a.checkScale(b)
	switch {
	case a.units < b.units:
		return -1
	case a.units > b.units:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.units == 0 }

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool { return a.units < 0 }

// IsPositive reports whether the amount is above zero.
func (a Amount) IsPositive() bool { return a.units > 0 }

// Float64 returns the amount as a float. For display and coefficient
// math only — never feed the result back through FromFloat in a loop.
func (a Amount) Float64() float64 {
	return float64(a.units) / math.Pow10(a.places)
}

// String formats the amount with exactly its scale's decimal places.
func (a Amount) String() string {
	units := a.units
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	scale := int64(math.Pow10(a.places))
	if a.places == 0 {
		return fmt.Sprintf("%s%d", sign, units)
	}
	return fmt.Sprintf("%s%d.%0*d", sign, units/scale, a.places, units%scale)
}

// Format renders a decimal string at the given scale, normalizing the
// digit count. Malformed input formats as zero.
func Format(s string, places int) string {
	a, err := Parse(s, places)
	if err != nil {
		return Zero(places).String()
	}
	return a.String()
}
