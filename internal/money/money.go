// Package money holds fixed-point monetary amounts stored as integer minor units.
package money

import (
	"errors"
	"regexp"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 2

var ErrInvalidFormat = errors.New("invalid amount format")

var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]{1,2})?$`)

// Amount is a monetary value in minor units (cents).
type Amount int64

const Zero Amount = 0

// Parse converts an external amount string such as "12.50" into an Amount.
// Signs, exponents and more than two fractional digits are rejected.
func Parse(s string) (Amount, error) {
	if !amountPattern.MatchString(s) {
		return 0, ErrInvalidFormat
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidFormat
	}

	minor := d.Shift(Scale)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(maxMinor)) {
		return 0, ErrInvalidFormat
	}

	return Amount(minor.IntPart()), nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// maxMinor bounds a single parsed amount so that totals over a bulk request of
// up to 1024 accounts still fit in int64.
const maxMinor = 1<<53 - 1

// FromMinor wraps a raw minor-unit count.
func FromMinor(v int64) Amount { return Amount(v) }

func (a Amount) Minor() int64 { return int64(a) }

func (a Amount) Add(b Amount) Amount { return a + b }

func (a Amount) Sub(b Amount) Amount { return a - b }

func (a Amount) Neg() Amount { return -a }

func (a Amount) IsZero() bool { return a == 0 }

func (a Amount) IsPositive() bool { return a > 0 }

func (a Amount) IsNegative() bool { return a < 0 }

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// String renders the amount with exactly two fractional digits, e.g. "-5.00".
func (a Amount) String() string {
	return decimal.New(int64(a), -Scale).StringFixed(Scale)
}

// MarshalJSON encodes the amount as a JSON string to avoid float rounding on the client.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted amount string in the format accepted by Parse,
// optionally with a leading minus sign for signed ledger values.
func (a *Amount) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return ErrInvalidFormat
	}

	s := string(b[1 : len(b)-1])
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg, s = true, s[1:]
	}

	v, err := Parse(s)
	if err != nil {
		return err
	}
	if neg {
		v = -v
	}
	*a = v
	return nil
}
