package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMoney = errors.New("invalid money amount")
	ErrNotPositive  = errors.New("amount must be greater than 0")
)

// maxCents keeps amounts well inside int64 after any arithmetic on them.
const maxCents = int64(1) << 53

// Inputs outside these bounds are rejected before any rescaling, which costs
// time proportional to the exponent.
const (
	maxInputLen = 32
	minExponent = -20
	maxExponent = 20
)

// ParseJSON reads an amount that may arrive as a JSON number or a numeric
// string and returns it in cents, rounded half away from zero.
func ParseJSON(raw json.RawMessage) (int64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, ErrInvalidMoney
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, ErrInvalidMoney
		}
		s = str
	}
	return ParseString(s)
}

// ParseString parses a decimal amount such as "250.5" into cents.
func ParseString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxInputLen {
		return 0, ErrInvalidMoney
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidMoney
	}
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent {
		return 0, ErrInvalidMoney
	}
	return fromDecimal(d)
}

func fromDecimal(d decimal.Decimal) (int64, error) {
	cents := d.Round(2).Shift(2)
	if cents.GreaterThan(decimal.NewFromInt(maxCents)) {
		return 0, fmt.Errorf("%w: too large", ErrInvalidMoney)
	}
	if !cents.IsPositive() {
		return 0, ErrNotPositive
	}
	return cents.IntPart(), nil
}

// Float renders cents as a float for JSON responses.
func Float(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

// String renders cents as a fixed two-place decimal, e.g. "-12.05".
func String(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// WholeUnits drops the fractional part, the way the payment API expects.
func WholeUnits(cents int64) int64 {
	return cents / 100
}
