// Package amount normalizes monetary inputs into integer minor units.
package amount

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxAmount is the system ceiling for a single monetary input, in minor units.
const DefaultMaxAmount int64 = 999_999_999_999

// DefaultMinAmount is the smallest accepted amount when zero is not allowed.
const DefaultMinAmount int64 = 1

// ErrInvalidAmount is matched by every *Error returned from this package.
var ErrInvalidAmount = errors.New("invalid_amount")

// Error carries a human-readable reason for a rejected amount.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	if e == nil || e.Reason == "" {
		return ErrInvalidAmount.Error()
	}
	return ErrInvalidAmount.Error() + ": " + e.Reason
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalidAmount
}

// Options bounds the accepted range. Zero values fall back to the defaults.
type Options struct {
	AllowZero bool
	MinAmount int64
	MaxAmount int64
}

func (o Options) bounds() (int64, int64) {
	minAmount := o.MinAmount
	if minAmount <= 0 {
		minAmount = DefaultMinAmount
	}
	if o.AllowZero {
		minAmount = 0
	}
	maxAmount := o.MaxAmount
	if maxAmount <= 0 {
		maxAmount = DefaultMaxAmount
	}
	return minAmount, maxAmount
}

// Normalize validates raw and rounds it half away from zero to whole minor units.
func Normalize(raw decimal.Decimal, opts Options) (int64, error) {
	minAmount, maxAmount := opts.bounds()
	if minAmount > maxAmount {
		return 0, invalid("minimum %d exceeds maximum %d", minAmount, maxAmount)
	}
	if raw.IsNegative() {
		return 0, invalid("amount must not be negative")
	}

	rounded := raw.Round(0)
	if rounded.GreaterThan(decimal.NewFromInt(maxAmount)) {
		return 0, invalid("amount exceeds maximum of %d", maxAmount)
	}

	value := rounded.IntPart()
	if value < minAmount {
		if minAmount == DefaultMinAmount && !opts.AllowZero {
			return 0, invalid("amount must be greater than zero")
		}
		return 0, invalid("amount must be at least %d", minAmount)
	}
	return value, nil
}

// NormalizeFloat rejects NaN and infinities before delegating to Normalize.
func NormalizeFloat(raw float64, opts Options) (int64, error) {
	if math.IsNaN(raw) {
		return 0, invalid("amount is not a number")
	}
	if math.IsInf(raw, 0) {
		return 0, invalid("amount must be finite")
	}
	return Normalize(decimal.NewFromFloat(raw), opts)
}

// NormalizeString parses a decimal literal such as "12.50" before delegating to Normalize.
func NormalizeString(raw string, opts Options) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, invalid("amount is required")
	}
	switch strings.ToLower(strings.TrimLeft(trimmed, "+-")) {
	case "nan", "inf", "infinity":
		return 0, invalid("amount must be finite")
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, invalid("amount %q is not a decimal number", trimmed)
	}
	return Normalize(parsed, opts)
}

func invalid(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}
