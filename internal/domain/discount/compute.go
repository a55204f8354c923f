package discount

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Validate runs the applicability checks in their fixed order and returns
// the first failure.
func Validate(d *Discount, subtotal decimal.Decimal, now time.Time) error {
	switch {
	case !d.IsActive:
		return ErrInactive
	case d.StartsAt != nil && now.Before(*d.StartsAt):
		return ErrNotYetStarted
	case d.ExpiresAt != nil && now.After(*d.ExpiresAt):
		return ErrExpired
	case d.MaxUses != nil && d.UsedCount >= *d.MaxUses:
		return ErrExhausted
	case d.MinAmount.Valid && subtotal.LessThan(d.MinAmount.Decimal):
		return ErrMinimumNotMet
	}
	return nil
}

// Compute returns the amount a discount of type t and value takes off
// subtotal, rounded to cents and clamped to [0, subtotal].
func Compute(t Type, value, subtotal decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch t {
	case TypePercentage:
		amount = subtotal.Mul(value).Div(hundred)
	case TypeAmount:
		amount = value
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", t)
	}
	return clamp(amount.Round(2), subtotal), nil
}

func clamp(amount, subtotal decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if subtotal.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(amount, subtotal)
}
