// Package discount validates promotional codes against an order subtotal and
// computes the amount they take off.
package discount

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercentage takes Value percent off the subtotal.
	TypePercentage Type = "PERCENTAGE"
	// TypeAmount takes a fixed Value off the subtotal.
	TypeAmount Type = "AMOUNT"
)

// Valid reports whether t is one of the closed set of discount types.
func (t Type) Valid() bool {
	return t == TypePercentage || t == TypeAmount
}

// Reason is a stable machine-readable code for a rejected discount.
type Reason string

const (
	ReasonNotFound       Reason = "DISCOUNT_NOT_FOUND"
	ReasonInactive       Reason = "DISCOUNT_INACTIVE"
	ReasonNotYetStarted  Reason = "DISCOUNT_NOT_YET_STARTED"
	ReasonExpired        Reason = "DISCOUNT_EXPIRED"
	ReasonExhausted      Reason = "DISCOUNT_EXHAUSTED"
	ReasonMinimumNotMet  Reason = "DISCOUNT_MINIMUM_NOT_MET"
)

// ValidationError is a recoverable rejection of a discount code. The
// exported sentinels below are the only instances; compare with errors.Is.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

var (
	ErrNotFound      = &ValidationError{Reason: ReasonNotFound, Message: "discount code not found"}
	ErrInactive      = &ValidationError{Reason: ReasonInactive, Message: "discount code is not active"}
	ErrNotYetStarted = &ValidationError{Reason: ReasonNotYetStarted, Message: "discount code is not valid yet"}
	ErrExpired       = &ValidationError{Reason: ReasonExpired, Message: "discount code has expired"}
	ErrExhausted     = &ValidationError{Reason: ReasonExhausted, Message: "discount code usage limit reached"}
	ErrMinimumNotMet = &ValidationError{Reason: ReasonMinimumNotMet, Message: "order subtotal is below the discount minimum"}

	// ErrNegativeSubtotal is returned for a subtotal below zero. Subtotals
	// are sums of non-negative line extensions, so this is a caller bug and
	// carries no discount reason.
	ErrNegativeSubtotal = &apperr.InvariantError{Rule: "subtotal_non_negative", Detail: "discount applied to a negative subtotal"}

	// ErrClaimLost is returned when the last remaining use was taken by a
	// concurrent checkout between validation and claim.
	ErrClaimLost = apperr.Conflict(ErrExhausted)
)

// Discount is a reusable promotional code shared by many orders.
type Discount struct {
	ID        string
	Code      string
	Type      Type
	Value     decimal.Decimal
	MinAmount decimal.NullDecimal
	// MaxUses caps UsedCount when set.
	MaxUses   *int
	UsedCount int
	IsActive  bool
	StartsAt  *time.Time
	ExpiresAt *time.Time
}

// Application is the outcome of applying a discount to a subtotal. It is
// copied onto the order at checkout and never recomputed from the live row.
type Application struct {
	DiscountID string
	Code       string
	Type       Type
	Value      decimal.Decimal
	Amount     decimal.Decimal
}

// NormalizeCode returns the canonical stored form of a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository looks up discounts by code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Discount, error)
}

// UsageCounter mutates the shared usage counter. Implementations must make
// Claim a single conditional increment so concurrent callers cannot both
// take the last use.
type UsageCounter interface {
	// Claim increments UsedCount by one if the discount is still usable at
	// now. It returns ErrClaimLost otherwise.
	Claim(ctx context.Context, discountID string, now time.Time) error
	// Release gives one use back, never going below zero.
	Release(ctx context.Context, discountID string) error
}
