package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Engine resolves a code through a Repository, validates it against a
// subtotal and computes the discount amount. It never touches the usage
// counter; the checkout transaction claims the use.
type Engine struct {
	repo Repository
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Apply looks up code and returns the application of the discount to
// subtotal at instant now. Rejections are *ValidationError values.
func (e *Engine) Apply(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (*Application, error) {
	if subtotal.IsNegative() {
		return nil, ErrNegativeSubtotal
	}

	d, err := e.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup discount")
	}

	if err := Validate(d, subtotal, now); err != nil {
		return nil, err
	}

	amount, err := Compute(d.Type, d.Value, subtotal)
	if err != nil {
		return nil, err
	}

	return &Application{
		DiscountID: d.ID,
		Code:       d.Code,
		Type:       d.Type,
		Value:      d.Value,
		Amount:     amount,
	}, nil
}

// ReasonOf extracts the rejection reason from err, if it carries one.
func ReasonOf(err error) (Reason, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason, true
	}
	return "", false
}
