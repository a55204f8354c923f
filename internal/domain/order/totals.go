package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/discount"
)

// MaxAmount is the largest amount an order column holds, NUMERIC(12,2).
var MaxAmount = decimal.RequireFromString("9999999999.99")

// Totals are the three monetary fields stored on an order.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// Equal compares totals by value.
func (t Totals) Equal(o Totals) bool {
	return t.Subtotal.Equal(o.Subtotal) && t.Discount.Equal(o.Discount) && t.Total.Equal(o.Total)
}

// Check verifies 0 ≤ discount ≤ subtotal, total ≥ 0 and
// total = subtotal − discount.
func (t Totals) Check() error {
	switch {
	case t.Subtotal.IsNegative():
		return &apperr.InvariantError{Rule: "subtotal_non_negative", Detail: "subtotal " + t.Subtotal.String()}
	case t.Discount.IsNegative():
		return &apperr.InvariantError{Rule: "discount_non_negative", Detail: "discount " + t.Discount.String()}
	case t.Discount.GreaterThan(t.Subtotal):
		return &apperr.InvariantError{
			Rule:   "discount_within_subtotal",
			Detail: fmt.Sprintf("discount %s exceeds subtotal %s", t.Discount, t.Subtotal),
		}
	case t.Total.IsNegative():
		return &apperr.InvariantError{Rule: "total_non_negative", Detail: "total " + t.Total.String()}
	case !t.Total.Equal(t.Subtotal.Sub(t.Discount)):
		return &apperr.InvariantError{
			Rule:   "total_identity",
			Detail: fmt.Sprintf("total %s != %s - %s", t.Total, t.Subtotal, t.Discount),
		}
	}
	return nil
}

// Subtotal sums the line extensions of items, rounded to cents.
func Subtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum.Round(2)
}

// Terms are the discount parameters totals are derived from.
type Terms struct {
	Type  discount.Type
	Value decimal.Decimal
}

// TermsOf returns the terms of an engine application, or nil.
func TermsOf(app *discount.Application) *Terms {
	if app == nil {
		return nil
	}
	return &Terms{Type: app.Type, Value: app.Value}
}

// Recompute derives totals from the full item set and optional discount
// terms. An empty item set yields zero totals and skips the discount.
func Recompute(items []Item, terms *Terms) (Totals, error) {
	subtotal := Subtotal(items)
	t := Totals{Subtotal: subtotal, Discount: decimal.Zero, Total: subtotal}
	if len(items) == 0 || terms == nil {
		return t, t.Check()
	}

	amount, err := discount.Compute(terms.Type, terms.Value, subtotal)
	if err != nil {
		return Totals{}, err
	}
	t.Discount = amount
	t.Total = subtotal.Sub(amount)
	return t, t.Check()
}

// AuditReport compares stored totals with a recomputation from stored items
// and discount terms.
type AuditReport struct {
	OrderID    string
	Stored     Totals
	Computed   Totals
	Consistent bool
	Repaired   bool
}

// audit recomputes the totals of o.
func audit(o *Order) (*AuditReport, error) {
	var terms *Terms
	if o.Discount != nil {
		terms = &Terms{Type: o.Discount.Type, Value: o.Discount.Value}
	}
	computed, err := Recompute(o.Items, terms)
	if err != nil {
		return nil, err
	}
	return &AuditReport{
		OrderID:    o.ID,
		Stored:     o.Totals,
		Computed:   computed,
		Consistent: computed.Equal(o.Totals),
	}, nil
}
