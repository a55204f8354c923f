package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/boutique-orders/internal/domain/inventory"
)

// CancelPolicy decides what a cancellation gives back. The zero value gives
// back nothing: stock stays decremented and the discount use stays counted.
type CancelPolicy struct {
	// Restock returns every item's quantity to its stock counter.
	Restock bool
	// ReleaseDiscount gives the discount use back.
	ReleaseDiscount bool
}

// apply runs the policy for o inside tx.
func (p CancelPolicy) apply(ctx context.Context, tx Tx, o *Order) error {
	if p.Restock {
		for _, it := range o.Items {
			if err := tx.Stock().Release(ctx, reservationOf(it)); err != nil {
				return errors.Wrapf(err, "restock item %s", it.ID)
			}
		}
	}
	if p.ReleaseDiscount && o.Discount != nil && o.Discount.ID != nil {
		if err := tx.Discounts().Release(ctx, *o.Discount.ID); err != nil {
			return errors.Wrap(err, "release discount use")
		}
	}
	return nil
}

func reservationOf(it Item) inventory.Reservation {
	return inventory.Reservation{Request: it.StockRequest()}
}
