// Package inventory decides stock sufficiency for order lines and defines the
// reservation capability checkout consumes.
package inventory

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/go-faster/errors"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
)

// MaxQuantity bounds a requested quantity, alone or summed per stock
// counter. Stock columns are 32-bit.
const MaxQuantity = math.MaxInt32

// Sufficiency is the outcome of a stock check.
type Sufficiency int

const (
	Insufficient Sufficiency = iota
	Sufficient
)

func (s Sufficiency) String() string {
	if s == Sufficient {
		return "SUFFICIENT"
	}
	return "INSUFFICIENT"
}

var (
	// ErrUnknownItem is returned by a Reader when the product or variant
	// does not exist.
	ErrUnknownItem = errors.New("stock item not found")
	// ErrInvalidQuantity is returned for a quantity outside [1, MaxQuantity].
	ErrInvalidQuantity = errors.New("requested quantity must be between 1 and 2147483647")

	errNotEnough = errors.New("out of stock")
	// ErrOutOfStock is returned by Reserve when the stock row no longer
	// holds the requested quantity. It matches apperr.ErrConflict.
	ErrOutOfStock = apperr.Conflict(errNotEnough)
)

// Key identifies one stock counter: a variant row when VariantID is set,
// the product row otherwise.
type Key struct {
	ProductID string
	VariantID string
}

// Request asks for Quantity units of a product or one of its variants.
type Request struct {
	ProductID string
	VariantID *string
	Quantity  int
}

// Key returns the stock counter the request draws from.
func (r Request) Key() Key {
	k := Key{ProductID: r.ProductID}
	if r.VariantID != nil {
		k.VariantID = *r.VariantID
	}
	return k
}

// Reservation records units taken from a stock counter. Releasing it puts
// them back.
type Reservation struct {
	Request
}

// Reader reads the current quantity of a stock counter.
type Reader interface {
	StockLevel(ctx context.Context, productID string, variantID *string) (int, error)
}

// Reserver takes and returns stock. Reserve must be a single conditional
// decrement so that concurrent callers never drive a counter below zero.
type Reserver interface {
	Reserve(ctx context.Context, req Request) (Reservation, error)
	Release(ctx context.Context, r Reservation) error
}

// Checker answers sufficiency questions from a Reader.
type Checker struct {
	reader Reader
}

// NewChecker creates a Checker backed by reader.
func NewChecker(reader Reader) *Checker {
	return &Checker{reader: reader}
}

// CheckStock reports whether the variant, or the product when variantID is
// nil, currently holds at least qty units. It does not reserve anything.
func (c *Checker) CheckStock(ctx context.Context, productID string, variantID *string, qty int) (Sufficiency, error) {
	if qty <= 0 || qty > MaxQuantity {
		return Insufficient, ErrInvalidQuantity
	}
	level, err := c.reader.StockLevel(ctx, productID, variantID)
	if err != nil {
		if errors.Is(err, ErrUnknownItem) {
			return Insufficient, err
		}
		return Insufficient, errors.Wrap(err, "read stock level")
	}
	if level >= qty {
		return Sufficient, nil
	}
	return Insufficient, nil
}

// Aggregate merges requests drawing from the same stock counter, summing
// their quantities. The result is sorted by key so that concurrent
// reservations lock stock rows in the same order. A quantity or a sum
// outside [1, MaxQuantity] fails with ErrInvalidQuantity.
func Aggregate(reqs []Request) ([]Request, error) {
	index := make(map[Key]int, len(reqs))
	out := make([]Request, 0, len(reqs))
	for _, r := range reqs {
		if r.Quantity <= 0 || r.Quantity > MaxQuantity {
			return nil, errors.Wrapf(ErrInvalidQuantity, "product %s", r.ProductID)
		}
		k := r.Key()
		if i, ok := index[k]; ok {
			if out[i].Quantity > MaxQuantity-r.Quantity {
				return nil, errors.Wrapf(ErrInvalidQuantity, "product %s: combined lines", r.ProductID)
			}
			out[i].Quantity += r.Quantity
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Request) int {
		ka, kb := a.Key(), b.Key()
		if c := cmp.Compare(ka.ProductID, kb.ProductID); c != 0 {
			return c
		}
		return cmp.Compare(ka.VariantID, kb.VariantID)
	})
	return out, nil
}
