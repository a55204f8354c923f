package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/pkg/outbox"
)

// Order is a placed purchase. Items, customer and discount fields are
// snapshots taken at checkout; only Status and, through an administrative
// repair, Totals change afterwards.
type Order struct {
	ID       string
	Number   string
	Customer Customer
	Status   Status
	Items    []Item
	Totals   Totals
	// Discount is nil when no code was applied.
	Discount  *AppliedDiscount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Customer is the contact snapshot copied onto the order.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Address string
}

// AppliedDiscount is the copy of the discount terms made when the order was
// placed. ID becomes nil if the discount row is later deleted.
type AppliedDiscount struct {
	ID    *string
	Type  discount.Type
	Value decimal.Decimal
}

// Item is one purchased line with the catalog facts frozen at checkout.
type Item struct {
	ID        string
	ProductID string
	VariantID *string
	Name      string
	UnitPrice decimal.Decimal
	Size      string
	Color     string
	Image     string
	Quantity  int
}

// LineTotal returns UnitPrice × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StockRequest returns the stock the item draws from.
func (i Item) StockRequest() inventory.Request {
	return inventory.Request{
		ProductID: i.ProductID,
		VariantID: i.VariantID,
		Quantity:  i.Quantity,
	}
}

// Repository reads and deletes orders outside of a transaction.
type Repository interface {
	Get(ctx context.Context, id string) (*Order, error)
	// Delete removes the order and, by cascade, its items.
	Delete(ctx context.Context, id string) error
}

// Tx is the unit of work checkout, transitions and repairs run in. Every
// write made through it commits or rolls back together.
type Tx interface {
	Discounts() discount.UsageCounter
	Stock() inventory.Reserver

	Insert(ctx context.Context, o *Order) error
	// GetForUpdate loads the order and locks its row until the end of the
	// transaction.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	UpdateTotals(ctx context.Context, id string, t Totals, at time.Time) error
	Enqueue(ctx context.Context, e outbox.Event) error
}

// Store combines plain reads with transactional writes.
type Store interface {
	Repository
	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
