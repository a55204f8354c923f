package product

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrVariantExists is returned when a product already has a variant with
	// the same size and color.
	ErrVariantExists = errors.New("variant with this size and color already exists")
	// ErrInvalidVariant is returned for a variant missing its size or color
	// or carrying negative stock or price.
	ErrInvalidVariant = errors.New("variant requires size, color and non-negative quantity and price")
)

// Product is a catalog item. Quantity is the stock used when an order line
// does not name a variant.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	ReducedPrice decimal.NullDecimal
	Quantity     int
	Images       []string
}

// Image returns the first image URL, or an empty string.
func (p Product) Image() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// Variant refines a product by size and color. A product has at most one
// variant per size/color pair.
type Variant struct {
	ID        string
	ProductID string
	Size      string
	Color     string
	Quantity  int
	// Price overrides the product price when set.
	Price decimal.NullDecimal
}

// Normalize trims size and color and checks the variant is well formed.
func (v *Variant) Normalize() error {
	v.Size = strings.TrimSpace(v.Size)
	v.Color = strings.TrimSpace(v.Color)
	switch {
	case v.ProductID == "", v.Size == "", v.Color == "":
		return ErrInvalidVariant
	case v.Quantity < 0:
		return ErrInvalidVariant
	case v.Price.Valid && v.Price.Decimal.IsNegative():
		return ErrInvalidVariant
	}
	return nil
}

// UnitPrice resolves the price charged for one unit: the variant price when
// set, else the reduced product price when set, else the product price.
func UnitPrice(p Product, v *Variant) decimal.Decimal {
	if v != nil && v.Price.Valid {
		return v.Price.Decimal
	}
	if p.ReducedPrice.Valid {
		return p.ReducedPrice.Decimal
	}
	return p.Price
}

// Repository defines catalog reads and variant creation.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetVariantsByIDs(ctx context.Context, ids []string) ([]Variant, error)
	CreateVariant(ctx context.Context, v *Variant) error
}
