package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order validation and lookup.
var (
	ErrEmptyItems       = errors.New("items required")
	ErrCustomerRequired = errors.New("customer name and email are required")
	ErrNotFound         = errors.New("order not found")
	ErrAmountTooLarge   = errors.New("order amount exceeds 9999999999.99")
	// ErrDuplicateNumber is returned when a generated order number is
	// already taken. It is wrapped as an apperr integrity error.
	ErrDuplicateNumber = errors.New("order number already exists")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// VariantNotFoundError indicates a requested variant does not exist or
// belongs to another product.
type VariantNotFoundError struct {
	ProductID string
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variant %s of product %s not found", e.VariantID, e.ProductID)
}

// InvalidQuantityError indicates a line item quantity outside
// [1, inventory.MaxQuantity].
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be between 1 and 2147483647 for product %s", e.ProductID)
}

// InsufficientStockError indicates the catalog cannot cover a line at
// checkout time.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("insufficient stock for variant %s of product %s (requested %d)",
			e.VariantID, e.ProductID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}
