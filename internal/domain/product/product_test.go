package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitPrice(t *testing.T) {
	base := Product{ID: "p1", Price: decimal.RequireFromString("20.00")}
	reduced := base
	reduced.ReducedPrice = decimal.NewNullDecimal(decimal.RequireFromString("15.00"))
	override := &Variant{Price: decimal.NewNullDecimal(decimal.RequireFromString("18.50"))}
	plain := &Variant{}

	tests := []struct {
		name    string
		product Product
		variant *Variant
		want    string
	}{
		{name: "product price", product: base, want: "20.00"},
		{name: "reduced price wins over product price", product: reduced, want: "15.00"},
		{name: "variant override wins over reduced price", product: reduced, variant: override, want: "18.50"},
		{name: "variant without price falls back", product: reduced, variant: plain, want: "15.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnitPrice(tt.product, tt.variant)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestVariant_Normalize(t *testing.T) {
	v := &Variant{ProductID: "p1", Size: " M ", Color: "Noir ", Quantity: 2}
	require.NoError(t, v.Normalize())
	assert.Equal(t, "M", v.Size)
	assert.Equal(t, "Noir", v.Color)

	bad := []Variant{
		{ProductID: "p1", Size: "", Color: "Noir"},
		{ProductID: "p1", Size: "M", Color: "  "},
		{ProductID: "", Size: "M", Color: "Noir"},
		{ProductID: "p1", Size: "M", Color: "Noir", Quantity: -1},
		{ProductID: "p1", Size: "M", Color: "Noir", Price: decimal.NewNullDecimal(decimal.NewFromInt(-1))},
	}
	for _, b := range bad {
		require.ErrorIs(t, b.Normalize(), ErrInvalidVariant)
	}
}

func TestProduct_Image(t *testing.T) {
	assert.Empty(t, Product{}.Image())
	assert.Equal(t, "a.jpg", Product{Images: []string{"a.jpg", "b.jpg"}}.Image())
}
