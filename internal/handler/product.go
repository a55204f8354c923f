package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/boutique-orders/internal/domain/product"
)

// checkStock answers whether a product, or one of its variants, covers the
// requested quantity.
func (h *Handler) checkStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := chi.URLParam(r, "productId")
	q := r.URL.Query()

	qty := 1
	if v := q.Get("quantity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(ctx, w, badRequest("quantity must be an integer"))
			return
		}
		qty = n
	}
	var variantID *string
	if v := q.Get("variantId"); v != "" {
		variantID = &v
	}

	suff, err := h.stock.CheckStock(ctx, productID, variantID, qty)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(productID) })
		if variantID != nil {
			e.Field("variantId", func(e *jx.Encoder) { e.Str(*variantID) })
		}
		e.Field("quantity", func(e *jx.Encoder) { e.Int(qty) })
		e.Field("status", func(e *jx.Encoder) { e.Str(suff.String()) })
	})
	writeJSON(w, http.StatusOK, &e)
}

// createVariant adds a size/color variant to a product.
func (h *Handler) createVariant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	v := product.Variant{ProductID: chi.URLParam(r, "productId")}
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "size":
			v.Size, err = d.Str()
		case "color":
			v.Color, err = d.Str()
		case "quantity":
			v.Quantity, err = d.Int()
		case "price":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var p decimal.Decimal
			p, err = decodeMoney(d)
			v.Price = decimal.NewNullDecimal(p.Round(2))
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, badRequest("decode variant: %s", err))
		return
	}
	if err := v.Normalize(); err != nil {
		writeError(ctx, w, err)
		return
	}
	v.ID = h.newID()

	if err := h.products.CreateVariant(ctx, &v); err != nil {
		writeError(ctx, w, err)
		return
	}
	zctx.From(ctx).Info("Variant created",
		zap.String("product_id", v.ProductID),
		zap.String("variant_id", v.ID),
	)

	var e jx.Encoder
	encodeVariant(&e, &v)
	writeJSON(w, http.StatusCreated, &e)
}
