package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// validateDiscount previews a code against a subtotal without using it.
func (h *Handler) validateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var (
		code     string
		subtotal decimal.Decimal
	)
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			code, err = d.Str()
		case "subtotal":
			subtotal, err = decodeMoney(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(ctx, w, badRequest("decode discount preview: %s", err))
		return
	}
	if code == "" {
		writeError(ctx, w, badRequest("code is required"))
		return
	}
	if subtotal.IsNegative() {
		writeError(ctx, w, badRequest("subtotal must not be negative"))
		return
	}
	subtotal = subtotal.Round(2)

	app, err := h.orders.PreviewDiscount(ctx, code, subtotal)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	encodeApplication(&e, app, subtotal)
	writeJSON(w, http.StatusOK, &e)
}
