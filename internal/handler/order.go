package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/boutique-orders/internal/domain/order"
)

// placeOrder decodes the cart and runs checkout.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	o, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		if reason := order.RejectReason(err); reason != "internal" {
			zctx.From(ctx).Info("Checkout rejected", zap.String("reason", reason), zap.Error(err))
		}
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	h.encodeOrder(&e, o)
	w.Header().Set("Location", "/api/order/"+o.ID)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	h.encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.orders.Delete(ctx, chi.URLParam(r, "orderId")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionOrder moves an order to the status named in {"status": "..."}.
func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := h.readBody(w, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	var raw string
	err = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return d.Skip()
		}
		var err error
		raw, err = d.Str()
		return err
	})
	if err != nil {
		writeError(ctx, w, badRequest("decode status: %s", err))
		return
	}
	to, err := order.ParseStatus(raw)
	if err != nil {
		writeError(ctx, w, errors.Wrap(errInvalidStatus, err.Error()))
		return
	}

	o, err := h.orders.Transition(ctx, chi.URLParam(r, "orderId"), to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	h.encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

// auditOrder compares stored totals with a recomputation; ?repair=true
// overwrites inconsistent totals.
func (h *Handler) auditOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var repair bool
	if v := r.URL.Query().Get("repair"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(ctx, w, badRequest("repair must be a boolean"))
			return
		}
		repair = b
	}

	report, err := h.orders.Audit(ctx, chi.URLParam(r, "orderId"), repair)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	var e jx.Encoder
	encodeAudit(&e, report)
	writeJSON(w, http.StatusOK, &e)
}
