package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

// Reason codes not derived from order.RejectReason.
const (
	reasonBadRequest        = "BAD_REQUEST"
	reasonOutOfStock        = "OUT_OF_STOCK"
	reasonDuplicateNumber   = "DUPLICATE_ORDER_NUMBER"
	reasonVariantExists     = "VARIANT_EXISTS"
	reasonInvalidTransition = "INVALID_TRANSITION"
	reasonInvalidStatus     = "INVALID_STATUS"
	reasonInvalidVariant    = "INVALID_VARIANT"
	reasonInvalidQuantity   = "INVALID_QUANTITY"
	reasonConflict          = "CONFLICT"
)

var (
	// errBadRequest marks a malformed request body or parameter.
	errBadRequest = errors.New("bad request")
	// errInvalidStatus marks a target status outside the closed set.
	errInvalidStatus = errors.New("invalid status")
)

func badRequest(format string, args ...any) error {
	return errors.Wrap(errBadRequest, errors.Errorf(format, args...).Error())
}

type errorBody struct {
	Code      int
	Message   string
	Reason    string
	Retryable *bool
}

func (b errorBody) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(b.Code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(b.Message) })
		if b.Reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(b.Reason) })
		}
		if b.Retryable != nil {
			e.Field("retryable", func(e *jx.Encoder) { e.Bool(*b.Retryable) })
		}
	})
}

func writeJSONError(w http.ResponseWriter, status int, body errorBody) {
	body.Code = status
	var e jx.Encoder
	body.encode(&e)
	writeJSON(w, status, &e)
}

// writeError maps a domain error to its HTTP response. Unclassified errors
// are logged and answered with 500.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		body.Message = http.StatusText(status)
	}
	writeJSONError(w, status, body)
}

func classify(err error) (int, errorBody) {
	var (
		transition *order.TransitionError
		invariant  *apperr.InvariantError
	)
	retryable := func(v bool) *bool { return &v }

	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, errorBody{Message: err.Error(), Reason: reasonBadRequest}
	case apperr.IsRetryable(err):
		reason := reasonConflict
		if r, ok := discount.ReasonOf(err); ok {
			reason = string(r)
		} else if errors.Is(err, inventory.ErrOutOfStock) {
			reason = reasonOutOfStock
		}
		return http.StatusConflict, errorBody{Message: err.Error(), Reason: reason, Retryable: retryable(true)}
	case errors.Is(err, apperr.ErrIntegrity):
		reason := reasonConflict
		switch {
		case errors.Is(err, order.ErrDuplicateNumber):
			reason = reasonDuplicateNumber
		case errors.Is(err, product.ErrVariantExists):
			reason = reasonVariantExists
		}
		return http.StatusConflict, errorBody{Message: err.Error(), Reason: reason, Retryable: retryable(false)}
	case errors.As(err, &transition):
		return http.StatusConflict, errorBody{Message: transition.Error(), Reason: reasonInvalidTransition}
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound), errors.Is(err, inventory.ErrUnknownItem):
		return http.StatusNotFound, errorBody{Message: err.Error()}
	case errors.As(err, &invariant):
		return http.StatusInternalServerError, errorBody{}
	case errors.Is(err, product.ErrInvalidVariant):
		return http.StatusUnprocessableEntity, errorBody{Message: err.Error(), Reason: reasonInvalidVariant}
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return http.StatusUnprocessableEntity, errorBody{Message: err.Error(), Reason: reasonInvalidQuantity}
	case errors.Is(err, errInvalidStatus):
		return http.StatusUnprocessableEntity, errorBody{Message: err.Error(), Reason: reasonInvalidStatus}
	}

	switch reason := order.RejectReason(err); reason {
	case "internal", "conflict", "integrity", "invariant":
		return http.StatusInternalServerError, errorBody{}
	default:
		return http.StatusUnprocessableEntity, errorBody{Message: err.Error(), Reason: strings.ToUpper(reason)}
	}
}
