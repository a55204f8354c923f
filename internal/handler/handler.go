// Package handler exposes the order core over HTTP.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/auth"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

// OrderService is the part of *order.Service the API drives.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	Transition(ctx context.Context, id string, to order.Status) (*order.Order, error)
	Audit(ctx context.Context, id string, repair bool) (*order.AuditReport, error)
	Delete(ctx context.Context, id string) error
	PreviewDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*discount.Application, error)
}

// Compile-time check ensuring the order service satisfies OrderService.
var _ OrderService = (*order.Service)(nil)

const defaultMaxBodyBytes = 1 << 20

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in order responses.
	// When empty, image paths are returned as stored in the database.
	ImageBaseURL string
	// MaxBodyBytes bounds request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the order, discount and product endpoints, delegating
// business logic to the order service, stock checker and product repository.
type Handler struct {
	orders   OrderService
	stock    order.StockChecker
	products product.Repository

	newID        func() string
	imageBaseURL string
	maxBody      int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	orders OrderService,
	stock order.StockChecker,
	products product.Repository,
) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		orders:       orders,
		stock:        stock,
		products:     products,
		newID:        func() string { return uuid.New().String() },
		imageBaseURL: cfg.ImageBaseURL,
		maxBody:      maxBody,
	}
}

// Router returns the /api routes guarded by sec. The checkout middlewares
// wrap POST /api/order only.
func (h *Handler) Router(sec *SecurityHandler, checkout ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/order", func(r chi.Router) {
			r.With(sec.Require(auth.ScopeOrdersWrite)).With(checkout...).Post("/", h.placeOrder)
			r.With(sec.Require(auth.ScopeOrdersRead)).Get("/{orderId}", h.getOrder)
			r.With(sec.Require(auth.ScopeOrdersAdmin)).Delete("/{orderId}", h.deleteOrder)
			r.With(sec.Require(auth.ScopeOrdersAdmin)).Post("/{orderId}/status", h.transitionOrder)
			r.With(sec.Require(auth.ScopeOrdersAdmin)).Post("/{orderId}/audit", h.auditOrder)
		})

		r.With(sec.Require(auth.ScopeOrdersWrite)).Post("/discount/validate", h.validateDiscount)

		r.Route("/product/{productId}", func(r chi.Router) {
			r.With(sec.Require(auth.ScopeOrdersRead)).Get("/stock", h.checkStock)
			r.With(sec.Require(auth.ScopeOrdersAdmin)).Post("/variant", h.createVariant)
		})
	})
	return r
}

// imageURL prefixes relative image paths with the configured base URL.
func (h *Handler) imageURL(path string) string {
	if path == "" || h.imageBaseURL == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + path
}
