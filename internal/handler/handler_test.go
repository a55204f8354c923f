package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/auth"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

// --- Mock implementations ---

type mockOrderService struct {
	placed     *order.PlaceOrderRequest
	order      *order.Order
	report     *order.AuditReport
	app        *discount.Application
	err        error
	repair     bool
	transition order.Status
	deleted    string
}

func (m *mockOrderService) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	m.placed = &req
	return m.order, m.err
}

func (m *mockOrderService) Get(_ context.Context, _ string) (*order.Order, error) {
	return m.order, m.err
}

func (m *mockOrderService) Transition(_ context.Context, _ string, to order.Status) (*order.Order, error) {
	m.transition = to
	if m.err != nil {
		return nil, m.err
	}
	o := *m.order
	o.Status = to
	return &o, nil
}

func (m *mockOrderService) Audit(_ context.Context, _ string, repair bool) (*order.AuditReport, error) {
	m.repair = repair
	return m.report, m.err
}

func (m *mockOrderService) Delete(_ context.Context, id string) error {
	m.deleted = id
	return m.err
}

func (m *mockOrderService) PreviewDiscount(_ context.Context, _ string, _ decimal.Decimal) (*discount.Application, error) {
	return m.app, m.err
}

type mockStock struct {
	suff inventory.Sufficiency
	err  error
	qty  int
}

func (m *mockStock) CheckStock(_ context.Context, _ string, _ *string, qty int) (inventory.Sufficiency, error) {
	m.qty = qty
	return m.suff, m.err
}

type mockProductRepo struct {
	created *product.Variant
	err     error
}

func (m *mockProductRepo) GetByID(context.Context, string) (*product.Product, error) {
	return nil, product.ErrNotFound
}

func (m *mockProductRepo) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetVariantsByIDs(context.Context, []string) ([]product.Variant, error) {
	return nil, nil
}

func (m *mockProductRepo) CreateVariant(_ context.Context, v *product.Variant) error {
	m.created = v
	return m.err
}

type mockAPIKeyRepo struct {
	keys map[string]*auth.APIKeyInfo
	err  error
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return info, nil
}

// --- Helpers ---

var testPepper = []byte("pepper")

const (
	readerKey = "reader-key"
	writerKey = "writer-key"
	adminKey  = "admin-key"
)

func newAPIKeyRepo() *mockAPIKeyRepo {
	repo := &mockAPIKeyRepo{keys: make(map[string]*auth.APIKeyInfo)}
	for key, scope := range map[string]string{
		readerKey: auth.ScopeOrdersRead,
		writerKey: auth.ScopeOrdersWrite,
		adminKey:  auth.ScopeOrdersAdmin,
	} {
		hash := auth.HashKey(testPepper, key)
		repo.keys[hash] = &auth.APIKeyInfo{ID: key, KeyHash: hash, Name: key, Scopes: []string{scope}}
	}
	return repo
}

func newTestOrder() *order.Order {
	id := "disc-1"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &order.Order{
		ID:       "o1",
		Number:   "CMD-01",
		Customer: order.Customer{Name: "Ada", Email: "ada@example.com"},
		Status:   order.StatusPending,
		Items: []order.Item{{
			ID:        "i1",
			ProductID: "p1",
			Name:      "Dress",
			UnitPrice: decimal.RequireFromString("27.5"),
			Image:     "/img/dress.jpg",
			Quantity:  2,
		}},
		Totals: order.Totals{
			Subtotal: decimal.RequireFromString("55"),
			Discount: decimal.RequireFromString("5.5"),
			Total:    decimal.RequireFromString("49.5"),
		},
		Discount:  &order.AppliedDiscount{ID: &id, Type: discount.TypePercentage, Value: decimal.NewFromInt(10)},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

type testEnv struct {
	orders   *mockOrderService
	stock    *mockStock
	products *mockProductRepo
	server   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		orders:   &mockOrderService{order: newTestOrder()},
		stock:    &mockStock{suff: inventory.Sufficient},
		products: &mockProductRepo{},
	}
	h := NewHandler(HandlerConfig{ImageBaseURL: "https://cdn.example.com"}, env.orders, env.stock, env.products)
	h.newID = func() string { return "v-new" }
	env.server = h.Router(NewSecurityHandler(newAPIKeyRepo(), testPepper))
	return env
}

func (env *testEnv) do(method, target, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestPlaceOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/order", writerKey, `{
		"customer": {"name": "Ada", "email": "ada@example.com", "phone": "0600"},
		"items": [
			{"productId": "p1", "quantity": 2},
			{"productId": "p2", "variantId": "v1", "quantity": 1, "extra": true}
		],
		"discountCode": "save10"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/order/o1", rec.Header().Get("Location"))

	req := env.orders.placed
	require.NotNil(t, req)
	assert.Equal(t, "Ada", req.Customer.Name)
	assert.Equal(t, "0600", req.Customer.Phone)
	assert.Equal(t, "save10", req.DiscountCode)
	require.Len(t, req.Items, 2)
	assert.Nil(t, req.Items[0].VariantID)
	require.NotNil(t, req.Items[1].VariantID)
	assert.Equal(t, "v1", *req.Items[1].VariantID)

	assert.JSONEq(t, `{
		"id": "o1",
		"number": "CMD-01",
		"status": "PENDING",
		"customer": {"name": "Ada", "email": "ada@example.com", "phone": "", "address": ""},
		"items": [{
			"id": "i1", "productId": "p1", "name": "Dress", "unitPrice": "27.50",
			"quantity": 2, "lineTotal": "55.00", "image": "https://cdn.example.com/img/dress.jpg"
		}],
		"subtotal": "55.00",
		"discount": "5.50",
		"total": "49.50",
		"appliedDiscount": {"id": "disc-1", "type": "PERCENTAGE", "value": "10"},
		"createdAt": "2026-03-01T12:00:00Z",
		"updatedAt": "2026-03-01T12:00:00Z"
	}`, rec.Body.String())
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/order", writerKey, `{"items": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, env.orders.placed)
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		reason    string
		retryable string
	}{
		{
			name:   "empty items",
			err:    order.ErrEmptyItems,
			status: http.StatusUnprocessableEntity,
			reason: "EMPTY_ITEMS",
		},
		{
			name:   "invalid quantity",
			err:    &order.InvalidQuantityError{ProductID: "p1"},
			status: http.StatusUnprocessableEntity,
			reason: "INVALID_QUANTITY",
		},
		{
			name:   "combined quantity overflow",
			err:    errors.Wrap(inventory.ErrInvalidQuantity, "product p1: combined lines"),
			status: http.StatusUnprocessableEntity,
			reason: "INVALID_QUANTITY",
		},
		{
			name:   "amount too large",
			err:    order.ErrAmountTooLarge,
			status: http.StatusUnprocessableEntity,
			reason: "AMOUNT_TOO_LARGE",
		},
		{
			name:   "unknown product",
			err:    &order.ProductNotFoundError{ProductID: "p9"},
			status: http.StatusUnprocessableEntity,
			reason: "PRODUCT_NOT_FOUND",
		},
		{
			name:   "insufficient stock",
			err:    &order.InsufficientStockError{ProductID: "p1", Requested: 3},
			status: http.StatusUnprocessableEntity,
			reason: "INSUFFICIENT_STOCK",
		},
		{
			name:   "expired discount",
			err:    errors.Wrap(discount.ErrExpired, "apply discount"),
			status: http.StatusUnprocessableEntity,
			reason: "DISCOUNT_EXPIRED",
		},
		{
			name:      "lost discount claim",
			err:       discount.ErrClaimLost,
			status:    http.StatusConflict,
			reason:    "DISCOUNT_EXHAUSTED",
			retryable: `true`,
		},
		{
			name:      "lost stock race",
			err:       errors.Wrap(inventory.ErrOutOfStock, "reserve"),
			status:    http.StatusConflict,
			reason:    "OUT_OF_STOCK",
			retryable: `true`,
		},
		{
			name:      "duplicate order number",
			err:       apperr.Integrity("orders_order_number_key", order.ErrDuplicateNumber),
			status:    http.StatusConflict,
			reason:    "DUPLICATE_ORDER_NUMBER",
			retryable: `false`,
		},
		{
			name:   "invariant",
			err:    &apperr.InvariantError{Rule: "total_non_negative", Detail: "-1"},
			status: http.StatusInternalServerError,
		},
		{
			name:   "unclassified",
			err:    errors.New("connection reset"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.orders.err = tt.err

			rec := env.do(http.MethodPost, "/api/order", writerKey, `{"items": []}`)
			assert.Equal(t, tt.status, rec.Code)
			body := rec.Body.String()
			if tt.reason != "" {
				assert.Contains(t, body, `"reason":"`+tt.reason+`"`)
			}
			if tt.retryable != "" {
				assert.Contains(t, body, `"retryable":`+tt.retryable)
			}
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, body, tt.err.Error())
			}
		})
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.orders.err = order.ErrNotFound

	rec := env.do(http.MethodGet, "/api/order/missing", readerKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransitionOrder(t *testing.T) {
	t.Run("moves order", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/order/o1/status", adminKey, `{"status": "CONFIRMED"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, order.StatusConfirmed, env.orders.transition)
		assert.Contains(t, rec.Body.String(), `"status":"CONFIRMED"`)
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/order/o1/status", adminKey, `{"status": "LOST"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reason":"INVALID_STATUS"`)
		assert.Empty(t, env.orders.transition)
	})

	t.Run("rejected transition", func(t *testing.T) {
		env := newTestEnv(t)
		env.orders.err = &order.TransitionError{From: order.StatusDelivered, To: order.StatusPending}
		rec := env.do(http.MethodPost, "/api/order/o1/status", adminKey, `{"status": "PENDING"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reason":"INVALID_TRANSITION"`)
	})
}

func TestAuditOrder(t *testing.T) {
	env := newTestEnv(t)
	env.orders.report = &order.AuditReport{
		OrderID:  "o1",
		Stored:   order.Totals{Subtotal: decimal.NewFromInt(55), Discount: decimal.Zero, Total: decimal.NewFromInt(55)},
		Computed: order.Totals{Subtotal: decimal.NewFromInt(55), Discount: decimal.RequireFromString("5.5"), Total: decimal.RequireFromString("49.5")},
		Repaired: true,
	}

	rec := env.do(http.MethodPost, "/api/order/o1/audit?repair=true", adminKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.orders.repair)
	assert.JSONEq(t, `{
		"orderId": "o1",
		"stored": {"subtotal": "55.00", "discount": "0.00", "total": "55.00"},
		"computed": {"subtotal": "55.00", "discount": "5.50", "total": "49.50"},
		"consistent": false,
		"repaired": true
	}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/order/o1/audit?repair=maybe", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOrder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodDelete, "/api/order/o1", adminKey, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "o1", env.orders.deleted)
}

func TestValidateDiscount(t *testing.T) {
	env := newTestEnv(t)
	env.orders.app = &discount.Application{
		Code:   "SAVE10",
		Type:   discount.TypePercentage,
		Value:  decimal.NewFromInt(10),
		Amount: decimal.RequireFromString("5.5"),
	}

	rec := env.do(http.MethodPost, "/api/discount/validate", writerKey, `{"code": "save10", "subtotal": 55}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"code": "SAVE10", "type": "PERCENTAGE", "value": "10",
		"subtotal": "55.00", "amount": "5.50", "total": "49.50"
	}`, rec.Body.String())

	env.orders.err = discount.ErrMinimumNotMet
	rec = env.do(http.MethodPost, "/api/discount/validate", writerKey, `{"code": "save10", "subtotal": "1.00"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"DISCOUNT_MINIMUM_NOT_MET"`)

	rec = env.do(http.MethodPost, "/api/discount/validate", writerKey, `{"subtotal": "1.00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.orders.err = nil
	rec = env.do(http.MethodPost, "/api/discount/validate", writerKey, `{"code": "save10", "subtotal": "-5.00"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"BAD_REQUEST"`)
}

func TestCheckStock(t *testing.T) {
	env := newTestEnv(t)
	env.stock.suff = inventory.Insufficient

	rec := env.do(http.MethodGet, "/api/product/p1/stock?variantId=v1&quantity=3", readerKey, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, env.stock.qty)
	assert.JSONEq(t, `{"productId": "p1", "variantId": "v1", "quantity": 3, "status": "INSUFFICIENT"}`, rec.Body.String())

	env.stock.err = inventory.ErrUnknownItem
	rec = env.do(http.MethodGet, "/api/product/p9/stock", readerKey, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.stock.err = inventory.ErrInvalidQuantity
	rec = env.do(http.MethodGet, "/api/product/p1/stock?quantity=0", readerKey, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCreateVariant(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/product/p1/variant", adminKey, `{"size": " M ", "color": "red", "quantity": 4, "price": "19.9"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		v := env.products.created
		require.NotNil(t, v)
		assert.Equal(t, "v-new", v.ID)
		assert.Equal(t, "M", v.Size)
		assert.JSONEq(t, `{"id": "v-new", "productId": "p1", "size": "M", "color": "red", "quantity": 4, "price": "19.90"}`, rec.Body.String())
	})

	t.Run("missing color", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(http.MethodPost, "/api/product/p1/variant", adminKey, `{"size": "M", "quantity": 4}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Nil(t, env.products.created)
	})

	t.Run("duplicate", func(t *testing.T) {
		env := newTestEnv(t)
		env.products.err = apperr.Integrity("product_variants_product_taille_couleur_key", product.ErrVariantExists)
		rec := env.do(http.MethodPost, "/api/product/p1/variant", adminKey, `{"size": "M", "color": "red", "quantity": 4}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reason":"VARIANT_EXISTS"`)
		assert.Contains(t, rec.Body.String(), `"retryable":false`)
	})
}
