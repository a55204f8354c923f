package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/product"
)

// StockChecker answers whether a stock counter covers a quantity.
type StockChecker interface {
	CheckStock(ctx context.Context, productID string, variantID *string, qty int) (inventory.Sufficiency, error)
}

// DiscountApplier validates a code against a subtotal.
type DiscountApplier interface {
	Apply(ctx context.Context, code string, subtotal decimal.Decimal, now time.Time) (*discount.Application, error)
}

// LineRequest is one requested cart line.
type LineRequest struct {
	ProductID string
	VariantID *string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Customer     Customer
	Items        []LineRequest
	DiscountCode string
}

// Options configures a Service. Zero fields get defaults.
type Options struct {
	Numbers        NumberGenerator
	Cancel         CancelPolicy
	Now            func() time.Time
	NewID          func() string
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (o *Options) setDefaults() {
	if o.Numbers == nil {
		o.Numbers = ULIDNumbers{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
}

// Service encapsulates checkout and the order lifecycle.
type Service struct {
	products  product.Repository
	stock     StockChecker
	discounts DiscountApplier
	store     Store

	numbers NumberGenerator
	cancel  CancelPolicy
	now     func() time.Time
	newID   func() string

	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	stock StockChecker,
	discounts DiscountApplier,
	store Store,
	opts Options,
) (*Service, error) {
	opts.setDefaults()

	meter := opts.MeterProvider.Meter("github.com/xenking/boutique-orders/internal/domain/order")
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed at checkout"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders.placed counter")
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Checkouts rejected, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders.rejected counter")
	}

	return &Service{
		products:  products,
		stock:     stock,
		discounts: discounts,
		store:     store,
		numbers:   opts.Numbers,
		cancel:    opts.Cancel,
		now:       opts.Now,
		newID:     opts.NewID,
		tracer:    opts.TracerProvider.Tracer("github.com/xenking/boutique-orders/internal/domain/order"),
		placed:    placed,
		rejected:  rejected,
	}, nil
}

// PlaceOrder validates the cart, snapshots catalog facts, applies the
// discount and commits the order together with its discount claim, stock
// reservations and order.created event.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", RejectReason(rerr))))
		} else {
			s.placed.Add(ctx, 1)
		}
		span.End()
	}()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	items, err := s.snapshotItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	stockReqs := make([]inventory.Request, len(items))
	for i, it := range items {
		stockReqs[i] = it.StockRequest()
	}
	stockReqs, err = inventory.Aggregate(stockReqs)
	if err != nil {
		return nil, err
	}
	if Subtotal(items).GreaterThan(MaxAmount) {
		return nil, ErrAmountTooLarge
	}
	if err := s.checkStock(ctx, stockReqs); err != nil {
		return nil, err
	}

	now := s.now()

	// A supplied code that does not apply fails the checkout.
	var app *discount.Application
	if code := strings.TrimSpace(req.DiscountCode); code != "" {
		app, err = s.discounts.Apply(ctx, code, Subtotal(items), now)
		if err != nil {
			return nil, err
		}
	}

	totals, err := Recompute(items, TermsOf(app))
	if err != nil {
		zctx.From(ctx).Error("Checkout totals rejected", zap.Error(err))
		return nil, err
	}

	o := &Order{
		ID:        s.newID(),
		Number:    s.numbers.Next(),
		Customer:  normalizeCustomer(req.Customer),
		Status:    StatusPending,
		Items:     items,
		Totals:    totals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if app != nil {
		id := app.DiscountID
		o.Discount = &AppliedDiscount{ID: &id, Type: app.Type, Value: app.Value}
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if app != nil {
			if err := tx.Discounts().Claim(ctx, app.DiscountID, now); err != nil {
				return err
			}
		}
		for _, r := range stockReqs {
			if _, err := tx.Stock().Reserve(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		return tx.Enqueue(ctx, createdEvent(ctx, o))
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Totals.Total.StringFixed(2)),
	)
	return o, nil
}

// validateRequest rejects malformed checkouts before any lookup. An empty
// cart is refused here even though Recompute of no items yields 0/0; no
// order row is ever created without lines.
func validateRequest(req PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 || item.Quantity > inventory.MaxQuantity {
			return &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	if strings.TrimSpace(req.Customer.Name) == "" || strings.TrimSpace(req.Customer.Email) == "" {
		return ErrCustomerRequired
	}
	return nil
}

func normalizeCustomer(c Customer) Customer {
	return Customer{
		Name:    strings.TrimSpace(c.Name),
		Email:   strings.TrimSpace(c.Email),
		Phone:   strings.TrimSpace(c.Phone),
		Address: strings.TrimSpace(c.Address),
	}
}

// snapshotItems fetches products and variants in batches and freezes their
// facts into order items.
func (s *Service) snapshotItems(ctx context.Context, lines []LineRequest) ([]Item, error) {
	productIDs := make([]string, 0, len(lines))
	var variantIDs []string
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
		if l.VariantID != nil {
			variantIDs = append(variantIDs, *l.VariantID)
		}
	}

	fetched, err := s.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	variantMap := make(map[string]product.Variant, len(variantIDs))
	if len(variantIDs) > 0 {
		variants, err := s.products.GetVariantsByIDs(ctx, variantIDs)
		if err != nil {
			return nil, errors.Wrap(err, "get variants")
		}
		for _, v := range variants {
			variantMap[v.ID] = v
		}
	}

	items := make([]Item, 0, len(lines))
	for _, l := range lines {
		p, ok := productMap[l.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: l.ProductID}
		}

		it := Item{
			ID:        s.newID(),
			ProductID: p.ID,
			Name:      p.Name,
			Image:     p.Image(),
			Quantity:  l.Quantity,
		}

		var variant *product.Variant
		if l.VariantID != nil {
			v, ok := variantMap[*l.VariantID]
			if !ok || v.ProductID != p.ID {
				return nil, &VariantNotFoundError{ProductID: p.ID, VariantID: *l.VariantID}
			}
			variant = &v
			vid := v.ID
			it.VariantID = &vid
			it.Size = v.Size
			it.Color = v.Color
		}
		it.UnitPrice = product.UnitPrice(p, variant)

		items = append(items, it)
	}
	return items, nil
}

func (s *Service) checkStock(ctx context.Context, reqs []inventory.Request) error {
	for _, r := range reqs {
		suff, err := s.stock.CheckStock(ctx, r.ProductID, r.VariantID, r.Quantity)
		if err != nil {
			return errors.Wrapf(err, "check stock of product %s", r.ProductID)
		}
		if suff == inventory.Insufficient {
			k := r.Key()
			return &InsufficientStockError{ProductID: k.ProductID, VariantID: k.VariantID, Requested: r.Quantity}
		}
	}
	return nil
}

// PreviewDiscount validates code against subtotal without claiming a use.
func (s *Service) PreviewDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*discount.Application, error) {
	return s.discounts.Apply(ctx, code, subtotal, s.now())
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// Delete removes an order and its items. It is an administrative cleanup;
// the lifecycle ends orders through CANCELLED.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	zctx.From(ctx).Warn("Order deleted", zap.String("order_id", id))
	return nil
}

// Transition moves an order to status to, holding the order row lock while
// the guard runs. Cancelling applies the configured CancelPolicy.
func (s *Service) Transition(ctx context.Context, id string, to Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.status.to", string(to))),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	var out *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		from := o.Status
		if err := checkTransition(from, to); err != nil {
			return err
		}
		if to == StatusCancelled {
			if err := s.cancel.apply(ctx, tx, o); err != nil {
				return err
			}
		}

		now := s.now()
		if err := tx.UpdateStatus(ctx, id, to, now); err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, statusChangedEvent(ctx, id, from, to, now)); err != nil {
			return err
		}
		o.Status = to
		o.UpdatedAt = now
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order status changed",
		zap.String("order_id", id),
		zap.String("status", string(to)),
	)
	return out, nil
}

// Audit recomputes the totals of a stored order from its items and discount
// terms. With repair set, inconsistent stored totals are overwritten and an
// order.totals_repaired event is recorded.
func (s *Service) Audit(ctx context.Context, id string, repair bool) (*AuditReport, error) {
	lg := zctx.From(ctx)

	if !repair {
		o, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		report, err := audit(o)
		if err != nil {
			return nil, err
		}
		if !report.Consistent {
			lg.Warn("Order totals inconsistent", zap.String("order_id", id))
		}
		return report, nil
	}

	var report *AuditReport
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		report, err = audit(o)
		if err != nil {
			return err
		}
		if report.Consistent {
			return nil
		}
		if err := tx.UpdateTotals(ctx, id, report.Computed, s.now()); err != nil {
			return err
		}
		report.Repaired = true
		return tx.Enqueue(ctx, totalsRepairedEvent(ctx, report))
	})
	if err != nil {
		return nil, err
	}

	if report.Repaired {
		lg.Warn("Order totals repaired",
			zap.String("order_id", id),
			zap.String("stored_total", report.Stored.Total.StringFixed(2)),
			zap.String("computed_total", report.Computed.Total.StringFixed(2)),
		)
	}
	return report, nil
}

// RejectReason maps a checkout error to a low-cardinality metric label.
func RejectReason(err error) string {
	var (
		qtyErr    *InvalidQuantityError
		pnfErr    *ProductNotFoundError
		vnfErr    *VariantNotFoundError
		stockErr  *InsufficientStockError
		invariant *apperr.InvariantError
	)
	switch {
	case apperr.IsRetryable(err):
		return "conflict"
	case errors.Is(err, apperr.ErrIntegrity):
		return "integrity"
	case errors.Is(err, ErrEmptyItems):
		return "empty_items"
	case errors.Is(err, ErrCustomerRequired):
		return "customer_required"
	case errors.As(err, &qtyErr), errors.Is(err, inventory.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrAmountTooLarge):
		return "amount_too_large"
	case errors.As(err, &pnfErr):
		return "product_not_found"
	case errors.As(err, &vnfErr):
		return "variant_not_found"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &invariant):
		return "invariant"
	}
	if reason, ok := discount.ReasonOf(err); ok {
		return strings.ToLower(string(reason))
	}
	return "internal"
}
