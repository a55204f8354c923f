package order

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/product"
	"github.com/xenking/boutique-orders/pkg/outbox"
)

// memStore is an in-memory Store. InTx serializes transactions and restores
// the previous state when fn fails.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]Order
	discounts map[string]discount.Discount
	stock     map[inventory.Key]int
	events    []outbox.Event
}

var (
	_ Store                 = (*memStore)(nil)
	_ Tx                    = (*memTx)(nil)
	_ discount.Repository   = (*memStore)(nil)
	_ discount.UsageCounter = memUsage{}
	_ inventory.Reserver    = memStock{}
	_ inventory.Reader      = (*memStore)(nil)
	_ product.Repository    = (*mockProductRepo)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]Order),
		discounts: make(map[string]discount.Discount),
		stock:     make(map[inventory.Key]int),
	}
}

func (m *memStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return ErrNotFound
	}
	delete(m.orders, id)
	return nil
}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := maps.Clone(m.orders)
	discounts := maps.Clone(m.discounts)
	stock := maps.Clone(m.stock)
	events := len(m.events)

	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.orders, m.discounts, m.stock = orders, discounts, stock
		m.events = m.events[:events]
		return err
	}
	return nil
}

func (m *memStore) FindByCode(_ context.Context, code string) (*discount.Discount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.discounts {
		if d.Code == code {
			return &d, nil
		}
	}
	return nil, discount.ErrNotFound
}

func (m *memStore) StockLevel(_ context.Context, productID string, variantID *string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.stock[inventory.Request{ProductID: productID, VariantID: variantID}.Key()]
	if !ok {
		return 0, inventory.ErrUnknownItem
	}
	return level, nil
}

func (m *memStore) usedCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discounts[id].UsedCount
}

func (m *memStore) stockOf(k inventory.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[k]
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// memTx runs with memStore.mu held.
type memTx struct {
	m *memStore
}

func (t *memTx) Discounts() discount.UsageCounter { return memUsage{t.m} }
func (t *memTx) Stock() inventory.Reserver        { return memStock{t.m} }

func (t *memTx) Insert(_ context.Context, o *Order) error {
	for _, existing := range t.m.orders {
		if existing.Number == o.Number {
			return apperr.Integrity("orders_order_number_key", ErrDuplicateNumber)
		}
	}
	t.m.orders[o.ID] = *o
	return nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (*Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	o := t.m.orders[id]
	o.Status = status
	o.UpdatedAt = at
	t.m.orders[id] = o
	return nil
}

func (t *memTx) UpdateTotals(_ context.Context, id string, totals Totals, at time.Time) error {
	o := t.m.orders[id]
	o.Totals = totals
	o.UpdatedAt = at
	t.m.orders[id] = o
	return nil
}

func (t *memTx) Enqueue(_ context.Context, e outbox.Event) error {
	t.m.events = append(t.m.events, e)
	return nil
}

type memUsage struct{ m *memStore }

func (u memUsage) Claim(_ context.Context, id string, now time.Time) error {
	d, ok := u.m.discounts[id]
	if !ok {
		return discount.ErrClaimLost
	}
	if err := discount.Validate(&d, d.MinAmount.Decimal, now); err != nil {
		return discount.ErrClaimLost
	}
	d.UsedCount++
	u.m.discounts[id] = d
	return nil
}

func (u memUsage) Release(_ context.Context, id string) error {
	d := u.m.discounts[id]
	if d.UsedCount > 0 {
		d.UsedCount--
	}
	u.m.discounts[id] = d
	return nil
}

type memStock struct{ m *memStore }

func (s memStock) Reserve(_ context.Context, req inventory.Request) (inventory.Reservation, error) {
	k := req.Key()
	if s.m.stock[k] < req.Quantity {
		return inventory.Reservation{}, inventory.ErrOutOfStock
	}
	s.m.stock[k] -= req.Quantity
	return inventory.Reservation{Request: req}, nil
}

func (s memStock) Release(_ context.Context, r inventory.Reservation) error {
	s.m.stock[r.Key()] += r.Quantity
	return nil
}

type mockProductRepo struct {
	products map[string]product.Product
	variants map[string]product.Variant
	getErr   error
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductRepo) GetVariantsByIDs(_ context.Context, ids []string) ([]product.Variant, error) {
	var out []product.Variant
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mockProductRepo) CreateVariant(_ context.Context, v *product.Variant) error {
	m.variants[v.ID] = *v
	return nil
}
