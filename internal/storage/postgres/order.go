package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/boutique-orders/internal/domain/apperr"
	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/domain/inventory"
	"github.com/xenking/boutique-orders/internal/domain/order"
	"github.com/xenking/boutique-orders/pkg/outbox"
)

const (
	orderColumns = `id, order_number, customer_name, customer_email, customer_phone, customer_address,
		status, subtotal_amount, discount_type, discount_value, discount_id, discount_amount, total_amount,
		created_at, updated_at`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderForUpdateSQL = getOrderSQL + ` FOR UPDATE`

	getOrderItemsSQL = `SELECT id, product_id, variant_id, nom, prix, taille, couleur, image, quantite
		FROM order_items WHERE order_id = $1 ORDER BY position`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	insertOrderItemSQL = `INSERT INTO order_items
		(id, order_id, position, product_id, variant_id, nom, prix, taille, couleur, image, quantite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`

	updateOrderTotalsSQL = `UPDATE orders
		SET subtotal_amount = $2, discount_amount = $3, total_amount = $4, updated_at = $5
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`
)

var (
	_ order.Store = (*OrderStore)(nil)
	_ order.Tx    = (*orderTx)(nil)
)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Get returns an order with its items in insertion order.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

// Delete removes an order; its items go with it by cascade.
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// InTx runs fn in a Read Committed transaction. Conditional updates issued
// through the Tx re-check their predicates under row locks, which is what
// makes discount claims and stock reservations race-free.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) Discounts() discount.UsageCounter { return usageCounter{q: t.tx} }
func (t *orderTx) Stock() inventory.Reserver        { return stockReserver{q: t.tx} }

func (t *orderTx) Insert(ctx context.Context, o *order.Order) error {
	var (
		discountType  *string
		discountValue decimal.NullDecimal
		discountID    *string
	)
	if o.Discount != nil {
		typ := string(o.Discount.Type)
		discountType = &typ
		discountValue = decimal.NewNullDecimal(o.Discount.Value)
		discountID = o.Discount.ID
	}

	_, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.Customer.Address,
		string(o.Status), o.Totals.Subtotal, discountType, discountValue, discountID,
		o.Totals.Discount, o.Totals.Total, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if pgErr, ok := pgError(err, codeUniqueViolation); ok && pgErr.ConstraintName == "orders_order_number_key" {
			return apperr.Integrity(pgErr.ConstraintName, order.ErrDuplicateNumber)
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for i, it := range o.Items {
		batch.Queue(insertOrderItemSQL,
			it.ID, o.ID, i, it.ProductID, it.VariantID, it.Name, it.UnitPrice,
			it.Size, it.Color, it.Image, it.Quantity,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting items of order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) GetForUpdate(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, t.tx, getOrderForUpdateSQL, id)
}

func (t *orderTx) UpdateStatus(ctx context.Context, id string, status order.Status, at time.Time) error {
	if _, err := t.tx.Exec(ctx, updateOrderStatusSQL, id, string(status), at); err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	return nil
}

func (t *orderTx) UpdateTotals(ctx context.Context, id string, totals order.Totals, at time.Time) error {
	_, err := t.tx.Exec(ctx, updateOrderTotalsSQL, id, totals.Subtotal, totals.Discount, totals.Total, at)
	if err != nil {
		return fmt.Errorf("updating totals of order %q: %w", id, err)
	}
	return nil
}

func (t *orderTx) Enqueue(ctx context.Context, e outbox.Event) error {
	return enqueue(ctx, t.tx, e)
}

func getOrder(ctx context.Context, q querier, query, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		status        string
		discountType  *string
		discountValue decimal.NullDecimal
		discountID    *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Customer.Address,
		&status, &o.Totals.Subtotal, &discountType, &discountValue, &discountID,
		&o.Totals.Discount, &o.Totals.Total, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if discountType != nil {
		o.Discount = &order.AppliedDiscount{
			ID:    discountID,
			Type:  discount.Type(*discountType),
			Value: discountValue.Decimal,
		}
	}
	return o, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.ProductID, &it.VariantID, &it.Name, &it.UnitPrice,
		&it.Size, &it.Color, &it.Image, &it.Quantity,
	)
	return it, err
}
