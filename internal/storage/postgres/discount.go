package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/boutique-orders/internal/domain/discount"
)

const (
	discountColumns = `id, code, type, value, min_amount, max_uses, used_count, is_active, starts_at, expires_at`

	getDiscountByCodeSQL = `SELECT ` + discountColumns + ` FROM discounts WHERE code = UPPER($1)`

	// claimDiscountSQL re-evaluates every usability condition under the row
	// lock the UPDATE takes, so two claims on the last use serialize.
	claimDiscountSQL = `UPDATE discounts SET used_count = used_count + 1
		WHERE id = $1
			AND is_active
			AND (max_uses IS NULL OR used_count < max_uses)
			AND (starts_at IS NULL OR starts_at <= $2)
			AND (expires_at IS NULL OR expires_at >= $2)`

	releaseDiscountSQL = `UPDATE discounts SET used_count = used_count - 1
		WHERE id = $1 AND used_count > 0`

	upsertDiscountSQL = `INSERT INTO discounts (id, code, type, value, min_amount, max_uses, is_active, starts_at, expires_at)
		VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			min_amount = EXCLUDED.min_amount,
			max_uses = EXCLUDED.max_uses,
			is_active = EXCLUDED.is_active,
			starts_at = EXCLUDED.starts_at,
			expires_at = EXCLUDED.expires_at`
)

var (
	_ discount.Repository   = (*DiscountRepository)(nil)
	_ discount.UsageCounter = usageCounter{}
)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount by its code (case-insensitive). Inactive
// discounts are returned too; the engine rejects them with a distinct reason.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

// Upsert inserts a discount or updates the terms of the one with the same
// code. The usage counter is never overwritten.
func (r *DiscountRepository) Upsert(ctx context.Context, d *discount.Discount) error {
	return upsertDiscount(ctx, r.pool, d)
}

// UpsertBatch upserts discounts in one transaction.
func (r *DiscountRepository) UpsertBatch(ctx context.Context, ds []discount.Discount) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for i := range ds {
			if err := upsertDiscount(ctx, tx, &ds[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertDiscount(ctx context.Context, q querier, d *discount.Discount) error {
	_, err := q.Exec(ctx, upsertDiscountSQL,
		d.ID, d.Code, string(d.Type), d.Value, d.MinAmount, d.MaxUses, d.IsActive, d.StartsAt, d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upserting discount %q: %w", d.Code, err)
	}
	return nil
}

// usageCounter claims and releases discount uses within a transaction.
type usageCounter struct {
	q querier
}

func (u usageCounter) Claim(ctx context.Context, discountID string, now time.Time) error {
	tag, err := u.q.Exec(ctx, claimDiscountSQL, discountID, now)
	if err != nil {
		return fmt.Errorf("claiming discount %q: %w", discountID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrClaimLost
	}
	return nil
}

func (u usageCounter) Release(ctx context.Context, discountID string) error {
	if _, err := u.q.Exec(ctx, releaseDiscountSQL, discountID); err != nil {
		return fmt.Errorf("releasing discount %q: %w", discountID, err)
	}
	return nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d       discount.Discount
		typ     string
		maxUses *int32
	)
	err := row.Scan(
		&d.ID, &d.Code, &typ, &d.Value, &d.MinAmount, &maxUses,
		&d.UsedCount, &d.IsActive, &d.StartsAt, &d.ExpiresAt,
	)
	d.Type = discount.Type(typ)
	if maxUses != nil {
		n := int(*maxUses)
		d.MaxUses = &n
	}
	return d, err
}
