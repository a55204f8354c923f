package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/boutique-orders/pkg/outbox"
)

const (
	insertOutboxSQL = `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')`

	// Deliverable rows are pending ones, leases abandoned by a crashed relay
	// and failures that still have retries left and whose backoff elapsed.
	lockOutboxSQL = `SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE status = 'pending'
			OR (status = 'in_progress' AND lease_until < now())
			OR (status = 'failed' AND retry_count < $2 AND next_attempt_at <= now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1`

	leaseOutboxSQL = `UPDATE outbox
		SET status = 'in_progress', relay_id = $1, lease_until = now() + make_interval(secs => $2)
		WHERE id = ANY($3)`

	markOutboxSentSQL   = `UPDATE outbox SET status = 'sent', last_error = NULL WHERE id = ANY($1)`
	// The delay doubles per failure: backoff, 2*backoff, 4*backoff, capped
	// at 2^maxBackoffShift * backoff.
	markOutboxFailedSQL = `UPDATE outbox
		SET status = 'failed', last_error = $2, retry_count = retry_count + 1,
			next_attempt_at = now() + make_interval(secs => $3::float8 * power(2, least(retry_count, $4)))
		WHERE id = $1`

	maxBackoffShift = 10
)

var _ outbox.Store = (*OutboxStore)(nil)

// OutboxStore leases outbox rows to relays.
type OutboxStore struct {
	pool       *pgxpool.Pool
	maxRetries int
	backoff    time.Duration
}

// NewOutboxStore returns an OutboxStore that retries failed rows up to
// maxRetries times, waiting backoff after the first failure and twice as
// long after each further one.
func NewOutboxStore(pool *pgxpool.Pool, maxRetries int, backoff time.Duration) *OutboxStore {
	return &OutboxStore{pool: pool, maxRetries: maxRetries, backoff: backoff}
}

// LockBatch leases up to batchSize deliverable rows to relayID.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, lockOutboxSQL, batchSize, s.maxRetries)
		if err != nil {
			return fmt.Errorf("selecting outbox batch: %w", err)
		}
		events, err = pgx.CollectRows(rows, scanEvent)
		if err != nil {
			return fmt.Errorf("scanning outbox batch: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		ids := make([]int64, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		if _, err := tx.Exec(ctx, leaseOutboxSQL, relayID, lease.Seconds(), ids); err != nil {
			return fmt.Errorf("leasing outbox batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// MarkSent settles delivered rows.
func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	if _, err := s.pool.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return fmt.Errorf("marking outbox rows sent: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if _, err := s.pool.Exec(ctx, markOutboxFailedSQL, id, errMsg, s.backoff.Seconds(), maxBackoffShift); err != nil {
		return fmt.Errorf("marking outbox row %d failed: %w", id, err)
	}
	return nil
}

func enqueue(ctx context.Context, q querier, e outbox.Event) error {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := q.Exec(ctx, insertOutboxSQL, e.AggregateType, e.AggregateID, e.Type, e.Payload, headers, e.Traceparent)
	if err != nil {
		return fmt.Errorf("enqueueing %s event: %w", e.Type, err)
	}
	return nil
}

func scanEvent(row pgx.CollectableRow) (outbox.Event, error) {
	var e outbox.Event
	err := row.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Type, &e.Payload, &e.Headers, &e.Traceparent, &e.CreatedAt, &e.RetryCount)
	e.Status = outbox.StatusInProgress
	return e, err
}
