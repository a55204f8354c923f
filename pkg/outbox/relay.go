package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Store leases and settles outbox rows.
type Store interface {
	// LockBatch leases up to batchSize deliverable rows to relayID.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

// Sender publishes one event.
type Sender interface {
	Dispatch(ctx context.Context, event Event) error
}

// RelayConfig tunes the polling loop.
type RelayConfig struct {
	BatchSize int
	Interval  time.Duration
	Lease     time.Duration
}

func (c *RelayConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Second
	}
}

// Relay polls the store and hands leased events to a Sender.
type Relay struct {
	lg      *zap.Logger
	store   Store
	sender  Sender
	relayID string
	cfg     RelayConfig
}

// NewRelay creates a Relay identified by relayID.
func NewRelay(lg *zap.Logger, store Store, sender Sender, relayID string, cfg RelayConfig) *Relay {
	cfg.setDefaults()
	return &Relay{
		lg:      lg,
		store:   store,
		sender:  sender,
		relayID: relayID,
		cfg:     cfg,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	r.lg.Info("Outbox relay started", zap.String("relay_id", r.relayID))
	for {
		select {
		case <-ctx.Done():
			r.lg.Info("Outbox relay stopping", zap.String("relay_id", r.relayID))
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				r.lg.Error("Outbox relay flush failed", zap.Error(err))
			}
		}
	}
}

// Flush delivers one batch and returns the number of events sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "lock batch")
	}
	if len(events) == 0 {
		return 0, nil
	}

	sent := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.sender.Dispatch(ctx, e); err != nil {
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error()); mErr != nil {
				r.lg.Error("Outbox mark failed",
					zap.Int64("event_id", e.ID),
					zap.Error(mErr),
				)
			}
			continue
		}
		sent = append(sent, e.ID)
	}

	if len(sent) > 0 {
		if err := r.store.MarkSent(ctx, sent); err != nil {
			return 0, errors.Wrap(err, "mark sent")
		}
	}
	return len(sent), nil
}
