// Package outbox relays events recorded in the same transaction as the
// state change that produced them.
package outbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Status is the delivery state of an outbox row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// TraceparentHeader is the W3C trace context header name.
const TraceparentHeader = "traceparent"

// Event is one outbox row.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}

// NewEvent builds a pending event and captures the trace context of ctx so
// that consumers continue the producing trace.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType string, payload []byte) Event {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	traceparent := carrier[TraceparentHeader]
	delete(carrier, TraceparentHeader)

	headers := make(map[string]string, len(carrier))
	for k, v := range carrier {
		headers[k] = v
	}

	return Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Type:          eventType,
		Payload:       payload,
		Headers:       headers,
		Traceparent:   traceparent,
		Status:        StatusPending,
	}
}
