package outbox

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer is the subset of *kafka.Writer the dispatcher uses.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher publishes outbox events to a Kafka topic keyed by aggregate id.
type Dispatcher struct {
	lg       *zap.Logger
	producer Producer
	topic    string
}

// NewDispatcher creates a Dispatcher writing to topic.
func NewDispatcher(lg *zap.Logger, producer Producer, topic string) *Dispatcher {
	return &Dispatcher{lg: lg, producer: producer, topic: topic}
}

// Message converts an event into the Kafka message the dispatcher sends.
func (d *Dispatcher) Message(event Event) kafka.Message {
	headers := make([]kafka.Header, 0, len(event.Headers)+2)
	for k, v := range event.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(event.Type)})
	if event.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: TraceparentHeader, Value: []byte(event.Traceparent)})
	}

	return kafka.Message{
		Topic:   d.topic,
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
}

// Dispatch publishes a single event.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	if err := d.producer.WriteMessages(ctx, d.Message(event)); err != nil {
		d.lg.Error("Outbox dispatch failed",
			zap.Int64("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err),
		)
		return errors.Wrapf(err, "dispatch event %d", event.ID)
	}
	d.lg.Debug("Outbox event dispatched",
		zap.Int64("event_id", event.ID),
		zap.String("type", event.Type),
	)
	return nil
}
