package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail map[string]bool
}

func (p *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.fail[string(m.Key)] {
			return errors.New("broker unavailable")
		}
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

type fakeStore struct {
	batch  []Event
	sent   []int64
	failed map[int64]string
	lockFn func() error
}

func (s *fakeStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	if s.lockFn != nil {
		if err := s.lockFn(); err != nil {
			return nil, err
		}
	}
	n := min(batchSize, len(s.batch))
	out := s.batch[:n]
	s.batch = s.batch[n:]
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, msg string) error {
	if s.failed == nil {
		s.failed = make(map[int64]string)
	}
	s.failed[id] = msg
	return nil
}

func headerMap(hs []kafka.Header) map[string]string {
	m := make(map[string]string, len(hs))
	for _, h := range hs {
		m[h.Key] = string(h.Value)
	}
	return m
}

func TestNewEvent_CapturesTraceparent(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	e := NewEvent(ctx, "order", "o-1", "order.created", []byte(`{}`))

	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", e.Traceparent)
	assert.Equal(t, StatusPending, e.Status)
	assert.NotContains(t, e.Headers, TraceparentHeader)
}

func TestNewEvent_NoTrace(t *testing.T) {
	e := NewEvent(context.Background(), "order", "o-1", "order.created", nil)
	assert.Empty(t, e.Traceparent)
}

func TestDispatcher_Message(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), &fakeProducer{}, "order.events")

	msg := d.Message(Event{
		ID:          7,
		AggregateID: "o-1",
		Type:        "order.created",
		Payload:     []byte(`{"id":"o-1"}`),
		Headers:     map[string]string{"tracestate": "x=1"},
		Traceparent: "00-abc-def-01",
	})

	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, []byte("o-1"), msg.Key)
	h := headerMap(msg.Headers)
	assert.Equal(t, "order.created", h["event_type"])
	assert.Equal(t, "00-abc-def-01", h[TraceparentHeader])
	assert.Equal(t, "x=1", h["tracestate"])
}

func TestRelay_Flush(t *testing.T) {
	producer := &fakeProducer{fail: map[string]bool{"o-2": true}}
	store := &fakeStore{batch: []Event{
		{ID: 1, AggregateID: "o-1", Type: "order.created"},
		{ID: 2, AggregateID: "o-2", Type: "order.created"},
		{ID: 3, AggregateID: "o-3", Type: "order.status_changed"},
	}}
	r := NewRelay(zap.NewNop(), store, NewDispatcher(zap.NewNop(), producer, "t"), "relay-1", RelayConfig{})

	n, err := r.Flush(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Contains(t, store.failed, int64(2))
	assert.Len(t, producer.msgs, 2)
}

func TestRelay_FlushEmpty(t *testing.T) {
	r := NewRelay(zap.NewNop(), &fakeStore{}, NewDispatcher(zap.NewNop(), &fakeProducer{}, "t"), "relay-1", RelayConfig{})

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_FlushLockError(t *testing.T) {
	store := &fakeStore{lockFn: func() error { return errors.New("db down") }}
	r := NewRelay(zap.NewNop(), store, NewDispatcher(zap.NewNop(), &fakeProducer{}, "t"), "relay-1", RelayConfig{})

	_, err := r.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock batch")
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{batch: []Event{{ID: 1, AggregateID: "o-1"}}}
	r := NewRelay(zap.NewNop(), store, NewDispatcher(zap.NewNop(), &fakeProducer{}, "t"), "relay-1", RelayConfig{
		Interval: time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Run(ctx))
	assert.Equal(t, []int64{1}, store.sent)
}
