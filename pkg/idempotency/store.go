// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key instead of executing it twice.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// Client is the subset of *redis.Client the store uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ Client = (*redis.Client)(nil)

// Response is a stored HTTP response.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Store keeps idempotency records in Redis under idem:<key>.
type Store struct {
	rdb Client
	ttl time.Duration
}

// NewStore creates a Store whose records expire after ttl.
func NewStore(rdb Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Key returns the Redis key for an idempotency key within scope.
func (s *Store) Key(scope, key string) string {
	return "idem:" + scope + ":" + key
}

// Acquire marks key as in flight. It reports false when a record already
// exists.
func (s *Store) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, pendingMarker, s.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquire idempotency key")
	}
	return ok, nil
}

// Load returns the stored response of key. pending is true while the first
// request is still running.
func (s *Store) Load(ctx context.Context, key string) (resp *Response, pending bool, err error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "load idempotency record")
	}
	if string(raw) == pendingMarker {
		return nil, true, nil
	}
	resp, err = decodeResponse(raw)
	if err != nil {
		return nil, false, err
	}
	return resp, false, nil
}

// Save stores the final response of key.
func (s *Store) Save(ctx context.Context, key string, resp Response) error {
	if err := s.rdb.Set(ctx, key, encodeResponse(resp), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "save idempotency record")
	}
	return nil
}

// Release forgets key so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return errors.Wrap(err, "release idempotency key")
	}
	return nil
}

func encodeResponse(resp Response) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("status", func(e *jx.Encoder) { e.Int(resp.Status) })
		e.Field("content_type", func(e *jx.Encoder) { e.Str(resp.ContentType) })
		e.Field("body", func(e *jx.Encoder) { e.Base64(resp.Body) })
	})
	return e.Bytes()
}

func decodeResponse(raw []byte) (*Response, error) {
	var resp Response
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "status":
			resp.Status, err = d.Int()
		case "content_type":
			resp.ContentType, err = d.Str()
		case "body":
			resp.Body, err = d.Base64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode idempotency record")
	}
	return &resp, nil
}
