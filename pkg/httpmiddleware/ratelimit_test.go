package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCounter is an in-memory Counter; expirations are recorded, not applied.
type memCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int64), expires: make(map[string]time.Duration)}
}

func (c *memCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return redis.NewIntResult(0, c.err)
	}
	c.counts[key]++
	return redis.NewIntResult(c.counts[key], nil)
}

func (c *memCounter) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func send(h http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/order", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	counter := newMemCounter()
	h := RateLimit(counter, RateLimitConfig{Max: 3, Window: time.Minute, Now: fixedNow(now)})(okHandler())

	for i := range 3 {
		w := send(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1", "0"}[i], w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1767261660", w.Header().Get("X-RateLimit-Reset"))
	}

	assert.Equal(t, map[string]time.Duration{"ratelimit:192.168.1.1:1767261600": time.Minute}, counter.expires)
}

func TestRateLimit_OverLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	h := RateLimit(newMemCounter(), RateLimitConfig{Max: 2, Window: time.Minute, Now: fixedNow(now)})(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, send(h, "10.0.0.1:9999").Code)
	}

	w := send(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	// Other clients keep their own budget.
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.2:9999").Code)
}

func TestRateLimit_NewWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 59, 0, time.UTC)
	clock := func() time.Time { return now }
	h := RateLimit(newMemCounter(), RateLimitConfig{Max: 1, Window: time.Minute, Now: clock})(okHandler())

	require.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
	require.Equal(t, http.StatusTooManyRequests, send(h, "10.0.0.1:1").Code)

	now = now.Add(2 * time.Second)
	assert.Equal(t, http.StatusOK, send(h, "10.0.0.1:1").Code)
}

func TestRateLimit_CustomKey(t *testing.T) {
	h := RateLimit(newMemCounter(), RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
	})(okHandler())

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/order", nil)
		req.Header.Set("api_key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusOK, do("b"))
}

func TestRateLimit_FailOpen(t *testing.T) {
	counter := newMemCounter()
	counter.err = errors.New("connection refused")
	h := RateLimit(counter, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	for range 3 {
		w := send(h, "10.0.0.1:1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "9.9.9.9:1", "1.2.3.4"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 1.2.3.4 "}, "9.9.9.9:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", "5.6.7.8"},
		{"remote addr", nil, "9.9.9.9:1", "9.9.9.9"},
		{"remote addr without port", nil, "9.9.9.9", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
