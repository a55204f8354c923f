package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Counter is the subset of *redis.Client the limiter uses.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ Counter = (*redis.Client)(nil)

// RateLimitConfig configures the fixed window rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per key and window.
	Max int
	// Window is the length of one counting window.
	Window time.Duration
	// Prefix namespaces the Redis keys. Defaults to "ratelimit".
	Prefix string
	// KeyFunc extracts the rate limit key from a request. If nil, the client
	// IP address is used.
	KeyFunc func(*http.Request) string
	// Now defaults to time.Now.
	Now func() time.Time
}

// rateLimiter counts requests per key and window in Redis so that every
// API replica shares one budget.
type rateLimiter struct {
	cfg RateLimitConfig
	rdb Counter
}

func newRateLimiter(rdb Counter, cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ratelimit"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &rateLimiter{cfg: cfg, rdb: rdb}
}

// allow increments the counter of key for the window containing now.
func (rl *rateLimiter) allow(ctx context.Context, key string, now time.Time) (remaining int, resetAt time.Time, allowed bool, err error) {
	start := now.Truncate(rl.cfg.Window)
	resetAt = start.Add(rl.cfg.Window)
	redisKey := rl.cfg.Prefix + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	count, err := rl.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, resetAt, false, errors.Wrap(err, "increment rate counter")
	}
	if count == 1 {
		if err := rl.rdb.Expire(ctx, redisKey, rl.cfg.Window).Err(); err != nil {
			return 0, resetAt, false, errors.Wrap(err, "expire rate counter")
		}
	}

	if count > int64(rl.cfg.Max) {
		return 0, resetAt, false, nil
	}
	return rl.cfg.Max - int(count), resetAt, true, nil
}

// RateLimit enforces a per-key request budget. Exceeding it answers 429
// with Retry-After; every counted response carries X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset. When Redis is unreachable
// requests pass unthrottled.
func RateLimit(rdb Counter, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(rdb, cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			now := rl.cfg.Now()

			remaining, resetAt, allowed, err := rl.allow(ctx, rl.cfg.KeyFunc(r), now)
			if err != nil {
				zctx.From(ctx).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := max(resetAt.Sub(now), 0)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from X-Forwarded-For, then X-Real-IP,
// then RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
