package idempotency

import (
	"bytes"
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Header is the request header carrying the client's idempotency key.
const Header = "Idempotency-Key"

// ReplayedHeader is set on responses served from the store.
const ReplayedHeader = "Idempotent-Replayed"

// Scope returns the namespace of a request's key, typically the caller
// identity, so that two clients never share records.
type Scope func(r *http.Request) string

// Middleware executes a request carrying an Idempotency-Key at most once per
// scope and key. Final responses are stored and replayed. Conflicts, rate
// limits, server errors and panics release the key instead, so a retry runs
// against current state. Requests without the header pass through.
func Middleware(store *Store, scope Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idemKey := r.Header.Get(Header)
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			lg := zctx.From(ctx)
			key := store.Key(scope(r), idemKey)

			acquired, err := store.Acquire(ctx, key)
			if err != nil {
				lg.Error("Idempotency store unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}

			if !acquired {
				resp, pending, err := store.Load(ctx, key)
				switch {
				case err != nil:
					lg.Error("Idempotency record unreadable", zap.Error(err))
					writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				case pending:
					writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				case resp == nil:
					// Expired between SETNX and GET.
					writeError(w, http.StatusConflict, "idempotency key expired, retry")
				default:
					if resp.ContentType != "" {
						w.Header().Set("Content-Type", resp.ContentType)
					}
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(resp.Status)
					_, _ = w.Write(resp.Body)
				}
				return
			}

			release := func() {
				if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
					lg.Warn("Idempotency key release failed", zap.Error(err))
				}
			}
			defer func() {
				if p := recover(); p != nil {
					release()
					panic(p)
				}
			}()

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if !replayable(rec.status) {
				release()
				return
			}
			err = store.Save(ctx, key, Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				lg.Warn("Idempotency record save failed", zap.Error(err))
			}
		})
	}
}

// replayable reports whether a response is final for its key. A 409 or 429
// depends on state that may change before the retry.
func replayable(status int) bool {
	switch {
	case status >= http.StatusInternalServerError:
		return false
	case status == http.StatusConflict, status == http.StatusTooManyRequests:
		return false
	}
	return true
}

// recorder writes through to the client while keeping a copy of the
// response.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
