package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/boutique-orders/internal/domain/auth"
)

// APIKeyHeader carries the caller's raw API key.
const APIKeyHeader = "api_key"

// ErrUnauthorized is returned for a missing, unknown or revoked API key.
var ErrUnauthorized = errors.New("unauthorized")

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and enforces per-route scopes.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// HandleAPIKey authenticates a raw key by computing its HMAC-SHA256, looking
// the hash up in the repository and comparing it in constant time. The
// returned context carries the key.
func (s *SecurityHandler) HandleAPIKey(ctx context.Context, key string) (context.Context, error) {
	if key == "" {
		return ctx, ErrUnauthorized
	}
	hash := auth.Sum(s.pepper, key)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			zctx.From(ctx).Error("API key lookup failed", zap.Error(err))
		}
		return ctx, ErrUnauthorized
	}

	// The repository may return a stale row; compare what was stored.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return ctx, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return ctx, ErrUnauthorized
	}

	return auth.WithKey(ctx, info), nil
}

// Authenticate rejects requests without a valid api_key header with 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := s.HandleAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, errorBody{Message: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects authenticated requests whose key lacks scope with 403.
func (s *SecurityHandler) Require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := auth.KeyFrom(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, errorBody{Message: "unauthorized"})
				return
			}
			if !info.HasScope(scope) {
				writeJSONError(w, http.StatusForbidden, errorBody{Message: "missing scope " + scope})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientScope namespaces idempotency keys by the authenticated key id.
func ClientScope(r *http.Request) string {
	if info, ok := auth.KeyFrom(r.Context()); ok {
		return info.ID
	}
	return "anonymous"
}
