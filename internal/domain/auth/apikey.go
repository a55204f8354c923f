package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to API keys.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
	ScopeOrdersAdmin = "orders:admin"
)

// ErrNotFound is returned when no active key matches a hash.
var ErrNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope. The admin scope implies
// every other scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope) || slices.Contains(k.Scopes, ScopeOrdersAdmin)
}

// HashKey returns the hex HMAC-SHA256 of a raw key under pepper. Only the
// hash is stored.
func HashKey(pepper []byte, key string) string {
	return hex.EncodeToString(Sum(pepper, key))
}

// Sum returns the raw HMAC-SHA256 of key under pepper.
func Sum(pepper []byte, key string) []byte {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return mac.Sum(nil)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

type keyCtx struct{}

// WithKey attaches the authenticated key to ctx.
func WithKey(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, keyCtx{}, k)
}

// KeyFrom returns the authenticated key of ctx, if any.
func KeyFrom(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(keyCtx{}).(*APIKeyInfo)
	return k, ok
}
