package auth

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key or session does not exist.
var ErrNotFound = errors.New("auth: not found")

// ErrRevoked is returned when a session ID has been terminated and must
// not be re-hydrated from any cache or replica.
var ErrRevoked = errors.New("auth: revoked")

// KeyStore persists and retrieves API keys.
type KeyStore interface {
	Get(ctx context.Context, keyHash string) (*APIKey, error)
	Create(ctx context.Context, k APIKey) error
	// Rotate atomically replaces the hash and prefix for name while
	// preserving type and scope; the prior raw value stops validating
	// immediately.
	Rotate(ctx context.Context, name, newKeyHash, newKeyPrefix string) error
	Revoke(ctx context.Context, name string) error
	List(ctx context.Context) ([]APIKey, error)
}

// SessionStore persists sessions and the revocation set.
type SessionStore interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, token string) (*Session, error)
	// Refresh extends expires_at asynchronously; callers must not block
	// the request path on this.
	Refresh(ctx context.Context, token string, newExpiresAt time.Time) error
	// Terminate inserts token into the revoked-sessions set so other
	// replicas/caches cannot re-hydrate it.
	Terminate(ctx context.Context, token string) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}
