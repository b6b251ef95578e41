package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/cache"
	"github.com/cyfrworks/cyfr/internal/domain/auth"
)

// sessionTokenBytes is the entropy budget for a session's opaque bearer
// token: 16 bytes hex-encoded is 128 bits.
const sessionTokenBytes = 16

// DefaultSessionTTL is how long a session is valid before it must be
// refreshed by an authenticated request.
const DefaultSessionTTL = 24 * time.Hour

// AuthService authenticates API keys and sessions, mirroring both to an
// in-memory cache for hot reads the way PolicyService mirrors policies.
type AuthService struct {
	keys     auth.KeyStore
	sessions auth.SessionStore
	keySvc   *auth.KeyService
	cache    *cache.Cache
	logger   *slog.Logger
}

// NewAuthService builds an AuthService backed by keys, sessions, and a
// shared hot-read cache.
func NewAuthService(keys auth.KeyStore, sessions auth.SessionStore, c *cache.Cache, logger *slog.Logger) *AuthService {
	return &AuthService{
		keys:     keys,
		sessions: sessions,
		keySvc:   auth.NewKeyService(keys),
		cache:    c,
		logger:   logger,
	}
}

// ValidateAPIKey authenticates rawKey against the key store, falling
// back to the store on every call: API keys are revocable at any moment,
// so they are never cached.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey, clientIP string) (*auth.APIKey, error) {
	return s.keySvc.Validate(ctx, rawKey, clientIP)
}

// CreateAPIKey generates a new raw key of the given type, persists its
// hash, and returns the raw key exactly once.
func (s *AuthService) CreateAPIKey(ctx context.Context, name string, t auth.KeyType, scope, ipAllowlist []string) (rawKey string, err error) {
	rawKey, err = auth.GenerateKey(t)
	if err != nil {
		return "", err
	}
	k := auth.APIKey{
		Name:        name,
		KeyHash:     auth.HashKey(rawKey),
		KeyPrefix:   auth.DisplayPrefix(rawKey, 12),
		Type:        t,
		Scope:       scope,
		IPAllowlist: ipAllowlist,
		CreatedAt:   time.Now(),
	}
	if err := s.keys.Create(ctx, k); err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	s.logger.Info("api key created", "name", name, "type", t)
	return rawKey, nil
}

// RotateAPIKey replaces name's raw value, invalidating the prior one
// immediately, and returns the new raw key.
func (s *AuthService) RotateAPIKey(ctx context.Context, name string, t auth.KeyType) (rawKey string, err error) {
	rawKey, err = auth.GenerateKey(t)
	if err != nil {
		return "", err
	}
	if err := s.keys.Rotate(ctx, name, auth.HashKey(rawKey), auth.DisplayPrefix(rawKey, 12)); err != nil {
		return "", fmt.Errorf("rotate api key: %w", err)
	}
	s.logger.Info("api key rotated", "name", name)
	return rawKey, nil
}

// RevokeAPIKey marks name as revoked; in-flight requests using the old
// raw value are rejected on their next validation since keys are never
// cached.
func (s *AuthService) RevokeAPIKey(ctx context.Context, name string) error {
	if err := s.keys.Revoke(ctx, name); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	s.logger.Info("api key revoked", "name", name)
	return nil
}

// generateSessionToken returns a new opaque bearer token with at least
// 128 bits of entropy.
func generateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateSession opens a new session for userID and persists it, mirroring
// it into the cache for the hot read path.
func (s *AuthService) CreateSession(ctx context.Context, userID, email, provider string, permissions []string) (*auth.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := auth.Session{
		ID:          token,
		UserID:      userID,
		Email:       email,
		Provider:    provider,
		Permissions: permissions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(DefaultSessionTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.cache.PutTTL(cache.SessionKey(token), sess, DefaultSessionTTL)
	return &sess, nil
}

// ValidateSession resolves token to its session, preferring the cache.
// On every successful validation it fires an async, best-effort TTL
// refresh that must never block the caller's request path.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*auth.Session, error) {
	if revoked, err := s.sessions.IsRevoked(ctx, token); err == nil && revoked {
		s.cache.Invalidate(cache.SessionKey(token))
		return nil, auth.ErrRevoked
	}

	var sess *auth.Session
	if cached, ok := s.cache.Get(cache.SessionKey(token)); ok {
		if v, ok := cached.(auth.Session); ok {
			sess = &v
		}
	}
	if sess == nil {
		fetched, err := s.sessions.Get(ctx, token)
		if err != nil {
			return nil, err
		}
		sess = fetched
		s.cache.PutTTL(cache.SessionKey(token), *sess, DefaultSessionTTL)
	}

	if time.Now().After(sess.ExpiresAt) {
		s.cache.Invalidate(cache.SessionKey(token))
		return nil, errors.New("auth: session expired")
	}

	go s.refreshSessionTTL(token)

	return sess, nil
}

// refreshSessionTTL extends a session's expiry in the background. Errors
// are logged, not propagated: a failed refresh degrades to a shorter
// remaining TTL rather than breaking the calling request.
func (s *AuthService) refreshSessionTTL(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	newExpiry := time.Now().Add(DefaultSessionTTL)
	if err := s.sessions.Refresh(ctx, token, newExpiry); err != nil {
		s.logger.Warn("session ttl refresh failed", "error", err)
		return
	}
	if cached, ok := s.cache.Get(cache.SessionKey(token)); ok {
		if sess, ok := cached.(auth.Session); ok {
			sess.ExpiresAt = newExpiry
			s.cache.PutTTL(cache.SessionKey(token), sess, DefaultSessionTTL)
		}
	}
}

// TerminateSession revokes token so no replica or cache can re-hydrate
// it, then drops it from the local cache immediately.
func (s *AuthService) TerminateSession(ctx context.Context, token string) error {
	if err := s.sessions.Terminate(ctx, token); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	s.cache.Invalidate(cache.SessionKey(token))
	return nil
}
