package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
)

// ErrInvalidKey is returned when an API key fails validation for any
// reason: unknown prefix, unknown hash, revoked, or IP-allowlist mismatch.
// The reason is intentionally not distinguished in the returned error so
// callers cannot be used to enumerate valid key names.
var ErrInvalidKey = errors.New("auth: invalid api key")

// rawKeySecretBytes is the number of random bytes hex-encoded after the
// type prefix to form a raw key.
const rawKeySecretBytes = 32

// HashKey returns the SHA-256 hex hash of a raw key, the only form an
// APIKey is persisted in.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// GenerateKey creates a new raw key for t: its prefix followed by
// hex-encoded random bytes. The raw key is returned exactly once by the
// caller that creates it; only HashKey(rawKey) is ever persisted.
func GenerateKey(t KeyType) (rawKey string, err error) {
	prefix := t.Prefix()
	if prefix == "" {
		return "", fmt.Errorf("auth: unknown key type %q", t)
	}
	buf := make([]byte, rawKeySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate key: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

// DisplayPrefix returns the first n characters of rawKey, for showing a
// key's identity without exposing the full secret.
func DisplayPrefix(rawKey string, n int) string {
	if len(rawKey) <= n {
		return rawKey
	}
	return rawKey[:n]
}

// KeyService validates API keys against a KeyStore.
type KeyService struct {
	store KeyStore
}

// NewKeyService builds a KeyService backed by store.
func NewKeyService(store KeyStore) *KeyService {
	return &KeyService{store: store}
}

// Validate runs the key-validation order: verify prefix, hash and look
// up, reject revoked, then enforce the IP allowlist if one is configured
// and a client IP was supplied.
func (s *KeyService) Validate(ctx context.Context, rawKey, clientIP string) (*APIKey, error) {
	if _, ok := TypeFromPrefix(rawKey); !ok {
		return nil, ErrInvalidKey
	}

	key, err := s.store.Get(ctx, HashKey(rawKey))
	if err != nil {
		return nil, ErrInvalidKey
	}

	if key.Revoked {
		return nil, ErrInvalidKey
	}

	if len(key.IPAllowlist) > 0 && clientIP != "" && !ipAllowed(key.IPAllowlist, clientIP) {
		return nil, ErrInvalidKey
	}

	return key, nil
}

// ipAllowed reports whether clientIP matches an allowlist entry, each of
// which is either an exact IPv4/IPv6 address or a CIDR block.
func ipAllowed(allowlist []string, clientIP string) bool {
	ip, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	for _, entry := range allowlist {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			if prefix.Contains(ip) {
				return true
			}
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil && addr == ip {
			return true
		}
	}
	return false
}
