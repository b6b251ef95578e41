// Package auth models the API Key and Session entities (C7): typed keys
// (public/secret/admin), SHA-256 hash validation, IP allow-listing, and
// TTL-refreshing sessions.
package auth

import "time"

// KeyType is encoded in an API key's prefix.
type KeyType string

const (
	KeyTypePublic KeyType = "public"
	KeyTypeSecret KeyType = "secret"
	KeyTypeAdmin  KeyType = "admin"
)

// Prefix returns the raw-key prefix for t, or "" if t is not a known type.
func (t KeyType) Prefix() string {
	switch t {
	case KeyTypePublic:
		return "cyfr_pk_"
	case KeyTypeSecret:
		return "cyfr_sk_"
	case KeyTypeAdmin:
		return "cyfr_ak_"
	default:
		return ""
	}
}

// TypeFromPrefix recovers the KeyType from a raw key's prefix. ok is false
// for an unrecognized prefix.
func TypeFromPrefix(rawKey string) (t KeyType, ok bool) {
	for _, candidate := range []KeyType{KeyTypePublic, KeyTypeSecret, KeyTypeAdmin} {
		if len(rawKey) >= len(candidate.Prefix()) && rawKey[:len(candidate.Prefix())] == candidate.Prefix() {
			return candidate, true
		}
	}
	return "", false
}

// RateLimit is an API key's own request ceiling, independent of any
// component Host Policy rate limit.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// APIKey is the stored record for a validated credential. The raw key is
// shown once at creation and never retrievable thereafter; the store
// holds only the hash, prefix, type, and scope.
type APIKey struct {
	Name        string
	KeyHash     string // SHA-256 hex of the raw key
	KeyPrefix   string // first ~12 chars of the raw key, for display
	Type        KeyType
	Scope       []string // permission tokens
	RateLimit   *RateLimit
	IPAllowlist []string // exact IPv4/IPv6 or CIDR entries; empty allows any
	Revoked     bool
	RotatedAt   time.Time
	CreatedAt   time.Time
}

// Session is an authenticated session backed by an opaque bearer token,
// persisted in the relational store and mirrored to an in-memory map for
// hot reads.
type Session struct {
	ID          string // opaque bearer token, >= 128 bits entropy
	UserID      string
	Email       string
	Provider    string
	Permissions []string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
