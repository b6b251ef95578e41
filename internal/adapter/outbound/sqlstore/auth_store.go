package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/auth"
)

func encodeRateLimit(rl *auth.RateLimit) string {
	if rl == nil {
		return ""
	}
	b, _ := json.Marshal(rl)
	return string(b)
}

func decodeRateLimit(s string) *auth.RateLimit {
	if s == "" {
		return nil
	}
	var rl auth.RateLimit
	if err := json.Unmarshal([]byte(s), &rl); err != nil {
		return nil
	}
	return &rl
}

func encodeStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	b, _ := json.Marshal(ss)
	return string(b)
}

func decodeStrings(s string) []string {
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRowAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// APIKeyStore persists API keys in the api_keys table. It implements
// auth.KeyStore.
type APIKeyStore struct {
	db *DB
}

// NewAPIKeyStore builds an APIKeyStore over db.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

var _ auth.KeyStore = (*APIKeyStore)(nil)

// Get returns the API key whose hash matches keyHash.
func (s *APIKeyStore) Get(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	var k auth.APIKey
	var scope, rateLimit, ipAllowlist string
	var revoked int
	var rotatedAt, createdAt string
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT name, key_hash, key_prefix, type, scope, rate_limit, ip_allowlist, revoked, rotated_at, created_at
		FROM api_keys WHERE key_hash = ?`, keyHash)
	if err := row.Scan(&k.Name, &k.KeyHash, &k.KeyPrefix, &k.Type, &scope, &rateLimit, &ipAllowlist, &revoked, &rotatedAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get api key: %w", err)
	}
	k.Scope = decodeStrings(scope)
	k.RateLimit = decodeRateLimit(rateLimit)
	k.IPAllowlist = decodeStrings(ipAllowlist)
	k.Revoked = revoked != 0
	k.RotatedAt, _ = time.Parse(time.RFC3339Nano, rotatedAt)
	k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &k, nil
}

// Create inserts a new API key record.
func (s *APIKeyStore) Create(ctx context.Context, k auth.APIKey) error {
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	if k.RotatedAt.IsZero() {
		k.RotatedAt = now
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO api_keys (name, key_hash, key_prefix, type, scope, rate_limit, ip_allowlist, revoked, rotated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.Name, k.KeyHash, k.KeyPrefix, string(k.Type), encodeStrings(k.Scope), encodeRateLimit(k.RateLimit), encodeStrings(k.IPAllowlist),
		boolToInt(k.Revoked), k.RotatedAt.Format(time.RFC3339Nano), k.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: create api key %s: %w", k.Name, err)
	}
	return nil
}

// Rotate replaces name's hash and prefix, invalidating the prior raw key.
func (s *APIKeyStore) Rotate(ctx context.Context, name, newKeyHash, newKeyPrefix string) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE api_keys SET key_hash = ?, key_prefix = ?, rotated_at = ? WHERE name = ?`,
		newKeyHash, newKeyPrefix, time.Now().UTC().Format(time.RFC3339Nano), name)
	if err != nil {
		return fmt.Errorf("sqlstore: rotate api key %s: %w", name, err)
	}
	return requireRowAffected(res, auth.ErrNotFound)
}

// Revoke marks name as revoked.
func (s *APIKeyStore) Revoke(ctx context.Context, name string) error {
	res, err := s.db.conn.ExecContext(ctx, "UPDATE api_keys SET revoked = 1 WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke api key %s: %w", name, err)
	}
	return requireRowAffected(res, auth.ErrNotFound)
}

// List returns every API key.
func (s *APIKeyStore) List(ctx context.Context) ([]auth.APIKey, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT name, key_hash, key_prefix, type, scope, rate_limit, ip_allowlist, revoked, rotated_at, created_at
		FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list api keys: %w", err)
	}
	defer rows.Close()

	var out []auth.APIKey
	for rows.Next() {
		var k auth.APIKey
		var scope, rateLimit, ipAllowlist string
		var revoked int
		var rotatedAt, createdAt string
		if err := rows.Scan(&k.Name, &k.KeyHash, &k.KeyPrefix, &k.Type, &scope, &rateLimit, &ipAllowlist, &revoked, &rotatedAt, &createdAt); err != nil {
			return nil, err
		}
		k.Scope = decodeStrings(scope)
		k.RateLimit = decodeRateLimit(rateLimit)
		k.IPAllowlist = decodeStrings(ipAllowlist)
		k.Revoked = revoked != 0
		k.RotatedAt, _ = time.Parse(time.RFC3339Nano, rotatedAt)
		k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, k)
	}
	return out, rows.Err()
}

// SessionRelStore persists sessions and the revoked-sessions set in the
// relational store. It implements auth.SessionStore.
type SessionRelStore struct {
	db *DB
}

// NewSessionStore builds a SessionRelStore over db.
func NewSessionStore(db *DB) *SessionRelStore {
	return &SessionRelStore{db: db}
}

var _ auth.SessionStore = (*SessionRelStore)(nil)

// Create inserts a new session row.
func (s *SessionRelStore) Create(ctx context.Context, sess auth.Session) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, email, provider, permissions, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Email, sess.Provider, encodeStrings(sess.Permissions),
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano), sess.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: create session: %w", err)
	}
	return nil
}

// Get resolves a session by its opaque token.
func (s *SessionRelStore) Get(ctx context.Context, token string) (*auth.Session, error) {
	var sess auth.Session
	var permissions, expiresAt, createdAt string
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT id, user_id, email, provider, permissions, expires_at, created_at
		FROM sessions WHERE id = ?`, token)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Provider, &permissions, &expiresAt, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get session: %w", err)
	}
	sess.Permissions = decodeStrings(permissions)
	sess.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &sess, nil
}

// Refresh extends a session's expiry.
func (s *SessionRelStore) Refresh(ctx context.Context, token string, newExpiresAt time.Time) error {
	res, err := s.db.conn.ExecContext(ctx, "UPDATE sessions SET expires_at = ? WHERE id = ?",
		newExpiresAt.UTC().Format(time.RFC3339Nano), token)
	if err != nil {
		return fmt.Errorf("sqlstore: refresh session: %w", err)
	}
	return requireRowAffected(res, auth.ErrNotFound)
}

// Terminate deletes the session row and records token in revoked_sessions
// so any replica or cache holding a stale copy rejects it.
func (s *SessionRelStore) Terminate(ctx context.Context, token string) error {
	return s.db.withWriteLock(func() error {
		tx, err := s.db.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", token); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: terminate session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO revoked_sessions (id, revoked_at) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING`, token, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlstore: record revoked session: %w", err)
		}
		return tx.Commit()
	})
}

// IsRevoked reports whether token is in the revoked-sessions set.
func (s *SessionRelStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	var exists int
	err := s.db.conn.QueryRowContext(ctx, "SELECT 1 FROM revoked_sessions WHERE id = ?", token).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: check revoked session: %w", err)
	}
	return true, nil
}
