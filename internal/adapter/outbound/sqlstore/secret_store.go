package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/secret"
)

// SecretStore persists Secrets and Grants. It implements secret.Store;
// ciphertext and nonce pass through untouched — encryption is
// secretcrypto's concern, not this store's.
type SecretStore struct {
	db *DB
}

// NewSecretStore builds a SecretStore over db.
func NewSecretStore(db *DB) *SecretStore {
	return &SecretStore{db: db}
}

var _ secret.Store = (*SecretStore)(nil)

// Get returns the secret identified by (scope, orgID, name).
func (s *SecretStore) Get(ctx context.Context, scope secret.Scope, orgID, name string) (*secret.Secret, error) {
	var sec secret.Secret
	var createdAt, rotatedAt string
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT scope, org_id, name, ciphertext, nonce, created_at, rotated_at
		FROM secrets WHERE scope = ? AND org_id = ? AND name = ?`, string(scope), orgID, name)
	if err := row.Scan((*string)(&sec.Scope), &sec.OrgID, &sec.Name, &sec.Ciphertext, &sec.Nonce, &createdAt, &rotatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, secret.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get secret %s: %w", name, err)
	}
	sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	sec.RotatedAt, _ = time.Parse(time.RFC3339Nano, rotatedAt)
	return &sec, nil
}

// Put upserts a secret, refreshing RotatedAt whenever the row already
// existed.
func (s *SecretStore) Put(ctx context.Context, sec secret.Secret) error {
	now := time.Now().UTC()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = now
	}
	sec.RotatedAt = now
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO secrets (scope, org_id, name, ciphertext, nonce, created_at, rotated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, org_id, name) DO UPDATE SET ciphertext = excluded.ciphertext, nonce = excluded.nonce, rotated_at = excluded.rotated_at
	`, string(sec.Scope), sec.OrgID, sec.Name, sec.Ciphertext, sec.Nonce, sec.CreatedAt.Format(time.RFC3339Nano), sec.RotatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: put secret %s: %w", sec.Name, err)
	}
	return nil
}

// Delete removes a secret. Grants are left behind deliberately: a Grant's
// lifetime is never extended or shortened by its secret's lifecycle per
// spec.md's ownership rules, so a dangling grant is a read-time no-op
// rather than this store's responsibility to cascade.
func (s *SecretStore) Delete(ctx context.Context, scope secret.Scope, orgID, name string) error {
	res, err := s.db.conn.ExecContext(ctx, "DELETE FROM secrets WHERE scope = ? AND org_id = ? AND name = ?", string(scope), orgID, name)
	if err != nil {
		return fmt.Errorf("sqlstore: delete secret %s: %w", name, err)
	}
	return requireRowAffected(res, secret.ErrNotFound)
}

// List returns every secret in a scope/org, without decrypting ciphertext.
func (s *SecretStore) List(ctx context.Context, scope secret.Scope, orgID string) ([]secret.Secret, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT scope, org_id, name, ciphertext, nonce, created_at, rotated_at
		FROM secrets WHERE scope = ? AND org_id = ? ORDER BY name`, string(scope), orgID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list secrets: %w", err)
	}
	defer rows.Close()

	var out []secret.Secret
	for rows.Next() {
		var sec secret.Secret
		var createdAt, rotatedAt string
		if err := rows.Scan((*string)(&sec.Scope), &sec.OrgID, &sec.Name, &sec.Ciphertext, &sec.Nonce, &createdAt, &rotatedAt); err != nil {
			return nil, err
		}
		sec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sec.RotatedAt, _ = time.Parse(time.RFC3339Nano, rotatedAt)
		out = append(out, sec)
	}
	return out, rows.Err()
}

// Grant inserts a Secret Grant, recording the component type parsed from
// the reference's own type segment (empty when the reference has none).
func (s *SecretStore) Grant(ctx context.Context, g secret.Grant) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO secret_grants (secret_name, component_ref, component_type, scope, org_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(secret_name, component_ref, scope, org_id) DO NOTHING
	`, g.SecretName, g.ComponentRef, componentTypeOf(g.ComponentRef), string(g.Scope), g.OrgID, g.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: grant secret %s to %s: %w", g.SecretName, g.ComponentRef, err)
	}
	return nil
}

// Revoke removes a Secret Grant.
func (s *SecretStore) Revoke(ctx context.Context, secretName, componentRef string, scope secret.Scope, orgID string) error {
	res, err := s.db.conn.ExecContext(ctx, `
		DELETE FROM secret_grants WHERE secret_name = ? AND component_ref = ? AND scope = ? AND org_id = ?`,
		secretName, componentRef, string(scope), orgID)
	if err != nil {
		return fmt.Errorf("sqlstore: revoke grant %s/%s: %w", secretName, componentRef, err)
	}
	return requireRowAffected(res, secret.ErrNotFound)
}

// ListGrantsForComponent returns every grant a component holds.
func (s *SecretStore) ListGrantsForComponent(ctx context.Context, componentRef string) ([]secret.Grant, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT secret_name, component_ref, scope, org_id, created_at
		FROM secret_grants WHERE component_ref = ?`, componentRef)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list grants for %s: %w", componentRef, err)
	}
	defer rows.Close()

	var out []secret.Grant
	for rows.Next() {
		var g secret.Grant
		var createdAt string
		if err := rows.Scan(&g.SecretName, &g.ComponentRef, (*string)(&g.Scope), &g.OrgID, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// IsGranted reports whether a component currently holds a grant for a
// secret.
func (s *SecretStore) IsGranted(ctx context.Context, secretName, componentRef string, scope secret.Scope, orgID string) (bool, error) {
	var exists int
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT 1 FROM secret_grants WHERE secret_name = ? AND component_ref = ? AND scope = ? AND org_id = ?`,
		secretName, componentRef, string(scope), orgID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: check grant %s/%s: %w", secretName, componentRef, err)
	}
	return true, nil
}
