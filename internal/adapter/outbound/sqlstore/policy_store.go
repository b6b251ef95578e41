package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/policy"
	"github.com/cyfrworks/cyfr/internal/domain/ref"
)

// PolicyStore persists Host Policies in the policies table, keyed by
// canonical reference string. It implements policy.Store.
type PolicyStore struct {
	db *DB
}

// NewPolicyStore builds a PolicyStore over db.
func NewPolicyStore(db *DB) *PolicyStore {
	return &PolicyStore{db: db}
}

var _ policy.Store = (*PolicyStore)(nil)

func componentTypeOf(reference string) string {
	if r, err := ref.Parse(reference); err == nil {
		return string(r.Type)
	}
	return ""
}

// Load fetches the policy stored for reference, or policy.ErrNotFound
// when no row exists, for a caller to fall back to policy.Default.
func (s *PolicyStore) Load(ctx context.Context, reference string) (*policy.Policy, error) {
	var data string
	row := s.db.conn.QueryRowContext(ctx, "SELECT data FROM policies WHERE reference = ?", reference)
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, policy.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: load policy %s: %w", reference, err)
	}
	var p policy.Policy
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("sqlstore: decode policy %s: %w", reference, err)
	}
	return &p, nil
}

// Save upserts p, keyed by p.Reference.
func (s *PolicyStore) Save(ctx context.Context, p policy.Policy) error {
	p.UpdatedAt = time.Now()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sqlstore: encode policy %s: %w", p.Reference, err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO policies (reference, component_type, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(reference) DO UPDATE SET component_type = excluded.component_type, data = excluded.data, updated_at = excluded.updated_at
	`, p.Reference, componentTypeOf(p.Reference), string(data), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: save policy %s: %w", p.Reference, err)
	}
	return nil
}

// Delete removes the stored policy for reference, if any.
func (s *PolicyStore) Delete(ctx context.Context, reference string) error {
	_, err := s.db.conn.ExecContext(ctx, "DELETE FROM policies WHERE reference = ?", reference)
	if err != nil {
		return fmt.Errorf("sqlstore: delete policy %s: %w", reference, err)
	}
	return nil
}
