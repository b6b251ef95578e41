package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/compconfig"
)

// ComponentConfigStore persists Component Config Entries. It implements
// compconfig.Store.
type ComponentConfigStore struct {
	db *DB
}

// NewComponentConfigStore builds a ComponentConfigStore over db.
func NewComponentConfigStore(db *DB) *ComponentConfigStore {
	return &ComponentConfigStore{db: db}
}

var _ compconfig.Store = (*ComponentConfigStore)(nil)

// Get returns the config entry for (componentRef, key).
func (s *ComponentConfigStore) Get(ctx context.Context, componentRef, key string) (*compconfig.Entry, error) {
	var e compconfig.Entry
	row := s.db.conn.QueryRowContext(ctx, `
		SELECT component_ref, key, value FROM component_configs WHERE component_ref = ? AND key = ?`, componentRef, key)
	if err := row.Scan(&e.ComponentRef, &e.Key, &e.Value); err != nil {
		if err == sql.ErrNoRows {
			return nil, compconfig.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get component config %s/%s: %w", componentRef, key, err)
	}
	return &e, nil
}

// Set upserts a config entry.
func (s *ComponentConfigStore) Set(ctx context.Context, e compconfig.Entry) error {
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO component_configs (component_ref, component_type, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(component_ref, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, e.ComponentRef, componentTypeOf(e.ComponentRef), e.Key, e.Value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlstore: set component config %s/%s: %w", e.ComponentRef, e.Key, err)
	}
	return nil
}

// Delete removes a config entry.
func (s *ComponentConfigStore) Delete(ctx context.Context, componentRef, key string) error {
	res, err := s.db.conn.ExecContext(ctx, "DELETE FROM component_configs WHERE component_ref = ? AND key = ?", componentRef, key)
	if err != nil {
		return fmt.Errorf("sqlstore: delete component config %s/%s: %w", componentRef, key, err)
	}
	return requireRowAffected(res, compconfig.ErrNotFound)
}

// List returns every config entry for a component.
func (s *ComponentConfigStore) List(ctx context.Context, componentRef string) ([]compconfig.Entry, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT component_ref, key, value FROM component_configs WHERE component_ref = ? ORDER BY key`, componentRef)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list component configs for %s: %w", componentRef, err)
	}
	defer rows.Close()

	var out []compconfig.Entry
	for rows.Next() {
		var e compconfig.Entry
		if err := rows.Scan(&e.ComponentRef, &e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
