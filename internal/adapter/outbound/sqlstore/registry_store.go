package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/ref"
	"github.com/cyfrworks/cyfr/internal/domain/registry"
)

// RegistryStore implements registry.Store over the components table.
type RegistryStore struct {
	db *DB
}

// NewRegistryStore builds a RegistryStore.
func NewRegistryStore(db *DB) *RegistryStore {
	return &RegistryStore{db: db}
}

var _ registry.Store = (*RegistryStore)(nil)

const timeLayout = time.RFC3339Nano

func scanRecord(scan func(dest ...any) error) (registry.Record, error) {
	var rec registry.Record
	var typ, publisher, name, version, exportsJSON, tagsJSON, sourceStr, createdAt, updatedAt string
	err := scan(&rec.ID, &typ, &publisher, &name, &version, &rec.OrgID, &rec.Digest, &rec.Size,
		&exportsJSON, &rec.Description, &tagsJSON, &rec.Category, &rec.License, &sourceStr,
		&createdAt, &updatedAt)
	if err != nil {
		return registry.Record{}, err
	}
	rec.Reference = ref.Reference{Type: ref.Type(typ), Namespace: publisher, Name: name, Version: version}
	rec.Publisher = publisher
	rec.Source = registry.Source(sourceStr)
	_ = json.Unmarshal([]byte(exportsJSON), &rec.Exports)
	_ = json.Unmarshal([]byte(tagsJSON), &rec.Tags)
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return rec, nil
}

const recordColumns = `id, component_type, publisher, name, version, org_id, digest, size,
	exports, description, tags, category, license, source, created_at, updated_at`

// Upsert inserts or updates r. allowOverwrite=false refuses with
// registry.ErrAlreadyExists when a row for the same
// (name,version,type,publisher,org_id) already exists.
func (s *RegistryStore) Upsert(ctx context.Context, r registry.Record, allowOverwrite bool) error {
	exportsJSON, err := json.Marshal(r.Exports)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal exports: %w", err)
	}
	tagsJSON, err := json.Marshal(r.Tags)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal tags: %w", err)
	}

	return s.db.withWriteLock(func() error {
		var existingID string
		err := s.db.conn.QueryRowContext(ctx,
			`SELECT id FROM components WHERE publisher = ? AND name = ? AND version = ? AND component_type = ? AND org_id = ?`,
			r.Publisher, r.Reference.Name, r.Reference.Version, string(r.Reference.Type), r.OrgID,
		).Scan(&existingID)
		switch {
		case err == nil:
			if !allowOverwrite {
				return registry.ErrAlreadyExists
			}
			_, err := s.db.conn.ExecContext(ctx, `
				UPDATE components SET digest=?, size=?, exports=?, description=?, tags=?,
					category=?, license=?, source=?, updated_at=?
				WHERE id=?`,
				r.Digest, r.Size, string(exportsJSON), r.Description, string(tagsJSON),
				r.Category, r.License, string(r.Source), r.UpdatedAt.Format(timeLayout), existingID)
			return err
		case errors.Is(err, sql.ErrNoRows):
			_, err := s.db.conn.ExecContext(ctx, `
				INSERT INTO components (`+recordColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, string(r.Reference.Type), r.Publisher, r.Reference.Name, r.Reference.Version, r.OrgID,
				r.Digest, r.Size, string(exportsJSON), r.Description, string(tagsJSON),
				r.Category, r.License, string(r.Source),
				r.CreatedAt.Format(timeLayout), r.UpdatedAt.Format(timeLayout))
			return err
		default:
			return err
		}
	})
}

// Get returns the record for a fully-typed reference.
func (s *RegistryStore) Get(ctx context.Context, reference ref.Reference) (*registry.Record, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM components
		WHERE component_type=? AND publisher=? AND name=? AND version=?`,
		string(reference.Type), reference.Namespace, reference.Name, reference.Version)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get component %s: %w", reference, err)
	}
	return &rec, nil
}

// GetByDigest returns the record whose digest matches.
func (s *RegistryStore) GetByDigest(ctx context.Context, digest string) (*registry.Record, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM components WHERE digest=?`, digest)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get component by digest %s: %w", digest, err)
	}
	return &rec, nil
}

// Search filters across type/category/tags/license/free-text, bounded by
// f.Limit (0 means unbounded).
func (s *RegistryStore) Search(ctx context.Context, f registry.Filter) ([]registry.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM components WHERE 1=1`
	var args []any
	if f.Type != "" {
		query += ` AND component_type = ?`
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		query += ` AND category = ?`
		args = append(args, f.Category)
	}
	if f.License != "" {
		query += ` AND license = ?`
		args = append(args, f.License)
	}
	if f.Query != "" {
		query += ` AND (name LIKE ? OR description LIKE ?)`
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: search components: %w", err)
	}
	defer rows.Close()

	var out []registry.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan component row: %w", err)
		}
		if len(f.Tags) > 0 && !hasAllTags(rec.Tags, f.Tags) {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// PruneStale deletes every filesystem-sourced row whose "name/version" key
// is absent from discovered, returning the number of rows removed.
func (s *RegistryStore) PruneStale(ctx context.Context, discovered map[string]bool) (int, error) {
	var removed int
	err := s.db.withWriteLock(func() error {
		rows, err := s.db.conn.QueryContext(ctx, `SELECT id, name, version FROM components WHERE source = ?`, string(registry.SourceFilesystem))
		if err != nil {
			return err
		}
		type row struct{ id, name, version string }
		var stale []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.name, &r.version); err != nil {
				rows.Close()
				return err
			}
			if !discovered[r.name+"/"+r.version] {
				stale = append(stale, r)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, r := range stale {
			if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, r.id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Delete removes the row for reference.
func (s *RegistryStore) Delete(ctx context.Context, reference ref.Reference) error {
	return s.db.withWriteLock(func() error {
		res, err := s.db.conn.ExecContext(ctx, `DELETE FROM components
			WHERE component_type=? AND publisher=? AND name=? AND version=?`,
			string(reference.Type), reference.Namespace, reference.Name, reference.Version)
		if err != nil {
			return err
		}
		return requireRowAffected(res, registry.ErrNotFound)
	})
}
