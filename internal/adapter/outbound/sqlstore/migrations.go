package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cyfrworks/cyfr/internal/domain/ref"
)

// Migration is one ordered schema-evolution step: a table creation, a
// column addition, or a data backfill. Steps run exactly once, tracked by
// name in schema_migrations.
type Migration struct {
	Name string
	Run  func(ctx context.Context, tx *sql.Tx) error
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("exec %q: %w", s, err)
		}
	}
	return nil
}

// migrations is the ordered list of every schema step this store has
// ever shipped. Later entries may depend on earlier ones having run;
// never reorder or remove a completed entry.
var migrations = []Migration{
	{
		Name: "0001_create_components",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS components (
					id             TEXT PRIMARY KEY,
					name           TEXT NOT NULL,
					version        TEXT NOT NULL,
					component_type TEXT NOT NULL,
					publisher      TEXT NOT NULL,
					org_id         TEXT NOT NULL DEFAULT '',
					digest         TEXT NOT NULL,
					size           INTEGER NOT NULL DEFAULT 0,
					exports        TEXT NOT NULL DEFAULT '[]',
					description    TEXT NOT NULL DEFAULT '',
					tags           TEXT NOT NULL DEFAULT '[]',
					category       TEXT NOT NULL DEFAULT '',
					license        TEXT NOT NULL DEFAULT '',
					source         TEXT NOT NULL DEFAULT 'published',
					created_at     TEXT NOT NULL,
					updated_at     TEXT NOT NULL,
					UNIQUE (publisher, name, version, component_type, org_id)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_components_lookup ON components(component_type, name, version)`,
			)
		},
	},
	{
		Name: "0002_create_policies",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS policies (
					reference      TEXT PRIMARY KEY,
					component_type TEXT NOT NULL DEFAULT '',
					data           TEXT NOT NULL,
					updated_at     TEXT NOT NULL
				)`,
			)
		},
	},
	{
		Name: "0003_create_secrets_and_grants",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS secrets (
					scope        TEXT NOT NULL,
					org_id       TEXT NOT NULL DEFAULT '',
					name         TEXT NOT NULL,
					ciphertext   BLOB NOT NULL,
					nonce        BLOB NOT NULL,
					created_at   TEXT NOT NULL,
					rotated_at   TEXT NOT NULL,
					PRIMARY KEY (scope, org_id, name)
				)`,
				`CREATE TABLE IF NOT EXISTS secret_grants (
					secret_name    TEXT NOT NULL,
					component_ref  TEXT NOT NULL,
					component_type TEXT NOT NULL DEFAULT '',
					scope          TEXT NOT NULL,
					org_id         TEXT NOT NULL DEFAULT '',
					created_at     TEXT NOT NULL,
					PRIMARY KEY (secret_name, component_ref, scope, org_id)
				)`,
			)
		},
	},
	{
		Name: "0004_create_component_configs",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS component_configs (
					component_ref  TEXT NOT NULL,
					component_type TEXT NOT NULL DEFAULT '',
					key            TEXT NOT NULL,
					value          TEXT NOT NULL,
					updated_at     TEXT NOT NULL,
					PRIMARY KEY (component_ref, key)
				)`,
			)
		},
	},
	{
		Name: "0005_create_sessions_and_revocations",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS sessions (
					id          TEXT PRIMARY KEY,
					user_id     TEXT NOT NULL,
					email       TEXT NOT NULL DEFAULT '',
					provider    TEXT NOT NULL DEFAULT '',
					permissions TEXT NOT NULL DEFAULT '[]',
					expires_at  TEXT NOT NULL,
					created_at  TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS revoked_sessions (
					id         TEXT PRIMARY KEY,
					revoked_at TEXT NOT NULL
				)`,
			)
		},
	},
	{
		Name: "0006_create_api_keys_and_permissions",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS api_keys (
					name         TEXT PRIMARY KEY,
					key_hash     TEXT NOT NULL UNIQUE,
					key_prefix   TEXT NOT NULL,
					type         TEXT NOT NULL,
					scope        TEXT NOT NULL DEFAULT '[]',
					rate_limit   TEXT NOT NULL DEFAULT '',
					ip_allowlist TEXT NOT NULL DEFAULT '[]',
					revoked      INTEGER NOT NULL DEFAULT 0,
					rotated_at   TEXT NOT NULL,
					created_at   TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS permissions (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					subject_id  TEXT NOT NULL,
					subject_type TEXT NOT NULL,
					token       TEXT NOT NULL,
					created_at  TEXT NOT NULL,
					UNIQUE (subject_id, subject_type, token)
				)`,
			)
		},
	},
	{
		Name: "0007_create_logs",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS mcp_logs (
					id           TEXT PRIMARY KEY,
					request_id   TEXT NOT NULL,
					session_id   TEXT NOT NULL DEFAULT '',
					user_id      TEXT NOT NULL DEFAULT '',
					method       TEXT NOT NULL,
					payload      TEXT NOT NULL DEFAULT '',
					created_at   TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS policy_logs (
					id             TEXT PRIMARY KEY,
					request_id     TEXT NOT NULL DEFAULT '',
					execution_id   TEXT NOT NULL DEFAULT '',
					reference      TEXT NOT NULL,
					component_type TEXT NOT NULL DEFAULT '',
					allowed        INTEGER NOT NULL,
					reason         TEXT NOT NULL DEFAULT '',
					snapshot       TEXT NOT NULL DEFAULT '',
					created_at     TEXT NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS audit_events (
					id         TEXT PRIMARY KEY,
					request_id TEXT NOT NULL DEFAULT '',
					session_id TEXT NOT NULL DEFAULT '',
					user_id    TEXT NOT NULL DEFAULT '',
					event_type TEXT NOT NULL,
					data       TEXT NOT NULL DEFAULT '',
					created_at TEXT NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_mcp_logs_request ON mcp_logs(request_id)`,
				`CREATE INDEX IF NOT EXISTS idx_policy_logs_reference ON policy_logs(reference)`,
				`CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id)`,
			)
		},
	},
	{
		Name: "0008_create_executions",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, `
				CREATE TABLE IF NOT EXISTS executions (
					id                  TEXT PRIMARY KEY,
					request_id          TEXT NOT NULL,
					parent_execution_id TEXT NOT NULL DEFAULT '',
					reference           TEXT NOT NULL,
					input_hash          TEXT NOT NULL DEFAULT '',
					user_id             TEXT NOT NULL DEFAULT '',
					component_type      TEXT NOT NULL DEFAULT '',
					component_digest    TEXT NOT NULL DEFAULT '',
					started_at          TEXT NOT NULL,
					completed_at        TEXT,
					duration_ms         INTEGER,
					status              TEXT NOT NULL,
					error_message       TEXT NOT NULL DEFAULT '',
					input               TEXT NOT NULL DEFAULT '',
					output              TEXT NOT NULL DEFAULT '',
					wasi_trace          TEXT NOT NULL DEFAULT '',
					host_policy         TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX IF NOT EXISTS idx_executions_user ON executions(user_id, started_at DESC)`,
			)
		},
	},
	// 0009 and 0010 are the two historical steps spec.md §4.3 calls out
	// by name: reference normalization, then type-prefix backfill.
	{
		Name: "0009_normalize_legacy_references",
		Run: migrateNormalizeReferences,
	},
	{
		Name: "0010_backfill_component_type_prefix",
		Run: migrateBackfillComponentType,
	},
}

// referenceColumns lists every (table, column) pair that stores a
// component reference string and must be rewritten to canonical form.
var referenceColumns = []struct{ table, column string }{
	{"policies", "reference"},
	{"policy_logs", "reference"},
	{"secret_grants", "component_ref"},
	{"component_configs", "component_ref"},
	{"executions", "reference"},
}

// migrateNormalizeReferences rewrites legacy reference forms
// (local:name:version, bare name:version) into canonical
// namespace.name:version across every table that stores one. Where the
// canonical form already has a row (a sibling published both ways), the
// legacy row is deleted rather than updated: DELETE-before-UPDATE, so the
// canonical row — never the migration — stays the source of truth for
// any data that already diverged between the two spellings.
func migrateNormalizeReferences(ctx context.Context, tx *sql.Tx) error {
	for _, rc := range referenceColumns {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT rowid, %s FROM %s", rc.column, rc.table))
		if err != nil {
			return fmt.Errorf("scan %s.%s: %w", rc.table, rc.column, err)
		}
		type pending struct {
			rowid   int64
			current string
			canon   string
		}
		var toRewrite []pending
		for rows.Next() {
			var rowid int64
			var current string
			if err := rows.Scan(&rowid, &current); err != nil {
				rows.Close()
				return err
			}
			parsed, err := ref.Parse(current)
			if err != nil {
				continue // unparseable legacy junk is left for an operator to clean up by hand
			}
			canon := parsed.String()
			if canon != current {
				toRewrite = append(toRewrite, pending{rowid, current, canon})
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, p := range toRewrite {
			var collides int
			q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND rowid != ?", rc.table, rc.column)
			if err := tx.QueryRowContext(ctx, q, p.canon, p.rowid).Scan(&collides); err != nil {
				return err
			}
			if collides > 0 {
				del := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", rc.table)
				if _, err := tx.ExecContext(ctx, del, p.rowid); err != nil {
					return err
				}
				continue
			}
			upd := fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", rc.table, rc.column)
			if _, err := tx.ExecContext(ctx, upd, p.canon, p.rowid); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrateBackfillComponentType fills component_type on policies and
// policy_logs from the reference's own type segment (now canonical after
// 0009), and on secret_grants/component_configs by joining to components
// on "name:version", taken from the reference after its first '.' (the
// publisher is not compared) — deleting rows whose reference matches no
// component, since those rows can never legitimately resolve a type again.
func migrateBackfillComponentType(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"policies", "policy_logs"} {
		col := "reference"
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT rowid, %s FROM %s WHERE component_type = ''", col, table))
		if err != nil {
			return err
		}
		type row struct {
			rowid int64
			typ   string
		}
		var updates []row
		for rows.Next() {
			var rowid int64
			var reference string
			if err := rows.Scan(&rowid, &reference); err != nil {
				rows.Close()
				return err
			}
			parsed, err := ref.Parse(reference)
			if err != nil || parsed.Type == "" {
				continue
			}
			updates = append(updates, row{rowid, string(parsed.Type)})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, u := range updates {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET component_type = ? WHERE rowid = ?", table), u.typ, u.rowid); err != nil {
				return err
			}
		}
	}

	for _, table := range []string{"secret_grants", "component_configs"} {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			SELECT t.rowid, t.component_ref, c.component_type
			FROM %s t
			LEFT JOIN components c ON c.name || ':' || c.version = (
				CASE WHEN instr(t.component_ref, '.') > 0
				THEN substr(t.component_ref, instr(t.component_ref, '.') + 1)
				ELSE t.component_ref END
			)
			WHERE t.component_type = ''`, table))
		if err != nil {
			return err
		}
		type row struct {
			rowid int64
			typ   sql.NullString
		}
		var rowsOut []row
		for rows.Next() {
			var rowid int64
			var compRef string
			var typ sql.NullString
			if err := rows.Scan(&rowid, &compRef, &typ); err != nil {
				rows.Close()
				return err
			}
			rowsOut = append(rowsOut, row{rowid, typ})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, r := range rowsOut {
			if !r.typ.Valid || r.typ.String == "" {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", table), r.rowid); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET component_type = ? WHERE rowid = ?", table), r.typ.String, r.rowid); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrate creates schema_migrations (if absent) and applies every
// migration not yet recorded there, each in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	return db.withWriteLock(func() error {
		if _, err := db.conn.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				name       TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		applied := make(map[string]bool)
		rows, err := db.conn.QueryContext(ctx, "SELECT name FROM schema_migrations")
		if err != nil {
			return err
		}
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			applied[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, m := range migrations {
			if applied[m.Name] {
				continue
			}
			tx, err := db.conn.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			if err := m.Run(ctx, tx); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %s: %w", m.Name, err)
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (name, applied_at) VALUES (?, datetime('now'))", m.Name); err != nil {
				tx.Rollback()
				return err
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration %s: %w", m.Name, err)
			}
		}
		return nil
	})
}
