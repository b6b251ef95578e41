// Package sqlstore is the Relational Store (C3): a single embedded
// modernc.org/sqlite database file holding every table enumerated in
// SPEC_FULL.md's data model. The teacher declares modernc.org/sqlite in
// its go.mod but never opens a connection; this package is where that
// dependency is finally exercised.
//
// Grounded on Mindburn-Labs-helm/core's pkg/store/receipt_store_sqlite.go
// for the database/sql-over-modernc.org/sqlite wiring (driver import,
// ExecContext-based schema creation, NullString-based scanning), expanded
// from one table to the full schema plus an ordered migration runner.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB with the single file-level write mutex SPEC_FULL.md
// calls for: modernc.org/sqlite's driver serializes writers internally,
// but batched multi-statement operations (migrations, the reference-
// normalization backfill) still need an explicit critical section.
type DB struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if absent) the sqlite file at path, applies
// pragmas suited to a single-writer embedded workload, and runs every
// pending migration.
func Open(ctx context.Context, path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// A single physical file backing many logical tables behaves best
	// under SQLite with one active writer; keep the pool at that shape
	// so busy-timeout, not connection contention, is what serializes
	// writers.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlstore: pragma %q: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is live, for the /health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// withWriteLock runs fn while holding the store's write mutex, for
// operations spanning more than one statement that must not interleave
// with a concurrent writer (migrations, cross-table backfills).
func (db *DB) withWriteLock(fn func() error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()
	return fn()
}
