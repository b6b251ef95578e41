package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/auditlog"
)

// McpLogStore persists mcp_logs rows. Grounded on PolicyStore's plain
// query shape, generalized to the insert-pending/update-in-place pattern
// a single request's lifecycle needs (one row per request, not one row
// per lifecycle stage).
type McpLogStore struct {
	db *DB
}

func NewMcpLogStore(db *DB) *McpLogStore { return &McpLogStore{db: db} }

var _ auditlog.McpLogStore = (*McpLogStore)(nil)

func (s *McpLogStore) Insert(ctx context.Context, r auditlog.McpLogRecord) error {
	return s.db.withWriteLock(func() error {
		_, err := s.db.conn.ExecContext(ctx, `
			INSERT INTO mcp_logs (id, request_id, session_id, user_id, method, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RequestID, r.SessionID, r.UserID, r.Method, r.Payload, r.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("sqlstore: insert mcp_log %s: %w", r.ID, err)
		}
		return nil
	})
}

func (s *McpLogStore) Update(ctx context.Context, id string, payload string) error {
	return s.db.withWriteLock(func() error {
		res, err := s.db.conn.ExecContext(ctx, "UPDATE mcp_logs SET payload = ? WHERE id = ?", payload, id)
		if err != nil {
			return fmt.Errorf("sqlstore: update mcp_log %s: %w", id, err)
		}
		return requireRowAffected(res, fmt.Errorf("sqlstore: mcp_log %s: %w", id, sql.ErrNoRows))
	})
}

func (s *McpLogStore) ListByRequest(ctx context.Context, requestID string) ([]auditlog.McpLogRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, request_id, session_id, user_id, method, payload, created_at
		FROM mcp_logs WHERE request_id = ? ORDER BY created_at ASC
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list mcp_logs for %s: %w", requestID, err)
	}
	defer rows.Close()

	var out []auditlog.McpLogRecord
	for rows.Next() {
		var r auditlog.McpLogRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.SessionID, &r.UserID, &r.Method, &r.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan mcp_log: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PolicyLogStore persists policy_logs rows: one per policy consultation.
type PolicyLogStore struct {
	db *DB
}

func NewPolicyLogStore(db *DB) *PolicyLogStore { return &PolicyLogStore{db: db} }

var _ auditlog.PolicyLogStore = (*PolicyLogStore)(nil)

func (s *PolicyLogStore) Insert(ctx context.Context, r auditlog.PolicyLogRecord) error {
	return s.db.withWriteLock(func() error {
		allowed := 0
		if r.Allowed {
			allowed = 1
		}
		_, err := s.db.conn.ExecContext(ctx, `
			INSERT INTO policy_logs (id, request_id, execution_id, reference, component_type, allowed, reason, snapshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RequestID, r.ExecutionID, r.Reference, r.ComponentType, allowed, r.Reason, r.Snapshot, r.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("sqlstore: insert policy_log %s: %w", r.ID, err)
		}
		return nil
	})
}

func (s *PolicyLogStore) ListByReference(ctx context.Context, reference string, limit int) ([]auditlog.PolicyLogRecord, error) {
	query := `
		SELECT id, request_id, execution_id, reference, component_type, allowed, reason, snapshot, created_at
		FROM policy_logs WHERE reference = ? ORDER BY created_at DESC`
	args := []any{reference}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list policy_logs for %s: %w", reference, err)
	}
	defer rows.Close()

	var out []auditlog.PolicyLogRecord
	for rows.Next() {
		var r auditlog.PolicyLogRecord
		var allowed int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.ExecutionID, &r.Reference, &r.ComponentType, &allowed, &r.Reason, &r.Snapshot, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan policy_log: %w", err)
		}
		r.Allowed = allowed != 0
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AuditEventStore persists audit_events rows. The JSONL tamper-evidence
// trail is a separate concern (adapter/outbound/audittrail); this store
// is only the queryable SQL side spec.md §3 names alongside it.
type AuditEventStore struct {
	db *DB
}

func NewAuditEventStore(db *DB) *AuditEventStore { return &AuditEventStore{db: db} }

var _ auditlog.AuditEventStore = (*AuditEventStore)(nil)

func (s *AuditEventStore) Insert(ctx context.Context, r auditlog.AuditEventRecord) error {
	return s.db.withWriteLock(func() error {
		_, err := s.db.conn.ExecContext(ctx, `
			INSERT INTO audit_events (id, request_id, session_id, user_id, event_type, data, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.RequestID, r.SessionID, r.UserID, r.EventType, r.Data, r.CreatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("sqlstore: insert audit_event %s: %w", r.ID, err)
		}
		return nil
	})
}

func (s *AuditEventStore) ListByUser(ctx context.Context, userID string, limit int) ([]auditlog.AuditEventRecord, error) {
	query := `
		SELECT id, request_id, session_id, user_id, event_type, data, created_at
		FROM audit_events WHERE user_id = ? ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list audit_events for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []auditlog.AuditEventRecord
	for rows.Next() {
		var r auditlog.AuditEventRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.SessionID, &r.UserID, &r.EventType, &r.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlstore: scan audit_event: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
