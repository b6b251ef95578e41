package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/domain/execution"
)

// ExecutionStore implements execution.Store over the executions table.
type ExecutionStore struct {
	db *DB
}

// NewExecutionStore builds an ExecutionStore.
func NewExecutionStore(db *DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

var _ execution.Store = (*ExecutionStore)(nil)

func (s *ExecutionStore) Insert(ctx context.Context, r execution.Record) error {
	return s.db.withWriteLock(func() error {
		_, err := s.db.conn.ExecContext(ctx, `
			INSERT INTO executions (id, request_id, parent_execution_id, reference, input_hash,
				user_id, component_type, component_digest, started_at, status, input, host_policy)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RequestID, r.ParentExecutionID, r.Reference, r.InputHash,
			r.UserID, r.ComponentType, r.ComponentDigest, r.StartedAt.Format(timeLayout),
			string(execution.StatusRunning), r.Input, r.HostPolicy)
		return err
	})
}

func (s *ExecutionStore) Complete(ctx context.Context, id string, status execution.Status, output, wasiTrace, errMsg string, completedAt time.Time) error {
	return s.db.withWriteLock(func() error {
		row := s.db.conn.QueryRowContext(ctx, `SELECT started_at FROM executions WHERE id = ? AND status = ?`, id, string(execution.StatusRunning))
		var startedAtStr string
		if err := row.Scan(&startedAtStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return execution.ErrNotFound
			}
			return err
		}
		startedAt, err := time.Parse(timeLayout, startedAtStr)
		if err != nil {
			return fmt.Errorf("sqlstore: parse started_at for %s: %w", id, err)
		}
		durationMS := completedAt.Sub(startedAt).Milliseconds()

		res, err := s.db.conn.ExecContext(ctx, `
			UPDATE executions SET status=?, completed_at=?, duration_ms=?, output=?, wasi_trace=?, error_message=?
			WHERE id=? AND status=?`,
			string(status), completedAt.Format(timeLayout), durationMS, output, wasiTrace, errMsg,
			id, string(execution.StatusRunning))
		if err != nil {
			return err
		}
		return requireRowAffected(res, execution.ErrNotFound)
	})
}

func (s *ExecutionStore) Get(ctx context.Context, id string) (*execution.Record, error) {
	row := s.db.conn.QueryRowContext(ctx, executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, execution.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get execution %s: %w", id, err)
	}
	return &rec, nil
}

func (s *ExecutionStore) Cancel(ctx context.Context, id string, completedAt time.Time) error {
	return s.db.withWriteLock(func() error {
		var status string
		err := s.db.conn.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return execution.ErrNotFound
		}
		if err != nil {
			return err
		}
		if status != string(execution.StatusRunning) {
			return execution.ErrNotRunning
		}
		res, err := s.db.conn.ExecContext(ctx, `
			UPDATE executions SET status=?, completed_at=?, duration_ms=0, error_message='cancelled'
			WHERE id=? AND status=?`,
			string(execution.StatusCancelled), completedAt.Format(timeLayout), id, string(execution.StatusRunning))
		if err != nil {
			return err
		}
		return requireRowAffected(res, execution.ErrNotRunning)
	})
}

func (s *ExecutionStore) ListByUser(ctx context.Context, userID string, limit int) ([]execution.Record, error) {
	query := executionColumns + ` FROM executions WHERE user_id = ? ORDER BY started_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list executions for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []execution.Record
	for rows.Next() {
		rec, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan execution row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *ExecutionStore) PruneTail(ctx context.Context, userID string, keep int) (int, error) {
	var removed int
	err := s.db.withWriteLock(func() error {
		res, err := s.db.conn.ExecContext(ctx, `
			DELETE FROM executions WHERE user_id = ? AND id NOT IN (
				SELECT id FROM executions WHERE user_id = ? ORDER BY started_at DESC LIMIT ?
			)`, userID, userID, keep)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = int(n)
		return nil
	})
	return removed, err
}

const executionColumns = `SELECT id, request_id, parent_execution_id, reference, input_hash, user_id,
	component_type, component_digest, started_at, completed_at, duration_ms, status, error_message,
	input, output, wasi_trace, host_policy`

func scanExecution(scan func(dest ...any) error) (execution.Record, error) {
	var rec execution.Record
	var status, startedAt string
	var completedAt sql.NullString
	var durationMS sql.NullInt64

	err := scan(&rec.ID, &rec.RequestID, &rec.ParentExecutionID, &rec.Reference, &rec.InputHash, &rec.UserID,
		&rec.ComponentType, &rec.ComponentDigest, &startedAt, &completedAt, &durationMS, &status, &rec.ErrorMessage,
		&rec.Input, &rec.Output, &rec.WASITrace, &rec.HostPolicy)
	if err != nil {
		return execution.Record{}, err
	}
	rec.Status = execution.Status(status)
	rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(timeLayout, completedAt.String)
		rec.CompletedAt = &t
	}
	if durationMS.Valid {
		rec.DurationMS = &durationMS.Int64
	}
	return rec, nil
}
