// Package execution models the Execution Record entity (C9): the
// audit-grade row every sandbox invocation writes before, and mutates
// exactly once after, running a component.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by a Store when no record matches.
var ErrNotFound = errors.New("execution: not found")

// ErrNotRunning is returned by Cancel when the targeted record is already
// in a terminal state.
var ErrNotRunning = errors.New("execution: not running")

// Status is the closed sum of lifecycle states an Execution Record passes
// through. A record starts in StatusRunning and is mutated exactly once
// into one of the three terminal states.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether s is one of the three end states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// NewID mints an execution id in the "exec_<uuid7>" shape spec.md §3 names,
// using a time-ordered uuid so ids sort naturally alongside started_at.
func NewID() string {
	return "exec_" + uuid.Must(uuid.NewV7()).String()
}

// Record is the Execution Record. StartedAt is set on insert; CompletedAt
// and DurationMS are non-nil iff Status.IsTerminal(). HostPolicy is a
// snapshot taken at Stage C, before invocation, so it reflects the policy
// actually enforced even if the stored policy changes later.
type Record struct {
	ID                string
	RequestID         string
	ParentExecutionID string // set when this run was a formula's mcp.tools.call re-entry
	Reference         string
	InputHash         string
	UserID            string
	ComponentType     string
	ComponentDigest   string
	StartedAt         time.Time
	CompletedAt       *time.Time
	DurationMS        *int64
	Status            Status
	ErrorMessage      string
	Input             string
	Output            string
	WASITrace         string
	HostPolicy        string // JSON snapshot, jcs-canonicalized before hashing/audit
}

// Store is the outbound port for Execution Record persistence.
type Store interface {
	// Insert writes r in StatusRunning. Called at Stage E, before the
	// sandbox is invoked, so a crash mid-run still leaves a forensic row.
	Insert(ctx context.Context, r Record) error

	// Complete transitions id into a terminal state (Stage G). Returns
	// ErrNotFound if no such row exists.
	Complete(ctx context.Context, id string, status Status, output, wasiTrace, errMsg string, completedAt time.Time) error

	// Get returns a single record by id.
	Get(ctx context.Context, id string) (*Record, error)

	// Cancel transitions id from running to cancelled (Stage H). Returns
	// ErrNotRunning if the row is already terminal, ErrNotFound if absent.
	Cancel(ctx context.Context, id string, completedAt time.Time) error

	// ListByUser returns a user's most recent records, newest first,
	// bounded by limit (0 means unbounded).
	ListByUser(ctx context.Context, userID string, limit int) ([]Record, error)

	// PruneTail deletes every record for userID past the newest keep rows,
	// implementing the retention policy named in spec.md §3.
	PruneTail(ctx context.Context, userID string, keep int) (int, error)
}
