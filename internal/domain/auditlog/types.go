// Package auditlog holds the three parallel log tables spec.md §3 names:
// mcp_logs (one row per MCP request), policy_logs (one row per policy
// consultation), and audit_events (login/logout/key/policy/secret
// mutations, additionally tamper-evident via a JSONL trail).
package auditlog

import (
	"context"
	"time"
)

// McpStatus is the lifecycle state of a single MCP request.
type McpStatus string

const (
	McpStatusPending McpStatus = "pending"
	McpStatusSuccess McpStatus = "success"
	McpStatusError   McpStatus = "error"
)

// McpLogRecord is one row in mcp_logs. Method is kept as its own column
// (it is the one field every caller filters by); everything else that
// varies per request-lifecycle-stage lives in Payload as a JSON-encoded
// McpLogPayload, so a single row can be inserted pending and later
// updated in place as the request resolves.
type McpLogRecord struct {
	ID        string
	RequestID string
	SessionID string
	UserID    string
	Method    string
	Payload   string
	CreatedAt time.Time
}

// McpLogPayload is the decoded shape of McpLogRecord.Payload.
type McpLogPayload struct {
	Tool       string `json:"tool,omitempty"`
	Action     string `json:"action,omitempty"`
	Status     McpStatus `json:"status"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// McpLogStore persists and queries mcp_logs.
type McpLogStore interface {
	Insert(ctx context.Context, r McpLogRecord) error
	Update(ctx context.Context, id string, payload string) error
	ListByRequest(ctx context.Context, requestID string) ([]McpLogRecord, error)
}

// PolicyLogRecord is one row in policy_logs: a single policy consultation.
type PolicyLogRecord struct {
	ID            string
	RequestID     string
	ExecutionID   string
	Reference     string
	ComponentType string
	Allowed       bool
	Reason        string
	Snapshot      string
	CreatedAt     time.Time
}

// PolicyLogStore persists and queries policy_logs.
type PolicyLogStore interface {
	Insert(ctx context.Context, r PolicyLogRecord) error
	ListByReference(ctx context.Context, reference string, limit int) ([]PolicyLogRecord, error)
}

// AuditEventRecord is one row in audit_events: login, logout, key
// creation/rotation/revocation, policy change, secret mutation.
type AuditEventRecord struct {
	ID        string
	RequestID string
	SessionID string
	UserID    string
	EventType string
	Data      string
	CreatedAt time.Time
}

// AuditEventStore persists and queries audit_events.
type AuditEventStore interface {
	Insert(ctx context.Context, r AuditEventRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]AuditEventRecord, error)
}
