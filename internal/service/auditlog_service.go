package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/audittrail"
	"github.com/cyfrworks/cyfr/internal/domain/auditlog"
)

// AuditLogService implements C10: mcp_logs, policy_logs, and audit_events
// writes, plus the JSONL tamper-evidence trail for audit_events. Grounded
// on internal/service/audit_service.go's "never fail the caller" posture
// — every method here swallows its own store/trail errors into a log
// line rather than propagating them, per spec.md §3's "log writes never
// fail the request that produced them" rule, generalized from a single
// audit stream to the three parallel tables.
type AuditLogService struct {
	mcpLogs    auditlog.McpLogStore
	policyLogs auditlog.PolicyLogStore
	events     auditlog.AuditEventStore
	trail      *audittrail.Writer
	logger     *slog.Logger
}

// NewAuditLogService builds an AuditLogService. Any of mcpLogs,
// policyLogs, events, or trail may be nil in a deployment that only
// wires a subset of the three tables; each nil dependency's writes are
// skipped silently instead of panicking.
func NewAuditLogService(mcpLogs auditlog.McpLogStore, policyLogs auditlog.PolicyLogStore, events auditlog.AuditEventStore, trail *audittrail.Writer, logger *slog.Logger) *AuditLogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogService{mcpLogs: mcpLogs, policyLogs: policyLogs, events: events, trail: trail, logger: logger}
}

// LogMcpRequest inserts the pending row for a newly received MCP
// request. Returns the generated log id so a caller can later call
// UpdateMcpRequest once the request resolves.
func (s *AuditLogService) LogMcpRequest(ctx context.Context, requestID, sessionID, userID, method string, payload auditlog.McpLogPayload) string {
	if s.mcpLogs == nil {
		return ""
	}
	id := uuid.NewString()
	data, err := marshalPayload(payload)
	if err != nil {
		s.logger.Warn("auditlog: encode mcp_log payload", "request_id", requestID, "error", err)
		return ""
	}
	rec := auditlog.McpLogRecord{
		ID: id, RequestID: requestID, SessionID: sessionID, UserID: userID,
		Method: method, Payload: data, CreatedAt: time.Now(),
	}
	if err := s.mcpLogs.Insert(ctx, rec); err != nil {
		s.logger.Warn("auditlog: insert mcp_log", "request_id", requestID, "error", err)
	}
	return id
}

// UpdateMcpRequest rewrites the payload of an already-inserted mcp_logs
// row, e.g. to move it from pending to success/error with the final
// output or error text attached.
func (s *AuditLogService) UpdateMcpRequest(ctx context.Context, id string, payload auditlog.McpLogPayload) {
	if s.mcpLogs == nil || id == "" {
		return
	}
	data, err := marshalPayload(payload)
	if err != nil {
		s.logger.Warn("auditlog: encode mcp_log payload update", "id", id, "error", err)
		return
	}
	if err := s.mcpLogs.Update(ctx, id, data); err != nil {
		s.logger.Warn("auditlog: update mcp_log", "id", id, "error", err)
	}
}

// LogPolicyDecision records a single policy consultation.
func (s *AuditLogService) LogPolicyDecision(ctx context.Context, r auditlog.PolicyLogRecord) {
	if s.policyLogs == nil {
		return
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := s.policyLogs.Insert(ctx, r); err != nil {
		s.logger.Warn("auditlog: insert policy_log", "reference", r.Reference, "error", err)
	}
}

// LogAuditEvent records an audit event (login, logout, key mutation,
// policy change, secret mutation) to both the queryable audit_events
// table and the hash-chained JSONL trail.
func (s *AuditLogService) LogAuditEvent(ctx context.Context, r auditlog.AuditEventRecord) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if s.events != nil {
		if err := s.events.Insert(ctx, r); err != nil {
			s.logger.Warn("auditlog: insert audit_event", "event_type", r.EventType, "error", err)
		}
	}
	if s.trail != nil {
		if err := s.trail.Append(ctx, r); err != nil {
			s.logger.Warn("auditlog: append audit trail", "event_type", r.EventType, "error", err)
		}
	}
}

func marshalPayload(p auditlog.McpLogPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
