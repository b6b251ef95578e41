// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with request_id/tenant_id fields.
type LoggerKey struct{}

// RequestIDKey is the context key for the per-request correlation ID
// (req_<uuid7>), propagated into every log row.
type RequestIDKey struct{}

// SessionIDKey is the context key for the MCP session ID, when the caller
// authenticated via MCP-Session-Id rather than an API key.
type SessionIDKey struct{}

// IdentityKey is the context key for the resolved identity (user_id, org_id,
// permissions, auth method) attached by the authentication gate.
type IdentityKey struct{}

// ExecutionIDKey is the context key for the enclosing execution record's ID,
// set on the child context passed to mcp.tools.call re-entry so nested
// formula executions can record parent_execution_id.
type ExecutionIDKey struct{}
