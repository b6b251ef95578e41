package policy

import (
	"context"
	"time"
)

// EvaluationContext is the set of facts a single policy consultation has in
// hand: which component is executing, what it is trying to do, and against
// what destination.
type EvaluationContext struct {
	Reference     string
	ComponentType string
	UserID        string
	RequestID     string
	ExecutionID   string
	RequestTime   time.Time

	// Tool re-entry (MCP tool call from inside a sandboxed component).
	ToolName  string
	Arguments map[string]any

	// HTTP egress.
	DestDomain string
	DestMethod string

	// Storage re-entry.
	StoragePath string
}

// policyDecisionKey is the context key type for policy decisions.
type policyDecisionKey struct{}

// WithDecision stores a policy decision in the context, where
// DecisionFromContext reads it back.
func WithDecision(ctx context.Context, d *Decision) context.Context {
	return context.WithValue(ctx, policyDecisionKey{}, d)
}

// DecisionFromContext retrieves a policy decision from the context.
// Returns nil if no decision is stored.
func DecisionFromContext(ctx context.Context) *Decision {
	d, _ := ctx.Value(policyDecisionKey{}).(*Decision)
	return d
}
