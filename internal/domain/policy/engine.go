package policy

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Store when no policy row exists for a
// reference; callers fall back to Default rather than treating this as
// a failure.
var ErrNotFound = errors.New("policy: not found")

// Engine evaluates a request facet against a Host Policy: domain egress,
// HTTP method, tool re-entry, or storage path. Every consultation is both
// the enforcement decision and the audit record C10 persists.
type Engine interface {
	EvaluateDomain(ctx context.Context, p Policy, domain string) Decision
	EvaluateMethod(ctx context.Context, p Policy, method string) Decision
	EvaluateTool(ctx context.Context, p Policy, tool string) Decision
	EvaluateStoragePath(ctx context.Context, p Policy, path string) Decision
	// EvaluateExpression runs the policy's optional free-form CEL
	// expression, if any. A policy with no expression always allows.
	EvaluateExpression(ctx context.Context, p Policy, evalCtx EvaluationContext) (Decision, error)
}

// Store persists and retrieves Host Policies keyed by component reference.
type Store interface {
	Load(ctx context.Context, reference string) (*Policy, error)
	Save(ctx context.Context, p Policy) error
	Delete(ctx context.Context, reference string) error
}
