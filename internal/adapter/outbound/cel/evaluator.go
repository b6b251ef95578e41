// Package cel provides a CEL-based evaluator for a Host Policy's optional
// free-form expression (C5): the mechanical domain/method/tool/storage
// predicates live in internal/domain/policy; this package only compiles
// and runs the extra expression field when one is set.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/cyfrworks/cyfr/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for a policy expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout bounds a single CEL evaluation.
const evalTimeout = 2 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates policy expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates a new CEL evaluator bound to the policy environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: build policy environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled
// program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting rejects expressions with excessive bracket nesting.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is syntactically valid and safe to
// run: non-empty, within the length/nesting limits, and compiles.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("cel: invalid expression: %w", err)
	}
	return nil
}

// Evaluate runs a compiled program against evalCtx and returns a
// policy.Decision, bounded by evalTimeout.
func (e *Evaluator) Evaluate(prg cel.Program, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, Activation(evalCtx))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("cel: evaluation failed: %w", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return policy.Decision{}, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	if allowed {
		return policy.Allow("expression matched"), nil
	}
	return policy.Deny("expression did not match"), nil
}
