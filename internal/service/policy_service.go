// Package service contains application services that orchestrate domain
// components.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	celeval "github.com/cyfrworks/cyfr/internal/adapter/outbound/cel"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/cache"
	"github.com/cyfrworks/cyfr/internal/domain/policy"
)

// compiledExpr is a policy's free-form expression, compiled once and
// cached until the policy is rewritten.
type compiledExpr struct {
	source  string
	program cel.Program
}

// PolicyService implements policy.Engine: mechanical domain/method/tool/
// storage-path predicates are evaluated directly against the policy
// (internal/domain/policy/predicates.go); the optional free-form
// expression is compiled once and cached by reference, invalidated
// whenever the owning policy is next saved.
//
// Grounded on internal/service/policy_service.go's compiled-rule-cache
// shape, narrowed from a multi-rule RBAC ruleset with an LRU decision
// cache to a single compiled expression per reference (one Host Policy
// per component, not many competing rules), since the mechanical
// predicates below already run in O(1) and need no caching of their own.
type PolicyService struct {
	store     policy.Store
	evaluator *celeval.Evaluator
	cache     *cache.Cache // hot-read cache for loaded policies (C2)

	mu     sync.Mutex
	exprs  map[string]compiledExpr // reference -> compiled expression
	logger *slog.Logger
}

// NewPolicyService builds a PolicyService backed by store for persistence
// and c for policy hot-reads.
func NewPolicyService(store policy.Store, c *cache.Cache, logger *slog.Logger) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("policy service: build evaluator: %w", err)
	}
	return &PolicyService{
		store:     store,
		evaluator: evaluator,
		cache:     c,
		exprs:     make(map[string]compiledExpr),
		logger:    logger,
	}, nil
}

// Load resolves the Host Policy for reference: cache first, then the
// relational store, falling back to the type-aware default when no row
// exists (spec C5 "Load"). componentType is used only for the default.
func (s *PolicyService) Load(ctx context.Context, reference string, componentType policy.ComponentType) (policy.Policy, error) {
	key := cache.PolicyKey(reference)
	if v, ok := s.cache.Get(key); ok {
		if p, ok := v.(policy.Policy); ok {
			return p, nil
		}
	}

	p, err := s.store.Load(ctx, reference)
	if errors.Is(err, policy.ErrNotFound) {
		def := policy.Default(reference, componentType)
		s.cache.Put(key, def)
		return def, nil
	}
	if err != nil {
		return policy.Policy{}, fmt.Errorf("policy service: load %s: %w", reference, err)
	}
	s.cache.Put(key, *p)
	return *p, nil
}

// LoadWithSource is Load plus a stored flag distinguishing a real row from
// the type-aware default, for callers that must behave differently when
// no policy was ever configured (C9 Stage C's POLICY_REQUIRED check).
func (s *PolicyService) LoadWithSource(ctx context.Context, reference string, componentType policy.ComponentType) (p policy.Policy, stored bool, err error) {
	key := cache.PolicyKey(reference)
	if v, ok := s.cache.Get(key); ok {
		if cp, ok := v.(policy.Policy); ok {
			return cp, !cp.UpdatedAt.IsZero(), nil
		}
	}

	loaded, err := s.store.Load(ctx, reference)
	if errors.Is(err, policy.ErrNotFound) {
		def := policy.Default(reference, componentType)
		s.cache.Put(key, def)
		return def, false, nil
	}
	if err != nil {
		return policy.Policy{}, false, fmt.Errorf("policy service: load %s: %w", reference, err)
	}
	s.cache.Put(key, *loaded)
	return *loaded, true, nil
}

// Save persists p, invalidates the cached entry and any compiled
// expression, and re-validates the expression (if any) so a bad
// expression never silently becomes unenforceable.
func (s *PolicyService) Save(ctx context.Context, p policy.Policy) error {
	if p.Expression != "" {
		if err := s.evaluator.ValidateExpression(p.Expression); err != nil {
			return fmt.Errorf("policy service: invalid expression for %s: %w", p.Reference, err)
		}
	}
	if err := s.store.Save(ctx, p); err != nil {
		return fmt.Errorf("policy service: save %s: %w", p.Reference, err)
	}
	s.cache.Invalidate(cache.PolicyKey(p.Reference))
	s.mu.Lock()
	delete(s.exprs, p.Reference)
	s.mu.Unlock()
	return nil
}

// Delete removes the policy for reference, invalidating cache and any
// compiled expression.
func (s *PolicyService) Delete(ctx context.Context, reference string) error {
	if err := s.store.Delete(ctx, reference); err != nil {
		return fmt.Errorf("policy service: delete %s: %w", reference, err)
	}
	s.cache.Invalidate(cache.PolicyKey(reference))
	s.mu.Lock()
	delete(s.exprs, reference)
	s.mu.Unlock()
	return nil
}

func (s *PolicyService) EvaluateDomain(_ context.Context, p policy.Policy, domain string) policy.Decision {
	if policy.DomainAllowed(p.AllowedDomains, domain) {
		return policy.Allow(fmt.Sprintf("domain %q matches allow-list", domain))
	}
	return policy.Deny(fmt.Sprintf("domain %q not in allow-list", domain))
}

func (s *PolicyService) EvaluateMethod(_ context.Context, p policy.Policy, method string) policy.Decision {
	if policy.MethodAllowed(p.AllowedMethods, method) {
		return policy.Allow(fmt.Sprintf("method %q allowed", method))
	}
	return policy.Deny(fmt.Sprintf("method %q not allowed", method))
}

func (s *PolicyService) EvaluateTool(_ context.Context, p policy.Policy, tool string) policy.Decision {
	if policy.ToolAllowed(p.AllowedTools, tool) {
		return policy.Allow(fmt.Sprintf("tool %q matches allow-list", tool))
	}
	return policy.Deny(fmt.Sprintf("tool %q not in allow-list", tool))
}

func (s *PolicyService) EvaluateStoragePath(_ context.Context, p policy.Policy, path string) policy.Decision {
	if policy.StoragePathAllowed(p.AllowedStoragePaths, path) {
		return policy.Allow(fmt.Sprintf("storage path %q allowed", path))
	}
	return policy.Deny(fmt.Sprintf("storage path %q not in allow-list", path))
}

// EvaluateExpression runs p's optional free-form expression, compiling
// and caching it on first use. A policy with no expression always allows.
func (s *PolicyService) EvaluateExpression(_ context.Context, p policy.Policy, evalCtx policy.EvaluationContext) (policy.Decision, error) {
	if p.Expression == "" {
		return policy.Allow("no expression configured"), nil
	}

	prg, err := s.compiledProgram(p)
	if err != nil {
		return policy.Decision{}, err
	}
	return s.evaluator.Evaluate(prg, evalCtx)
}

func (s *PolicyService) compiledProgram(p policy.Policy) (cel.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ce, ok := s.exprs[p.Reference]; ok && ce.source == p.Expression {
		return ce.program, nil
	}
	prg, err := s.evaluator.Compile(p.Expression)
	if err != nil {
		return nil, fmt.Errorf("policy service: compile expression for %s: %w", p.Reference, err)
	}
	s.exprs[p.Reference] = compiledExpr{source: p.Expression, program: prg}
	return prg, nil
}

var _ policy.Engine = (*PolicyService)(nil)
