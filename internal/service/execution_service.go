package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/storage"
	"github.com/cyfrworks/cyfr/internal/domain/auditlog"
	"github.com/cyfrworks/cyfr/internal/domain/execution"
	"github.com/cyfrworks/cyfr/internal/domain/policy"
	"github.com/cyfrworks/cyfr/internal/domain/ref"
	"github.com/cyfrworks/cyfr/internal/domain/registry"
	"github.com/cyfrworks/cyfr/internal/domain/secret"
	outboundport "github.com/cyfrworks/cyfr/internal/port/outbound"
)

// ErrPolicyRequired is Stage C's fail-fast error: a catalyst with no
// stored policy and an empty allowed_domains list may not run at all.
var ErrPolicyRequired = errors.New("execution service: POLICY_REQUIRED")

// ResolutionKind is the discriminant of a run request's source reference,
// spec.md §4.9 Stage A's "{local: path}" / "{registry: ref}" / "{oci: ref}"
// / "{arca: path}" union.
type ResolutionKind string

const (
	ResolutionLocal    ResolutionKind = "local"
	ResolutionRegistry ResolutionKind = "registry"
	ResolutionOCI      ResolutionKind = "oci"
	ResolutionArca     ResolutionKind = "arca"
)

// SourceRef is the caller-supplied, not-yet-resolved handle to a
// component: Value is a canonical-layout-relative path for Local/Arca, or
// a parseable reference string for Registry/OCI.
type SourceRef struct {
	Kind  ResolutionKind
	Value string
}

// RunOpts carries everything run() needs beyond the source reference and
// input bytes.
type RunOpts struct {
	RequestID         string
	UserID            string
	OrgID             string
	ParentExecutionID string
}

// ToolCaller lets Stage F's mcp.tools.call host import re-enter the
// transport router with a child execution. Implemented by the tool
// router (C13); kept as a narrow interface here so execution_service
// never imports the router package directly.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, parentExecutionID string) (any, error)
}

// ExecutionService implements C9: run(), cancel(), and the host-import
// wiring that turns a policy decision into a live (or denied) sandbox
// capability. Grounded on internal/service/proxy_service.go's
// goroutine/cancellation/context discipline, generalized from proxying a
// single upstream connection to a one-shot sandboxed invocation per call.
type ExecutionService struct {
	execStore execution.Store
	registry  *RegistryService
	policies  *PolicyService
	secrets   *SecretService
	storage   *storage.Adapter
	engine    outboundport.Engine
	tools     ToolCaller
	audit     *AuditLogService
	fuelLimit uint64
}

// defaultFuelLimit matches config.ExecutionConfig's own fallback, so a
// service built without WithDefaultFuelLimit behaves the same as one
// wired to an unset config file.
const defaultFuelLimit = 100_000_000

// WithAuditLog attaches an AuditLogService so every Stage C policy
// consultation is recorded in policy_logs. Returns s for chaining; safe
// to leave unset (nil), in which case no policy_logs rows are written.
func (s *ExecutionService) WithAuditLog(audit *AuditLogService) *ExecutionService {
	s.audit = audit
	return s
}

// WithDefaultFuelLimit overrides the instruction budget passed to the
// engine as Limits.FuelLimit on every invocation, sourced from
// config.ExecutionConfig's DefaultFuelLimit. The wasmengine adapter does
// not meter instructions, so the budget does not stop a run. Returns s
// for chaining.
func (s *ExecutionService) WithDefaultFuelLimit(limit uint64) *ExecutionService {
	if limit > 0 {
		s.fuelLimit = limit
	}
	return s
}

// WithToolCaller attaches the tool router after construction, breaking the
// ExecutionService/Router construction cycle: the router's own NewRouter
// takes an *ExecutionService, so the router can only be built once exec
// already exists. Returns s for chaining.
func (s *ExecutionService) WithToolCaller(tools ToolCaller) *ExecutionService {
	s.tools = tools
	return s
}

// NewExecutionService builds an ExecutionService. tools may be nil until
// C13 is wired, in which case mcp.tools.call is always denied.
func NewExecutionService(execStore execution.Store, registrySvc *RegistryService, policySvc *PolicyService, secretSvc *SecretService, storageAdapter *storage.Adapter, engine outboundport.Engine, tools ToolCaller) *ExecutionService {
	return &ExecutionService{
		execStore: execStore,
		registry:  registrySvc,
		policies:  policySvc,
		secrets:   secretSvc,
		storage:   storageAdapter,
		engine:    engine,
		tools:     tools,
		fuelLimit: defaultFuelLimit,
	}
}

// resolved is what Stage A hands to every subsequent stage.
type resolved struct {
	reference ref.Reference
	wasmBytes []byte
	digest    string
	publisher string
}

// Run executes Stages A-G for a single invocation and returns the
// completed Execution Record.
func (s *ExecutionService) Run(ctx context.Context, src SourceRef, input []byte, opts RunOpts) (*execution.Record, error) {
	res, err := s.resolve(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("execution service: stage A resolve: %w", err)
	}

	if err := s.verify(ctx, src, res, opts.UserID); err != nil {
		return nil, fmt.Errorf("execution service: stage B verify: %w", err)
	}

	referenceStr := res.reference.String()
	componentType := policy.ComponentType(res.reference.Type)

	pol, stored, err := s.policies.LoadWithSource(ctx, referenceStr, componentType)
	if err != nil {
		return nil, fmt.Errorf("execution service: stage C load policy: %w", err)
	}
	hostPolicySnapshot, err := json.Marshal(pol)
	if err != nil {
		return nil, fmt.Errorf("execution service: snapshot policy: %w", err)
	}
	if componentType == policy.TypeCatalyst && !stored && len(pol.AllowedDomains) == 0 {
		if s.audit != nil {
			s.audit.LogPolicyDecision(ctx, auditlog.PolicyLogRecord{
				RequestID: opts.RequestID, Reference: referenceStr, ComponentType: string(componentType),
				Allowed: false, Reason: ErrPolicyRequired.Error(), Snapshot: string(hostPolicySnapshot),
			})
		}
		return nil, ErrPolicyRequired
	}

	grantedSecrets, err := s.secrets.GrantedSecrets(ctx, referenceStr)
	if err != nil {
		return nil, fmt.Errorf("execution service: stage D preload secrets: %w", err)
	}

	executionID := execution.NewID()
	startedAt := time.Now()
	inputHash := hashInput(input)

	rec := execution.Record{
		ID:                executionID,
		RequestID:         opts.RequestID,
		ParentExecutionID: opts.ParentExecutionID,
		Reference:         referenceStr,
		InputHash:         inputHash,
		UserID:            opts.UserID,
		ComponentType:     string(res.reference.Type),
		ComponentDigest:   res.digest,
		StartedAt:         startedAt,
		Status:            execution.StatusRunning,
		Input:             string(input),
		HostPolicy:        string(hostPolicySnapshot),
	}
	if err := s.execStore.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("execution service: stage E insert: %w", err)
	}
	if s.audit != nil {
		s.audit.LogPolicyDecision(ctx, auditlog.PolicyLogRecord{
			RequestID: opts.RequestID, ExecutionID: executionID, Reference: referenceStr,
			ComponentType: string(componentType), Allowed: true, Snapshot: string(hostPolicySnapshot),
		})
	}

	runResult, runErr := s.invoke(ctx, executionID, res, input, pol, grantedSecrets, opts)

	completedAt := time.Now()
	status := execution.StatusCompleted
	errMsg := ""
	output := ""
	wasiTrace := ""
	if runResult != nil {
		output = string(runResult.Output)
		wasiTrace = runResult.WASITrace
	}
	if runErr != nil {
		status = execution.StatusFailed
		errMsg = runErr.Error()
		if errors.Is(ctx.Err(), context.Canceled) {
			status = execution.StatusCancelled
		}
	}

	plaintexts := make([]string, 0, len(grantedSecrets))
	for _, v := range grantedSecrets {
		plaintexts = append(plaintexts, v)
	}
	maskedOutput := secret.Mask(output, plaintexts)
	if s, ok := maskedOutput.(string); ok {
		output = s
	}

	if err := s.execStore.Complete(ctx, executionID, status, output, wasiTrace, errMsg, completedAt); err != nil {
		return nil, fmt.Errorf("execution service: stage G finalize: %w", err)
	}

	final, err := s.execStore.Get(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("execution service: reload %s: %w", executionID, err)
	}
	return final, runErr
}

// Cancel implements Stage H: cancel(execution_id) for a running
// invocation. The running Run call observes this only if its ctx is
// derived from a cancellation source the caller also signals; this
// method's job is solely the record-state transition.
func (s *ExecutionService) Cancel(ctx context.Context, executionID string) error {
	return s.execStore.Cancel(ctx, executionID, time.Now())
}

// Get returns a single execution record, for the `execution.logs` tool
// action.
func (s *ExecutionService) Get(ctx context.Context, executionID string) (*execution.Record, error) {
	return s.execStore.Get(ctx, executionID)
}

// List returns a user's most recent execution records, for the
// `execution.list` tool action.
func (s *ExecutionService) List(ctx context.Context, userID string, limit int) ([]execution.Record, error) {
	return s.execStore.ListByUser(ctx, userID, limit)
}

func (s *ExecutionService) resolve(ctx context.Context, src SourceRef) (resolved, error) {
	switch src.Kind {
	case ResolutionLocal, ResolutionArca:
		typ, publisher, name, version, err := registry.InferFromPath(src.Value)
		if err != nil {
			return resolved{}, fmt.Errorf("path %q does not match the canonical layout: %w", src.Value, err)
		}
		segments := registry.CanonicalPath(typ, publisher, name, version)
		userID := ""
		if src.Kind == ResolutionArca {
			userID = publisher
		}
		wasmBytes, err := s.storage.Get(userID, segments...)
		if err != nil {
			return resolved{}, err
		}
		return resolved{
			reference: ref.Reference{Type: typ, Namespace: publisher, Name: name, Version: version},
			wasmBytes: wasmBytes,
			digest:    registry.Digest(wasmBytes),
			publisher: publisher,
		}, nil

	case ResolutionRegistry:
		reference, err := ref.Normalize(src.Value)
		if err != nil {
			return resolved{}, err
		}
		wasmBytes, digest, publisher, err := s.registry.ResolveBytes(ctx, reference)
		if err != nil {
			return resolved{}, err
		}
		return resolved{reference: reference, wasmBytes: wasmBytes, digest: digest, publisher: publisher}, nil

	case ResolutionOCI:
		return resolved{}, errors.New("oci resolution requires the optional OCI pull side-car, which is not configured")

	default:
		return resolved{}, fmt.Errorf("unknown resolution kind %q", src.Kind)
	}
}

// verify implements Stage B. Published (non-local, non-arca) artifacts
// would need a signature from a configured trust root; that trust-root
// integration is out of scope (see DESIGN.md), so registry-resolved
// components are accepted unconditionally here — the check that does run
// unconditionally is namespace ownership for local/agent-published
// components.
func (s *ExecutionService) verify(_ context.Context, src SourceRef, res resolved, userID string) error {
	if src.Kind == ResolutionLocal || src.Kind == ResolutionArca {
		if res.publisher != "local" && res.publisher != "agent" {
			return fmt.Errorf("namespace %q is not owned by the local user", res.publisher)
		}
		if src.Kind == ResolutionArca && res.publisher != userID && res.publisher != "agent" {
			return fmt.Errorf("user %q does not own arca namespace %q", userID, res.publisher)
		}
	}
	return nil
}

// invoke implements Stage F: derives sandbox limits from pol, wires the
// four host imports (each rechecking policy before doing anything), and
// calls the engine.
func (s *ExecutionService) invoke(ctx context.Context, executionID string, res resolved, input []byte, pol policy.Policy, grantedSecrets map[string]string, opts RunOpts) (*outboundport.RunResult, error) {
	limits := outboundport.Limits{
		FuelLimit:       s.fuelLimit,
		MaxMemoryBytes:  pol.MaxMemoryBytes,
		Timeout:         pol.Timeout,
		MaxRequestSize:  pol.MaxRequestSize,
		MaxResponseSize: pol.MaxResponseSize,
	}
	if int64(len(input)) > limits.MaxRequestSize && limits.MaxRequestSize > 0 {
		return nil, fmt.Errorf("input size %d exceeds max_request_size %d", len(input), limits.MaxRequestSize)
	}

	imports := outboundport.HostImports{
		HTTPRequest: s.hostHTTPRequest(ctx, executionID, res.reference, pol, opts),
		SecretsRead: s.hostSecretsRead(grantedSecrets),
		Storage:     s.hostStorage(opts.UserID, pol),
		ToolsCall:   s.hostToolsCall(executionID, res.reference, pol),
	}

	result, err := s.engine.Run(ctx, outboundport.RunRequest{
		ExecutionID: executionID,
		Digest:      res.digest,
		WASMBytes:   res.wasmBytes,
		Input:       input,
		Limits:      limits,
		Imports:     imports,
	})
	return &result, err
}

func (s *ExecutionService) hostHTTPRequest(ctx context.Context, executionID string, reference ref.Reference, pol policy.Policy, opts RunOpts) func(context.Context, outboundport.HTTPRequest) (outboundport.HTTPResponse, error) {
	return func(_ context.Context, req outboundport.HTTPRequest) (outboundport.HTTPResponse, error) {
		if decision := s.policies.EvaluateMethod(ctx, pol, req.Method); !decision.Allowed {
			return outboundport.HTTPResponse{}, fmt.Errorf("policy violation: %s", decision.Reason)
		}
		host := hostFromURL(req.URL)
		if decision := s.policies.EvaluateDomain(ctx, pol, host); !decision.Allowed {
			return outboundport.HTTPResponse{}, fmt.Errorf("policy violation: %s", decision.Reason)
		}
		return outboundport.HTTPResponse{}, fmt.Errorf("egress is not wired to a live transport in this deployment")
	}
}

func (s *ExecutionService) hostSecretsRead(granted map[string]string) func(context.Context, string) (string, error) {
	return func(_ context.Context, name string) (string, error) {
		value, ok := granted[name]
		if !ok {
			return "", fmt.Errorf("no grant (or secret not preloaded) for %q", name)
		}
		return value, nil
	}
}

func (s *ExecutionService) hostStorage(userID string, pol policy.Policy) func(context.Context, outboundport.StorageOp) ([]byte, error) {
	return func(ctx context.Context, op outboundport.StorageOp) ([]byte, error) {
		if decision := s.policies.EvaluateStoragePath(ctx, pol, op.Path); !decision.Allowed {
			return nil, fmt.Errorf("policy violation: %s", decision.Reason)
		}
		segments := splitStoragePath(op.Path)
		switch op.Op {
		case "read":
			return s.storage.Get(userID, segments...)
		case "write":
			return nil, s.storage.Put(userID, op.Data, segments...)
		case "list":
			entries, err := s.storage.List(userID, segments...)
			if err != nil {
				return nil, err
			}
			return json.Marshal(entries)
		case "delete":
			return nil, s.storage.Delete(userID, segments...)
		default:
			return nil, fmt.Errorf("unknown storage op %q", op.Op)
		}
	}
}

func (s *ExecutionService) hostToolsCall(parentExecutionID string, reference ref.Reference, pol policy.Policy) func(context.Context, outboundport.ToolCall) (any, error) {
	return func(ctx context.Context, call outboundport.ToolCall) (any, error) {
		if reference.Type != ref.TypeFormula {
			return nil, fmt.Errorf("mcp.tools.call is only available to formula components")
		}
		if decision := s.policies.EvaluateTool(ctx, pol, call.Name); !decision.Allowed {
			return nil, fmt.Errorf("policy violation: %s", decision.Reason)
		}
		if s.tools == nil {
			return nil, fmt.Errorf("tool router is not wired in this deployment")
		}
		return s.tools.CallTool(ctx, call.Name, call.Arguments, parentExecutionID)
	}
}

func hashInput(input []byte) string {
	sum := sha256.Sum256(input)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// hostFromURL extracts the authority component of a URL without pulling
// in net/url for a single field; kept deliberately permissive since the
// domain allow-list check that follows is the actual security boundary.
func hostFromURL(rawURL string) string {
	s := rawURL
	if i := indexOf(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	for i, c := range s {
		if c == '/' || c == '?' || c == '#' {
			s = s[:i]
			break
		}
	}
	return s
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func splitStoragePath(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}
