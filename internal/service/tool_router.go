package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cyfrworks/cyfr/internal/adapter/outbound/storage"
	"github.com/cyfrworks/cyfr/internal/domain/auth"
	"github.com/cyfrworks/cyfr/internal/domain/ref"
	"github.com/cyfrworks/cyfr/internal/domain/registry"
	"github.com/cyfrworks/cyfr/internal/domain/secret"
)

// ErrUnknownTool is returned by Router.Handle for a tool name with no
// registered handler.
var ErrUnknownTool = errors.New("tool router: unknown tool")

// ErrUnknownAction is returned by Router.Handle for a known tool with an
// action not in its dispatch table.
var ErrUnknownAction = errors.New("tool router: unknown action")

// ErrNotImplemented marks a tool action named in spec.md's surface that
// has no backing component yet (build/guide/permission — see DESIGN.md).
var ErrNotImplemented = errors.New("tool router: not implemented")

// RequestContext is the per-call identity the transport (C11) extracts
// from the auth gate, threaded into every handler so policy/ownership
// checks can be made without a second lookup.
type RequestContext struct {
	UserID        string
	OrgID         string
	AuthMethod    string // "api_key" or "session"
	Scope         []string
	RequestID     string
	ExecutionID   string // set for mcp.tools.call re-entry
}

// ToolHandler dispatches every action of one MCP tool.
type ToolHandler func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error)

// Router implements C13: tool_name -> handler, handlers dispatching on
// arguments.action. Grounded on the *shape* of
// internal/adapter/inbound/admin/*_handlers.go (one file per resource)
// but re-exposed as MCP tool actions instead of REST routes.
type Router struct {
	handlers map[string]ToolHandler
}

// NewRouter wires every tool this server exposes to the service that
// backs it. Any service left nil degrades its tool to ErrNotImplemented
// responses rather than panicking.
func NewRouter(exec *ExecutionService, registrySvc *RegistryService, storageAdapter *storage.Adapter, secrets *SecretService, authSvc *AuthService, auditSvc *AuditLogService) *Router {
	r := &Router{handlers: make(map[string]ToolHandler)}
	r.handlers["execution"] = executionHandler(exec)
	r.handlers["component"] = componentHandler(registrySvc)
	r.handlers["storage"] = storageHandler(storageAdapter, exec)
	r.handlers["secret"] = secretHandler(secrets)
	r.handlers["key"] = keyHandler(authSvc)
	r.handlers["session"] = sessionHandler(authSvc)
	r.handlers["audit"] = auditHandler(auditSvc)
	r.handlers["policy_log"] = policyLogHandler(auditSvc)
	r.handlers["permission"] = notImplementedHandler("permission is folded into api-key scope and ip-allowlist (C7); no separate grant/revoke relation exists yet")
	r.handlers["build"] = notImplementedHandler("no WASM compiler toolchain exists in the teacher or pack to ground a build handler on")
	r.handlers["guide"] = notImplementedHandler("no guide/readme document store exists in the teacher or pack to ground a guide handler on")
	return r
}

// Handle dispatches one (tool, action) pair.
func (r *Router) Handle(ctx context.Context, rc RequestContext, tool, action string, args map[string]any) (any, error) {
	h, ok := r.handlers[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return h(ctx, rc, action, args)
}

// CallTool implements ExecutionService.ToolCaller: a formula's
// mcp.tools.call host import re-enters the router with a child context
// whose ExecutionID (parent) is set.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any, parentExecutionID string) (any, error) {
	action, _ := args["action"].(string)
	rc := RequestContext{ExecutionID: parentExecutionID}
	return r.Handle(ctx, rc, name, action, args)
}

func notImplementedHandler(reason string) ToolHandler {
	return func(_ context.Context, _ RequestContext, _ string, _ map[string]any) (any, error) {
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, reason)
	}
}

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// executionHandler backs the `execution` tool: run, list, logs, cancel.
func executionHandler(svc *ExecutionService) ToolHandler {
	return func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil {
			return nil, fmt.Errorf("%w: execution service not configured", ErrNotImplemented)
		}
		switch action {
		case "run":
			src := SourceRef{Kind: ResolutionKind(argString(args, "kind")), Value: argString(args, "reference")}
			input := []byte(argString(args, "input"))
			opts := RunOpts{RequestID: rc.RequestID, UserID: rc.UserID, OrgID: rc.OrgID, ParentExecutionID: rc.ExecutionID}
			return svc.Run(ctx, src, input, opts)
		case "list":
			return svc.List(ctx, rc.UserID, argInt(args, "limit"))
		case "logs":
			return svc.Get(ctx, argString(args, "execution_id"))
		case "cancel":
			id := argString(args, "execution_id")
			if err := svc.Cancel(ctx, id); err != nil {
				return nil, err
			}
			return map[string]any{"execution_id": id, "cancelled": true}, nil
		default:
			return nil, fmt.Errorf("%w: execution.%s", ErrUnknownAction, action)
		}
	}
}

// componentHandler backs the `component` tool: search, inspect, pull,
// publish, register, resolve, categories, get_blob.
func componentHandler(svc *RegistryService) ToolHandler {
	return func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil {
			return nil, fmt.Errorf("%w: registry service not configured", ErrNotImplemented)
		}
		switch action {
		case "search", "categories":
			f := registry.Filter{
				Category: argString(args, "category"),
				Tags:     argStringSlice(args, "tags"),
				License:  argString(args, "license"),
				Query:    argString(args, "query"),
				Limit:    argInt(args, "limit"),
			}
			return svc.Search(ctx, f)
		case "inspect", "resolve", "pull":
			reference, err := ref.Parse(argString(args, "reference"))
			if err != nil {
				return nil, err
			}
			data, digest, publisher, err := svc.ResolveBytes(ctx, reference)
			if err != nil {
				return nil, err
			}
			if action == "pull" {
				return map[string]any{"digest": digest, "publisher": publisher, "bytes": data}, nil
			}
			return map[string]any{"digest": digest, "publisher": publisher, "size": len(data)}, nil
		case "publish":
			attrs := PublishAttrs{
				Publisher:   argString(args, "publisher"),
				OrgID:       rc.OrgID,
				Name:        argString(args, "name"),
				Version:     argString(args, "version"),
				Category:    argString(args, "category"),
				Tags:        argStringSlice(args, "tags"),
				License:     argString(args, "license"),
				Description: argString(args, "description"),
			}
			return svc.PublishBytes(ctx, []byte(argString(args, "wasm_base64")), attrs)
		case "register":
			rec, changed, err := svc.RegisterFromDirectory(ctx, argString(args, "path"), argInt(args, "force") != 0)
			if err != nil {
				return nil, err
			}
			return map[string]any{"record": rec, "changed": changed}, nil
		case "get_blob":
			return svc.GetBlob(ctx, argString(args, "digest"))
		default:
			return nil, fmt.Errorf("%w: component.%s", ErrUnknownAction, action)
		}
	}
}

// storageHandler backs the `storage` tool: list, read, write, delete,
// retention. `retention` is grounded on execution.Store.PruneTail (C9),
// the only retention-shaped operation the pack defines — there is no
// separate storage-retention sweep, so this action trims a user's oldest
// execution records.
func storageHandler(adapter *storage.Adapter, exec *ExecutionService) ToolHandler {
	return func(_ context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if adapter == nil {
			return nil, fmt.Errorf("%w: storage adapter not configured", ErrNotImplemented)
		}
		segments := argStringSlice(args, "path")
		switch action {
		case "list":
			return adapter.List(rc.UserID, segments...)
		case "read":
			return adapter.Get(rc.UserID, segments...)
		case "write":
			return nil, adapter.Put(rc.UserID, []byte(argString(args, "data")), segments...)
		case "delete":
			return nil, adapter.Delete(rc.UserID, segments...)
		case "retention":
			if exec == nil {
				return nil, fmt.Errorf("%w: execution service not configured", ErrNotImplemented)
			}
			pruned, err := exec.execStore.PruneTail(context.Background(), rc.UserID, argInt(args, "keep"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"pruned": pruned}, nil
		default:
			return nil, fmt.Errorf("%w: storage.%s", ErrUnknownAction, action)
		}
	}
}

// secretHandler backs the `secret` tool: set, get, list, delete, grant,
// revoke, resolve_granted. `get` is intentionally the same path spec.md
// §4.7 restricts to "the authorized server path" — the MCP auth gate
// (C11) is that authorization boundary; the handler itself performs no
// additional check since RequestContext already reflects a successful
// authentication.
func secretHandler(svc *SecretService) ToolHandler {
	return func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil {
			return nil, fmt.Errorf("%w: secret service not configured", ErrNotImplemented)
		}
		scope := secret.ScopePersonal
		if argString(args, "scope") == "org" {
			scope = secret.ScopeOrg
		}
		switch action {
		case "set":
			return nil, svc.Set(ctx, scope, rc.OrgID, argString(args, "name"), argString(args, "value"))
		case "get":
			return svc.Get(ctx, scope, rc.OrgID, argString(args, "name"))
		case "list":
			return svc.List(ctx, scope, rc.OrgID)
		case "delete":
			return nil, svc.Delete(ctx, scope, rc.OrgID, argString(args, "name"))
		case "grant":
			return nil, svc.Grant(ctx, argString(args, "name"), argString(args, "component_ref"), scope, rc.OrgID)
		case "revoke":
			return nil, svc.Revoke(ctx, argString(args, "name"), argString(args, "component_ref"), scope, rc.OrgID)
		case "resolve_granted":
			return svc.GrantedSecrets(ctx, argString(args, "component_ref"))
		default:
			return nil, fmt.Errorf("%w: secret.%s", ErrUnknownAction, action)
		}
	}
}

// keyHandler backs the `key` tool: create, rotate, revoke. `list` returns
// ErrNotImplemented; it does not call auth.KeyStore.List.
func keyHandler(svc *AuthService) ToolHandler {
	return func(ctx context.Context, _ RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil {
			return nil, fmt.Errorf("%w: auth service not configured", ErrNotImplemented)
		}
		keyType := auth.KeyTypePublic
		switch argString(args, "type") {
		case "secret":
			keyType = auth.KeyTypeSecret
		case "admin":
			keyType = auth.KeyTypeAdmin
		}
		switch action {
		case "create":
			raw, err := svc.CreateAPIKey(ctx, argString(args, "name"), keyType, argStringSlice(args, "scope"), argStringSlice(args, "ip_allowlist"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"key": raw}, nil
		case "rotate":
			raw, err := svc.RotateAPIKey(ctx, argString(args, "name"), keyType)
			if err != nil {
				return nil, err
			}
			return map[string]any{"key": raw}, nil
		case "revoke":
			return nil, svc.RevokeAPIKey(ctx, argString(args, "name"))
		case "list":
			return nil, fmt.Errorf("%w: key.list", ErrNotImplemented)
		default:
			return nil, fmt.Errorf("%w: key.%s", ErrUnknownAction, action)
		}
	}
}

// sessionHandler backs the `session` tool. Device-flow OAuth/OIDC
// interactive login is an explicit Non-goal (spec.md §2), so `init`/
// `poll` are not implemented; `logout` and `whoami` are, over the
// existing session store.
func sessionHandler(svc *AuthService) ToolHandler {
	return func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil {
			return nil, fmt.Errorf("%w: auth service not configured", ErrNotImplemented)
		}
		switch action {
		case "logout":
			return nil, svc.TerminateSession(ctx, argString(args, "session_id"))
		case "whoami":
			return map[string]any{"user_id": rc.UserID, "org_id": rc.OrgID, "auth_method": rc.AuthMethod, "scope": rc.Scope}, nil
		case "init", "poll":
			return nil, fmt.Errorf("%w: interactive OAuth/OIDC device flow is out of scope", ErrNotImplemented)
		default:
			return nil, fmt.Errorf("%w: session.%s", ErrUnknownAction, action)
		}
	}
}

// auditHandler backs the `audit` tool: list, get.
func auditHandler(svc *AuditLogService) ToolHandler {
	return func(ctx context.Context, rc RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil || svc.events == nil {
			return nil, fmt.Errorf("%w: audit event store not configured", ErrNotImplemented)
		}
		switch action {
		case "list":
			return svc.events.ListByUser(ctx, rc.UserID, argInt(args, "limit"))
		case "get":
			recs, err := svc.events.ListByUser(ctx, rc.UserID, 0)
			if err != nil {
				return nil, err
			}
			id := argString(args, "id")
			for _, r := range recs {
				if r.ID == id {
					return r, nil
				}
			}
			return nil, errors.New("audit: not found")
		default:
			return nil, fmt.Errorf("%w: audit.%s", ErrUnknownAction, action)
		}
	}
}

// policyLogHandler backs the internal `policy_log` tool: log, get, list,
// delete. Not called by end users per spec.md §6; exposed for
// administrative/diagnostic callers holding an admin-scoped key. `log`
// and `delete` are not separately meaningful here — policy_logs rows are
// written exclusively by Stage C of C9, and the log is append-only by
// design — so only `list`/`get` are implemented.
func policyLogHandler(svc *AuditLogService) ToolHandler {
	return func(ctx context.Context, _ RequestContext, action string, args map[string]any) (any, error) {
		if svc == nil || svc.policyLogs == nil {
			return nil, fmt.Errorf("%w: policy log store not configured", ErrNotImplemented)
		}
		switch action {
		case "list":
			return svc.policyLogs.ListByReference(ctx, argString(args, "reference"), argInt(args, "limit"))
		case "get":
			recs, err := svc.policyLogs.ListByReference(ctx, argString(args, "reference"), 0)
			if err != nil {
				return nil, err
			}
			id := argString(args, "id")
			for _, r := range recs {
				if r.ID == id {
					return r, nil
				}
			}
			return nil, errors.New("policy_log: not found")
		case "log", "delete":
			return nil, fmt.Errorf("%w: policy_logs is append-only, written exclusively by the execution kernel", ErrNotImplemented)
		default:
			return nil, fmt.Errorf("%w: policy_log.%s", ErrUnknownAction, action)
		}
	}
}
