package mcphttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyfrworks/cyfr/internal/adapter/inbound/sse"
	"github.com/cyfrworks/cyfr/internal/domain/auditlog"
	"github.com/cyfrworks/cyfr/internal/service"
)

// MCPProtocolVersion is the protocol version this handler negotiates,
// spec.md §4.11/§6's "currently 2025-11-25" — one release newer than the
// teacher's pinned 2025-06-18.
const MCPProtocolVersion = "2025-11-25"

// maxRequestBodySize caps a single POST body, unchanged from the
// teacher's 1 MB ceiling.
const maxRequestBodySize = 1 << 20

// MCPSessionIDHeader is the session-token header, spec.md §4.11's
// MCP-Session-Id (the teacher uses the same header, differently cased).
const MCPSessionIDHeader = "Mcp-Session-Id"

// MCPProtocolVersionHeader is the negotiated-version header.
const MCPProtocolVersionHeader = "MCP-Protocol-Version"

// jsonRPCErrorCode is the `-330xx`/standard JSON-RPC error taxonomy from
// spec.md §6.
type jsonRPCErrorCode int

const (
	codeInvalidRequest         jsonRPCErrorCode = -32600
	codeMethodNotFound         jsonRPCErrorCode = -32601
	codeInvalidParams          jsonRPCErrorCode = -32602
	codeAuthRequired           jsonRPCErrorCode = -33001
	codeAuthInvalid            jsonRPCErrorCode = -33002
	codeAuthExpired            jsonRPCErrorCode = -33003
	codeInsufficientPerms      jsonRPCErrorCode = -33004
	codeExecutionFailed        jsonRPCErrorCode = -33100
	codeExecutionTimeout       jsonRPCErrorCode = -33101
	codeComponentNotFound      jsonRPCErrorCode = -33200
	codeSessionRequired        jsonRPCErrorCode = -33301
	codeSessionExpired         jsonRPCErrorCode = -33302
)

// routedTo is the observability-only "routed_to" label spec.md §4.13
// names for each tool name, surfaced on responses but never consulted for
// authorization.
var routedTo = map[string]string{
	"execution":  "opus",
	"build":      "locus",
	"component":  "compendium",
	"guide":      "compendium",
	"storage":    "arca",
	"session":    "sanctum",
	"permission": "sanctum",
	"secret":     "sanctum",
	"key":        "sanctum",
	"audit":      "sanctum",
	"policy_log": "sanctum",
}

// Deps bundles every collaborator the MCP handler needs: the tool
// router (C13), the auth service (C7), the audit log service (C10), and
// the SSE fan-out registry (C12).
type Deps struct {
	Router    *service.Router
	Auth      *service.AuthService
	AuditLog  *service.AuditLogService
	Sessions  *sse.Registry
}

func mcpHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, d)
		case http.MethodGet:
			handleGet(w, r, d.Sessions)
		case http.MethodDelete:
			handleDelete(w, r, d.Sessions)
		case http.MethodOptions:
			handleOptions(w, r)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// handlePost implements spec.md §4.11's request-handling pipeline: parse,
// authenticate, session-gate, decode tool+action, dispatch via C13, log
// to mcp_logs, respond.
func handlePost(w http.ResponseWriter, r *http.Request, d Deps) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && contentType != "application/json" {
		writeJSONRPCError(w, nil, codeInvalidRequest, "content type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONRPCError(w, nil, codeInvalidRequest, "request body too large (max 1MB)")
			return
		}
		writeJSONRPCError(w, nil, codeInvalidRequest, "failed to read request body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		writeJSONRPCError(w, nil, codeInvalidRequest, "empty or invalid JSON body")
		return
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSONRPCError(w, nil, codeInvalidRequest, "request must be a JSON object")
		return
	}
	if env.JSONRPC != "2.0" {
		writeJSONRPCError(w, nil, codeInvalidRequest, `missing or invalid jsonrpc version (must be "2.0")`)
		return
	}
	if env.Method == "" {
		writeJSONRPCError(w, nil, codeInvalidRequest, "missing method field")
		return
	}
	isNotification := env.ID == nil

	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	rc, authErr := authenticate(ctx, d.Auth, r, env.Method)
	if authErr != nil {
		writeJSONRPCError(w, env.ID, authErr.code, authErr.message)
		return
	}
	rc.RequestID = RequestIDFromContext(ctx)

	requestID := rc.RequestID
	logID := ""
	if d.AuditLog != nil {
		logID = d.AuditLog.LogMcpRequest(ctx, requestID, rc.SessionID(), rc.UserID, env.Method, auditlog.McpLogPayload{Status: auditlog.McpStatusPending})
	}

	started := time.Now()
	result, rpcErr := dispatch(ctx, d, &rc, env)
	duration := time.Since(started)

	if d.AuditLog != nil {
		status := auditlog.McpStatusSuccess
		errText := ""
		if rpcErr != nil {
			status = auditlog.McpStatusError
			errText = rpcErr.message
		}
		d.AuditLog.UpdateMcpRequest(ctx, logID, auditlog.McpLogPayload{
			Status: status, DurationMS: duration.Milliseconds(), Error: errText,
		})
	}

	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	if sid := rc.SessionID(); sid != "" {
		w.Header().Set(MCPSessionIDHeader, sid)
	}

	if isNotification {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if rpcErr != nil {
		logger.Warn("mcp request failed", "method", env.Method, "error", rpcErr.message)
		_ = json.NewEncoder(w).Encode(jsonRPCError{JSONRPC: "2.0", ID: rawJSON(env.ID), Error: jsonRPCErrorField{Code: int(rpcErr.code), Message: rpcErr.message}})
		return
	}
	_ = json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", ID: rawJSON(env.ID), Result: result})
}

// requestContext is mcphttp's local alias of service.RequestContext plus
// the session token (kept separate from service.RequestContext since the
// service layer has no notion of "which header this came in on").
type requestContext struct {
	service.RequestContext
	sessionToken string
}

func (rc requestContext) SessionID() string { return rc.sessionToken }

type authFailure struct {
	code    jsonRPCErrorCode
	message string
}

// authenticate implements spec.md §4.11's two-path gate: an API key
// (`cyfr_`-prefixed bearer) is tried first; otherwise the session header
// is consulted, with an `initialize`-only bypass when a presented session
// id fails to resolve (supports reconnecting after a server restart).
func authenticate(ctx context.Context, svc *service.AuthService, r *http.Request, method string) (requestContext, *authFailure) {
	creds := credentialsFromContext(ctx)

	if creds.rawAPIKey != "" {
		if svc == nil {
			return requestContext{}, &authFailure{codeAuthRequired, "no credentials"}
		}
		key, err := svc.ValidateAPIKey(ctx, creds.rawAPIKey, RealIPFromContext(ctx))
		if err != nil {
			return requestContext{}, &authFailure{codeAuthInvalid, err.Error()}
		}
		return requestContext{RequestContext: service.RequestContext{
			UserID: key.Name, AuthMethod: "api_key", Scope: key.Scope,
		}}, nil
	}

	if creds.sessionID != "" {
		if svc == nil {
			return requestContext{}, &authFailure{codeAuthRequired, "no credentials"}
		}
		sess, err := svc.ValidateSession(ctx, creds.sessionID)
		if err != nil {
			if method == "initialize" {
				return requestContext{}, nil
			}
			return requestContext{}, &authFailure{codeSessionExpired, "session expired"}
		}
		return requestContext{
			RequestContext: service.RequestContext{UserID: sess.UserID, AuthMethod: "session", Scope: sess.Permissions},
			sessionToken:   sess.ID,
		}, nil
	}

	if method == "initialize" {
		return requestContext{}, nil
	}
	return requestContext{}, &authFailure{codeSessionRequired, "session required"}
}

type dispatchError struct {
	code    jsonRPCErrorCode
	message string
}

// dispatch handles `initialize` and `tools/list` directly, and routes
// `tools/call` into C13.
func dispatch(ctx context.Context, d Deps, rc *requestContext, env rpcEnvelope) (any, *dispatchError) {
	switch env.Method {
	case "initialize":
		return handleInitialize(ctx, d, rc)
	case "tools/list":
		return map[string]any{"tools": toolDescriptors()}, nil
	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, &dispatchError{codeInvalidParams, "invalid tools/call params"}
		}
		action, _ := params.Arguments["action"].(string)
		result, err := d.Router.Handle(ctx, rc.RequestContext, params.Name, action, params.Arguments)
		if err != nil {
			return nil, &dispatchError{mapRouterError(err), err.Error()}
		}
		return map[string]any{"routed_to": routedTo[params.Name], "content": result}, nil
	default:
		return nil, &dispatchError{codeMethodNotFound, fmt.Sprintf("unknown method %q", env.Method)}
	}
}

func mapRouterError(err error) jsonRPCErrorCode {
	switch {
	case errors.Is(err, service.ErrUnknownTool), errors.Is(err, service.ErrUnknownAction):
		return codeMethodNotFound
	case errors.Is(err, service.ErrPolicyRequired):
		return codeExecutionFailed
	case errors.Is(err, service.ErrNotImplemented):
		return codeMethodNotFound
	default:
		return codeExecutionFailed
	}
}

func handleInitialize(ctx context.Context, d Deps, rc *requestContext) (any, *dispatchError) {
	sessionID := rc.SessionID()
	if sessionID == "" && d.Auth != nil {
		sess, err := d.Auth.CreateSession(ctx, rc.UserID, "", "mcp", nil)
		if err == nil {
			sessionID = sess.ID
			rc.sessionToken = sessionID
		}
	}
	return map[string]any{
		"protocolVersion": MCPProtocolVersion,
		"serverInfo":      map[string]any{"name": "cyfr", "version": MCPProtocolVersion},
		"sessionId":       sessionID,
	}, nil
}

// toolDescriptors returns the tool → action surface listed by tools/list:
// names and action lists only, with no input schemas. It omits the build
// and guide tools that the service router also registers, and several
// listed actions are answered by the router with ErrNotImplemented.
func toolDescriptors() []map[string]any {
	surface := map[string][]string{
		"execution":  {"run", "list", "logs", "cancel"},
		"component":  {"search", "inspect", "pull", "publish", "register", "resolve", "categories", "get_blob"},
		"storage":    {"list", "read", "write", "delete", "retention"},
		"secret":     {"set", "get", "list", "delete", "grant", "revoke", "resolve_granted"},
		"key":        {"create", "list", "rotate", "revoke"},
		"session":    {"init", "poll", "logout", "whoami"},
		"permission": {"grant", "revoke", "list"},
		"audit":      {"list", "get"},
		"policy_log": {"log", "get", "list", "delete"},
	}
	out := make([]map[string]any, 0, len(surface))
	for name, actions := range surface {
		out = append(out, map[string]any{"name": name, "actions": actions})
	}
	return out
}

// handleGet opens an SSE stream for server-initiated messages, generalized
// from the teacher's handleGet onto C12's bounded Registry with
// Last-Event-ID resumption.
func handleGet(w http.ResponseWriter, r *http.Request, registry *sse.Registry) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required for SSE", http.StatusBadRequest)
		return
	}

	var lastEventID uint64
	_, _ = fmt.Sscanf(r.Header.Get("Last-Event-ID"), "%d", &lastEventID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(MCPProtocolVersionHeader, MCPProtocolVersion)
	w.Header().Set(MCPSessionIDHeader, sessionID)

	ch, replay, unsubscribe := registry.Subscribe(sessionID, lastEventID)
	defer unsubscribe()

	ctx := r.Context()

	for _, ev := range replay {
		_, _ = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, ev.Data)
			flusher.Flush()
		}
	}
}

// handleDelete terminates a session's SSE subscribers, generalized from
// the teacher's handleDelete onto C12's Registry.
func handleDelete(w http.ResponseWriter, r *http.Request, registry *sse.Registry) {
	sessionID := r.Header.Get(MCPSessionIDHeader)
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header required", http.StatusBadRequest)
		return
	}
	if !registry.Terminate(sessionID) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, MCP-Protocol-Version, Last-Event-ID")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

type jsonRPCError struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Error   jsonRPCErrorField `json:"error"`
}

type jsonRPCErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func rawJSON(id json.RawMessage) json.RawMessage {
	if id == nil {
		return json.RawMessage("null")
	}
	return id
}

func writeJSONRPCError(w http.ResponseWriter, id json.RawMessage, code jsonRPCErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonRPCError{
		JSONRPC: "2.0", ID: rawJSON(id),
		Error: jsonRPCErrorField{Code: int(code), Message: message},
	})
}

// healthHandler is a static handler that always answers {"status":"ok"}.
// Nothing in this package installs it: Transport.Start serves /health
// from a *HealthChecker instead; see health.go.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
