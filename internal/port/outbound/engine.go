package outbound

import (
	"context"
	"time"
)

// HTTPRequest is the decoded argument of the guest's http.request host
// import.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// HTTPResponse is the encoded result handed back across the host import
// boundary.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    []byte            `json:"body"`
}

// StorageOp is the decoded argument of the guest's storage.* host import.
type StorageOp struct {
	Op   string `json:"op"` // "read", "write", "list", "delete"
	Path string `json:"path"`
	Data []byte `json:"data,omitempty"`
}

// ToolCall is the decoded argument of the guest's mcp.tools.call host
// import, used only by formula components to re-enter the transport
// router with a child execution whose ParentExecutionID is set.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// HostImports are the callback functions the WASM engine wires into the
// sandbox for a single invocation. Every callback first re-checks the
// policy decision that justified exposing it at all; the engine adapter
// itself never makes a policy decision.
type HostImports struct {
	HTTPRequest func(ctx context.Context, req HTTPRequest) (HTTPResponse, error)
	SecretsRead func(ctx context.Context, name string) (string, error)
	Storage     func(ctx context.Context, op StorageOp) ([]byte, error)
	ToolsCall   func(ctx context.Context, call ToolCall) (any, error)
}

// Limits are the per-invocation resource caps derived from the effective
// policy (Stage F). The wasmengine adapter enforces Timeout only; it does
// not enforce FuelLimit, MaxMemoryBytes or MaxResponseSize. MaxRequestSize
// is checked by the execution service before the engine is called.
type Limits struct {
	FuelLimit       uint64
	MaxMemoryBytes  int64
	Timeout         time.Duration
	MaxRequestSize  int64
	MaxResponseSize int64
}

// RunRequest is a single sandbox invocation.
type RunRequest struct {
	ExecutionID string
	Digest      string // component content digest, the compiled-module cache key
	WASMBytes   []byte
	Input       []byte
	Limits      Limits
	Imports     HostImports
}

// RunResult is what Stage G needs to finalize the Execution Record.
type RunResult struct {
	Output    []byte
	WASITrace string
	Trapped   bool // true if instantiation or the guest call failed, including a trap or timeout
}

// Engine is the outbound port for C9 Stage F: sandbox invocation. The
// concrete adapter (internal/adapter/outbound/wasmengine) compiles and
// runs a component under wazero with the given limits and host imports.
type Engine interface {
	// Run executes req.WASMBytes against req.Input and blocks until the
	// guest returns, traps, or ctx is cancelled (Stage H uses this to
	// interrupt a running invocation).
	Run(ctx context.Context, req RunRequest) (RunResult, error)

	// Close releases any cached compiled modules and the underlying
	// wazero runtime.
	Close(ctx context.Context) error
}
