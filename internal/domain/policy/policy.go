// Package policy models the Host Policy entity (C5): the per-component-
// reference set of egress, resource, and scope limits that every sandbox
// invocation is evaluated against.
package policy

import "time"

// RateLimit is an N-requests-per-window limit.
type RateLimit struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// Policy is the Host Policy attached to a single component reference.
type Policy struct {
	Reference           string        `json:"reference"`
	AllowedDomains      []string      `json:"allowed_domains"`
	AllowedMethods      []string      `json:"allowed_methods"`
	RateLimit           *RateLimit    `json:"rate_limit,omitempty"`
	Timeout             time.Duration `json:"timeout"`
	MaxMemoryBytes      int64         `json:"max_memory_bytes"`
	MaxRequestSize       int64        `json:"max_request_size"`
	MaxResponseSize      int64        `json:"max_response_size"`
	AllowedTools        []string      `json:"allowed_tools"`
	AllowedStoragePaths []string      `json:"allowed_storage_paths"`
	// Expression is an optional free-form CEL predicate evaluated in
	// addition to the mechanical checks above; empty means "always allow".
	Expression string    `json:"expression,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ComponentType mirrors ref.Type without importing it, to keep this package
// leaf-level; defaults are looked up by the string the caller already has.
type ComponentType string

const (
	TypeCatalyst ComponentType = "catalyst"
	TypeReagent  ComponentType = "reagent"
	TypeFormula  ComponentType = "formula"
)

// DefaultMemoryBytes is applied to every type-aware default (no stored
// policy) regardless of component type.
const DefaultMemoryBytes = 256 * 1024 * 1024

// Default returns the type-aware default policy for a component that has
// no stored policy row: deny-all egress and deny-all tools, with a
// per-type timeout.
func Default(reference string, t ComponentType) Policy {
	timeout := 3 * time.Minute
	switch t {
	case TypeReagent:
		timeout = time.Minute
	case TypeFormula:
		timeout = 5 * time.Minute
	}
	return Policy{
		Reference:           reference,
		AllowedDomains:      nil,
		AllowedMethods:      nil,
		Timeout:             timeout,
		MaxMemoryBytes:      DefaultMemoryBytes,
		MaxRequestSize:      1 << 20,
		MaxResponseSize:     4 << 20,
		AllowedTools:        nil,
		AllowedStoragePaths: nil,
	}
}

// ToMap serializes the accepted field set into a generic map, the inverse
// of FromMap, for storage/wire transport.
func (p Policy) ToMap() map[string]any {
	m := map[string]any{
		"reference":             p.Reference,
		"allowed_domains":       p.AllowedDomains,
		"allowed_methods":       p.AllowedMethods,
		"timeout":               p.Timeout.String(),
		"max_memory_bytes":      p.MaxMemoryBytes,
		"max_request_size":      p.MaxRequestSize,
		"max_response_size":     p.MaxResponseSize,
		"allowed_tools":         p.AllowedTools,
		"allowed_storage_paths": p.AllowedStoragePaths,
	}
	if p.RateLimit != nil {
		m["rate_limit"] = map[string]any{
			"requests": p.RateLimit.Requests,
			"window":   p.RateLimit.Window.String(),
		}
	}
	return m
}

// FromMap is the inverse of ToMap, filling any field absent from m with
// its zero value; callers apply Default first when they want type-aware
// fallbacks for unset fields.
func FromMap(m map[string]any) Policy {
	var p Policy
	if v, ok := m["reference"].(string); ok {
		p.Reference = v
	}
	p.AllowedDomains = stringSlice(m["allowed_domains"])
	p.AllowedMethods = stringSlice(m["allowed_methods"])
	p.AllowedTools = stringSlice(m["allowed_tools"])
	p.AllowedStoragePaths = stringSlice(m["allowed_storage_paths"])
	if v, ok := m["timeout"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil {
			p.Timeout = d
		}
	}
	if v, ok := m["max_memory_bytes"].(int64); ok {
		p.MaxMemoryBytes = v
	}
	if v, ok := m["max_request_size"].(int64); ok {
		p.MaxRequestSize = v
	}
	if v, ok := m["max_response_size"].(int64); ok {
		p.MaxResponseSize = v
	}
	if rl, ok := m["rate_limit"].(map[string]any); ok {
		var r RateLimit
		if n, ok := rl["requests"].(int); ok {
			r.Requests = n
		}
		if w, ok := rl["window"].(string); ok {
			if d, err := time.ParseDuration(w); err == nil {
				r.Window = d
			}
		}
		p.RateLimit = &r
	}
	return p
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
