package cache

// Key helpers centralize the cache's key grammar so every caller that reads
// or invalidates a policy/config/session agrees on the same shape.

// PolicyKey is the cache key for a component's host policy.
func PolicyKey(ref string) string { return "policy:" + ref }

// ComponentConfigKey is the cache key for a component's stored configuration.
func ComponentConfigKey(ref string) string { return "component_config:" + ref }

// SessionKey is the cache key for a session lookup by token.
func SessionKey(token string) string { return "session:" + token }

// PolicyPattern matches every cached policy entry.
const PolicyPattern = "policy:*"

// ComponentConfigPattern matches every cached component-config entry.
const ComponentConfigPattern = "component_config:*"

// SessionPattern matches every cached session entry.
const SessionPattern = "session:*"
