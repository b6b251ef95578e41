// Package config provides configuration types for the cyfr runtime.
//
// Configuration is file-based (YAML) with environment variable overrides,
// following the same viper-driven shape as the teacher this module was
// adapted from: a typed struct with mapstructure tags, SetDefaults/
// SetDevDefaults/Validate methods, and a custom validator.Validate
// registration for cyfr-specific field rules.
package config

// Config is the top-level configuration for the cyfr server.
type Config struct {
	// Server configures the HTTP/MCP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Storage configures the base directory for all persisted state
	// (C1 Storage Adapter, C3 relational store, component blobs).
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Auth configures session lifetime and the server secret key base used
	// to derive encryption keys for secrets at rest.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Execution configures default sandbox limits applied when a component
	// type has no stored policy.
	Execution ExecutionConfig `yaml:"execution" mapstructure:"execution"`

	// Cache configures the process-local TTL cache and sweeper.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// Registry configures the component auto-indexer.
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`

	// JWT configures the optional enterprise JWT session mode. Inert unless
	// SigningKey is set.
	JWT JWTConfig `yaml:"jwt" mapstructure:"jwt"`

	// DevMode enables permissive defaults suitable for local development.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP/MCP listener.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum slog level. Defaults to "info".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ProtocolVersion is the MCP-Protocol-Version this server negotiates.
	// Defaults to "2025-11-25".
	ProtocolVersion string `yaml:"protocol_version" mapstructure:"protocol_version"`

	// AllowedOrigins is the DNS-rebinding-protection allow-list for the
	// Origin header. Empty means all requests carrying an Origin are
	// rejected (local-only mode).
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// StorageConfig configures the base directory layout described in
// spec.md §6 ("Persisted layout").
type StorageConfig struct {
	// BaseDir is the root directory for cyfr.db, mcp_logs/, cache/,
	// users/, and components/. Defaults to "./cyfr-data".
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`

	// DBPath overrides the embedded database file path. Defaults to
	// "<base_dir>/cyfr.db".
	DBPath string `yaml:"db_path" mapstructure:"db_path"`

	// DBPoolSize is the max number of open connections to the embedded
	// database. Defaults to 4 (modernc.org/sqlite serializes writes
	// internally; a small pool bounds concurrent readers).
	DBPoolSize int `yaml:"db_pool_size" mapstructure:"db_pool_size" validate:"omitempty,min=1"`
}

// AuthConfig configures session lifetime and secret-at-rest encryption.
type AuthConfig struct {
	// SessionTTLHours is how long a session lives before expiry, refreshed
	// on every authenticated request. Defaults to 24.
	SessionTTLHours int `yaml:"session_ttl_hours" mapstructure:"session_ttl_hours" validate:"omitempty,min=1"`

	// SecretKeyBase derives the PBKDF2 key used to encrypt stored secrets.
	// Required outside DevMode.
	SecretKeyBase string `yaml:"secret_key_base" mapstructure:"secret_key_base"`

	// PBKDF2Iterations is the iteration count for secret key derivation.
	// Defaults to 100000; may be lowered only in tests.
	PBKDF2Iterations int `yaml:"pbkdf2_iterations" mapstructure:"pbkdf2_iterations" validate:"omitempty,min=1"`
}

// ExecutionConfig configures type-aware default sandbox limits (spec.md
// §3 "Host Policy" invariant) applied when a component type has no stored
// policy row.
type ExecutionConfig struct {
	// CatalystTimeout defaults to "3m".
	CatalystTimeout string `yaml:"catalyst_timeout" mapstructure:"catalyst_timeout"`
	// ReagentTimeout defaults to "1m".
	ReagentTimeout string `yaml:"reagent_timeout" mapstructure:"reagent_timeout"`
	// FormulaTimeout defaults to "5m".
	FormulaTimeout string `yaml:"formula_timeout" mapstructure:"formula_timeout"`
	// DefaultFuelLimit is the instruction budget passed to the engine as
	// Limits.FuelLimit; the wasmengine adapter does not enforce it.
	// Defaults to 100_000_000.
	DefaultFuelLimit uint64 `yaml:"default_fuel_limit" mapstructure:"default_fuel_limit"`
}

// CacheConfig configures the process-local TTL cache and its sweeper.
type CacheConfig struct {
	// DefaultTTL is the TTL applied when a caller does not specify one.
	// Defaults to "60s".
	DefaultTTL string `yaml:"default_ttl" mapstructure:"default_ttl"`
	// SweepInterval is how often the sweeper removes expired entries.
	// Defaults to "60s".
	SweepInterval string `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// RegistryConfig configures the filesystem auto-indexer.
type RegistryConfig struct {
	// AutoIndexInterval is how often the auto-indexer walks the components
	// directory. Defaults to "5m". Zero disables the background indexer.
	AutoIndexInterval string `yaml:"auto_index_interval" mapstructure:"auto_index_interval"`
}

// JWTConfig configures the optional enterprise JWT signing mode referenced
// in spec.md §6. Unused unless SigningKey is non-empty.
type JWTConfig struct {
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key"`
	// ClockSkew tolerance, e.g. "30s". Defaults to "30s".
	ClockSkew string `yaml:"clock_skew" mapstructure:"clock_skew"`
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ProtocolVersion == "" {
		c.Server.ProtocolVersion = "2025-11-25"
	}

	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = "./cyfr-data"
	}
	if c.Storage.DBPoolSize == 0 {
		c.Storage.DBPoolSize = 4
	}

	if c.Auth.SessionTTLHours == 0 {
		c.Auth.SessionTTLHours = 24
	}
	if c.Auth.PBKDF2Iterations == 0 {
		c.Auth.PBKDF2Iterations = 100_000
	}

	if c.Execution.CatalystTimeout == "" {
		c.Execution.CatalystTimeout = "3m"
	}
	if c.Execution.ReagentTimeout == "" {
		c.Execution.ReagentTimeout = "1m"
	}
	if c.Execution.FormulaTimeout == "" {
		c.Execution.FormulaTimeout = "5m"
	}
	if c.Execution.DefaultFuelLimit == 0 {
		c.Execution.DefaultFuelLimit = 100_000_000
	}

	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "60s"
	}
	if c.Cache.SweepInterval == "" {
		c.Cache.SweepInterval = "60s"
	}

	if c.Registry.AutoIndexInterval == "" {
		c.Registry.AutoIndexInterval = "5m"
	}

	if c.JWT.ClockSkew == "" {
		c.JWT.ClockSkew = "30s"
	}
}

// SetDevDefaults applies permissive defaults for development mode, so the
// server can boot with minimal configuration. Applied before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Auth.SecretKeyBase == "" {
		c.Auth.SecretKeyBase = "dev-insecure-secret-key-base-do-not-use-in-production"
	}
	if c.Auth.PBKDF2Iterations == 0 {
		// Lowered for fast local dev/test cycles only; never lowered in
		// production because SecretKeyBase is empty there, which fails
		// validation below before this matters.
		c.Auth.PBKDF2Iterations = 10_000
	}
}
