// Package config provides configuration loading for the cyfr runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for cyfr.yaml/.yml in
// standard locations. The search requires an explicit YAML extension to
// avoid matching the binary itself (same base name, no extension), which
// Viper's built-in SetConfigName would otherwise match.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		viper.SetConfigName("cyfr")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: CYFR_SERVER_HTTP_ADDR, CYFR_STORAGE_BASE_DIR, ...
	viper.SetEnvPrefix("CYFR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a cyfr config file with an
// explicit YAML extension.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".cyfr"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "cyfr"))
		}
	} else {
		paths = append(paths, "/etc/cyfr")
	}
	return findConfigFileInPaths(paths)
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "cyfr"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds every config key the core observes (spec.md §6)
// for environment variable override support.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.protocol_version")

	_ = viper.BindEnv("storage.base_dir")
	_ = viper.BindEnv("storage.db_path")
	_ = viper.BindEnv("storage.db_pool_size")

	_ = viper.BindEnv("auth.session_ttl_hours")
	_ = viper.BindEnv("auth.secret_key_base")
	_ = viper.BindEnv("auth.pbkdf2_iterations")

	_ = viper.BindEnv("execution.catalyst_timeout")
	_ = viper.BindEnv("execution.reagent_timeout")
	_ = viper.BindEnv("execution.formula_timeout")
	_ = viper.BindEnv("execution.default_fuel_limit")

	_ = viper.BindEnv("cache.default_ttl")
	_ = viper.BindEnv("cache.sweep_interval")

	_ = viper.BindEnv("registry.auto_index_interval")

	_ = viper.BindEnv("jwt.signing_key")
	_ = viper.BindEnv("jwt.clock_skew")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the Config. Callers should apply any CLI flag
// overrides (e.g. --dev) before SetDevDefaults()/Validate() if they need to
// change DevMode after load; LoadConfig already runs the full pipeline for
// the common case.
func LoadConfig() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults, but does
// NOT apply dev defaults or validate. Use this when CLI flags may override
// DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty string if none was found (env-vars-only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
