package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyfrworks/cyfr/internal/adapter/inbound/mcphttp"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/audittrail"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/cache"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/secretcrypto"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/sqlstore"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/storage"
	"github.com/cyfrworks/cyfr/internal/adapter/outbound/wasmengine"
	"github.com/cyfrworks/cyfr/internal/config"
	"github.com/cyfrworks/cyfr/internal/service"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP transport server",
	Long: `Start the cyfr MCP transport server.

Serves Streamable-HTTP MCP (POST/GET/DELETE /mcp) per the negotiated
MCP-Protocol-Version, backed by the embedded sqlite relational store and
a wazero sandbox for every catalyst/reagent/formula invocation.

Examples:
  cyfrd serve
  cyfrd --config /path/to/cyfr.yaml serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed validation)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	if err := boot(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("cyfrd stopped")
	return nil
}

// boot implements the composition root: it wires every adapter and
// service built from C1 through C13 into a running MCP transport and
// blocks until ctx is cancelled.
func boot(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.Storage.BaseDir, "cyfr.db")
	}

	storageAdapter, err := storage.New(cfg.Storage.BaseDir)
	if err != nil {
		return fmt.Errorf("failed to create storage adapter: %w", err)
	}

	db, err := sqlstore.Open(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open relational store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("error closing database", "error", err)
		}
	}()
	logger.Info("relational store opened", "path", dbPath)

	sweepInterval, err := time.ParseDuration(cfg.Cache.SweepInterval)
	if err != nil {
		sweepInterval = 60 * time.Second
		logger.Warn("invalid cache.sweep_interval, using default", "value", cfg.Cache.SweepInterval, "default", sweepInterval)
	}
	hotCache := cache.New(sweepInterval)
	hotCache.StartSweeper(ctx)
	defer hotCache.Stop()

	cipher, err := secretcrypto.New(cfg.Auth.SecretKeyBase, cfg.Auth.PBKDF2Iterations)
	if err != nil {
		return fmt.Errorf("failed to initialize secret cipher: %w", err)
	}

	secretSvc := service.NewSecretService(sqlstore.NewSecretStore(db), cipher)

	authSvc := service.NewAuthService(sqlstore.NewAPIKeyStore(db), sqlstore.NewSessionStore(db), hotCache, logger)

	policySvc, err := service.NewPolicyService(sqlstore.NewPolicyStore(db), hotCache, logger)
	if err != nil {
		return fmt.Errorf("failed to create policy service: %w", err)
	}

	registrySvc := service.NewRegistryService(sqlstore.NewRegistryStore(db), storageAdapter)

	engine, err := wasmengine.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to create wasm engine: %w", err)
	}
	defer func() {
		if err := engine.Close(ctx); err != nil {
			logger.Warn("error closing wasm engine", "error", err)
		}
	}()

	// exec is built with a nil tool caller and wired to router below: the
	// router's own constructor takes *ExecutionService, so the two can't
	// be constructed in the other order.
	execSvc := service.NewExecutionService(
		sqlstore.NewExecutionStore(db), registrySvc, policySvc, secretSvc, storageAdapter, engine, nil,
	).WithDefaultFuelLimit(cfg.Execution.DefaultFuelLimit)

	trail := audittrail.New(storageAdapter, logger)
	auditSvc := service.NewAuditLogService(
		sqlstore.NewMcpLogStore(db), sqlstore.NewPolicyLogStore(db), sqlstore.NewAuditEventStore(db), trail, logger,
	)
	execSvc.WithAuditLog(auditSvc)

	router := service.NewRouter(execSvc, registrySvc, storageAdapter, secretSvc, authSvc, auditSvc)
	execSvc.WithToolCaller(router)

	autoIndexInterval, err := time.ParseDuration(cfg.Registry.AutoIndexInterval)
	if err != nil {
		autoIndexInterval = 5 * time.Minute
		logger.Warn("invalid registry.auto_index_interval, using default", "value", cfg.Registry.AutoIndexInterval, "default", autoIndexInterval)
	}
	if autoIndexInterval > 0 {
		if delta, err := registrySvc.AutoIndex(ctx); err != nil {
			logger.Warn("initial component auto-index failed", "error", err)
		} else {
			logger.Info("initial component auto-index complete", "registered", delta.Registered, "unchanged", delta.Unchanged, "pruned", delta.Pruned, "errors", len(delta.Errors))
		}
		go runAutoIndexer(ctx, registrySvc, autoIndexInterval, logger)
	}

	transport := mcphttp.NewTransport(router, authSvc, auditSvc,
		mcphttp.WithAddr(cfg.Server.HTTPAddr),
		mcphttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		mcphttp.WithLogger(logger),
		mcphttp.WithHealthDeps(db, Version),
	)

	logger.Info("cyfrd starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"protocol_version", cfg.Server.ProtocolVersion,
		"storage_base_dir", cfg.Storage.BaseDir,
	)

	return transport.Start(ctx)
}

func runAutoIndexer(ctx context.Context, registrySvc *service.RegistryService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delta, err := registrySvc.AutoIndex(ctx)
			if err != nil {
				logger.Warn("component auto-index failed", "error", err)
				continue
			}
			if delta.Registered > 0 || delta.Pruned > 0 || len(delta.Errors) > 0 {
				logger.Info("component auto-index complete", "registered", delta.Registered, "unchanged", delta.Unchanged, "pruned", delta.Pruned, "errors", len(delta.Errors))
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
