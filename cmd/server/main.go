package main

// Package main is the entry point for the sentinel-ai server.
//
// Responsibilities:
//   - Load and validate configuration from YAML, environment variables, and CLI flags
//   - Open the SQLite store for investigations, audit events, and budget records
//   - Construct the LLM adapter (degraded mode when credentials are absent)
//   - Register datasource tools (Kubernetes, Prometheus) per configuration
//   - Start the REST API server with WebSocket streaming of investigation events
//   - Implement graceful shutdown with context cancellation
//
// Architecture Flow:
//   1. REST API accepts investigation requests
//   2. Investigation manager renders a prompt and drives the agentic tool loop
//   3. Tool registry translates tool calls into Kubernetes/Prometheus reads
//   4. Findings, turns, and tool calls are persisted to SQLite
//   5. WebSocket streams tokens and tool events to subscribed clients
//
// Graceful Shutdown:
//   - Stops accepting new requests
//   - Cancels all in-flight investigations and waits for their state to persist
//   - Closes the store
//   - Finalizes audit logs

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sentinelops/sentinel-ai/internal/audit"
	"github.com/sentinelops/sentinel-ai/internal/config"
	"github.com/sentinelops/sentinel-ai/internal/datasource/kubernetes"
	"github.com/sentinelops/sentinel-ai/internal/datasource/prometheus"
	"github.com/sentinelops/sentinel-ai/internal/db"
	"github.com/sentinelops/sentinel-ai/internal/llm/adapter"
	"github.com/sentinelops/sentinel-ai/internal/llm/budget"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	ctxbuilder "github.com/sentinelops/sentinel-ai/internal/reasoning/context"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/investigation"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/prompt"
	"github.com/sentinelops/sentinel-ai/internal/server"
	"github.com/sentinelops/sentinel-ai/internal/tools"
)

const shutdownGrace = 15 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var promptsPath string

	cmd := &cobra.Command{
		Use:   "sentinel-ai",
		Short: "AI-assisted incident investigation for Kubernetes clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, promptsPath)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "/etc/sentinel/config.yaml", "path to YAML config file")
	cmd.Flags().StringVar(&promptsPath, "prompts", "", "path to a prompt template overlay (optional)")
	return cmd
}

func run(ctx context.Context, configPath, promptsPath string) error {
	cfgMgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := cfgMgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfgMgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	cfg := cfgMgr.Get(ctx)

	logger, err := buildLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	auditCfg := audit.DefaultConfig()
	auditCfg.LogLevel = cfg.Logging.Level
	auditLog, err := audit.NewLogger(auditCfg)
	if err != nil {
		return fmt.Errorf("create audit logger: %w", err)
	}
	defer auditLog.Close()

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	llm, err := adapter.NewLLMAdapter(&adapter.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		ModelID: cfg.LLM.ModelID,
	}, logger)
	if err != nil {
		return fmt.Errorf("create LLM adapter: %w", err)
	}
	if !cfg.LLM.Configured {
		logger.Warn("LLM credentials absent, starting degraded; investigations are disabled")
	}

	tracker := budget.NewPersistentBudgetTracker(store, &budget.BudgetConfig{
		DefaultPerUserLimitUSD:      cfg.Budget.PerUserMonthlyBudget,
		PerInvestigationLimitTokens: cfg.Budget.PerInvestigationLimit,
		WarnThreshold:               0.8,
	})

	registry := tools.NewRegistry(logger)
	var cluster ctxbuilder.ClusterSource
	if cfg.Datasources.Kubernetes.Enabled {
		k8s, err := kubernetes.NewClient(kubernetes.Config{
			Kubeconfig: cfg.Datasources.Kubernetes.Kubeconfig,
			InCluster:  cfg.Datasources.Kubernetes.InCluster,
		})
		if err != nil {
			return fmt.Errorf("create kubernetes client: %w", err)
		}
		tools.RegisterKubernetesTools(registry, k8s)
		cluster = k8s
		logger.Info("kubernetes datasource enabled",
			zap.Bool("in_cluster", cfg.Datasources.Kubernetes.InCluster))
	}
	if cfg.Datasources.Prometheus.Enabled {
		prom := prometheus.NewClient(cfg.Datasources.Prometheus.BaseURL,
			time.Duration(cfg.Datasources.Prometheus.Timeout)*time.Second)
		tools.RegisterPrometheusTools(registry, prom)
		logger.Info("prometheus datasource enabled",
			zap.String("base_url", cfg.Datasources.Prometheus.BaseURL))
	}

	prompts, err := loadPrompts(promptsPath)
	if err != nil {
		return err
	}

	var builder ctxbuilder.Builder
	if cluster != nil {
		builder = ctxbuilder.NewBuilder(cluster, logger, 0)
	}

	mgr := investigation.NewManager(store, llm, tracker, registry, prompts, auditLog, logger,
		investigation.Options{
			Agent: types.AgentConfig{
				MaxTurns:      cfg.Investigation.MaxTurns,
				ParallelTools: cfg.Investigation.ParallelTools,
			},
			Context: builder,
		})

	srv, err := server.New(cfg, mgr, store, tracker, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("sentinel-ai started", zap.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("investigation manager shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the application logger from config. Format "text"
// selects the console encoder, anything else gets JSON.
func buildLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	if format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func loadPrompts(path string) (prompt.Manager, error) {
	if path == "" {
		return prompt.NewManager(), nil
	}
	m, err := prompt.NewManagerFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load prompt templates: %w", err)
	}
	return m, nil
}
