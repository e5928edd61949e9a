package config

import "context"

// Package config provides configuration management for sentinel-ai.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Provide runtime access to all configuration
//   - Support configuration reloading (for some settings)
//   - Manage sensitive data (API keys, credentials)
//   - Establish reasonable defaults
//
// Configuration Sources (priority order, high to low):
//   1. Environment variables (SENTINEL_* prefix)
//   2. YAML config files (default: /etc/sentinel/config.yaml)
//   3. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8081)
//      - tls_enabled: Enable TLS
//      - allowed_origins: Origins permitted to open WebSocket connections
//
//   2. LLM
//      - base_url: Converse endpoint prefix
//      - api_key: Backend credentials (env SENTINEL_LLM_API_KEY preferred)
//      - model_id: Backend model identifier
//      - max_tokens: Generation cap per request
//
//   3. Datasources
//      - kubernetes: kubeconfig path or in-cluster
//      - prometheus: query endpoint
//
//   4. Database
//      - sqlite_path: Path to the investigations store
//
//   5. Investigation
//      - max_turns: Agentic loop turn cap
//      - parallel_tools: Run tool calls concurrently
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"
//
//   7. Budget
//      - per_user_monthly_budget: Per-user spending limit
//      - per_investigation_limit: Max tokens per investigation

// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		// If empty, defaults to ["http://localhost:3000", "http://localhost:5173"].
		AllowedOrigins []string
	}

	// LLM backend configuration
	LLM struct {
		BaseURL   string
		APIKey    string
		ModelID   string
		MaxTokens int
		// Configured reports whether credentials are present. Missing
		// credentials are not fatal; the service starts degraded.
		Configured bool
	}

	// Datasources configuration
	Datasources struct {
		Kubernetes struct {
			Enabled    bool
			Kubeconfig string
			InCluster  bool
		}
		Prometheus struct {
			Enabled bool
			BaseURL string
			Timeout int
		}
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Investigation configuration
	Investigation struct {
		MaxTurns      int
		ParallelTools bool
		// HistoryLimit caps persisted conversation turns per session.
		HistoryLimit int
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Budget configuration
	Budget struct {
		PerUserMonthlyBudget  float64
		PerInvestigationLimit int
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/sentinel/config.yaml")
}
