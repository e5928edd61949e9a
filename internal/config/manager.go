package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	// Initialize viper
	m.viper = viper.New()

	// Set config file path
	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// Set environment variable prefix
	m.viper.SetEnvPrefix("SENTINEL")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	m.setDefaults()

	// Try to read config file (optional)
	if err := m.viper.ReadInConfig(); err != nil {
		// Config file not found is OK, we'll use defaults + env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// File not found via viper - OK, use defaults
		} else if os.IsNotExist(err) {
			// File not found via os - OK, use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides for sensitive data
	m.applyEnvOverrides()

	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	// Start watching config file
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		// Reload config
		if err := m.unmarshalConfig(); err != nil {
			// Log error but don't send to channel
			return
		}
		m.applyEnvOverrides()
		// Send updated config to channel
		select {
		case m.watchChan <- *m.config:
		default:
			// Channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	// Re-read config file
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Apply environment variable overrides
	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.tls_enabled", defaults.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", defaults.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", defaults.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// LLM defaults
	m.viper.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	m.viper.SetDefault("llm.model_id", defaults.LLM.ModelID)
	m.viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)

	// Datasource defaults
	m.viper.SetDefault("datasources.kubernetes.enabled", defaults.Datasources.Kubernetes.Enabled)
	m.viper.SetDefault("datasources.kubernetes.kubeconfig", defaults.Datasources.Kubernetes.Kubeconfig)
	m.viper.SetDefault("datasources.kubernetes.in_cluster", defaults.Datasources.Kubernetes.InCluster)
	m.viper.SetDefault("datasources.prometheus.enabled", defaults.Datasources.Prometheus.Enabled)
	m.viper.SetDefault("datasources.prometheus.base_url", defaults.Datasources.Prometheus.BaseURL)
	m.viper.SetDefault("datasources.prometheus.timeout", defaults.Datasources.Prometheus.Timeout)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Investigation defaults
	m.viper.SetDefault("investigation.max_turns", defaults.Investigation.MaxTurns)
	m.viper.SetDefault("investigation.parallel_tools", defaults.Investigation.ParallelTools)
	m.viper.SetDefault("investigation.history_limit", defaults.Investigation.HistoryLimit)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)

	// Budget defaults
	m.viper.SetDefault("budget.per_user_monthly_budget", defaults.Budget.PerUserMonthlyBudget)
	m.viper.SetDefault("budget.per_investigation_limit", defaults.Budget.PerInvestigationLimit)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// LLM
	cfg.LLM.BaseURL = m.viper.GetString("llm.base_url")
	cfg.LLM.APIKey = m.viper.GetString("llm.api_key")
	cfg.LLM.ModelID = m.viper.GetString("llm.model_id")
	cfg.LLM.MaxTokens = m.viper.GetInt("llm.max_tokens")

	// Datasources
	cfg.Datasources.Kubernetes.Enabled = m.viper.GetBool("datasources.kubernetes.enabled")
	cfg.Datasources.Kubernetes.Kubeconfig = m.viper.GetString("datasources.kubernetes.kubeconfig")
	cfg.Datasources.Kubernetes.InCluster = m.viper.GetBool("datasources.kubernetes.in_cluster")
	cfg.Datasources.Prometheus.Enabled = m.viper.GetBool("datasources.prometheus.enabled")
	cfg.Datasources.Prometheus.BaseURL = m.viper.GetString("datasources.prometheus.base_url")
	cfg.Datasources.Prometheus.Timeout = m.viper.GetInt("datasources.prometheus.timeout")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Investigation
	cfg.Investigation.MaxTurns = m.viper.GetInt("investigation.max_turns")
	cfg.Investigation.ParallelTools = m.viper.GetBool("investigation.parallel_tools")
	cfg.Investigation.HistoryLimit = m.viper.GetInt("investigation.history_limit")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")

	// Budget
	cfg.Budget.PerUserMonthlyBudget = m.viper.GetFloat64("budget.per_user_monthly_budget")
	cfg.Budget.PerInvestigationLimit = m.viper.GetInt("budget.per_investigation_limit")

	m.config = cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides for sensitive data.
func (m *viperConfigManager) applyEnvOverrides() {
	// LLM credentials from environment
	if apiKey := os.Getenv("SENTINEL_LLM_API_KEY"); apiKey != "" {
		m.config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("SENTINEL_LLM_BASE_URL"); baseURL != "" {
		m.config.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("SENTINEL_LLM_MODEL"); model != "" {
		m.config.LLM.ModelID = model
	}

	// Kubeconfig from the standard env var
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" && m.config.Datasources.Kubernetes.Kubeconfig == "" {
		m.config.Datasources.Kubernetes.Kubeconfig = kubeconfig
	}

	// Port from environment - only override if explicitly set
	if portEnv := os.Getenv("SENTINEL_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}
}
