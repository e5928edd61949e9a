package config

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8081
	cfg.Server.TLSEnabled = false
	cfg.Server.TLSCertPath = ""
	cfg.Server.TLSKeyPath = ""

	// LLM defaults
	cfg.LLM.BaseURL = ""
	cfg.LLM.APIKey = ""
	cfg.LLM.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	cfg.LLM.MaxTokens = 4096

	// Datasource defaults
	cfg.Datasources.Kubernetes.Enabled = true
	cfg.Datasources.Kubernetes.Kubeconfig = ""
	cfg.Datasources.Kubernetes.InCluster = false
	cfg.Datasources.Prometheus.Enabled = false
	cfg.Datasources.Prometheus.BaseURL = "http://localhost:9090"
	cfg.Datasources.Prometheus.Timeout = 30

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/sentinel/sentinel-ai.db"

	// Investigation defaults
	cfg.Investigation.MaxTurns = 10
	cfg.Investigation.ParallelTools = true
	cfg.Investigation.HistoryLimit = 200

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Budget defaults
	cfg.Budget.PerUserMonthlyBudget = 0.0 // 0 means no limit
	cfg.Budget.PerInvestigationLimit = 0

	return cfg
}
