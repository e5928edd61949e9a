package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: "tls_cert_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_cert_path",
				Message: fmt.Sprintf("certificate file does not exist: %s", c.Server.TLSCertPath),
			})
		}

		if c.Server.TLSKeyPath == "" {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: "tls_key_path is required when tls_enabled is true",
			})
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			errs = append(errs, &ValidationError{
				Field:   "server.tls_key_path",
				Message: fmt.Sprintf("key file does not exist: %s", c.Server.TLSKeyPath),
			})
		}
	}

	// Validate LLM configuration. Missing credentials are not fatal: the
	// service starts degraded and LLM endpoints return HTTP 503 until the
	// user supplies a key.
	hasKey := c.LLM.APIKey != "" || os.Getenv("SENTINEL_LLM_API_KEY") != ""
	c.LLM.Configured = hasKey

	if hasKey && c.LLM.ModelID == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.model_id",
			Message: "model_id is required when credentials are configured",
		})
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, &ValidationError{
			Field:   "llm.max_tokens",
			Message: fmt.Sprintf("max_tokens cannot be negative, got %d", c.LLM.MaxTokens),
		})
	}
	if c.LLM.BaseURL != "" {
		if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "llm.base_url",
				Message: fmt.Sprintf("invalid base URL: %v", err),
			})
		}
	}

	// Validate datasource configuration
	if c.Datasources.Prometheus.Enabled {
		if c.Datasources.Prometheus.BaseURL == "" {
			errs = append(errs, &ValidationError{
				Field:   "datasources.prometheus.base_url",
				Message: "base_url is required when prometheus is enabled",
			})
		}
		if c.Datasources.Prometheus.Timeout < 1 {
			errs = append(errs, &ValidationError{
				Field:   "datasources.prometheus.timeout",
				Message: fmt.Sprintf("timeout must be at least 1 second, got %d", c.Datasources.Prometheus.Timeout),
			})
		}
	}

	// Validate database configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	// Validate investigation configuration
	if c.Investigation.MaxTurns < 1 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.max_turns",
			Message: fmt.Sprintf("max_turns must be at least 1, got %d", c.Investigation.MaxTurns),
		})
	}
	if c.Investigation.HistoryLimit < 0 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.history_limit",
			Message: fmt.Sprintf("history_limit cannot be negative, got %d", c.Investigation.HistoryLimit),
		})
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	// Validate budget configuration
	if c.Budget.PerUserMonthlyBudget < 0 {
		errs = append(errs, &ValidationError{
			Field:   "budget.per_user_monthly_budget",
			Message: fmt.Sprintf("per_user_monthly_budget cannot be negative, got %.2f", c.Budget.PerUserMonthlyBudget),
		})
	}

	if c.Budget.PerInvestigationLimit < 0 {
		errs = append(errs, &ValidationError{
			Field:   "budget.per_investigation_limit",
			Message: fmt.Sprintf("per_investigation_limit cannot be negative, got %d", c.Budget.PerInvestigationLimit),
		})
	}

	return errs
}
