package budget

import "context"

// Package budget provides token budget tracking across investigations and users.
//
// Responsibilities:
//   - Track token usage per user and per investigation
//   - Enforce configurable cost spending limits
//   - Monitor cumulative costs across models
//   - Provide usage analytics (breakdown by investigation, model)
//   - Warn when approaching budget limits
//   - Block investigations if budget exceeded
//
// Budget Types:
//   1. Global Budget: Total spend across all users/investigations
//   2. Per-User Budget: Spending limit per user account
//   3. Per-Investigation Budget: Max tokens per single investigation
//
// Budget Enforcement:
//   - Soft limit: warn when approaching limit, continue
//   - Hard limit: block new operations when limit reached
//
// Cost Calculation:
//   - Cost = (input_tokens * input_cost) + (output_tokens * output_cost)
//   - Model-specific pricing per 1K tokens
//
// Integration Points:
//   - LLM Adapter: reports token usage per completion
//   - Investigation Sessions: check budget before each turn
//   - REST API: exposes usage endpoints

// BudgetTracker defines the interface for budget tracking.
type BudgetTracker interface {
	// RecordTokenUsage records token usage from an LLM call.
	RecordTokenUsage(ctx context.Context, userID string, investigationID string, inputTokens int, outputTokens int, modelID string) error

	// GetUsageSummary returns the usage summary for a user.
	GetUsageSummary(ctx context.Context, userID string) (*UsageSummary, error)

	// GetUsageDetails returns the per-call usage entries, optionally
	// filtered by investigation.
	GetUsageDetails(ctx context.Context, userID string, investigationID string) ([]*UsageEntry, error)

	// CheckBudgetAvailable checks if budget is available for an operation.
	// A non-nil error alongside true is a soft-limit warning.
	CheckBudgetAvailable(ctx context.Context, userID string, estimatedTokens int) (bool, error)

	// EnforceBudgetLimit blocks operations if budget is exhausted.
	EnforceBudgetLimit(ctx context.Context, userID string) error

	// GetEstimatedCost estimates cost of an operation in USD.
	GetEstimatedCost(ctx context.Context, inputTokens int, outputTokens int, modelID string) (float64, error)

	// ResetBudget resets usage counters (typically on monthly cycle).
	ResetBudget(ctx context.Context, userID string) error

	// SetBudgetLimit sets a new budget limit for a user.
	SetBudgetLimit(ctx context.Context, userID string, limitDollars float64) error

	// GetBudgetLimits returns current budget limits for a user.
	GetBudgetLimits(ctx context.Context, userID string) (map[string]any, error)
}
