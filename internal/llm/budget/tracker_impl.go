package budget

// Package budget — concrete BudgetTracker implementation.
//
// Design:
//   - In-memory per-user counters
//   - Model pricing table (USD per 1K tokens), matched by model-id prefix
//   - Soft limit: warn, continue. Hard limit: return an error.
//   - Gauges and counters exported for monitoring.

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/metrics"
)

// ─── Pricing ─────────────────────────────────────────────────────────────────

// modelPricing maps model-id prefixes to (input, output) cost per 1K tokens
// in USD. Longest matching prefix wins.
var modelPricing = map[string][2]float64{
	"anthropic.claude-3-5-sonnet": {0.003, 0.015},
	"anthropic.claude-3-5-haiku":  {0.0008, 0.004},
	"anthropic.claude-3-opus":     {0.015, 0.075},
	"amazon.nova-pro":             {0.0008, 0.0032},
	"amazon.nova-lite":            {0.00006, 0.00024},
}

// defaultPricing applies when no prefix matches.
var defaultPricing = [2]float64{0.003, 0.015}

// ─── Types ────────────────────────────────────────────────────────────────────

// UsageEntry tracks token consumption for a single LLM call.
type UsageEntry struct {
	ModelID         string
	InvestigationID string
	InputTokens     int
	OutputTokens    int
	CostUSD         float64
	Timestamp       time.Time
}

// UsageSummary aggregates usage for a user.
type UsageSummary struct {
	UserID            string         `json:"user_id"`
	TotalInputTokens  int            `json:"total_input_tokens"`
	TotalOutputTokens int            `json:"total_output_tokens"`
	TotalTokens       int            `json:"total_tokens"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
	ByModel           map[string]int `json:"by_model"`         // model_id → total tokens
	ByInvestigation   map[string]int `json:"by_investigation"` // investigation_id → total tokens
	BudgetLimitUSD    float64        `json:"budget_limit_usd"`
	RemainingUSD      float64        `json:"remaining_usd"`
	PeriodStart       time.Time      `json:"period_start"`
}

// BudgetConfig sets global and per-user budget limits.
type BudgetConfig struct {
	// DefaultPerUserLimitUSD is the default per-user budget. 0 = unlimited.
	DefaultPerUserLimitUSD float64
	// PerInvestigationLimitTokens caps tokens for a single investigation. 0 = unlimited.
	PerInvestigationLimitTokens int
	// WarnThreshold is the fraction of budget that triggers a warning (e.g. 0.8 = 80%).
	WarnThreshold float64
}

// DefaultBudgetConfig returns sensible defaults (effectively unlimited for local installs).
func DefaultBudgetConfig() *BudgetConfig {
	return &BudgetConfig{
		DefaultPerUserLimitUSD:      0,    // unlimited
		PerInvestigationLimitTokens: 0,    // unlimited
		WarnThreshold:               0.80, // warn at 80%
	}
}

// ─── Implementation ───────────────────────────────────────────────────────────

type userBudget struct {
	limitUSD    float64
	periodStart time.Time
	entries     []*UsageEntry
}

type budgetTrackerImpl struct {
	mu    sync.RWMutex
	cfg   *BudgetConfig
	users map[string]*userBudget // userID → budget
}

// NewBudgetTracker creates an in-memory budget tracker with default config.
func NewBudgetTracker() BudgetTracker {
	return NewBudgetTrackerWithConfig(DefaultBudgetConfig())
}

// NewBudgetTrackerWithConfig creates a budget tracker with explicit config.
func NewBudgetTrackerWithConfig(cfg *BudgetConfig) BudgetTracker {
	if cfg == nil {
		cfg = DefaultBudgetConfig()
	}
	return &budgetTrackerImpl{
		cfg:   cfg,
		users: make(map[string]*userBudget),
	}
}

func (t *budgetTrackerImpl) getOrCreateUser(userID string) *userBudget {
	if ub, ok := t.users[userID]; ok {
		return ub
	}
	ub := &userBudget{
		limitUSD:    t.cfg.DefaultPerUserLimitUSD,
		periodStart: startOfMonth(),
	}
	t.users[userID] = ub
	return ub
}

// RecordTokenUsage records actual token usage from an LLM call.
func (t *budgetTrackerImpl) RecordTokenUsage(_ context.Context, userID, investigationID string, inputTokens, outputTokens int, modelID string) error {
	cost := calculateCost(modelID, inputTokens, outputTokens)
	entry := &UsageEntry{
		ModelID:         modelID,
		InvestigationID: investigationID,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CostUSD:         cost,
		Timestamp:       time.Now(),
	}

	t.mu.Lock()
	ub := t.getOrCreateUser(userID)
	ub.entries = append(ub.entries, entry)
	spent := totalCostForUser(ub)
	t.mu.Unlock()

	metrics.LLMCostUSD.WithLabelValues(modelID).Add(cost)
	metrics.BudgetUsageUSD.WithLabelValues(userID, entry.Timestamp.Format("2006-01")).Set(spent)

	return nil
}

// GetUsageSummary returns usage summary for a user.
func (t *budgetTrackerImpl) GetUsageSummary(_ context.Context, userID string) (*UsageSummary, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ub := t.getOrCreateUserRO(userID)
	summary := &UsageSummary{
		UserID:          userID,
		ByModel:         map[string]int{},
		ByInvestigation: map[string]int{},
		BudgetLimitUSD:  ub.limitUSD,
		PeriodStart:     ub.periodStart,
	}

	for _, e := range ub.entries {
		summary.TotalInputTokens += e.InputTokens
		summary.TotalOutputTokens += e.OutputTokens
		summary.TotalCostUSD += e.CostUSD
		summary.ByModel[e.ModelID] += e.InputTokens + e.OutputTokens
		if e.InvestigationID != "" {
			summary.ByInvestigation[e.InvestigationID] += e.InputTokens + e.OutputTokens
		}
	}
	summary.TotalTokens = summary.TotalInputTokens + summary.TotalOutputTokens
	if ub.limitUSD > 0 {
		summary.RemainingUSD = ub.limitUSD - summary.TotalCostUSD
	}

	return summary, nil
}

// GetUsageDetails returns per-investigation usage breakdown.
func (t *budgetTrackerImpl) GetUsageDetails(_ context.Context, userID, investigationID string) ([]*UsageEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ub := t.getOrCreateUserRO(userID)
	var entries []*UsageEntry
	for _, e := range ub.entries {
		if investigationID == "" || e.InvestigationID == investigationID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// CheckBudgetAvailable checks if the user has budget for an estimated call.
func (t *budgetTrackerImpl) CheckBudgetAvailable(_ context.Context, userID string, estimatedTokens int) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ub := t.getOrCreateUserRO(userID)
	if ub.limitUSD <= 0 {
		return true, nil // unlimited
	}
	spent := totalCostForUser(ub)
	remaining := ub.limitUSD - spent
	// Rough estimate: assume default pricing, all-input.
	estimatedCost := float64(estimatedTokens) / 1000.0 * defaultPricing[0]
	if remaining < estimatedCost {
		return false, nil
	}
	if remaining < ub.limitUSD*(1-t.cfg.WarnThreshold) {
		return true, fmt.Errorf("budget warning: %.1f%% used (remaining: $%.4f)", (spent/ub.limitUSD)*100, remaining)
	}
	return true, nil
}

// EnforceBudgetLimit returns an error if the user's budget is exhausted.
func (t *budgetTrackerImpl) EnforceBudgetLimit(_ context.Context, userID string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ub := t.getOrCreateUserRO(userID)
	if ub.limitUSD <= 0 {
		return nil // unlimited
	}
	spent := totalCostForUser(ub)
	if spent >= ub.limitUSD {
		metrics.BudgetExceeded.WithLabelValues(userID).Inc()
		return fmt.Errorf("budget exceeded: spent $%.4f of $%.4f limit", spent, ub.limitUSD)
	}
	return nil
}

// GetEstimatedCost estimates the cost for an LLM call.
func (t *budgetTrackerImpl) GetEstimatedCost(_ context.Context, inputTokens, outputTokens int, modelID string) (float64, error) {
	return calculateCost(modelID, inputTokens, outputTokens), nil
}

// ResetBudget clears usage counters for a user (e.g. on monthly cycle).
func (t *budgetTrackerImpl) ResetBudget(_ context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ub := t.getOrCreateUser(userID)
	ub.entries = nil
	ub.periodStart = startOfMonth()
	return nil
}

// SetBudgetLimit sets a spending limit for a user.
func (t *budgetTrackerImpl) SetBudgetLimit(_ context.Context, userID string, limitDollars float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.getOrCreateUser(userID).limitUSD = limitDollars
	metrics.BudgetLimitUSD.WithLabelValues(userID).Set(limitDollars)
	return nil
}

// GetBudgetLimits returns limit info for a user.
func (t *budgetTrackerImpl) GetBudgetLimits(_ context.Context, userID string) (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ub := t.getOrCreateUserRO(userID)
	spent := totalCostForUser(ub)
	return map[string]any{
		"user_id":        userID,
		"limit_usd":      ub.limitUSD,
		"spent_usd":      spent,
		"remaining_usd":  ub.limitUSD - spent,
		"period_start":   ub.periodStart,
		"warn_threshold": t.cfg.WarnThreshold,
	}, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (t *budgetTrackerImpl) getOrCreateUserRO(userID string) *userBudget {
	if ub, ok := t.users[userID]; ok {
		return ub
	}
	return &userBudget{
		limitUSD:    t.cfg.DefaultPerUserLimitUSD,
		periodStart: startOfMonth(),
	}
}

func totalCostForUser(ub *userBudget) float64 {
	total := 0.0
	for _, e := range ub.entries {
		total += e.CostUSD
	}
	return total
}

func calculateCost(modelID string, inputTokens, outputTokens int) float64 {
	pricing := defaultPricing
	bestLen := 0
	for prefix, p := range modelPricing {
		if strings.HasPrefix(modelID, prefix) && len(prefix) > bestLen {
			pricing = p
			bestLen = len(prefix)
		}
	}
	return (float64(inputTokens)/1000.0)*pricing[0] + (float64(outputTokens)/1000.0)*pricing[1]
}

func startOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
