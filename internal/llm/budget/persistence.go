package budget

// persistence.go — write-through persistence for the in-memory tracker.
//
// Usage records and limits are mirrored to the SQLite store so spend
// survives restarts. A user's in-memory state is rehydrated lazily from the
// store the first time that user is touched after startup.

import (
	"context"
	"sync"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/db"
)

type persistentTracker struct {
	BudgetTracker
	store db.BudgetStore

	mu       sync.Mutex
	hydrated map[string]bool
}

// NewPersistentBudgetTracker wraps an in-memory tracker with write-through
// persistence to store.
func NewPersistentBudgetTracker(store db.BudgetStore, cfg *BudgetConfig) BudgetTracker {
	return &persistentTracker{
		BudgetTracker: NewBudgetTrackerWithConfig(cfg),
		store:         store,
		hydrated:      make(map[string]bool),
	}
}

// hydrate replays this month's persisted usage for a user into the
// in-memory tracker. Idempotent per user per process lifetime.
func (p *persistentTracker) hydrate(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hydrated[userID] {
		return
	}
	p.hydrated[userID] = true

	if limit, _, err := p.store.GetUserBudget(ctx, userID); err == nil && limit > 0 {
		_ = p.BudgetTracker.SetBudgetLimit(ctx, userID, limit)
	}

	from := startOfMonth()
	records, err := p.store.QueryBudgetRecords(ctx, userID, from, time.Now().UTC())
	if err != nil {
		return
	}
	for _, r := range records {
		_ = p.BudgetTracker.RecordTokenUsage(ctx, r.UserID, r.InvestigationID,
			r.InputTokens, r.OutputTokens, r.Model)
	}
}

func (p *persistentTracker) RecordTokenUsage(ctx context.Context, userID, investigationID string, inputTokens, outputTokens int, modelID string) error {
	p.hydrate(ctx, userID)
	if err := p.BudgetTracker.RecordTokenUsage(ctx, userID, investigationID, inputTokens, outputTokens, modelID); err != nil {
		return err
	}
	cost, _ := p.BudgetTracker.GetEstimatedCost(ctx, inputTokens, outputTokens, modelID)
	return p.store.AppendBudgetRecord(ctx, &db.BudgetRecord{
		UserID:          userID,
		InvestigationID: investigationID,
		Model:           modelID,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CostUSD:         cost,
		RecordedAt:      time.Now().UTC(),
	})
}

func (p *persistentTracker) GetUsageSummary(ctx context.Context, userID string) (*UsageSummary, error) {
	p.hydrate(ctx, userID)
	return p.BudgetTracker.GetUsageSummary(ctx, userID)
}

func (p *persistentTracker) GetUsageDetails(ctx context.Context, userID, investigationID string) ([]*UsageEntry, error) {
	p.hydrate(ctx, userID)
	return p.BudgetTracker.GetUsageDetails(ctx, userID, investigationID)
}

func (p *persistentTracker) CheckBudgetAvailable(ctx context.Context, userID string, estimatedTokens int) (bool, error) {
	p.hydrate(ctx, userID)
	return p.BudgetTracker.CheckBudgetAvailable(ctx, userID, estimatedTokens)
}

func (p *persistentTracker) EnforceBudgetLimit(ctx context.Context, userID string) error {
	p.hydrate(ctx, userID)
	return p.BudgetTracker.EnforceBudgetLimit(ctx, userID)
}

func (p *persistentTracker) SetBudgetLimit(ctx context.Context, userID string, limitDollars float64) error {
	p.hydrate(ctx, userID)
	if err := p.BudgetTracker.SetBudgetLimit(ctx, userID, limitDollars); err != nil {
		return err
	}
	return p.store.SetUserBudget(ctx, userID, limitDollars)
}

func (p *persistentTracker) ResetBudget(ctx context.Context, userID string) error {
	p.hydrate(ctx, userID)
	if err := p.BudgetTracker.ResetBudget(ctx, userID); err != nil {
		return err
	}
	return p.store.ResetUserBudget(ctx, userID)
}
