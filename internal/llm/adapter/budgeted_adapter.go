package adapter

// budgetedAdapter wraps LLMAdapter with pre-flight budget checks and
// post-call token recording. This is the recommended production wrapper:
//
//	adapter, _ := NewLLMAdapter(cfg, logger)
//	safe := NewBudgetedAdapter(adapter, tracker, "user-123", "inv-456")
//
// The budgeted adapter satisfies the same LLMAdapter interface so callers
// do not need to change.

import (
	"context"
	"fmt"

	"github.com/sentinelops/sentinel-ai/internal/llm/budget"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

type budgetedAdapterImpl struct {
	inner           LLMAdapter
	tracker         budget.BudgetTracker
	userID          string
	investigationID string
}

// NewBudgetedAdapter creates an LLMAdapter with pre-flight budget checks.
// userID is the calling user; investigationID is optional (pass "" if none).
func NewBudgetedAdapter(inner LLMAdapter, tracker budget.BudgetTracker, userID, investigationID string) LLMAdapter {
	return &budgetedAdapterImpl{
		inner:           inner,
		tracker:         tracker,
		userID:          userID,
		investigationID: investigationID,
	}
}

// preflight enforces the hard limit and runs a best-effort soft check.
func (a *budgetedAdapterImpl) preflight(ctx context.Context, messages []types.Message, tools []types.ToolSpec) error {
	if err := a.tracker.EnforceBudgetLimit(ctx, a.userID); err != nil {
		return fmt.Errorf("budget limit: %w", err)
	}
	if estimated, err := a.inner.CountTokens(ctx, messages, tools); err == nil {
		ok, _ := a.tracker.CheckBudgetAvailable(ctx, a.userID, estimated)
		if !ok {
			return fmt.Errorf("budget insufficient for estimated %d tokens", estimated)
		}
	}
	return nil
}

func (a *budgetedAdapterImpl) record(ctx context.Context, usage types.TokenUsage) {
	if usage.TotalTokens == 0 {
		return
	}
	_ = a.tracker.RecordTokenUsage(ctx, a.userID, a.investigationID,
		usage.InputTokens, usage.OutputTokens, a.inner.ModelID())
}

// Complete performs a budget check, executes the call, then records usage.
func (a *budgetedAdapterImpl) Complete(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (*Completion, error) {
	if err := a.preflight(ctx, messages, tools); err != nil {
		return nil, err
	}
	completion, err := a.inner.Complete(ctx, messages, tools, opts)
	if err != nil {
		return nil, err
	}
	a.record(ctx, completion.Usage)
	return completion, nil
}

// CompleteStream wraps streaming; usage is recorded from the final update.
func (a *budgetedAdapterImpl) CompleteStream(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (<-chan types.StreamUpdate, <-chan error, error) {
	if err := a.preflight(ctx, messages, tools); err != nil {
		return nil, nil, err
	}

	updates, errCh, err := a.inner.CompleteStream(ctx, messages, tools, opts)
	if err != nil {
		return nil, nil, err
	}

	wrapped := make(chan types.StreamUpdate, 64)
	go func() {
		defer close(wrapped)
		for update := range updates {
			if update.IsFinal() && update.Usage != nil {
				a.record(ctx, *update.Usage)
			}
			wrapped <- update
		}
	}()

	return wrapped, errCh, nil
}

// CompleteStructured wraps structured completion with a budget check.
func (a *budgetedAdapterImpl) CompleteStructured(ctx context.Context, messages []types.Message, schema map[string]any, opts types.Options, allowRaw bool) (*StructuredResult, error) {
	if err := a.preflight(ctx, messages, nil); err != nil {
		return nil, err
	}
	return a.inner.CompleteStructured(ctx, messages, schema, opts, allowRaw)
}

// CompleteWithTools wraps the agentic loop with a pre-flight budget check.
// Output tokens are estimated from streamed text after the loop finishes.
func (a *budgetedAdapterImpl) CompleteWithTools(
	ctx context.Context,
	messages []types.Message,
	tools []types.ToolSpec,
	executor types.ToolExecutor,
	cfg types.AgentConfig,
) (<-chan types.AgentStreamEvent, error) {
	if err := a.preflight(ctx, messages, tools); err != nil {
		return nil, err
	}

	evtCh, err := a.inner.CompleteWithTools(ctx, messages, tools, executor, cfg)
	if err != nil {
		return nil, err
	}

	wrapped := make(chan types.AgentStreamEvent, 64)
	go func() {
		defer close(wrapped)
		var outputTokens int
		for evt := range evtCh {
			if evt.TextToken != "" {
				outputTokens += len(evt.TextToken) / 4
			}
			wrapped <- evt
		}
		inputTokens, _ := a.inner.CountTokens(ctx, messages, tools)
		a.record(ctx, types.TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		})
	}()

	return wrapped, nil
}

// CountTokens delegates to the inner adapter.
func (a *budgetedAdapterImpl) CountTokens(ctx context.Context, messages []types.Message, tools []types.ToolSpec) (int, error) {
	return a.inner.CountTokens(ctx, messages, tools)
}

// ModelID delegates to the inner adapter.
func (a *budgetedAdapterImpl) ModelID() string {
	return a.inner.ModelID()
}
