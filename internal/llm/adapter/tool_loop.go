package adapter

// tool_loop.go — multi-turn agentic tool-calling loop.
//
// Conversation turns against the converse-style backend:
//
//   Turn N (model returns tool calls):
//     content: [{toolUse: {toolUseId:"X", name:"get_pod_logs", input:{...}}}]
//     stopReason: "tool_use"
//
//   → Append to history:
//     {role:"assistant", contents:[ToolCallContent{CallID:"X", ...}]}
//     {role:"user",      contents:[ToolResultContent{CallID:"X", Result:"<result>"}]}
//
//   Turn N+1 (model continues with tool results in context):
//     content: [{text:"Here is what I found..."}]
//     stopReason: "end_turn"  → done

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentinelops/sentinel-ai/internal/llm/provider/bedrock"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// CompleteWithTools runs the full agentic loop.
func (a *llmAdapterImpl) CompleteWithTools(
	ctx context.Context,
	messages []types.Message,
	tools []types.ToolSpec,
	executor types.ToolExecutor,
	cfg types.AgentConfig,
) (<-chan types.AgentStreamEvent, error) {
	if !a.configured() {
		return nil, ErrNotConfigured
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = types.DefaultAgentConfig().MaxTurns
	}

	evtCh := make(chan types.AgentStreamEvent, 64)

	go func() {
		defer close(evtCh)
		a.runAgentLoop(ctx, messages, tools, executor, cfg, evtCh)
	}()

	return evtCh, nil
}

// runAgentLoop is the core agentic loop. It runs until the model stops
// calling tools, an error occurs, or cfg.MaxTurns is exceeded. The history
// is re-normalized each turn; appended turns are already well formed so
// later passes are no-ops.
func (a *llmAdapterImpl) runAgentLoop(
	ctx context.Context,
	messages []types.Message,
	tools []types.ToolSpec,
	executor types.ToolExecutor,
	cfg types.AgentConfig,
	evtCh chan<- types.AgentStreamEvent,
) {
	history := types.CloneMessages(messages)

	for turn := 0; turn < cfg.MaxTurns; turn++ {
		assistant, finish, err := a.streamSingleTurn(ctx, history, tools, evtCh)
		if err != nil {
			evtCh <- types.AgentStreamEvent{Err: fmt.Errorf("LLM turn %d: %w", turn, err)}
			return
		}

		toolCalls := collectToolCalls(assistant)

		// No tool calls → this is the final answer; text already streamed.
		if len(toolCalls) == 0 || finish != types.FinishToolCalls {
			evtCh <- types.AgentStreamEvent{Done: true}
			return
		}

		history = append(history, assistant)

		results, err := a.executeTools(ctx, toolCalls, executor, evtCh, turn, cfg.ParallelTools)
		if err != nil {
			evtCh <- types.AgentStreamEvent{Err: fmt.Errorf("tool execution turn %d: %w", turn, err)}
			return
		}

		resultBlocks := make([]types.ContentBlock, 0, len(results))
		for _, r := range results {
			resultBlocks = append(resultBlocks, r)
		}
		history = append(history, types.Message{Role: types.RoleUser, Contents: resultBlocks})
	}

	evtCh <- types.AgentStreamEvent{
		Err: fmt.Errorf("agentic loop exceeded max turns (%d) without final answer", cfg.MaxTurns),
	}
}

// streamSingleTurn makes one streaming backend call. Text tokens are
// forwarded to evtCh as they arrive; the accumulated assistant message is
// returned when the turn ends.
func (a *llmAdapterImpl) streamSingleTurn(
	ctx context.Context,
	history []types.Message,
	tools []types.ToolSpec,
	evtCh chan<- types.AgentStreamEvent,
) (types.Message, types.FinishReason, error) {
	req, err := a.prepare(history, tools, types.Options{})
	if err != nil {
		return types.Message{}, "", err
	}

	events, transportErr, err := a.client.ConverseStream(ctx, req)
	if err != nil {
		return types.Message{}, "", err
	}

	decoder := bedrock.NewStreamDecoder()
	for ev := range events {
		update, err := decoder.Feed(ev)
		if err != nil || update == nil {
			continue
		}
		if update.Text != "" {
			select {
			case evtCh <- types.AgentStreamEvent{TextToken: update.Text}:
			case <-ctx.Done():
				return types.Message{}, "", ctx.Err()
			}
		}
	}
	if err := <-transportErr; err != nil {
		decoder.Fail(err)
		return types.Message{}, "", err
	}

	msg, usage, err := decoder.FinalMessage()
	if err != nil {
		return types.Message{}, "", err
	}
	a.recordUsage(usage)
	return msg, decoder.FinishReason(), nil
}

func collectToolCalls(msg types.Message) []types.ToolCallContent {
	var calls []types.ToolCallContent
	for _, b := range msg.Contents {
		if c, ok := b.(types.ToolCallContent); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

// executeTools runs all tool calls, optionally in parallel, and returns
// results in call order.
func (a *llmAdapterImpl) executeTools(
	ctx context.Context,
	calls []types.ToolCallContent,
	executor types.ToolExecutor,
	evtCh chan<- types.AgentStreamEvent,
	turn int,
	parallel bool,
) ([]types.ToolResultContent, error) {
	results := make([]types.ToolResultContent, len(calls))

	if parallel && len(calls) > 1 {
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for i, call := range calls {
			wg.Add(1)
			go func(idx int, call types.ToolCallContent) {
				defer wg.Done()
				res, execErr := executeSingleTool(ctx, call, executor, evtCh, turn)
				mu.Lock()
				defer mu.Unlock()
				results[idx] = res
				if execErr != nil && firstErr == nil {
					firstErr = execErr
				}
			}(i, call)
		}
		wg.Wait()
		if firstErr != nil {
			return results, firstErr
		}
	} else {
		for i, call := range calls {
			res, err := executeSingleTool(ctx, call, executor, evtCh, turn)
			results[i] = res
			if err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// executeSingleTool runs one tool call and emits lifecycle events. Errors
// from the executor are returned as tool content (not fatal) so the model
// can reason about the failure.
func executeSingleTool(
	ctx context.Context,
	call types.ToolCallContent,
	executor types.ToolExecutor,
	evtCh chan<- types.AgentStreamEvent,
	turn int,
) (types.ToolResultContent, error) {
	args, _ := call.Arguments.(map[string]any)

	select {
	case evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
		Phase: "calling", CallID: call.CallID, ToolName: call.Name, Args: args, TurnIndex: turn,
	}}:
	case <-ctx.Done():
		return types.ToolResultContent{CallID: call.CallID, Error: types.String("context cancelled")}, ctx.Err()
	}

	result, err := executor.Execute(ctx, call.Name, args)
	if err != nil {
		msg := fmt.Sprintf("Tool %q failed: %v", call.Name, err)
		select {
		case evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
			Phase: "error", CallID: call.CallID, ToolName: call.Name, Error: msg, TurnIndex: turn,
		}}:
		case <-ctx.Done():
		}
		// The model sees what went wrong through the error field.
		return types.ToolResultContent{CallID: call.CallID, Error: types.String(msg)}, nil
	}

	select {
	case evtCh <- types.AgentStreamEvent{ToolEvent: &types.ToolEvent{
		Phase: "result", CallID: call.CallID, ToolName: call.Name, Result: result, TurnIndex: turn,
	}}:
	case <-ctx.Done():
	}

	return types.ToolResultContent{CallID: call.CallID, Result: types.String(result)}, nil
}
