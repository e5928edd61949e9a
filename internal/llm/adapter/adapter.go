package adapter

import (
	"context"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// Package adapter provides the unified interface between the investigation
// engine and the converse-style LLM backend.
//
// Responsibilities:
//   - Normalize arbitrary conversation histories into the strict form the
//     backend protocol accepts (role mapping, orphaned tool blocks, mixed
//     tool messages)
//   - Encode generic messages, tool schemas and generation options into
//     backend requests
//   - Handle streaming and non-streaming completion modes
//   - Recover structured JSON output from free-form model text
//   - Drive the multi-turn agentic tool loop
//   - Token counting for budget tracking
//   - Emit normalization diagnostics as metrics and audit events
//
// Integration Points:
//   - Budget Tracker: pre-flight checks and usage recording
//   - Tool Registry: execute tools returned by the model
//   - Investigation Sessions: completions for incident analysis
//   - Audit Logger: diagnostic trail for every dropped history block

// Completion is the result of a non-streaming call.
type Completion struct {
	// Text is the concatenated text content of the assistant reply.
	Text string
	// ToolCalls are the tool invocations the model requested, if any.
	ToolCalls []types.ToolCallContent
	// FinishReason classifies why generation stopped.
	FinishReason types.FinishReason
	// Usage is the backend-reported token accounting.
	Usage types.TokenUsage
}

// StructuredResult is the outcome of a structured completion: either a
// validated object or, on recovery failure, the cleaned raw text.
type StructuredResult struct {
	// Object is the parsed and schema-validated JSON object (nil on fallback).
	Object map[string]any
	// Canonical is the re-serialized object (empty on fallback).
	Canonical string
	// RawText is the cleaned model text, surfaced when recovery failed and
	// the caller opted into fallback.
	RawText string
	// Recovered reports whether Object is populated.
	Recovered bool
}

// LLMAdapter is the unified interface to the LLM backend.
type LLMAdapter interface {
	// Complete sends the history and returns the assistant completion.
	// The history may be arbitrarily dirty; normalization is applied first.
	Complete(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (*Completion, error)

	// CompleteStream streams the completion as generic updates. The final
	// update carries the finish reason and usage; the channel closes after
	// it. Transport errors arrive on the error channel (at most one).
	CompleteStream(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (<-chan types.StreamUpdate, <-chan error, error)

	// CompleteStructured requests a completion whose text must parse and
	// validate as a JSON object against schema. Wrapper layers the model
	// adds around the object are stripped before parsing. When allowRaw is
	// set, a failed recovery returns the cleaned text instead of an error.
	CompleteStructured(ctx context.Context, messages []types.Message, schema map[string]any, opts types.Options, allowRaw bool) (*StructuredResult, error)

	// CompleteWithTools runs the multi-turn agentic loop: the model calls
	// tools, the executor runs them, results are fed back until the model
	// answers without tool calls or MaxTurns is reached. Events stream on
	// the returned channel, which closes when the loop ends.
	CompleteWithTools(ctx context.Context, messages []types.Message, tools []types.ToolSpec, executor types.ToolExecutor, cfg types.AgentConfig) (<-chan types.AgentStreamEvent, error)

	// CountTokens estimates token usage for messages and tools, for budget
	// tracking and context window management.
	CountTokens(ctx context.Context, messages []types.Message, tools []types.ToolSpec) (int, error)

	// ModelID returns the configured backend model.
	ModelID() string
}
