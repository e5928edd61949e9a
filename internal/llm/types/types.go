package types

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool marks messages that carry tool outcomes. The backend protocol
	// has no tool role; these are remapped to user during encoding.
	RoleTool Role = "tool"
)

// ContentBlock is one unit of a message's payload: text, a tool invocation,
// or a tool outcome. The set of implementations is closed; dispatch is done
// with a type switch so an unhandled kind is a compile-visible gap, not a
// guessed field probe.
type ContentBlock interface {
	contentBlock()
}

// TextContent is plain text content.
type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) contentBlock() {}

// ToolCallContent is a model-emitted request to invoke a tool.
type ToolCallContent struct {
	// CallID correlates this invocation with its eventual result.
	CallID string `json:"call_id"`
	// Name is the tool to invoke.
	Name string `json:"name"`
	// Arguments is the tool input. Usually a map[string]any; providers may
	// hand us a raw JSON string, which the encoder parses before sending.
	Arguments any `json:"arguments,omitempty"`
}

func (ToolCallContent) contentBlock() {}

// ToolResultContent is the outcome of executing a ToolCallContent,
// correlated by CallID. Exactly one of Result or Error is normally set.
type ToolResultContent struct {
	CallID string  `json:"call_id"`
	Result *string `json:"result,omitempty"`
	Error  *string `json:"error,omitempty"`
}

func (ToolResultContent) contentBlock() {}

// Output returns the result text if present, otherwise the error text.
func (r ToolResultContent) Output() string {
	if r.Result != nil {
		return *r.Result
	}
	if r.Error != nil {
		return *r.Error
	}
	return ""
}

// Message is a single conversation turn: a role plus an ordered list of
// content blocks. Messages are value objects; transformations build new
// instances and never mutate a caller's message in place.
type Message struct {
	Role     Role
	Contents []ContentBlock
}

// NewTextMessage builds a single-text-block message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Contents: []ContentBlock{TextContent{Text: text}}}
}

// Clone returns a deep copy of the message. Block values are immutable
// except for ToolCallContent.Arguments, which is re-marshalled when it is a
// map so the copy cannot alias the caller's data.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Contents: make([]ContentBlock, len(m.Contents))}
	for i, b := range m.Contents {
		switch blk := b.(type) {
		case ToolCallContent:
			out.Contents[i] = ToolCallContent{CallID: blk.CallID, Name: blk.Name, Arguments: cloneArguments(blk.Arguments)}
		default:
			out.Contents[i] = b
		}
	}
	return out
}

// CloneMessages deep-copies a whole history.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneArguments(args any) any {
	m, ok := args.(map[string]any)
	if !ok {
		return args
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return args
	}
	var dup map[string]any
	if err := json.Unmarshal(raw, &dup); err != nil {
		return args
	}
	return dup
}

// FinishReason is the terminal classification of why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// TokenUsage tracks token consumption for one request/response cycle.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// StreamUpdate is one generic update decoded from the backend stream:
// either an incremental text fragment, or a final finish-only update.
type StreamUpdate struct {
	// Text is the incremental text fragment (empty on the final update).
	Text string
	// FinishReason is set exactly once, on the final update.
	FinishReason FinishReason
	// Usage is populated on the final update when the backend reported it.
	Usage *TokenUsage
}

// IsFinal reports whether this is the finish-only terminal update.
func (u StreamUpdate) IsFinal() bool { return u.FinishReason != "" }

// ToolSpec is a backend-ready tool definition: name, description, and a
// JSON-Schema object describing the input. Built once per tool and cached
// for the lifetime of a request.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolChoiceKind selects how the backend may use tools.
type ToolChoiceKind string

const (
	ToolChoiceAuto ToolChoiceKind = "auto"
	ToolChoiceAny  ToolChoiceKind = "any"
	ToolChoiceNone ToolChoiceKind = "none"
	ToolChoiceTool ToolChoiceKind = "tool"
)

// ToolChoice is the provider-agnostic tool-choice policy. The zero value
// means auto; an unrecognized Kind also encodes as auto.
type ToolChoice struct {
	Kind ToolChoiceKind
	// Name is the forced tool, set when Kind == ToolChoiceTool.
	Name string
}

// Options are the generation parameters for one request. Unset values are
// omitted from the encoded request rather than defaulted, except MaxTokens
// which the encoder raises to a provider-appropriate floor.
type Options struct {
	Temperature   *float64
	TopP          *float64
	MaxTokens     int
	StopSequences []string
	ToolChoice    ToolChoice
}

// Float64 returns a pointer to v, for building Options literals.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to s, for building ToolResultContent literals.
func String(s string) *string { return &s }
