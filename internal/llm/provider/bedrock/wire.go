package bedrock

// wire.go — request/response/stream shapes of the converse-style backend
// protocol. The backend is much stricter than the generic conversation
// model: only user/assistant turns, system text lifted to a top-level
// field, and every toolResult paired with a preceding assistant toolUse.

// Request is the backend chat-completion request.
type Request struct {
	ModelID         string           `json:"modelId"`
	System          []SystemBlock    `json:"system,omitempty"`
	Messages        []WireMessage    `json:"messages"`
	ToolConfig      *ToolConfig      `json:"toolConfig,omitempty"`
	InferenceConfig *InferenceConfig `json:"inferenceConfig,omitempty"`
}

// SystemBlock is one system-instruction text block.
type SystemBlock struct {
	Text string `json:"text"`
}

// WireMessage is one conversation turn on the wire. Role is "user" or
// "assistant" only.
type WireMessage struct {
	Role    string      `json:"role"`
	Content []WireBlock `json:"content"`
}

// WireBlock is the backend content union. Exactly one field is set.
type WireBlock struct {
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

// ToolUseBlock is a tool invocation emitted by the model.
type ToolUseBlock struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	Input     any    `json:"input"`
}

// ToolResultBlock carries a tool outcome back to the model.
type ToolResultBlock struct {
	ToolUseID string            `json:"toolUseId"`
	Content   []ToolResultChunk `json:"content"`
}

// ToolResultChunk is one piece of tool-result content.
type ToolResultChunk struct {
	Text string `json:"text"`
}

// ToolConfig carries the tool list and tool-choice policy.
type ToolConfig struct {
	Tools      []ToolEntry `json:"tools"`
	ToolChoice *ToolChoice `json:"toolChoice,omitempty"`
}

// ToolEntry wraps one tool specification.
type ToolEntry struct {
	ToolSpec ToolSpecEntry `json:"toolSpec"`
}

// ToolSpecEntry is the backend tool definition.
type ToolSpecEntry struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema wraps a JSON-Schema object.
type InputSchema struct {
	JSON map[string]any `json:"json"`
}

// ToolChoice selects how the backend may use tools. Exactly one field is set.
type ToolChoice struct {
	Auto *struct{}        `json:"auto,omitempty"`
	Any  *struct{}        `json:"any,omitempty"`
	None *struct{}        `json:"none,omitempty"`
	Tool *ToolChoiceEntry `json:"tool,omitempty"`
}

// ToolChoiceEntry forces a specific tool.
type ToolChoiceEntry struct {
	Name string `json:"name"`
}

// InferenceConfig carries generation parameters. Optional fields are
// omitted rather than defaulted; the backend applies its own defaults.
type InferenceConfig struct {
	MaxTokens     int      `json:"maxTokens"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

// Response is the single-shot (non-streaming) backend response.
type Response struct {
	Output     ResponseOutput `json:"output"`
	StopReason string         `json:"stopReason"`
	Usage      *WireUsage     `json:"usage,omitempty"`
}

// ResponseOutput wraps the assistant message of a response.
type ResponseOutput struct {
	Message WireMessage `json:"message"`
}

// WireUsage is the backend token accounting.
type WireUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Backend stop reasons, mapped to generic finish reasons by the decoder.
const (
	StopReasonEndTurn         = "end_turn"
	StopReasonStopSequence    = "stop_sequence"
	StopReasonMaxTokens       = "max_tokens"
	StopReasonToolUse         = "tool_use"
	StopReasonContentFiltered = "content_filtered"
)

// Stream event types.
const (
	EventContentBlockStart = "contentBlockStart"
	EventContentBlockDelta = "contentBlockDelta"
	EventContentBlockStop  = "contentBlockStop"
	EventMessageStop       = "messageStop"
	EventMetadata          = "metadata"
)

// StreamEvent is one incremental event from the backend stream.
type StreamEvent struct {
	Type       string             `json:"type"`
	Index      int                `json:"index,omitempty"`
	Start      *ContentBlockStart `json:"start,omitempty"`
	Delta      *ContentBlockDelta `json:"delta,omitempty"`
	StopReason string             `json:"stopReason,omitempty"`
	Usage      *WireUsage         `json:"usage,omitempty"`
}

// ContentBlockStart announces a new content block at an index. A toolUse
// start arrives with id and name fully formed.
type ContentBlockStart struct {
	ToolUse *ToolUseStart `json:"toolUse,omitempty"`
}

// ToolUseStart opens a streamed tool invocation.
type ToolUseStart struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
}

// ContentBlockDelta carries either a text fragment or a toolUse input
// fragment for the block at the event's index.
type ContentBlockDelta struct {
	Text    string        `json:"text,omitempty"`
	ToolUse *ToolUseDelta `json:"toolUse,omitempty"`
}

// ToolUseDelta is a fragment of the tool input JSON. Fragments are not
// individually parseable; they are accumulated until the block stops.
type ToolUseDelta struct {
	Input string `json:"input"`
}
