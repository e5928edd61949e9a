package bedrock

// encoder.go — turns a normalized history plus tool specs and generation
// options into the backend request shape.

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// MinMaxTokens is the floor applied to maxTokens. The backend default is
// far too low for structured output and silently truncates mid-object, so
// an absent or lower caller value is raised to this floor.
const MinMaxTokens = 4096

// EncodeRequest builds the backend request for a normalized history.
// Messages must already satisfy the backend invariants (NormalizeHistory);
// any system messages still present are lifted into the system field, and
// systemPrompts collected by the normalizer are prepended to it.
func EncodeRequest(modelID string, systemPrompts []string, messages []types.Message, tools []types.ToolSpec, opts types.Options) (*Request, error) {
	req := &Request{
		ModelID:         modelID,
		InferenceConfig: encodeInferenceConfig(opts),
	}

	for _, s := range systemPrompts {
		if strings.TrimSpace(s) != "" {
			req.System = append(req.System, SystemBlock{Text: s})
		}
	}

	for _, msg := range messages {
		if msg.Role == types.RoleSystem {
			text := collectText(msg)
			if strings.TrimSpace(text) != "" {
				req.System = append(req.System, SystemBlock{Text: text})
			}
			continue
		}

		content, err := encodeContent(msg)
		if err != nil {
			return nil, fmt.Errorf("encode %s message: %w", msg.Role, err)
		}
		if len(content) == 0 {
			continue
		}
		req.Messages = append(req.Messages, WireMessage{
			Role:    string(effectiveRole(msg.Role)),
			Content: content,
		})
	}

	if len(tools) > 0 {
		req.ToolConfig = encodeToolConfig(tools, opts.ToolChoice)
	}

	return req, nil
}

func encodeContent(msg types.Message) ([]WireBlock, error) {
	content := make([]WireBlock, 0, len(msg.Contents))
	for _, b := range msg.Contents {
		switch blk := b.(type) {
		case types.TextContent:
			content = append(content, WireBlock{Text: blk.Text})
		case types.ToolCallContent:
			input, err := encodeToolInput(blk.Arguments)
			if err != nil {
				return nil, fmt.Errorf("tool call %s: %w", blk.CallID, err)
			}
			content = append(content, WireBlock{ToolUse: &ToolUseBlock{
				ToolUseID: blk.CallID,
				Name:      blk.Name,
				Input:     input,
			}})
		case types.ToolResultContent:
			content = append(content, WireBlock{ToolResult: &ToolResultBlock{
				ToolUseID: blk.CallID,
				Content:   []ToolResultChunk{{Text: blk.Output()}},
			}})
		default:
			return nil, fmt.Errorf("unsupported content block %T", b)
		}
	}
	return content, nil
}

// encodeToolInput parses string arguments into a JSON value; the backend
// requires an object, not a serialized string. Unparseable strings are
// wrapped rather than dropped so the model still sees what was asked.
func encodeToolInput(args any) (any, error) {
	switch v := args.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]any{"raw": v}, nil
		}
		return parsed, nil
	default:
		return v, nil
	}
}

func encodeToolConfig(tools []types.ToolSpec, choice types.ToolChoice) *ToolConfig {
	cfg := &ToolConfig{Tools: make([]ToolEntry, 0, len(tools))}
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		cfg.Tools = append(cfg.Tools, ToolEntry{ToolSpec: ToolSpecEntry{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: InputSchema{JSON: schema},
		}})
	}
	cfg.ToolChoice = encodeToolChoice(choice)
	return cfg
}

// encodeToolChoice maps the generic policy to the wire union. Anything
// unrecognized defaults to auto.
func encodeToolChoice(choice types.ToolChoice) *ToolChoice {
	switch choice.Kind {
	case types.ToolChoiceAny:
		return &ToolChoice{Any: &struct{}{}}
	case types.ToolChoiceNone:
		return &ToolChoice{None: &struct{}{}}
	case types.ToolChoiceTool:
		if choice.Name != "" {
			return &ToolChoice{Tool: &ToolChoiceEntry{Name: choice.Name}}
		}
		return &ToolChoice{Auto: &struct{}{}}
	default:
		return &ToolChoice{Auto: &struct{}{}}
	}
}

func encodeInferenceConfig(opts types.Options) *InferenceConfig {
	cfg := &InferenceConfig{
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.StopSequences,
	}
	if cfg.MaxTokens < MinMaxTokens {
		cfg.MaxTokens = MinMaxTokens
	}
	return cfg
}
