package bedrock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

func TestEncodeRequestBasic(t *testing.T) {
	messages := []types.Message{
		types.NewTextMessage(types.RoleUser, "why is the pod crashing?"),
		types.NewTextMessage(types.RoleAssistant, "checking"),
	}

	req, err := EncodeRequest("model-x", []string{"be brief"}, messages, nil, types.Options{})
	require.NoError(t, err)

	assert.Equal(t, "model-x", req.ModelID)
	require.Len(t, req.System, 1)
	assert.Equal(t, "be brief", req.System[0].Text)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "why is the pod crashing?", req.Messages[0].Content[0].Text)

	assert.Nil(t, req.ToolConfig, "no tools means no tool config")
}

func TestEncodeRequestLiftsStraySystem(t *testing.T) {
	messages := []types.Message{
		types.NewTextMessage(types.RoleSystem, "late instruction"),
		types.NewTextMessage(types.RoleUser, "hi"),
	}

	req, err := EncodeRequest("m", []string{"first"}, messages, nil, types.Options{})
	require.NoError(t, err)

	require.Len(t, req.System, 2)
	assert.Equal(t, "first", req.System[0].Text)
	assert.Equal(t, "late instruction", req.System[1].Text)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestEncodeToolCallAndResult(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{
			types.ToolCallContent{CallID: "t1", Name: "get_logs", Arguments: map[string]any{"pod": "api-0"}},
		}},
		{Role: types.RoleUser, Contents: []types.ContentBlock{
			types.ToolResultContent{CallID: "t1", Result: types.String("log lines")},
		}},
	}

	req, err := EncodeRequest("m", nil, messages, nil, types.Options{})
	require.NoError(t, err)

	use := req.Messages[0].Content[0].ToolUse
	require.NotNil(t, use)
	assert.Equal(t, "t1", use.ToolUseID)
	assert.Equal(t, "get_logs", use.Name)
	assert.Equal(t, map[string]any{"pod": "api-0"}, use.Input)

	result := req.Messages[1].Content[0].ToolResult
	require.NotNil(t, result)
	assert.Equal(t, "t1", result.ToolUseID)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "log lines", result.Content[0].Text)
}

func TestEncodeToolInputStringArguments(t *testing.T) {
	// Serialized arguments are parsed into an object before hitting the
	// wire; unparseable strings are wrapped instead of dropped.
	cases := []struct {
		name string
		args any
		want any
	}{
		{"json string", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"garbage string", `{"a":`, map[string]any{"raw": `{"a":`}},
		{"nil", nil, map[string]any{}},
		{"already object", map[string]any{"b": true}, map[string]any{"b": true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeToolInput(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeToolConfig(t *testing.T) {
	tools := []types.ToolSpec{
		{Name: "get_logs", Description: "fetch pod logs", InputSchema: map[string]any{
			"type": "object", "properties": map[string]any{"pod": map[string]any{"type": "string"}},
		}},
		{Name: "bare"},
	}

	req, err := EncodeRequest("m", nil, []types.Message{
		types.NewTextMessage(types.RoleUser, "go"),
	}, tools, types.Options{})
	require.NoError(t, err)

	require.NotNil(t, req.ToolConfig)
	require.Len(t, req.ToolConfig.Tools, 2)
	assert.Equal(t, "get_logs", req.ToolConfig.Tools[0].ToolSpec.Name)

	// A missing schema becomes an empty object schema, never null.
	bare := req.ToolConfig.Tools[1].ToolSpec.InputSchema.JSON
	assert.Equal(t, "object", bare["type"])
	assert.NotNil(t, bare["properties"])
}

func TestEncodeToolChoice(t *testing.T) {
	cases := []struct {
		name   string
		choice types.ToolChoice
		check  func(t *testing.T, tc *ToolChoice)
	}{
		{"auto", types.ToolChoice{Kind: types.ToolChoiceAuto}, func(t *testing.T, tc *ToolChoice) {
			assert.NotNil(t, tc.Auto)
		}},
		{"any", types.ToolChoice{Kind: types.ToolChoiceAny}, func(t *testing.T, tc *ToolChoice) {
			assert.NotNil(t, tc.Any)
		}},
		{"none", types.ToolChoice{Kind: types.ToolChoiceNone}, func(t *testing.T, tc *ToolChoice) {
			assert.NotNil(t, tc.None)
		}},
		{"specific tool", types.ToolChoice{Kind: types.ToolChoiceTool, Name: "get_logs"}, func(t *testing.T, tc *ToolChoice) {
			require.NotNil(t, tc.Tool)
			assert.Equal(t, "get_logs", tc.Tool.Name)
		}},
		{"tool without name falls back to auto", types.ToolChoice{Kind: types.ToolChoiceTool}, func(t *testing.T, tc *ToolChoice) {
			assert.NotNil(t, tc.Auto)
			assert.Nil(t, tc.Tool)
		}},
		{"unrecognized falls back to auto", types.ToolChoice{Kind: "weird"}, func(t *testing.T, tc *ToolChoice) {
			assert.NotNil(t, tc.Auto)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, encodeToolChoice(tc.choice))
		})
	}
}

func TestEncodeMaxTokensFloor(t *testing.T) {
	cfg := encodeInferenceConfig(types.Options{MaxTokens: 100})
	assert.Equal(t, MinMaxTokens, cfg.MaxTokens)

	cfg = encodeInferenceConfig(types.Options{})
	assert.Equal(t, MinMaxTokens, cfg.MaxTokens)

	cfg = encodeInferenceConfig(types.Options{MaxTokens: 8192})
	assert.Equal(t, 8192, cfg.MaxTokens)
}

func TestEncodeInferenceOptionsPassThrough(t *testing.T) {
	opts := types.Options{
		Temperature:   types.Float64(0.2),
		TopP:          types.Float64(0.9),
		StopSequences: []string{"END"},
	}
	cfg := encodeInferenceConfig(opts)
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, 0.2, *cfg.Temperature)
	require.NotNil(t, cfg.TopP)
	assert.Equal(t, 0.9, *cfg.TopP)
	assert.Equal(t, []string{"END"}, cfg.StopSequences)
}
