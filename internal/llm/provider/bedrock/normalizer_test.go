package bedrock

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

func toolCall(id, name string) types.ToolCallContent {
	return types.ToolCallContent{CallID: id, Name: name, Arguments: map[string]any{}}
}

func toolResult(id, out string) types.ToolResultContent {
	return types.ToolResultContent{CallID: id, Result: types.String(out)}
}

func TestNormalizeOrphanedResultDropped(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{toolCall("t1", "f")}},
		{Role: types.RoleTool, Contents: []types.ContentBlock{
			toolResult("t1", "ok"),
			toolResult("t9", "no matching call"),
		}},
	}

	out, report := NormalizeHistory(history)

	require.Len(t, out, 2)
	assert.Equal(t, types.RoleAssistant, out[0].Role)
	assert.Equal(t, types.RoleUser, out[1].Role)

	require.Len(t, out[1].Contents, 1)
	result, ok := out[1].Contents[0].(types.ToolResultContent)
	require.True(t, ok)
	assert.Equal(t, "t1", result.CallID)

	require.Len(t, report.Dropped, 1)
	assert.Equal(t, DropOrphanedResult, report.Dropped[0].Reason)
	assert.Equal(t, "t9", report.Dropped[0].CallID)
}

func TestNormalizeMixedContentDecomposed(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleTool, Contents: []types.ContentBlock{
			toolCall("t2", "g"),
			toolResult("t2", "done"),
		}},
	}

	out, report := NormalizeHistory(history)

	require.Len(t, out, 1)
	assert.Equal(t, types.RoleUser, out[0].Role)
	assert.Equal(t, 1, report.MixedSplits)

	// No live tool blocks survive decomposition.
	require.Len(t, out[0].Contents, 2)
	callText, ok := out[0].Contents[0].(types.TextContent)
	require.True(t, ok)
	assert.Contains(t, callText.Text, "[Tool Call: g (id: t2)]")
	resultText, ok := out[0].Contents[1].(types.TextContent)
	require.True(t, ok)
	assert.Contains(t, resultText.Text, "[Tool Result for: t2]")
	assert.Contains(t, resultText.Text, "done")
}

func TestNormalizeMixedContentKeepsEarlierTurnResults(t *testing.T) {
	// t0 references a call from an earlier assistant turn; it must survive
	// as a live toolResult, ordered before the rendered text.
	history := []types.Message{
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{toolCall("t0", "f")}},
		{Role: types.RoleTool, Contents: []types.ContentBlock{
			toolCall("t2", "g"),
			toolResult("t2", "inner"),
			toolResult("t0", "outer"),
		}},
	}

	out, _ := NormalizeHistory(history)

	require.Len(t, out, 2)
	user := out[1]
	require.GreaterOrEqual(t, len(user.Contents), 3)

	first, ok := user.Contents[0].(types.ToolResultContent)
	require.True(t, ok, "earlier-turn result must come first")
	assert.Equal(t, "t0", first.CallID)

	for _, b := range user.Contents[1:] {
		_, isText := b.(types.TextContent)
		assert.True(t, isText)
	}
}

func TestNormalizeToolCallInUserDropped(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleUser, Contents: []types.ContentBlock{
			types.TextContent{Text: "hello"},
			toolCall("t3", "h"),
		}},
	}

	out, report := NormalizeHistory(history)

	require.Len(t, out, 1)
	require.Len(t, out[0].Contents, 1)
	_, isText := out[0].Contents[0].(types.TextContent)
	assert.True(t, isText)

	require.Len(t, report.Dropped, 1)
	assert.Equal(t, DropCallInUser, report.Dropped[0].Reason)
}

func TestNormalizeToolResultInAssistantDropped(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{
			types.TextContent{Text: "thinking"},
			toolResult("t4", "stray"),
		}},
	}

	out, report := NormalizeHistory(history)

	require.Len(t, out, 1)
	require.Len(t, out[0].Contents, 1)

	require.Len(t, report.Dropped, 1)
	assert.Equal(t, DropResultInAssistant, report.Dropped[0].Reason)
}

func TestNormalizeSystemLifted(t *testing.T) {
	history := []types.Message{
		types.NewTextMessage(types.RoleSystem, "you are an investigator"),
		types.NewTextMessage(types.RoleSystem, "   \n\t"),
		types.NewTextMessage(types.RoleUser, "investigate"),
	}

	out, report := NormalizeHistory(history)

	require.Len(t, out, 1)
	assert.Equal(t, types.RoleUser, out[0].Role)
	for _, msg := range out {
		assert.NotEqual(t, types.RoleSystem, msg.Role)
	}
	require.Len(t, report.SystemPrompts, 1)
	assert.Equal(t, "you are an investigator", report.SystemPrompts[0])
}

func TestNormalizeEmptyMessageDropped(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleTool, Contents: []types.ContentBlock{toolCall("t5", "f")}},
		types.NewTextMessage(types.RoleUser, "still here"),
	}

	out, _ := NormalizeHistory(history)

	// The tool message held only a call, which cannot reach a user turn;
	// the emptied message disappears.
	require.Len(t, out, 1)
	assert.Equal(t, "still here", out[0].Contents[0].(types.TextContent).Text)
}

func TestNormalizeIdempotent(t *testing.T) {
	histories := [][]types.Message{
		{
			{Role: types.RoleAssistant, Contents: []types.ContentBlock{toolCall("t1", "f")}},
			{Role: types.RoleTool, Contents: []types.ContentBlock{toolResult("t1", "ok"), toolResult("t9", "x")}},
		},
		{
			{Role: types.RoleTool, Contents: []types.ContentBlock{toolCall("t2", "g"), toolResult("t2", "done")}},
		},
		{
			types.NewTextMessage(types.RoleSystem, "sys"),
			types.NewTextMessage(types.RoleUser, "hi"),
			{Role: types.RoleAssistant, Contents: []types.ContentBlock{
				types.TextContent{Text: "calling"}, toolCall("a", "f"),
			}},
			{Role: types.RoleTool, Contents: []types.ContentBlock{toolResult("a", "r")}},
		},
	}

	for _, history := range histories {
		once, _ := NormalizeHistory(history)
		twice, report := NormalizeHistory(once)
		assert.True(t, reflect.DeepEqual(once, twice), "normalize must be idempotent")
		assert.True(t, report.Clean(), "second pass must drop nothing")
	}
}

func TestNormalizeGlobalInvariants(t *testing.T) {
	// A deliberately messy history: stray results, calls in user turns,
	// mixed tool messages, interleaved system text.
	history := []types.Message{
		types.NewTextMessage(types.RoleSystem, "rules"),
		{Role: types.RoleUser, Contents: []types.ContentBlock{
			types.TextContent{Text: "start"}, toolResult("ghost", "?"),
		}},
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{
			toolCall("c1", "list_pods"), toolResult("bad", "stray"),
		}},
		{Role: types.RoleTool, Contents: []types.ContentBlock{
			toolCall("c2", "inner"), toolResult("c2", "inner-out"), toolResult("c1", "pods"),
		}},
		{Role: types.RoleAssistant, Contents: []types.ContentBlock{types.TextContent{Text: "analysis"}}},
	}

	out, _ := NormalizeHistory(history)

	seen := map[string]bool{}
	for _, msg := range out {
		assert.NotEqual(t, types.RoleSystem, msg.Role)
		assert.NotEqual(t, types.RoleTool, msg.Role)
		for _, b := range msg.Contents {
			switch blk := b.(type) {
			case types.ToolCallContent:
				assert.Equal(t, types.RoleAssistant, msg.Role, "tool call outside assistant turn")
			case types.ToolResultContent:
				assert.Equal(t, types.RoleUser, msg.Role, "tool result outside user turn")
				assert.True(t, seen[blk.CallID], "orphan survived: %s", blk.CallID)
			}
		}
		if msg.Role == types.RoleAssistant {
			for _, b := range msg.Contents {
				if c, ok := b.(types.ToolCallContent); ok {
					seen[c.CallID] = true
				}
			}
		}
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleTool, Contents: []types.ContentBlock{
			toolCall("t2", "g"), toolResult("t2", "done"), toolResult("t0", "keep"),
		}},
	}
	snapshot := types.CloneMessages(history)

	_, _ = NormalizeHistory(history)

	assert.True(t, reflect.DeepEqual(snapshot, history), "input history must not change")
}
