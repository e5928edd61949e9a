package bedrock

// normalizer.go — rewrites an arbitrary, possibly-malformed conversation
// history into one that satisfies the backend's structural invariants:
//
//   - only user/assistant turns reach the backend (tool → user, system
//     lifted out into the system-instructions field);
//   - a toolResult must pair with a toolUse in the nearest preceding
//     assistant turn — orphans are rejected by the backend outright;
//   - an assistant turn never carries a toolResult, a user turn never
//     carries a toolUse.
//
// Violations are repaired by content conversion or removal, never by
// failing: a malformed history degrades gracefully and every dropped
// block leaves a diagnostic in the report.

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// DropReason classifies why the normalizer removed a block.
type DropReason string

const (
	// DropOrphanedResult — a tool result whose call is not in any earlier
	// assistant turn of the normalized output.
	DropOrphanedResult DropReason = "orphaned_tool_result"
	// DropResultInAssistant — a tool result found inside an assistant turn.
	DropResultInAssistant DropReason = "tool_result_in_assistant"
	// DropCallInUser — a tool call found inside a user-effective turn.
	DropCallInUser DropReason = "tool_call_in_user"
	// DropResultOfDroppedCall — a tool result whose call was dropped in the
	// same normalization pass.
	DropResultOfDroppedCall DropReason = "result_of_dropped_call"
	// DropNonTextBlock — a non-text block in a role that only admits text.
	DropNonTextBlock DropReason = "non_text_block"
)

// DroppedBlock is one diagnostic record of content removal.
type DroppedBlock struct {
	Reason DropReason
	CallID string
	Role   types.Role
}

// NormalizationReport is the diagnostic trail of one normalization run.
// It never represents a failure; normalization always completes.
type NormalizationReport struct {
	// SystemPrompts holds the text of each non-empty system message, in
	// order, lifted out of the turn sequence for the encoder.
	SystemPrompts []string
	// Dropped lists every removed block.
	Dropped []DroppedBlock
	// MixedSplits counts tool-role messages that carried both calls and
	// results and were decomposed into rendered text.
	MixedSplits int
}

// Clean reports whether normalization removed nothing.
func (r NormalizationReport) Clean() bool {
	return len(r.Dropped) == 0 && r.MixedSplits == 0
}

func (r *NormalizationReport) drop(reason DropReason, callID string, role types.Role) {
	r.Dropped = append(r.Dropped, DroppedBlock{Reason: reason, CallID: callID, Role: role})
}

// effectiveRole maps a generic role to the role used for backend encoding.
// Tool is never sent downstream; it always becomes user.
func effectiveRole(r types.Role) types.Role {
	if r == types.RoleTool {
		return types.RoleUser
	}
	return r
}

// NormalizeHistory rewrites history so that it satisfies the backend
// invariants. It is a pure function: deterministic, never errors, and
// never mutates its input — all output messages are new instances.
//
// Three passes:
//
//  1. Detect same-message tool pairs. A call id appearing as both a call
//     and a result inside one tool-role message was resolved before the
//     turn was recorded (replayed sub-agent history) and must never be
//     forwarded as a live tool invocation.
//  2. Decompose mixed-content tool messages into rendered text and filter
//     each message's blocks by effective role.
//  3. Global orphan elimination: a result may only survive when its call
//     appears in a strictly earlier assistant turn. This cannot be done
//     per-message because validity depends on everything emitted earlier.
func NormalizeHistory(history []types.Message) ([]types.Message, NormalizationReport) {
	var report NormalizationReport

	// Pass 1 — same-message call/result pairs are internal-only.
	internalOnly := make(map[string]bool)
	for _, msg := range history {
		if msg.Role != types.RoleTool {
			continue
		}
		calls := make(map[string]bool)
		for _, b := range msg.Contents {
			if c, ok := b.(types.ToolCallContent); ok {
				calls[c.CallID] = true
			}
		}
		for _, b := range msg.Contents {
			if r, ok := b.(types.ToolResultContent); ok && calls[r.CallID] {
				internalOnly[r.CallID] = true
			}
		}
	}

	// Pass 2 — per-message decomposition and role filtering.
	droppedCalls := make(map[string]bool)
	for id := range internalOnly {
		droppedCalls[id] = true
	}

	intermediate := make([]types.Message, 0, len(history))
	for _, msg := range history {
		eff := effectiveRole(msg.Role)

		if msg.Role == types.RoleSystem {
			// System text is lifted out of the turn sequence entirely;
			// whitespace-only system messages are discarded.
			text := collectText(msg)
			if strings.TrimSpace(text) != "" {
				report.SystemPrompts = append(report.SystemPrompts, text)
			}
			for _, b := range msg.Contents {
				if _, ok := b.(types.TextContent); !ok {
					report.drop(DropNonTextBlock, blockCallID(b), msg.Role)
				}
			}
			continue
		}

		if msg.Role == types.RoleTool && hasToolCall(msg) && hasToolResult(msg) {
			intermediate = appendNonEmpty(intermediate, decomposeMixed(msg, &report))
			continue
		}

		contents := make([]types.ContentBlock, 0, len(msg.Contents))
		for _, b := range msg.Contents {
			switch blk := b.(type) {
			case types.TextContent:
				contents = append(contents, types.TextContent{Text: blk.Text})
			case types.ToolCallContent:
				if eff == types.RoleAssistant {
					contents = append(contents, types.ToolCallContent{
						CallID: blk.CallID, Name: blk.Name, Arguments: blk.Arguments,
					})
					break
				}
				// A tool call must never reach a user-effective message,
				// whether or not it was marked internal-only.
				droppedCalls[blk.CallID] = true
				report.drop(DropCallInUser, blk.CallID, msg.Role)
			case types.ToolResultContent:
				if eff == types.RoleAssistant {
					report.drop(DropResultInAssistant, blk.CallID, msg.Role)
					break
				}
				if droppedCalls[blk.CallID] {
					report.drop(DropResultOfDroppedCall, blk.CallID, msg.Role)
					break
				}
				contents = append(contents, types.ToolResultContent{
					CallID: blk.CallID, Result: blk.Result, Error: blk.Error,
				})
			}
		}
		intermediate = appendNonEmpty(intermediate, types.Message{Role: eff, Contents: contents})
	}

	// Pass 3 — global orphan elimination, in conversation order.
	available := make(map[string]bool)
	out := make([]types.Message, 0, len(intermediate))
	for _, msg := range intermediate {
		switch msg.Role {
		case types.RoleAssistant:
			for _, b := range msg.Contents {
				if c, ok := b.(types.ToolCallContent); ok {
					available[c.CallID] = true
				}
			}
			out = append(out, msg)
		case types.RoleUser:
			contents := make([]types.ContentBlock, 0, len(msg.Contents))
			for _, b := range msg.Contents {
				if r, ok := b.(types.ToolResultContent); ok && !available[r.CallID] {
					report.drop(DropOrphanedResult, r.CallID, msg.Role)
					continue
				}
				contents = append(contents, b)
			}
			out = appendNonEmpty(out, types.Message{Role: msg.Role, Contents: contents})
		default:
			out = append(out, msg)
		}
	}

	return out, report
}

// decomposeMixed converts a tool-role message carrying both calls and
// results into a single user turn. Calls and their same-message results
// are rendered as text (they describe an exchange that already happened);
// results referencing a call from an earlier turn are kept as live
// toolResult blocks and placed first, so they stay adjacent to the
// assistant turn that issued them.
func decomposeMixed(msg types.Message, report *NormalizationReport) types.Message {
	report.MixedSplits++

	callsInMsg := make(map[string]bool)
	for _, b := range msg.Contents {
		if c, ok := b.(types.ToolCallContent); ok {
			callsInMsg[c.CallID] = true
		}
	}

	var unmatched []types.ContentBlock
	var converted []types.ContentBlock
	for _, b := range msg.Contents {
		switch blk := b.(type) {
		case types.TextContent:
			converted = append(converted, types.TextContent{Text: blk.Text})
		case types.ToolCallContent:
			converted = append(converted, types.TextContent{
				Text: fmt.Sprintf("[Tool Call: %s (id: %s)]\nArguments: %s",
					blk.Name, blk.CallID, renderArguments(blk.Arguments)),
			})
		case types.ToolResultContent:
			if callsInMsg[blk.CallID] {
				converted = append(converted, types.TextContent{
					Text: fmt.Sprintf("[Tool Result for: %s]\n%s", blk.CallID, blk.Output()),
				})
				continue
			}
			unmatched = append(unmatched, types.ToolResultContent{
				CallID: blk.CallID, Result: blk.Result, Error: blk.Error,
			})
		}
	}

	contents := make([]types.ContentBlock, 0, len(unmatched)+len(converted))
	contents = append(contents, unmatched...)
	contents = append(contents, converted...)
	return types.Message{Role: types.RoleUser, Contents: contents}
}

func renderArguments(args any) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func collectText(msg types.Message) string {
	var sb strings.Builder
	for _, b := range msg.Contents {
		if t, ok := b.(types.TextContent); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func hasToolCall(msg types.Message) bool {
	for _, b := range msg.Contents {
		if _, ok := b.(types.ToolCallContent); ok {
			return true
		}
	}
	return false
}

func hasToolResult(msg types.Message) bool {
	for _, b := range msg.Contents {
		if _, ok := b.(types.ToolResultContent); ok {
			return true
		}
	}
	return false
}

func blockCallID(b types.ContentBlock) string {
	switch blk := b.(type) {
	case types.ToolCallContent:
		return blk.CallID
	case types.ToolResultContent:
		return blk.CallID
	}
	return ""
}

func appendNonEmpty(msgs []types.Message, msg types.Message) []types.Message {
	if len(msg.Contents) == 0 {
		return msgs
	}
	return append(msgs, msg)
}
