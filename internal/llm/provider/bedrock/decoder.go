package bedrock

// decoder.go — state machine over the backend's incremental event stream,
// producing generic StreamUpdate values and accumulating the final
// assistant message. One decoder serves exactly one in-flight response; it
// is owned by the goroutine driving that response and needs no locking.

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// DecoderState tracks stream progress.
type DecoderState int

const (
	StateIdle DecoderState = iota
	StateAccumulating
	StateDone
	StateErrored
)

// ErrStreamIncomplete is returned by FinalMessage when the terminal event
// was never observed; partially-accumulated state is not usable.
var ErrStreamIncomplete = errors.New("stream ended before messageStop")

// partialBlock accumulates one content block by index.
type partialBlock struct {
	text strings.Builder
	// toolUse id/name arrive fully formed on block start; input arrives
	// as JSON fragments that are only parseable once the block stops.
	toolUseID string
	toolName  string
	toolInput strings.Builder
}

func (p *partialBlock) isToolUse() bool { return p.toolUseID != "" }

// StreamDecoder consumes backend stream events in arrival order. Deltas
// for the same index are applied in the order fed; indices accumulate
// independently so no cross-index buffering is needed.
type StreamDecoder struct {
	state  DecoderState
	blocks map[int]*partialBlock
	finish types.FinishReason
	usage  *types.TokenUsage
	err    error
}

// NewStreamDecoder returns a decoder in the Idle state.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{state: StateIdle, blocks: make(map[int]*partialBlock)}
}

// State returns the current decoder state.
func (d *StreamDecoder) State() DecoderState { return d.state }

// Done reports whether the terminal event has been observed.
func (d *StreamDecoder) Done() bool { return d.state == StateDone }

// Feed applies one event and returns the generic update to emit, or nil
// when the event produced nothing observable (tool-use accumulation,
// metadata, block stops). Feeding after Done or Errored is an error.
func (d *StreamDecoder) Feed(ev StreamEvent) (*types.StreamUpdate, error) {
	switch d.state {
	case StateDone:
		return nil, fmt.Errorf("event %q after messageStop", ev.Type)
	case StateErrored:
		return nil, fmt.Errorf("event %q after stream error", ev.Type)
	}
	d.state = StateAccumulating

	switch ev.Type {
	case EventContentBlockStart:
		blk := d.block(ev.Index)
		if ev.Start != nil && ev.Start.ToolUse != nil {
			// id and name arrive fully formed; no update is emitted since
			// partial JSON arguments are not safely usable downstream.
			blk.toolUseID = ev.Start.ToolUse.ToolUseID
			blk.toolName = ev.Start.ToolUse.Name
		}
		return nil, nil

	case EventContentBlockDelta:
		if ev.Delta == nil {
			return nil, nil
		}
		blk := d.block(ev.Index)
		if ev.Delta.ToolUse != nil {
			blk.toolInput.WriteString(ev.Delta.ToolUse.Input)
			return nil, nil
		}
		if ev.Delta.Text == "" {
			return nil, nil
		}
		blk.text.WriteString(ev.Delta.Text)
		return &types.StreamUpdate{Text: ev.Delta.Text}, nil

	case EventContentBlockStop:
		return nil, nil

	case EventMessageStop:
		d.finish = mapStopReason(ev.StopReason)
		if ev.Usage != nil {
			d.usage = convertUsage(ev.Usage)
		}
		d.state = StateDone
		return &types.StreamUpdate{FinishReason: d.finish, Usage: d.usage}, nil

	case EventMetadata:
		if ev.Usage != nil {
			d.usage = convertUsage(ev.Usage)
		}
		return nil, nil

	default:
		// Unknown event types are skipped for forward compatibility.
		return nil, nil
	}
}

// Fail records a transport-level error. Accumulated state is discarded;
// no partial final message is synthesized.
func (d *StreamDecoder) Fail(err error) {
	d.state = StateErrored
	d.err = err
	d.blocks = make(map[int]*partialBlock)
}

// FinalMessage assembles the accumulated assistant message once the
// terminal event has been observed.
func (d *StreamDecoder) FinalMessage() (types.Message, types.TokenUsage, error) {
	if d.state == StateErrored {
		return types.Message{}, types.TokenUsage{}, d.err
	}
	if d.state != StateDone {
		return types.Message{}, types.TokenUsage{}, ErrStreamIncomplete
	}

	indices := make([]int, 0, len(d.blocks))
	for i := range d.blocks {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	contents := make([]types.ContentBlock, 0, len(indices))
	for _, i := range indices {
		blk := d.blocks[i]
		if blk.isToolUse() {
			contents = append(contents, types.ToolCallContent{
				CallID:    blk.toolUseID,
				Name:      blk.toolName,
				Arguments: parseToolInput(blk.toolInput.String()),
			})
			continue
		}
		if blk.text.Len() > 0 {
			contents = append(contents, types.TextContent{Text: blk.text.String()})
		}
	}

	var usage types.TokenUsage
	if d.usage != nil {
		usage = *d.usage
	}
	return types.Message{Role: types.RoleAssistant, Contents: contents}, usage, nil
}

// FinishReason returns the mapped finish reason after Done.
func (d *StreamDecoder) FinishReason() types.FinishReason { return d.finish }

func (d *StreamDecoder) block(index int) *partialBlock {
	blk, ok := d.blocks[index]
	if !ok {
		blk = &partialBlock{}
		d.blocks[index] = blk
	}
	return blk
}

// mapStopReason maps a backend stop reason to the generic finish reason.
// Unrecognized reasons map to Stop.
func mapStopReason(reason string) types.FinishReason {
	switch reason {
	case StopReasonEndTurn, StopReasonStopSequence:
		return types.FinishStop
	case StopReasonMaxTokens:
		return types.FinishLength
	case StopReasonToolUse:
		return types.FinishToolCalls
	case StopReasonContentFiltered:
		return types.FinishContentFilter
	default:
		return types.FinishStop
	}
}

func parseToolInput(raw string) any {
	if raw == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return map[string]any{"raw": raw}
	}
	return input
}

func convertUsage(u *WireUsage) *types.TokenUsage {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return &types.TokenUsage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  total,
	}
}

// DecodeResponse converts a single-shot response into the generic message
// plus finish reason, sharing the stop-reason mapping with the stream path.
func DecodeResponse(resp *Response) (types.Message, types.FinishReason, types.TokenUsage, error) {
	if resp == nil {
		return types.Message{}, "", types.TokenUsage{}, errors.New("nil response")
	}

	contents := make([]types.ContentBlock, 0, len(resp.Output.Message.Content))
	for _, b := range resp.Output.Message.Content {
		switch {
		case b.ToolUse != nil:
			contents = append(contents, types.ToolCallContent{
				CallID:    b.ToolUse.ToolUseID,
				Name:      b.ToolUse.Name,
				Arguments: b.ToolUse.Input,
			})
		case b.ToolResult != nil:
			// The backend never returns toolResult blocks in an assistant
			// response; skip defensively.
		default:
			if b.Text != "" {
				contents = append(contents, types.TextContent{Text: b.Text})
			}
		}
	}

	var usage types.TokenUsage
	if resp.Usage != nil {
		usage = *convertUsage(resp.Usage)
	}
	return types.Message{Role: types.RoleAssistant, Contents: contents}, mapStopReason(resp.StopReason), usage, nil
}
