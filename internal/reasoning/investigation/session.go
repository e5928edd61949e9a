// Package investigation manages investigation session lifecycle.
//
// Responsibilities:
//   - Create investigations and drive them through the state machine
//     (created → investigating → concluded | failed | cancelled → archived)
//   - Run the agentic tool loop for each investigation and stream its events
//     to subscribers
//   - Record tool calls, findings, and the final conclusion
//   - Persist sessions and their conversation turns so they survive restarts
//   - Emit audit events and metrics for every lifecycle change
//
// State Transitions:
//   - created → investigating: automatic when the agent loop starts
//   - investigating → concluded: the model produced a final answer
//   - investigating → failed: the loop errored or exceeded its turn cap
//   - created | investigating → cancelled: operator cancellation or timeout
//   - concluded | failed | cancelled → archived: retention bookkeeping
package investigation

import (
	"context"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/llm/types"
)

// State is an investigation's position in the lifecycle state machine.
type State string

const (
	StateCreated       State = "created"
	StateInvestigating State = "investigating"
	StateConcluded     State = "concluded"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
	StateArchived      State = "archived"
)

// Type categorizes what kind of incident is being investigated. Types map
// one-to-one onto prompt templates; unknown types use the general template.
type Type string

const (
	TypePodCrash          Type = "pod_crash"
	TypePerformance       Type = "performance"
	TypeDeploymentFailure Type = "deployment_failure"
	TypeNetwork           Type = "network"
	TypeGeneral           Type = "general"
)

// Finding is a discovered fact with supporting evidence.
type Finding struct {
	Statement  string    `json:"statement"`
	Evidence   string    `json:"evidence"`
	Confidence int       `json:"confidence"`
	Severity   string    `json:"severity"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolCall records one tool execution made during the investigation.
type ToolCall struct {
	ToolName  string    `json:"tool_name"`
	Args      string    `json:"args"`
	Result    string    `json:"result"`
	TurnIndex int       `json:"turn_index"`
	Timestamp time.Time `json:"timestamp"`
}

// Investigation is the complete state of one investigation session.
type Investigation struct {
	ID            string     `json:"id"`
	Type          Type       `json:"type"`
	State         State      `json:"state"`
	UserID        string     `json:"user_id"`
	CorrelationID string     `json:"correlation_id"`
	Description   string     `json:"description"`
	Context       string     `json:"context,omitempty"`
	Conclusion    string     `json:"conclusion,omitempty"`
	Confidence    int        `json:"confidence"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Findings      []Finding  `json:"findings"`
	ToolCalls     []ToolCall `json:"tool_calls"`
}

// StartRequest is the input to Start.
type StartRequest struct {
	Type        Type
	Description string
	// Context is optional operator-supplied background (cluster name,
	// recent changes) substituted into the opening prompt.
	Context string
	UserID  string
}

// Manager owns investigation sessions end to end.
type Manager interface {
	// Start creates an investigation and launches its agent loop in the
	// background. The returned investigation is in the investigating state.
	Start(ctx context.Context, req StartRequest) (*Investigation, error)

	// Get retrieves an investigation by ID.
	Get(ctx context.Context, id string) (*Investigation, error)

	// List returns investigations, newest first.
	List(ctx context.Context, limit, offset int) ([]*Investigation, error)

	// Subscribe attaches to a running investigation's live event stream.
	// The returned cancel func detaches the subscriber. Subscribing to an
	// investigation that is not running returns ErrNotRunning.
	Subscribe(id string) (<-chan types.AgentStreamEvent, func(), error)

	// AddFinding records a finding against an investigation.
	AddFinding(ctx context.Context, id string, f Finding) error

	// Cancel stops a created or running investigation.
	Cancel(ctx context.Context, id string) error

	// Archive moves a finished investigation to the archived state.
	Archive(ctx context.Context, id string) error

	// Shutdown cancels all running investigations and waits for their
	// loops to exit.
	Shutdown(ctx context.Context) error
}
