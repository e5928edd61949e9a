package db

import (
	"context"
	"time"
)

// Store is the main persistence interface for the investigation service.
type Store interface {
	InvestigationStore
	AuditStore
	BudgetStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Investigation store ──────────────────────────────────────────────────────

// InvestigationRecord is the DB representation of an investigation session.
type InvestigationRecord struct {
	ID            string           `json:"id"`
	Type          string           `json:"type"`
	State         string           `json:"state"`
	UserID        string           `json:"user_id"`
	CorrelationID string           `json:"correlation_id"`
	Description   string           `json:"description"`
	Conclusion    string           `json:"conclusion"`
	Confidence    int              `json:"confidence"`
	Metadata      string           `json:"metadata"` // JSON blob
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Findings      []FindingRecord  `json:"findings"`
	ToolCalls     []ToolCallRecord `json:"tool_calls"`
}

// FindingRecord is a discovered fact with evidence.
type FindingRecord struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Statement       string    `json:"statement"`
	Evidence        string    `json:"evidence"`
	Confidence      int       `json:"confidence"`
	Severity        string    `json:"severity"`
	Timestamp       time.Time `json:"timestamp"`
}

// ToolCallRecord is a record of a tool execution during an investigation.
type ToolCallRecord struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	ToolName        string    `json:"tool_name"`
	Args            string    `json:"args"` // JSON blob
	Result          string    `json:"result"`
	TurnIndex       int       `json:"turn_index"`
	Timestamp       time.Time `json:"timestamp"`
}

// TurnRecord is a single conversation turn of an investigation, persisted so
// sessions survive restarts. Content is the serialized message block list.
type TurnRecord struct {
	ID              int64     `json:"id"`
	InvestigationID string    `json:"investigation_id"`
	Role            string    `json:"role"` // user | assistant | tool
	Content         string    `json:"content"`
	TokenCount      int       `json:"token_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// InvestigationStore persists investigation sessions.
type InvestigationStore interface {
	// SaveInvestigation creates or updates an investigation record.
	SaveInvestigation(ctx context.Context, rec *InvestigationRecord) error

	// GetInvestigation retrieves an investigation by ID.
	GetInvestigation(ctx context.Context, id string) (*InvestigationRecord, error)

	// ListInvestigations returns investigations, newest first.
	ListInvestigations(ctx context.Context, limit, offset int) ([]*InvestigationRecord, error)

	// DeleteInvestigation removes an investigation and its child rows.
	DeleteInvestigation(ctx context.Context, id string) error

	// AppendTurn adds a conversation turn to an investigation.
	AppendTurn(ctx context.Context, turn *TurnRecord) error

	// GetTurns returns turns for an investigation, oldest first.
	GetTurns(ctx context.Context, investigationID string, limit int) ([]*TurnRecord, error)
}

// ─── Audit store ─────────────────────────────────────────────────────────────

// AuditRecord is the DB representation of an audit event.
type AuditRecord struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	UserID        string    `json:"user_id"`
	Metadata      string    `json:"metadata"` // JSON blob
	Timestamp     time.Time `json:"timestamp"`
}

// AuditStore persists audit log entries.
type AuditStore interface {
	// AppendAuditEvent appends an immutable audit event.
	AppendAuditEvent(ctx context.Context, rec *AuditRecord) error

	// QueryAuditEvents retrieves audit events with optional filters.
	QueryAuditEvents(ctx context.Context, q AuditQuery) ([]*AuditRecord, error)
}

// AuditQuery filters audit event queries.
type AuditQuery struct {
	Resource string
	Action   string
	UserID   string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ─── Budget store ─────────────────────────────────────────────────────────────

// BudgetRecord is a persisted LLM token usage entry for budget tracking.
type BudgetRecord struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	InvestigationID string    `json:"investigation_id"`
	Model           string    `json:"model"`
	InputTokens     int       `json:"input_tokens"`
	OutputTokens    int       `json:"output_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// BudgetStore persists LLM token usage for budget tracking across restarts.
type BudgetStore interface {
	// AppendBudgetRecord writes a single token usage record.
	AppendBudgetRecord(ctx context.Context, rec *BudgetRecord) error

	// QueryBudgetRecords retrieves records for a user within a time window.
	QueryBudgetRecords(ctx context.Context, userID string, from, to time.Time) ([]*BudgetRecord, error)

	// GlobalBudgetTotal returns total cost in USD for all users within the window.
	GlobalBudgetTotal(ctx context.Context, from, to time.Time) (float64, error)

	// GetUserBudget retrieves a user's budget limit and period start.
	GetUserBudget(ctx context.Context, userID string) (float64, time.Time, error)

	SetUserBudget(ctx context.Context, userID string, limitUSD float64) error
	ResetUserBudget(ctx context.Context, userID string) error
}
