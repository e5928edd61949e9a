package db

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// ─── Investigations ───────────────────────────────────────────────────────────

func TestInvestigationCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &InvestigationRecord{
		ID:            "inv-001",
		Type:          "pod_crash",
		State:         "created",
		UserID:        "alice",
		CorrelationID: "corr-1",
		Description:   "Pod api-0 keeps restarting",
		Metadata:      `{"cluster":"prod-east"}`,
		CreatedAt:     time.Now().Round(time.Second),
		UpdatedAt:     time.Now().Round(time.Second),
	}

	// Create
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	// Retrieve
	got, err := s.GetInvestigation(ctx, "inv-001")
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if got.ID != "inv-001" {
		t.Errorf("expected ID inv-001, got %s", got.ID)
	}
	if got.Description != rec.Description {
		t.Errorf("expected description %q, got %q", rec.Description, got.Description)
	}
	if got.UserID != "alice" {
		t.Errorf("expected user alice, got %s", got.UserID)
	}

	// Update (upsert)
	rec.State = "concluded"
	rec.Conclusion = "OOMKilled due to memory limits"
	rec.Confidence = 85
	rec.UpdatedAt = time.Now().Round(time.Second)
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation update: %v", err)
	}

	got, err = s.GetInvestigation(ctx, "inv-001")
	if err != nil {
		t.Fatalf("GetInvestigation after update: %v", err)
	}
	if got.State != "concluded" {
		t.Errorf("expected state concluded, got %s", got.State)
	}
	if got.Conclusion != "OOMKilled due to memory limits" {
		t.Errorf("expected conclusion, got %q", got.Conclusion)
	}
	if got.Confidence != 85 {
		t.Errorf("expected confidence 85, got %d", got.Confidence)
	}
}

func TestInvestigationChildRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Round(time.Second)

	rec := &InvestigationRecord{
		ID: "inv-children", Type: "pod_crash", State: "investigating",
		Description: "child rows", Metadata: "{}",
		CreatedAt: now, UpdatedAt: now,
		Findings: []FindingRecord{
			{Statement: "Container OOMKilled 5 times", Evidence: "exit code 137", Confidence: 90, Severity: "high", Timestamp: now},
		},
		ToolCalls: []ToolCallRecord{
			{ToolName: "get_pod", Args: `{"name":"api-0"}`, Result: `{"phase":"Running"}`, TurnIndex: 0, Timestamp: now},
			{ToolName: "get_pod_logs", Args: `{"pod":"api-0"}`, Result: "OOM", TurnIndex: 1, Timestamp: now},
		},
	}
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	got, err := s.GetInvestigation(ctx, "inv-children")
	if err != nil {
		t.Fatalf("GetInvestigation: %v", err)
	}
	if len(got.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(got.Findings))
	}
	if got.Findings[0].Severity != "high" {
		t.Errorf("expected severity high, got %s", got.Findings[0].Severity)
	}
	if len(got.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(got.ToolCalls))
	}
	if got.ToolCalls[0].ToolName != "get_pod" {
		t.Errorf("tool calls should be ordered by turn index, got %s first", got.ToolCalls[0].ToolName)
	}
}

func TestListInvestigations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := &InvestigationRecord{
			ID:          "inv-" + string(rune('A'+i)),
			Type:        "general",
			State:       "concluded",
			Description: "Test investigation",
			Metadata:    "{}",
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
			UpdatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.SaveInvestigation(ctx, rec); err != nil {
			t.Fatalf("SaveInvestigation %d: %v", i, err)
		}
	}

	list, err := s.ListInvestigations(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListInvestigations: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 results, got %d", len(list))
	}
}

func TestDeleteInvestigation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &InvestigationRecord{
		ID: "del-001", Type: "general", State: "created",
		Description: "to delete", Metadata: "{}",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}
	if err := s.DeleteInvestigation(ctx, "del-001"); err != nil {
		t.Fatalf("DeleteInvestigation: %v", err)
	}
	_, err := s.GetInvestigation(ctx, "del-001")
	if err == nil {
		t.Error("expected error for deleted investigation, got nil")
	}
}

// ─── Investigation turns ──────────────────────────────────────────────────────

func TestInvestigationTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &InvestigationRecord{
		ID: "inv-turns", Type: "general", State: "investigating",
		Description: "turn history", Metadata: "{}",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}

	turns := []*TurnRecord{
		{InvestigationID: "inv-turns", Role: "user", Content: "Why is my pod crashing?", TokenCount: 8, Timestamp: time.Now()},
		{InvestigationID: "inv-turns", Role: "assistant", Content: "Let me investigate...", TokenCount: 12, Timestamp: time.Now().Add(time.Second)},
		{InvestigationID: "inv-turns", Role: "user", Content: "Show me the logs", TokenCount: 5, Timestamp: time.Now().Add(2 * time.Second)},
	}

	for _, turn := range turns {
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	got, err := s.GetTurns(ctx, "inv-turns", 10)
	if err != nil {
		t.Fatalf("GetTurns: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 turns, got %d", len(got))
	}
	// Turns should be oldest first
	if got[0].Role != "user" {
		t.Errorf("first turn should be from user, got %s", got[0].Role)
	}
	if got[1].Role != "assistant" {
		t.Errorf("second turn should be from assistant, got %s", got[1].Role)
	}
}

func TestTurnsCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &InvestigationRecord{
		ID: "del-turns", Type: "general", State: "created",
		Description: "cascade", Metadata: "{}",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.SaveInvestigation(ctx, rec); err != nil {
		t.Fatalf("SaveInvestigation: %v", err)
	}
	if err := s.AppendTurn(ctx, &TurnRecord{
		InvestigationID: "del-turns", Role: "user", Content: "hello", Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	if err := s.DeleteInvestigation(ctx, "del-turns"); err != nil {
		t.Fatalf("DeleteInvestigation: %v", err)
	}

	turns, err := s.GetTurns(ctx, "del-turns", 10)
	if err != nil {
		t.Fatalf("GetTurns after delete: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected 0 turns after investigation delete, got %d", len(turns))
	}
}

// ─── Audit events ─────────────────────────────────────────────────────────────

func TestAuditEventAppendAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Round(time.Second)

	events := []*AuditRecord{
		{CorrelationID: "c1", EventType: "investigation.started", Description: "started", Resource: "pod/api-0", Action: "investigate", Result: "pending", Timestamp: now},
		{CorrelationID: "c2", EventType: "tool.executed", Description: "logs fetched", Resource: "pod/api-0", Action: "get_pod_logs", Result: "success", Timestamp: now.Add(time.Second)},
		{CorrelationID: "c3", EventType: "budget.exceeded", Description: "blocked", Resource: "", Action: "complete", Result: "denied", UserID: "alice", Timestamp: now.Add(2 * time.Second)},
	}

	for _, e := range events {
		if err := s.AppendAuditEvent(ctx, e); err != nil {
			t.Fatalf("AppendAuditEvent: %v", err)
		}
	}

	// Query all
	all, err := s.QueryAuditEvents(ctx, AuditQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 events, got %d", len(all))
	}

	// Query by action
	byAction, err := s.QueryAuditEvents(ctx, AuditQuery{Action: "get_pod_logs", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditEvents by action: %v", err)
	}
	if len(byAction) != 1 {
		t.Errorf("expected 1 tool event, got %d", len(byAction))
	}

	// Query by user
	byUser, err := s.QueryAuditEvents(ctx, AuditQuery{UserID: "alice", Limit: 10})
	if err != nil {
		t.Fatalf("QueryAuditEvents by user: %v", err)
	}
	if len(byUser) != 1 {
		t.Errorf("expected 1 event for alice, got %d", len(byUser))
	}

	// Query by time range
	byTime, err := s.QueryAuditEvents(ctx, AuditQuery{
		From:  now,
		To:    now.Add(time.Second),
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("QueryAuditEvents by time: %v", err)
	}
	if len(byTime) != 2 {
		t.Errorf("expected 2 events in time range, got %d", len(byTime))
	}
}

// ─── Budget records ───────────────────────────────────────────────────────────

func TestBudgetRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().Round(time.Second)

	records := []*BudgetRecord{
		{UserID: "alice", InvestigationID: "inv-1", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", InputTokens: 1000, OutputTokens: 500, CostUSD: 0.0105, RecordedAt: now},
		{UserID: "alice", InvestigationID: "inv-2", Model: "anthropic.claude-3-5-haiku-20241022-v1:0", InputTokens: 2000, OutputTokens: 100, CostUSD: 0.002, RecordedAt: now.Add(time.Second)},
		{UserID: "bob", InvestigationID: "inv-3", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", InputTokens: 500, OutputTokens: 200, CostUSD: 0.0045, RecordedAt: now},
	}
	for _, r := range records {
		if err := s.AppendBudgetRecord(ctx, r); err != nil {
			t.Fatalf("AppendBudgetRecord: %v", err)
		}
	}

	aliceRecs, err := s.QueryBudgetRecords(ctx, "alice", now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("QueryBudgetRecords: %v", err)
	}
	if len(aliceRecs) != 2 {
		t.Errorf("expected 2 records for alice, got %d", len(aliceRecs))
	}

	total, err := s.GlobalBudgetTotal(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("GlobalBudgetTotal: %v", err)
	}
	if total < 0.016 || total > 0.018 {
		t.Errorf("expected global total around 0.017, got %f", total)
	}
}

func TestUserBudgetLimits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Unset limit returns zero
	limit, _, err := s.GetUserBudget(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUserBudget: %v", err)
	}
	if limit != 0 {
		t.Errorf("expected 0 limit for unknown user, got %f", limit)
	}

	if err := s.SetUserBudget(ctx, "alice", 25.0); err != nil {
		t.Fatalf("SetUserBudget: %v", err)
	}
	limit, periodStart, err := s.GetUserBudget(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserBudget: %v", err)
	}
	if limit != 25.0 {
		t.Errorf("expected limit 25.0, got %f", limit)
	}
	if periodStart.IsZero() {
		t.Error("expected non-zero period start")
	}

	if err := s.ResetUserBudget(ctx, "alice"); err != nil {
		t.Fatalf("ResetUserBudget: %v", err)
	}
	_, newStart, err := s.GetUserBudget(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserBudget after reset: %v", err)
	}
	if !newStart.After(periodStart) {
		t.Error("expected period start to advance after reset")
	}
}

// ─── Persistence health ───────────────────────────────────────────────────────

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIdempotentMigration(t *testing.T) {
	// Running migrations twice should not error
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = s.Close()
}
