package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/audit"
	"github.com/sentinelops/sentinel-ai/internal/db"
	"github.com/sentinelops/sentinel-ai/internal/llm/adapter"
	"github.com/sentinelops/sentinel-ai/internal/llm/budget"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	"github.com/sentinelops/sentinel-ai/internal/metrics"
	ctxbuilder "github.com/sentinelops/sentinel-ai/internal/reasoning/context"
	"github.com/sentinelops/sentinel-ai/internal/reasoning/prompt"
)

// ErrNotRunning is returned by Subscribe when the investigation has no
// active agent loop.
var ErrNotRunning = errors.New("investigation is not running")

// ErrNotFound is returned when no investigation exists with the given ID.
var ErrNotFound = errors.New("investigation not found")

// Options configures the manager.
type Options struct {
	// Timeout bounds each investigation's agent loop (default 5m).
	Timeout time.Duration
	// Agent configures the tool loop (default types.DefaultAgentConfig).
	Agent types.AgentConfig
	// Context, when set, supplies cluster background for requests that
	// arrive without any.
	Context ctxbuilder.Builder
}

type manager struct {
	store    db.Store
	llm      adapter.LLMAdapter
	tracker  budget.BudgetTracker
	executor types.ToolExecutor
	specs    func() []types.ToolSpec
	prompts  prompt.Manager
	auditLog audit.Logger
	logger   *zap.Logger
	opts     Options

	mu   sync.RWMutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// run is the live state of one in-flight investigation.
type run struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	subs    map[int]chan types.AgentStreamEvent
	nextSub int
	done    bool
}

// ToolSource exposes the tool inventory the agent loop works with.
// *tools.Registry satisfies it.
type ToolSource interface {
	types.ToolExecutor
	Specs() []types.ToolSpec
}

// NewManager creates an investigation manager. tracker may be nil, in which
// case completions run without budget enforcement.
func NewManager(
	store db.Store,
	llm adapter.LLMAdapter,
	tracker budget.BudgetTracker,
	toolSrc ToolSource,
	prompts prompt.Manager,
	auditLog audit.Logger,
	logger *zap.Logger,
	opts Options,
) Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Agent.MaxTurns <= 0 {
		opts.Agent = types.DefaultAgentConfig()
	}
	return &manager{
		store:    store,
		llm:      llm,
		tracker:  tracker,
		executor: toolSrc,
		specs:    toolSrc.Specs,
		prompts:  prompts,
		auditLog: auditLog,
		logger:   logger,
		opts:     opts,
		runs:     make(map[string]*run),
	}
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

func (m *manager) Start(ctx context.Context, req StartRequest) (*Investigation, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}
	if req.Type == "" {
		req.Type = TypeGeneral
	}

	now := time.Now().UTC()
	inv := &Investigation{
		ID:            uuid.New().String(),
		Type:          req.Type,
		State:         StateInvestigating,
		UserID:        req.UserID,
		CorrelationID: audit.GenerateCorrelationID(),
		Description:   req.Description,
		Context:       req.Context,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.save(ctx, inv); err != nil {
		return nil, err
	}

	m.auditLog.Log(ctx, audit.NewEvent(audit.EventInvestigationStarted).
		WithCorrelationID(inv.CorrelationID).
		WithUser(inv.UserID).
		WithResource("investigation/"+inv.ID, "investigation").
		WithDescription(fmt.Sprintf("Investigation started: %s", req.Description)).
		WithResult(audit.ResultSuccess))
	metrics.InvestigationsTotal.WithLabelValues(string(inv.Type), "started").Inc()

	loopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.Timeout)
	r := &run{cancel: cancel, subs: make(map[int]chan types.AgentStreamEvent)}
	m.mu.Lock()
	m.runs[inv.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.runLoop(loopCtx, inv, r)
	}()

	return inv, nil
}

// runLoop drives the agent loop for one investigation to completion.
func (m *manager) runLoop(ctx context.Context, inv *Investigation, r *run) {
	started := time.Now()
	defer m.finishRun(inv.ID, r)

	if inv.Context == "" && m.opts.Context != nil {
		if built, err := m.opts.Context.Build(ctx, ""); err == nil {
			inv.Context = built
		}
	}

	opening := m.prompts.Render(string(inv.Type), inv.Description, inv.Context)
	messages := []types.Message{
		types.NewTextMessage(types.RoleSystem, m.prompts.SystemPrompt()),
		types.NewTextMessage(types.RoleUser, opening),
	}
	m.appendTurn(ctx, inv.ID, "user", opening)

	llm := m.llm
	if m.tracker != nil {
		llm = adapter.NewBudgetedAdapter(m.llm, m.tracker, inv.UserID, inv.ID)
	}

	evtCh, err := llm.CompleteWithTools(ctx, messages, m.specs(), m.executor, m.opts.Agent)
	if err != nil {
		m.fail(ctx, inv, started, err)
		return
	}

	var answer strings.Builder
	for evt := range evtCh {
		r.broadcast(evt)
		switch {
		case evt.TextToken != "":
			answer.WriteString(evt.TextToken)
		case evt.ToolEvent != nil && evt.ToolEvent.Phase != "calling":
			m.recordToolEvent(ctx, inv, evt.ToolEvent)
		case evt.Err != nil:
			m.fail(ctx, inv, started, evt.Err)
			return
		}
	}
	if ctx.Err() != nil {
		m.fail(ctx, inv, started, ctx.Err())
		return
	}

	m.conclude(ctx, inv, started, answer.String())
}

func (m *manager) recordToolEvent(ctx context.Context, inv *Investigation, te *types.ToolEvent) {
	args, _ := json.Marshal(te.Args)
	result := te.Result
	var execErr error
	if te.Phase == "error" {
		result = te.Error
		execErr = errors.New(te.Error)
	}
	inv.ToolCalls = append(inv.ToolCalls, ToolCall{
		ToolName:  te.ToolName,
		Args:      string(args),
		Result:    result,
		TurnIndex: te.TurnIndex,
		Timestamp: time.Now().UTC(),
	})
	m.auditLog.LogToolExecuted(ctx, inv.ID, te.ToolName, 0, execErr)
}

func (m *manager) conclude(ctx context.Context, inv *Investigation, started time.Time, answer string) {
	inv.State = StateConcluded
	inv.Conclusion = answer
	inv.Confidence = extractConfidence(answer)
	inv.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, inv); err != nil {
		m.logger.Error("persist concluded investigation", zap.String("id", inv.ID), zap.Error(err))
	}
	m.appendTurn(ctx, inv.ID, "assistant", answer)

	elapsed := time.Since(started)
	m.auditLog.LogInvestigationCompleted(ctx, inv.ID, elapsed)
	metrics.InvestigationsTotal.WithLabelValues(string(inv.Type), "concluded").Inc()
	metrics.InvestigationDuration.WithLabelValues(string(inv.Type)).Observe(elapsed.Seconds())
	m.logger.Info("investigation concluded",
		zap.String("id", inv.ID),
		zap.Int("confidence", inv.Confidence),
		zap.Duration("elapsed", elapsed))
}

func (m *manager) fail(ctx context.Context, inv *Investigation, started time.Time, cause error) {
	// The loop context may already be dead; the terminal write must not be.
	ctx = context.WithoutCancel(ctx)
	state := StateFailed
	status := "failed"
	if errors.Is(cause, context.Canceled) {
		state = StateCancelled
		status = "cancelled"
	}
	inv.State = state
	inv.UpdatedAt = time.Now().UTC()
	if err := m.save(ctx, inv); err != nil {
		m.logger.Error("persist failed investigation", zap.String("id", inv.ID), zap.Error(err))
	}

	m.auditLog.LogInvestigationFailed(ctx, inv.ID, cause)
	metrics.InvestigationsTotal.WithLabelValues(string(inv.Type), status).Inc()
	metrics.InvestigationDuration.WithLabelValues(string(inv.Type)).Observe(time.Since(started).Seconds())
	m.logger.Warn("investigation did not conclude",
		zap.String("id", inv.ID),
		zap.String("state", string(state)),
		zap.Error(cause))
}

func (m *manager) finishRun(id string, r *run) {
	m.mu.Lock()
	delete(m.runs, id)
	m.mu.Unlock()

	r.mu.Lock()
	r.done = true
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.mu.Unlock()
}

// ─── Queries and subscriber fan-out ──────────────────────────────────────────

func (m *manager) Get(ctx context.Context, id string) (*Investigation, error) {
	rec, err := m.store.GetInvestigation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRecord(rec), nil
}

func (m *manager) List(ctx context.Context, limit, offset int) ([]*Investigation, error) {
	recs, err := m.store.ListInvestigations(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*Investigation, len(recs))
	for i, rec := range recs {
		out[i] = fromRecord(rec)
	}
	return out, nil
}

func (m *manager) Subscribe(id string) (<-chan types.AgentStreamEvent, func(), error) {
	m.mu.RLock()
	r, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, ErrNotRunning
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil, nil, ErrNotRunning
	}
	ch := make(chan types.AgentStreamEvent, 256)
	subID := r.nextSub
	r.nextSub++
	r.subs[subID] = ch

	unsubscribe := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, live := r.subs[subID]; live {
			delete(r.subs, subID)
			close(ch)
		}
	}
	return ch, unsubscribe, nil
}

// broadcast fans an event out to all subscribers. Slow subscribers lose
// events rather than stalling the agent loop.
func (r *run) broadcast(evt types.AgentStreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ─── Mutations ───────────────────────────────────────────────────────────────

func (m *manager) AddFinding(ctx context.Context, id string, f Finding) error {
	if f.Confidence < 0 || f.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100, got %d", f.Confidence)
	}
	inv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	inv.Findings = append(inv.Findings, f)
	inv.UpdatedAt = time.Now().UTC()
	return m.save(ctx, inv)
}

func (m *manager) Cancel(ctx context.Context, id string) error {
	inv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := validateTransition(inv.State, StateCancelled); err != nil {
		return err
	}

	m.mu.RLock()
	r, running := m.runs[id]
	m.mu.RUnlock()
	if running {
		// The loop observes the cancellation and persists the state change.
		r.cancel()
		return nil
	}

	inv.State = StateCancelled
	inv.UpdatedAt = time.Now().UTC()
	metrics.InvestigationsTotal.WithLabelValues(string(inv.Type), "cancelled").Inc()
	return m.save(ctx, inv)
}

func (m *manager) Archive(ctx context.Context, id string) error {
	inv, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := validateTransition(inv.State, StateArchived); err != nil {
		return err
	}
	inv.State = StateArchived
	inv.UpdatedAt = time.Now().UTC()
	return m.save(ctx, inv)
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, r := range m.runs {
		r.cancel()
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validateTransition enforces the lifecycle state machine.
func validateTransition(from, to State) error {
	valid := map[State][]State{
		StateCreated:       {StateInvestigating, StateCancelled},
		StateInvestigating: {StateConcluded, StateFailed, StateCancelled},
		StateConcluded:     {StateArchived},
		StateFailed:        {StateArchived},
		StateCancelled:     {StateArchived},
		StateArchived:      {},
	}
	allowed, ok := valid[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid state transition: %s to %s", from, to)
}

// ─── Persistence mapping ─────────────────────────────────────────────────────

func (m *manager) save(ctx context.Context, inv *Investigation) error {
	if err := m.store.SaveInvestigation(ctx, toRecord(inv)); err != nil {
		return fmt.Errorf("persist investigation %s: %w", inv.ID, err)
	}
	return nil
}

func (m *manager) appendTurn(ctx context.Context, id, role, content string) {
	err := m.store.AppendTurn(ctx, &db.TurnRecord{
		InvestigationID: id,
		Role:            role,
		Content:         content,
		Timestamp:       time.Now().UTC(),
	})
	if err != nil {
		m.logger.Warn("persist turn", zap.String("id", id), zap.Error(err))
	}
}

func toRecord(inv *Investigation) *db.InvestigationRecord {
	meta, _ := json.Marshal(map[string]string{"context": inv.Context})
	rec := &db.InvestigationRecord{
		ID:            inv.ID,
		Type:          string(inv.Type),
		State:         string(inv.State),
		UserID:        inv.UserID,
		CorrelationID: inv.CorrelationID,
		Description:   inv.Description,
		Conclusion:    inv.Conclusion,
		Confidence:    inv.Confidence,
		Metadata:      string(meta),
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	for _, f := range inv.Findings {
		rec.Findings = append(rec.Findings, db.FindingRecord{
			Statement: f.Statement, Evidence: f.Evidence,
			Confidence: f.Confidence, Severity: f.Severity, Timestamp: f.Timestamp,
		})
	}
	for _, tc := range inv.ToolCalls {
		rec.ToolCalls = append(rec.ToolCalls, db.ToolCallRecord{
			ToolName: tc.ToolName, Args: tc.Args, Result: tc.Result,
			TurnIndex: tc.TurnIndex, Timestamp: tc.Timestamp,
		})
	}
	return rec
}

func fromRecord(rec *db.InvestigationRecord) *Investigation {
	var meta struct {
		Context string `json:"context"`
	}
	_ = json.Unmarshal([]byte(rec.Metadata), &meta)
	inv := &Investigation{
		ID:            rec.ID,
		Type:          Type(rec.Type),
		State:         State(rec.State),
		UserID:        rec.UserID,
		CorrelationID: rec.CorrelationID,
		Description:   rec.Description,
		Context:       meta.Context,
		Conclusion:    rec.Conclusion,
		Confidence:    rec.Confidence,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	for _, f := range rec.Findings {
		inv.Findings = append(inv.Findings, Finding{
			Statement: f.Statement, Evidence: f.Evidence,
			Confidence: f.Confidence, Severity: f.Severity, Timestamp: f.Timestamp,
		})
	}
	for _, tc := range rec.ToolCalls {
		inv.ToolCalls = append(inv.ToolCalls, ToolCall{
			ToolName: tc.ToolName, Args: tc.Args, Result: tc.Result,
			TurnIndex: tc.TurnIndex, Timestamp: tc.Timestamp,
		})
	}
	return inv
}

var confidenceRe = regexp.MustCompile(`(?i)confidence[:*\s]+(\d{1,3})\s*%`)

// extractConfidence pulls the self-reported confidence percentage out of the
// model's final answer. Returns 0 when none is stated.
func extractConfidence(text string) int {
	match := confidenceRe.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil || n > 100 {
		return 0
	}
	return n
}
