package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/sentinelops/sentinel-ai/internal/llm/provider/bedrock"
	"github.com/sentinelops/sentinel-ai/internal/llm/structured"
	"github.com/sentinelops/sentinel-ai/internal/llm/types"
	"github.com/sentinelops/sentinel-ai/internal/metrics"
)

// ErrNotConfigured is returned when an LLM operation is attempted without
// backend credentials. The service starts in degraded mode; LLM endpoints
// return HTTP 503 until credentials are supplied.
var ErrNotConfigured = errors.New("LLM backend not configured")

// Config holds backend configuration (from user settings or environment).
type Config struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	ModelID string `json:"model_id"`
	// MaxElapsedRetry bounds the retry window for throttled requests.
	MaxElapsedRetry time.Duration `json:"-"`
}

// tokenizerEncoding is the tokenizer used for local token estimates.
const tokenizerEncoding = "cl100k_base"

type llmAdapterImpl struct {
	client  *bedrock.Client
	logger  *zap.Logger
	encoder *tiktoken.Tiktoken
}

// NewLLMAdapter creates the backend adapter. A missing API key yields an
// unconfigured adapter rather than an error so the service can start in
// degraded mode.
func NewLLMAdapter(cfg *Config, logger *zap.Logger) (LLMAdapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{
			BaseURL: os.Getenv("SENTINEL_LLM_BASE_URL"),
			APIKey:  os.Getenv("SENTINEL_LLM_API_KEY"),
			ModelID: os.Getenv("SENTINEL_LLM_MODEL"),
		}
	}

	if cfg.APIKey == "" && os.Getenv("SENTINEL_LLM_API_KEY") == "" {
		logger.Warn("no LLM credentials configured, starting in degraded mode")
		return &llmAdapterImpl{logger: logger, encoder: newTokenizer(logger)}, nil
	}

	client, err := bedrock.NewClient(bedrock.ClientConfig{
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		ModelID:         cfg.ModelID,
		MaxElapsedRetry: cfg.MaxElapsedRetry,
	})
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	return &llmAdapterImpl{
		client:  client,
		logger:  logger,
		encoder: newTokenizer(logger),
	}, nil
}

func newTokenizer(logger *zap.Logger) *tiktoken.Tiktoken {
	enc, err := tiktoken.GetEncoding(tokenizerEncoding)
	if err != nil {
		// Token counting falls back to a character heuristic.
		logger.Warn("tokenizer unavailable", zap.Error(err))
		return nil
	}
	return enc
}

func (a *llmAdapterImpl) configured() bool { return a.client != nil }

// ModelID returns the configured backend model.
func (a *llmAdapterImpl) ModelID() string {
	if a.client == nil {
		return ""
	}
	return a.client.ModelID()
}

// prepare normalizes the history, records diagnostics, and encodes the
// backend request. The caller's messages are never mutated.
func (a *llmAdapterImpl) prepare(messages []types.Message, tools []types.ToolSpec, opts types.Options) (*bedrock.Request, error) {
	normalized, report := bedrock.NormalizeHistory(types.CloneMessages(messages))
	a.recordReport(report)

	req, err := bedrock.EncodeRequest(a.client.ModelID(), report.SystemPrompts, normalized, tools, opts)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("history is empty after normalization")
	}
	return req, nil
}

// recordReport surfaces normalization diagnostics. Every dropped block is
// either a provider bug or a corrupted session upstream, so each one is
// logged and counted.
func (a *llmAdapterImpl) recordReport(report bedrock.NormalizationReport) {
	for _, d := range report.Dropped {
		metrics.HistoryBlocksDropped.WithLabelValues(string(d.Reason)).Inc()
		a.logger.Warn("dropped history block",
			zap.String("reason", string(d.Reason)),
			zap.String("call_id", d.CallID),
			zap.String("role", string(d.Role)),
		)
	}
	if report.MixedSplits > 0 {
		metrics.HistoryMixedSplits.Add(float64(report.MixedSplits))
		a.logger.Info("decomposed mixed tool messages", zap.Int("count", report.MixedSplits))
	}
}

// Complete sends a non-streaming request.
func (a *llmAdapterImpl) Complete(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (*Completion, error) {
	if !a.configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	completion, err := a.complete(ctx, messages, tools, opts)
	a.observe("complete", start, err)
	return completion, err
}

func (a *llmAdapterImpl) complete(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (*Completion, error) {
	req, err := a.prepare(messages, tools, opts)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Converse(ctx, req)
	if err != nil {
		return nil, err
	}

	msg, finish, usage, err := bedrock.DecodeResponse(resp)
	if err != nil {
		return nil, err
	}

	a.recordUsage(usage)
	return buildCompletion(msg, finish, usage), nil
}

// CompleteStream sends a streaming request. Text updates are forwarded as
// they decode; the final update carries finish reason and usage.
func (a *llmAdapterImpl) CompleteStream(ctx context.Context, messages []types.Message, tools []types.ToolSpec, opts types.Options) (<-chan types.StreamUpdate, <-chan error, error) {
	if !a.configured() {
		return nil, nil, ErrNotConfigured
	}

	req, err := a.prepare(messages, tools, opts)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(a.ModelID(), "stream", "error").Inc()
		return nil, nil, err
	}

	start := time.Now()
	events, transportErr, err := a.client.ConverseStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(a.ModelID(), "stream", "error").Inc()
		return nil, nil, err
	}

	updates := make(chan types.StreamUpdate, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(updates)
		defer close(errCh)

		decoder := bedrock.NewStreamDecoder()
		for ev := range events {
			update, err := decoder.Feed(ev)
			if err != nil {
				a.logger.Warn("stream decode", zap.Error(err))
				continue
			}
			if update == nil {
				continue
			}
			select {
			case updates <- *update:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
			if update.IsFinal() && update.Usage != nil {
				a.recordUsage(*update.Usage)
			}
		}

		if err := <-transportErr; err != nil {
			decoder.Fail(err)
			metrics.LLMRequestsTotal.WithLabelValues(a.ModelID(), "stream", "error").Inc()
			errCh <- err
			return
		}

		metrics.LLMRequestsTotal.WithLabelValues(a.ModelID(), "stream", "success").Inc()
		metrics.LLMRequestDuration.WithLabelValues(a.ModelID(), "stream").Observe(time.Since(start).Seconds())
	}()

	return updates, errCh, nil
}

// CompleteStructured requests a completion that must parse and validate as
// a JSON object. Recovery strips reasoning tags, front matter and fences
// before parsing; allowRaw turns a failed recovery into a raw-text result.
func (a *llmAdapterImpl) CompleteStructured(ctx context.Context, messages []types.Message, schema map[string]any, opts types.Options, allowRaw bool) (*StructuredResult, error) {
	if !a.configured() {
		return nil, ErrNotConfigured
	}

	start := time.Now()
	completion, err := a.complete(ctx, messages, nil, opts)
	a.observe("structured", start, err)
	if err != nil {
		return nil, err
	}

	recovered, err := structured.Recover(completion.Text, schema)
	if err != nil {
		var rerr *structured.RecoveryError
		status := "parse_error"
		if errors.As(err, &rerr) && rerr.Stage != "parse" {
			status = "schema_error"
		}
		metrics.StructuredRecoveries.WithLabelValues(status).Inc()

		if allowRaw && errors.As(err, &rerr) {
			a.logger.Warn("structured recovery failed, returning raw text",
				zap.String("stage", rerr.Stage), zap.Error(rerr.Err))
			return &StructuredResult{RawText: rerr.CleanedText}, nil
		}
		return nil, err
	}

	metrics.StructuredRecoveries.WithLabelValues("ok").Inc()
	return &StructuredResult{
		Object:    recovered.Object,
		Canonical: recovered.Canonical,
		Recovered: true,
	}, nil
}

// CountTokens estimates token usage with the local tokenizer. Tool schemas
// count too since the backend bills their serialized form.
func (a *llmAdapterImpl) CountTokens(ctx context.Context, messages []types.Message, tools []types.ToolSpec) (int, error) {
	total := 0
	for _, msg := range messages {
		for _, b := range msg.Contents {
			switch blk := b.(type) {
			case types.TextContent:
				total += a.countText(blk.Text)
			case types.ToolCallContent:
				if raw, err := json.Marshal(blk.Arguments); err == nil {
					total += a.countText(string(raw))
				}
				total += a.countText(blk.Name)
			case types.ToolResultContent:
				total += a.countText(blk.Output())
			}
		}
		// Per-message framing overhead.
		total += 4
	}
	for _, t := range tools {
		total += a.countText(t.Name + t.Description)
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			total += a.countText(string(raw))
		}
	}
	return total, nil
}

func (a *llmAdapterImpl) countText(text string) int {
	if a.encoder == nil {
		return len(text) / 4
	}
	return len(a.encoder.Encode(text, nil, nil))
}

func (a *llmAdapterImpl) observe(mode string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(a.ModelID(), mode, status).Inc()
	metrics.LLMRequestDuration.WithLabelValues(a.ModelID(), mode).Observe(time.Since(start).Seconds())
}

func (a *llmAdapterImpl) recordUsage(usage types.TokenUsage) {
	if usage.InputTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(a.ModelID(), "input").Add(float64(usage.InputTokens))
	}
	if usage.OutputTokens > 0 {
		metrics.LLMTokensUsed.WithLabelValues(a.ModelID(), "output").Add(float64(usage.OutputTokens))
	}
}

func buildCompletion(msg types.Message, finish types.FinishReason, usage types.TokenUsage) *Completion {
	completion := &Completion{FinishReason: finish, Usage: usage}
	for _, b := range msg.Contents {
		switch blk := b.(type) {
		case types.TextContent:
			completion.Text += blk.Text
		case types.ToolCallContent:
			completion.ToolCalls = append(completion.ToolCalls, blk)
		}
	}
	return completion
}
