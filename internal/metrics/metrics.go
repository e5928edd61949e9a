package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// AI service metrics for production monitoring
var (
	// Investigation metrics
	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_investigations_total",
			Help: "Total number of investigations started",
		},
		[]string{"type", "status"},
	)

	InvestigationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_ai_investigation_duration_seconds",
			Help:    "Investigation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"type"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"model", "mode", "status"}, // mode: complete/stream/structured/agent
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"model", "type"}, // type: input/output
	)

	LLMCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_llm_cost_usd_total",
			Help: "Total LLM cost in USD",
		},
		[]string{"model"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_ai_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model", "mode"},
	)

	// History normalization metrics. Every dropped block is a provider bug
	// or a corrupted session upstream; these counters make that visible.
	HistoryBlocksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_history_blocks_dropped_total",
			Help: "Total content blocks dropped during history normalization",
		},
		[]string{"reason"},
	)

	HistoryMixedSplits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_ai_history_mixed_splits_total",
			Help: "Total mixed tool messages decomposed during normalization",
		},
	)

	// Structured output metrics
	StructuredRecoveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_structured_recoveries_total",
			Help: "Total structured output recovery attempts",
		},
		[]string{"status"}, // status: ok/parse_error/schema_error
	)

	// Budget metrics
	BudgetUsageUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_ai_budget_usage_usd",
			Help: "Current budget usage in USD",
		},
		[]string{"user_id", "month"},
	)

	BudgetLimitUSD = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_ai_budget_limit_usd",
			Help: "Budget limit in USD",
		},
		[]string{"user_id"},
	)

	BudgetExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_budget_exceeded_total",
			Help: "Total number of budget limit exceeded events",
		},
		[]string{"user_id"},
	)

	// Investigation tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_tool_calls_total",
			Help: "Total number of investigation tool calls",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_ai_tool_duration_seconds",
			Help:    "Investigation tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"tool"},
	)

	// Data source metrics
	DatasourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_datasource_requests_total",
			Help: "Total number of data source queries",
		},
		[]string{"source", "status"}, // source: kubernetes/prometheus
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_ai_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ai_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
