package tools

import (
	"context"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/datasource/prometheus"
	"github.com/sentinelops/sentinel-ai/internal/llm/toolschema"
)

// metricsTTL caches range queries; a minute of staleness is invisible at
// the step sizes the model asks for. Instant queries stay uncached.
const metricsTTL = time.Minute

type queryMetricsParams struct {
	Query string `json:"query" desc:"PromQL expression, e.g. rate(http_requests_total{job=\"api\"}[5m])"`
}

type queryMetricsRangeParams struct {
	Query    string `json:"query" desc:"PromQL expression"`
	Duration string `json:"duration" desc:"Window ending now, e.g. 1h or 30m"`
	Step     string `json:"step,omitempty" desc:"Resolution step, e.g. 1m; defaults to duration/100"`
}

// RegisterPrometheusTools exposes metric queries through the registry.
func RegisterPrometheusTools(r *Registry, client *prometheus.Client) {
	r.Register(toolschema.Descriptor{
		Name:        "query_metrics",
		Description: "Run an instant PromQL query against Prometheus. Use for current values: error rates, saturation, pod memory.",
		Params:      queryMetricsParams{},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return client.Query(ctx, stringArg(args, "query"))
	})

	r.RegisterCached(toolschema.Descriptor{
		Name:        "query_metrics_range",
		Description: "Run a PromQL range query over a trailing window. Use to see how a metric evolved before and during the incident.",
		Params:      queryMetricsRangeParams{},
	}, metricsTTL, func(ctx context.Context, args map[string]any) (string, error) {
		return client.QueryRange(ctx,
			stringArg(args, "query"),
			stringArg(args, "duration"),
			stringArg(args, "step"),
		)
	})
}
