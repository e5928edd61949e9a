package tools

import (
	"context"
	"time"

	"github.com/sentinelops/sentinel-ai/internal/datasource/kubernetes"
	"github.com/sentinelops/sentinel-ai/internal/llm/toolschema"
)

// resourceTTL bounds how long cluster reads may be served from cache. Long
// enough to absorb the model re-reading state within a turn, short enough
// that a new investigation sees fresh state.
const resourceTTL = 30 * time.Second

type listPodsParams struct {
	Namespace     string `json:"namespace,omitempty" desc:"Namespace to list pods from; omit for all namespaces"`
	LabelSelector string `json:"label_selector,omitempty" desc:"Optional label selector, e.g. app=api"`
	Limit         int    `json:"limit,omitempty" desc:"Max pods to return (default 50)"`
}

type getPodParams struct {
	Namespace string `json:"namespace" desc:"Pod namespace"`
	Name      string `json:"name" desc:"Pod name"`
}

type podLogsParams struct {
	Namespace string `json:"namespace" desc:"Pod namespace"`
	Pod       string `json:"pod" desc:"Pod name"`
	Container string `json:"container,omitempty" desc:"Container name; omit for the first container"`
	TailLines int    `json:"tail_lines,omitempty" desc:"Number of trailing lines (default 100)"`
	Previous  bool   `json:"previous,omitempty" desc:"Read logs from the previous container instance (after a crash)"`
}

type getEventsParams struct {
	Namespace      string `json:"namespace,omitempty" desc:"Namespace to list events from; omit for all namespaces"`
	InvolvedObject string `json:"involved_object,omitempty" desc:"Filter by involved object name, e.g. a pod name"`
	Limit          int    `json:"limit,omitempty" desc:"Max events to return (default 20)"`
}

// RegisterKubernetesTools exposes cluster introspection through the registry.
// Registration errors are reported by the registry; none are fatal.
func RegisterKubernetesTools(r *Registry, client *kubernetes.Client) {
	r.RegisterCached(toolschema.Descriptor{
		Name:        "list_pods",
		Description: "List pods by namespace with phase, readiness, and restart counts. Use to find crashing or pending pods.",
		Params:      listPodsParams{},
	}, resourceTTL, func(ctx context.Context, args map[string]any) (string, error) {
		return client.ListPods(ctx,
			stringArg(args, "namespace"),
			stringArg(args, "label_selector"),
			intArg(args, "limit", 50),
		)
	})

	r.Register(toolschema.Descriptor{
		Name:        "get_pod",
		Description: "Get detailed status for a single pod: container states, restart reasons, last termination (OOMKilled, exit codes), and conditions.",
		Params:      getPodParams{},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return client.GetPod(ctx,
			stringArg(args, "namespace"),
			stringArg(args, "name"),
		)
	})

	r.Register(toolschema.Descriptor{
		Name:        "get_pod_logs",
		Description: "Fetch recent log lines from a pod container. Set previous=true to read logs from before the last crash.",
		Params:      podLogsParams{},
	}, func(ctx context.Context, args map[string]any) (string, error) {
		return client.PodLogs(ctx,
			stringArg(args, "namespace"),
			stringArg(args, "pod"),
			stringArg(args, "container"),
			int64(intArg(args, "tail_lines", 100)),
			boolArg(args, "previous"),
		)
	})

	r.RegisterCached(toolschema.Descriptor{
		Name:        "get_events",
		Description: "List recent cluster events, newest first, optionally filtered by namespace and involved object. Use to diagnose scheduling, image pull, and restart failures.",
		Params:      getEventsParams{},
	}, resourceTTL, func(ctx context.Context, args map[string]any) (string, error) {
		return client.ListEvents(ctx,
			stringArg(args, "namespace"),
			stringArg(args, "involved_object"),
			intArg(args, "limit", 20),
		)
	})

	r.RegisterCached(toolschema.Descriptor{
		Name:        "get_cluster_health",
		Description: "Get an overall cluster summary: node readiness and pod phase counts.",
	}, resourceTTL, func(ctx context.Context, args map[string]any) (string, error) {
		return client.ClusterSummary(ctx)
	})
}
