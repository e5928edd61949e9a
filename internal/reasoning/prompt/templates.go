package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// templateFile is the YAML shape of a prompt template set.
type templateFile struct {
	System    string            `yaml:"system"`
	Templates map[string]string `yaml:"templates"`
}

type manager struct {
	system    string
	templates map[string]string
}

// NewManager returns a manager loaded with the built-in templates.
func NewManager() Manager {
	m := &manager{}
	// The built-in YAML is authored alongside this file; a parse failure
	// here is a programming error, not a runtime condition.
	if err := m.merge([]byte(defaultTemplatesYAML)); err != nil {
		panic(fmt.Sprintf("built-in prompt templates invalid: %v", err))
	}
	return m
}

// NewManagerFromFile returns a manager with the built-in templates overlaid
// by the YAML file at path. Keys present in the file replace the defaults;
// absent keys keep them.
func NewManagerFromFile(path string) (Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt templates: %w", err)
	}
	m := NewManager().(*manager)
	if err := m.merge(data); err != nil {
		return nil, fmt.Errorf("parse prompt templates %s: %w", path, err)
	}
	return m, nil
}

func (m *manager) merge(data []byte) error {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.System != "" {
		m.system = f.System
	}
	if m.templates == nil {
		m.templates = make(map[string]string)
	}
	for name, tmpl := range f.Templates {
		m.templates[name] = tmpl
	}
	if _, ok := m.templates["general"]; !ok {
		return fmt.Errorf("template set has no general fallback")
	}
	return nil
}

func (m *manager) SystemPrompt() string { return m.system }

func (m *manager) Render(investigationType, description, clusterContext string) string {
	tmpl, ok := m.templates[investigationType]
	if !ok {
		tmpl = m.templates["general"]
	}
	rendered := strings.ReplaceAll(tmpl, "{{.Description}}", description)
	return strings.ReplaceAll(rendered, "{{.Context}}", clusterContext)
}

func (m *manager) Types() []string {
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ─── Built-in templates ───────────────────────────────────────────────────────

const defaultTemplatesYAML = `
system: |
  You are Sentinel, an incident investigation assistant for Kubernetes
  platforms. You investigate production issues by calling read-only
  diagnostic tools, then report a root cause with evidence.

  RULES:
  - Gather evidence with tools before forming conclusions. Never guess.
  - Every tool call must serve the investigation; state what you expect it to show.
  - You have read-only access. Never propose commands that mutate the cluster
    without clearly marking them as operator actions to review.
  - If the evidence is inconclusive, say so and state what data is missing.

  OUTPUT FORMAT:
  - Finish with sections: Root Cause, Evidence, Confidence, Recommended Actions.
  - Express confidence as a percentage.
  - Quote exact resource names, namespaces, and error messages from tool output.

templates:
  pod_crash: |
    ## Investigation: Pod Crash / Restart Loop

    **Target:** {{.Description}}

    **Context:**
    {{.Context}}

    Investigate the crash. Suggested approach:
    1. Use list_pods and get_pod to inspect phase, restart counts, and container states
    2. Use get_pod_logs with previous=true to capture the crashing container's last output
    3. Use get_events to find OOMKill, probe failure, or scheduling warnings
    4. Form a root cause hypothesis backed by the evidence

  performance: |
    ## Investigation: Performance Degradation

    **Target:** {{.Description}}

    **Context:**
    {{.Context}}

    Investigate the slowdown. Suggested approach:
    1. Use query_metrics to check current latency, error rate, and saturation
    2. Use query_metrics_range to see when the degradation started
    3. Use get_cluster_health and list_pods to check for pressure or evictions
    4. Correlate the metric change with pod or deployment events

  deployment_failure: |
    ## Investigation: Deployment Failure

    **Target:** {{.Description}}

    **Context:**
    {{.Context}}

    Investigate the failed rollout. Suggested approach:
    1. Use list_pods to compare old and new replica health
    2. Use get_events to find image pull, scheduling, or quota errors
    3. Use get_pod_logs on the failing pods
    4. Decide whether the failure is in the image, the config, or the cluster

  network: |
    ## Investigation: Network Issue

    **Target:** {{.Description}}

    **Context:**
    {{.Context}}

    Investigate the connectivity problem. Suggested approach:
    1. Use get_pod to verify the backend pods are ready
    2. Use get_events to find DNS or endpoint errors
    3. Use query_metrics for connection error and timeout rates
    4. Identify whether the fault is in the service, the pods, or the path between them

  general: |
    ## Investigation

    **Target:** {{.Description}}

    **Context:**
    {{.Context}}

    Investigate the reported issue. Gather relevant cluster state and metrics
    with the available tools, then form a hypothesis and verify it before
    concluding.
`
