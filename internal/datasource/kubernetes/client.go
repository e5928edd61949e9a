// Package kubernetes provides read-only cluster introspection for
// investigations: pods, events, logs, and node summaries. Results are
// rendered as compact JSON so they can be fed back to the model as tool
// output without further shaping.
package kubernetes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/sentinelops/sentinel-ai/internal/metrics"
)

// Config selects how the client reaches the cluster.
type Config struct {
	// Kubeconfig is an explicit kubeconfig path. Empty means the default
	// loading rules (KUBECONFIG, ~/.kube/config).
	Kubeconfig string

	// InCluster uses the pod service account instead of a kubeconfig.
	InCluster bool
}

// Client is a read-only Kubernetes datasource.
type Client struct {
	clientset kubernetes.Interface
}

// NewClient builds a client from kubeconfig or in-cluster credentials.
func NewClient(cfg Config) (*Client, error) {
	restCfg, err := buildRESTConfig(cfg)
	if err != nil {
		return nil, err
	}
	restCfg.Timeout = 10 * time.Second

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kubernetes clientset: %w", err)
	}
	return &Client{clientset: clientset}, nil
}

// NewClientFromInterface wraps an existing clientset. Used by tests with a
// fake clientset.
func NewClientFromInterface(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

func buildRESTConfig(cfg Config) (*rest.Config, error) {
	if cfg.InCluster {
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		return restCfg, nil
	}

	loader := clientcmd.NewDefaultClientConfigLoadingRules()
	if strings.TrimSpace(cfg.Kubeconfig) != "" {
		loader.ExplicitPath = strings.TrimSpace(cfg.Kubeconfig)
	}
	clientCfg := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loader, &clientcmd.ConfigOverrides{})
	restCfg, err := clientCfg.ClientConfig()
	if err != nil {
		return nil, wrapConfigErr(err)
	}
	return restCfg, nil
}

// TestConnection verifies the API server is reachable.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.clientset.Discovery().ServerVersion()
	if err != nil {
		return wrapConnErr(err)
	}
	return nil
}

// ─── Pod queries ──────────────────────────────────────────────────────────────

type podSummary struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Phase     string `json:"phase"`
	Ready     string `json:"ready"`
	Restarts  int32  `json:"restarts"`
	Node      string `json:"node,omitempty"`
	Age       string `json:"age"`
}

// ListPods returns pod summaries for a namespace (empty for all namespaces).
func (c *Client) ListPods(ctx context.Context, namespace, labelSelector string, limit int) (string, error) {
	if limit <= 0 {
		limit = 50
	}
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelSelector,
		Limit:         int64(limit),
	})
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}

	summaries := make([]podSummary, 0, len(pods.Items))
	for i := range pods.Items {
		summaries = append(summaries, summarizePod(&pods.Items[i]))
	}
	return c.render(map[string]any{
		"count": len(summaries),
		"pods":  summaries,
	})
}

// GetPod returns detailed status for a single pod.
func (c *Client) GetPod(ctx context.Context, namespace, name string) (string, error) {
	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}

	containers := make([]map[string]any, 0, len(pod.Status.ContainerStatuses))
	for _, cs := range pod.Status.ContainerStatuses {
		entry := map[string]any{
			"name":     cs.Name,
			"ready":    cs.Ready,
			"restarts": cs.RestartCount,
			"image":    cs.Image,
		}
		if cs.State.Waiting != nil {
			entry["state"] = "waiting"
			entry["reason"] = cs.State.Waiting.Reason
		} else if cs.State.Terminated != nil {
			entry["state"] = "terminated"
			entry["reason"] = cs.State.Terminated.Reason
			entry["exit_code"] = cs.State.Terminated.ExitCode
		} else if cs.State.Running != nil {
			entry["state"] = "running"
		}
		if cs.LastTerminationState.Terminated != nil {
			entry["last_termination"] = map[string]any{
				"reason":    cs.LastTerminationState.Terminated.Reason,
				"exit_code": cs.LastTerminationState.Terminated.ExitCode,
			}
		}
		containers = append(containers, entry)
	}

	return c.render(map[string]any{
		"summary":    summarizePod(pod),
		"containers": containers,
		"conditions": podConditions(pod),
		"labels":     pod.Labels,
	})
}

// PodLogs fetches recent log lines from a pod container.
func (c *Client) PodLogs(ctx context.Context, namespace, pod, container string, tailLines int64, previous bool) (string, error) {
	if tailLines <= 0 {
		tailLines = 100
	}
	opts := &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
		Previous:  previous,
	}
	stream, err := c.clientset.CoreV1().Pods(namespace).GetLogs(pod, opts).Stream(ctx)
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		return "", c.record("", fmt.Errorf("read log stream: %w", err))
	}
	metrics.DatasourceRequests.WithLabelValues("kubernetes", "ok").Inc()
	return string(data), nil
}

// ─── Events ───────────────────────────────────────────────────────────────────

type eventSummary struct {
	Type     string `json:"type"`
	Reason   string `json:"reason"`
	Object   string `json:"object"`
	Message  string `json:"message"`
	Count    int32  `json:"count"`
	LastSeen string `json:"last_seen"`
}

// ListEvents returns recent events, optionally filtered by involved object
// name, newest first.
func (c *Client) ListEvents(ctx context.Context, namespace, involvedObject string, limit int) (string, error) {
	if limit <= 0 {
		limit = 20
	}
	events, err := c.clientset.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}

	items := events.Items
	sort.Slice(items, func(i, j int) bool {
		return eventTime(&items[i]).After(eventTime(&items[j]))
	})

	summaries := make([]eventSummary, 0, limit)
	for i := range items {
		ev := &items[i]
		if involvedObject != "" && ev.InvolvedObject.Name != involvedObject {
			continue
		}
		summaries = append(summaries, eventSummary{
			Type:     ev.Type,
			Reason:   ev.Reason,
			Object:   fmt.Sprintf("%s/%s", strings.ToLower(ev.InvolvedObject.Kind), ev.InvolvedObject.Name),
			Message:  ev.Message,
			Count:    ev.Count,
			LastSeen: eventTime(ev).UTC().Format(time.RFC3339),
		})
		if len(summaries) >= limit {
			break
		}
	}
	return c.render(map[string]any{
		"count":  len(summaries),
		"events": summaries,
	})
}

// ─── Cluster summary ──────────────────────────────────────────────────────────

// ClusterSummary returns node readiness and pod phase counts.
func (c *Client) ClusterSummary(ctx context.Context) (string, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}
	pods, err := c.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", c.record("", wrapConnErr(err))
	}

	readyNodes := 0
	for i := range nodes.Items {
		for _, cond := range nodes.Items[i].Status.Conditions {
			if cond.Type == corev1.NodeReady && cond.Status == corev1.ConditionTrue {
				readyNodes++
				break
			}
		}
	}

	phases := map[string]int{}
	for i := range pods.Items {
		phases[string(pods.Items[i].Status.Phase)]++
	}

	return c.render(map[string]any{
		"nodes_total": len(nodes.Items),
		"nodes_ready": readyNodes,
		"pods_total":  len(pods.Items),
		"pod_phases":  phases,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (c *Client) render(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", c.record("", fmt.Errorf("render result: %w", err))
	}
	metrics.DatasourceRequests.WithLabelValues("kubernetes", "ok").Inc()
	return string(data), nil
}

// record counts a failed query and passes the error through.
func (c *Client) record(_ string, err error) error {
	metrics.DatasourceRequests.WithLabelValues("kubernetes", "error").Inc()
	return err
}

func summarizePod(pod *corev1.Pod) podSummary {
	ready := 0
	var restarts int32
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
		restarts += cs.RestartCount
	}
	return podSummary{
		Name:      pod.Name,
		Namespace: pod.Namespace,
		Phase:     string(pod.Status.Phase),
		Ready:     fmt.Sprintf("%d/%d", ready, len(pod.Spec.Containers)),
		Restarts:  restarts,
		Node:      pod.Spec.NodeName,
		Age:       age(pod.CreationTimestamp.Time),
	}
}

func podConditions(pod *corev1.Pod) []map[string]string {
	conds := make([]map[string]string, 0, len(pod.Status.Conditions))
	for _, cond := range pod.Status.Conditions {
		conds = append(conds, map[string]string{
			"type":   string(cond.Type),
			"status": string(cond.Status),
			"reason": cond.Reason,
		})
	}
	return conds
}

func eventTime(ev *corev1.Event) time.Time {
	if !ev.LastTimestamp.IsZero() {
		return ev.LastTimestamp.Time
	}
	if !ev.EventTime.IsZero() {
		return ev.EventTime.Time
	}
	return ev.CreationTimestamp.Time
}

func age(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d > 24*time.Hour:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	case d > time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
}

func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no configuration has been provided"):
		return fmt.Errorf("kubeconfig not found or empty; set datasources.kubernetes.kubeconfig or KUBECONFIG")
	case strings.Contains(msg, "unable to read"):
		return fmt.Errorf("failed to read kubeconfig file: %w", err)
	default:
		return fmt.Errorf("failed to load kubeconfig: %w", err)
	}
}

func wrapConnErr(err error) error {
	if err == nil {
		return nil
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if ne, ok := uerr.Err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("cluster connection timed out; check network and API server reachability")
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"):
		return fmt.Errorf("kubernetes authentication failed; refresh credentials")
	case strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return fmt.Errorf("TLS validation failed; verify cluster certificate in kubeconfig")
	default:
		return err
	}
}
