package kubernetes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testPod(name, namespace string, phase corev1.PodPhase, restarts int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              name,
			Namespace:         namespace,
			CreationTimestamp: metav1.NewTime(time.Now().Add(-2 * time.Hour)),
		},
		Spec: corev1.PodSpec{
			NodeName: "node-1",
			Containers: []corev1.Container{
				{Name: "app", Image: "app:v1"},
			},
		},
		Status: corev1.PodStatus{
			Phase: phase,
			ContainerStatuses: []corev1.ContainerStatus{
				{
					Name:         "app",
					Ready:        phase == corev1.PodRunning,
					RestartCount: restarts,
					Image:        "app:v1",
				},
			},
		},
	}
}

func TestListPods(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		testPod("api-0", "production", corev1.PodRunning, 0),
		testPod("api-1", "production", corev1.PodPending, 3),
		testPod("worker-0", "batch", corev1.PodRunning, 0),
	)
	client := NewClientFromInterface(clientset)

	out, err := client.ListPods(context.Background(), "production", "", 50)
	require.NoError(t, err)

	var result struct {
		Count int `json:"count"`
		Pods  []struct {
			Name     string `json:"name"`
			Phase    string `json:"phase"`
			Restarts int32  `json:"restarts"`
		} `json:"pods"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Count)

	names := map[string]bool{}
	for _, p := range result.Pods {
		names[p.Name] = true
	}
	assert.True(t, names["api-0"])
	assert.True(t, names["api-1"])
	assert.False(t, names["worker-0"])
}

func TestGetPodContainerStates(t *testing.T) {
	pod := testPod("api-0", "production", corev1.PodRunning, 5)
	pod.Status.ContainerStatuses[0].State = corev1.ContainerState{
		Waiting: &corev1.ContainerStateWaiting{Reason: "CrashLoopBackOff"},
	}
	pod.Status.ContainerStatuses[0].LastTerminationState = corev1.ContainerState{
		Terminated: &corev1.ContainerStateTerminated{Reason: "OOMKilled", ExitCode: 137},
	}
	clientset := fake.NewSimpleClientset(pod)
	client := NewClientFromInterface(clientset)

	out, err := client.GetPod(context.Background(), "production", "api-0")
	require.NoError(t, err)
	assert.Contains(t, out, "CrashLoopBackOff")
	assert.Contains(t, out, "OOMKilled")
	assert.Contains(t, out, `"restarts":5`)
}

func TestGetPodNotFound(t *testing.T) {
	client := NewClientFromInterface(fake.NewSimpleClientset())

	_, err := client.GetPod(context.Background(), "production", "ghost")
	assert.Error(t, err)
}

func TestPodLogs(t *testing.T) {
	clientset := fake.NewSimpleClientset(testPod("api-0", "production", corev1.PodRunning, 0))
	client := NewClientFromInterface(clientset)

	out, err := client.PodLogs(context.Background(), "production", "api-0", "", 100, false)
	require.NoError(t, err)
	// The fake clientset serves a fixed body; the call path is what matters.
	assert.NotEmpty(t, out)
}

func TestListEventsFiltersAndOrders(t *testing.T) {
	now := time.Now()
	clientset := fake.NewSimpleClientset(
		&corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Name: "ev-old", Namespace: "production"},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "api-0"},
			Reason:         "Scheduled",
			Type:           corev1.EventTypeNormal,
			LastTimestamp:  metav1.NewTime(now.Add(-time.Hour)),
		},
		&corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Name: "ev-new", Namespace: "production"},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "api-0"},
			Reason:         "BackOff",
			Type:           corev1.EventTypeWarning,
			Message:        "Back-off restarting failed container",
			LastTimestamp:  metav1.NewTime(now),
		},
		&corev1.Event{
			ObjectMeta:     metav1.ObjectMeta{Name: "ev-other", Namespace: "production"},
			InvolvedObject: corev1.ObjectReference{Kind: "Pod", Name: "unrelated"},
			Reason:         "Pulled",
			Type:           corev1.EventTypeNormal,
			LastTimestamp:  metav1.NewTime(now),
		},
	)
	client := NewClientFromInterface(clientset)

	out, err := client.ListEvents(context.Background(), "production", "api-0", 20)
	require.NoError(t, err)

	var result struct {
		Count  int `json:"count"`
		Events []struct {
			Reason string `json:"reason"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, "BackOff", result.Events[0].Reason, "newest event first")
}

func TestClusterSummary(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
			}},
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-2"},
			Status: corev1.NodeStatus{Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: corev1.ConditionFalse},
			}},
		},
		testPod("api-0", "production", corev1.PodRunning, 0),
		testPod("api-1", "production", corev1.PodFailed, 9),
	)
	client := NewClientFromInterface(clientset)

	out, err := client.ClusterSummary(context.Background())
	require.NoError(t, err)

	var result struct {
		NodesTotal int            `json:"nodes_total"`
		NodesReady int            `json:"nodes_ready"`
		PodsTotal  int            `json:"pods_total"`
		PodPhases  map[string]int `json:"pod_phases"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 2, result.NodesTotal)
	assert.Equal(t, 1, result.NodesReady)
	assert.Equal(t, 2, result.PodsTotal)
	assert.Equal(t, 1, result.PodPhases["Failed"])
}
