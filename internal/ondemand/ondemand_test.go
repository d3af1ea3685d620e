package ondemand

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
	"github.com/sandboxpool/orchestrator/internal/poolengine"
)

func testSetup() (*Creator, *k8sclient.Client, *poolconfig.Config) {
	cs := fake.NewSimpleClientset()
	k8s := k8sclient.New(cs, nil)
	cfg := &poolconfig.Config{
		Namespace:         "sandboxes",
		NamePrefix:        "sbx",
		MaxTotalWorkloads: 10,
		RuntimeClass:      "kata-qemu",
		Sandbox:           poolconfig.TypeConfig{Target: 3, Image: "sandbox-runtime:test", CPURequest: "250m", CPULimit: "1", MemRequest: "512Mi", MemLimit: "1Gi"},
		MCP:               poolconfig.TypeConfig{Target: 1, Image: "mcp-runtime:test", CPURequest: "250m", CPULimit: "1", MemRequest: "512Mi", MemLimit: "1Gi"},
		PodReadyTimeout:   2 * time.Second,
	}
	eng := poolengine.New(k8s, cfg, "replica-test")
	return New(k8s, cfg, eng, nil), k8s, cfg
}

func TestCreateOnDemand_EmitsCreatedThenTimesOutWhenNeverReady(t *testing.T) {
	creator, _, _ := testSetup()
	events := creator.CreateOnDemand(context.Background(), labels.ContainerSandbox, "user-1", nil)

	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, EventCreated, seen[0].Type)
	last := seen[len(seen)-1]
	assert.Equal(t, EventFailed, last.Type)
	assert.Equal(t, "timeout", last.Reason)
}

func TestCreateOnDemand_EmitsReadyWhenPodBecomesReady(t *testing.T) {
	creator, k8s, cfg := testSetup()
	cfg.PodReadyTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := creator.CreateOnDemand(ctx, labels.ContainerSandbox, "user-1", nil)

	first := <-events
	require.Equal(t, EventCreated, first.Type)

	pod, err := k8s.Get(ctx, cfg.Namespace, first.Name)
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodRunning
	pod.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	_, err = k8s.Replace(ctx, cfg.Namespace, pod)
	require.NoError(t, err)

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventReady, last.Type)
}

func TestCreateOnDemand_MCPWorkloadWithoutLaunchSpecFailsArming(t *testing.T) {
	creator, k8s, cfg := testSetup()
	cfg.PodReadyTimeout = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := creator.CreateOnDemand(ctx, labels.ContainerMCPServer, "user-1", nil)

	first := <-events
	require.Equal(t, EventCreated, first.Type)

	pod, err := k8s.Get(ctx, cfg.Namespace, first.Name)
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodRunning
	pod.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	_, err = k8s.Replace(ctx, cfg.Namespace, pod)
	require.NoError(t, err)

	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
	}

	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, EventMCPStartFailed, last.Type)
	assert.Equal(t, "missing_launch_spec", last.Reason)
}
