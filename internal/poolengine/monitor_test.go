package poolengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"

	"github.com/sandboxpool/orchestrator/internal/labels"
)

func TestMonitorTick_ReapsFailedAndSucceeded(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	failed := e.buildPod("sbx-failed", labels.ContainerSandbox, labels.StatusCreating, "")
	failed.Status.Phase = corev1.PodFailed
	_, err := e.k8s.Create(ctx, e.cfg.Namespace, failed)
	require.NoError(t, err)

	succeeded := e.buildPod("sbx-succeeded", labels.ContainerSandbox, labels.StatusCreating, "")
	succeeded.Status.Phase = corev1.PodSucceeded
	_, err = e.k8s.Create(ctx, e.cfg.Namespace, succeeded)
	require.NoError(t, err)

	mustCreateWarmPod(t, e, "sbx-warm-1")

	e.monitorTick(ctx)

	pods, err := e.k8s.List(ctx, e.cfg.Namespace, "")
	require.NoError(t, err)
	assert.Len(t, pods, 1)
	assert.Equal(t, "sbx-warm-1", pods[0].Name)
}

func TestMonitorTick_NoopWhenNothingTerminal(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")

	e.monitorTick(ctx)

	pods, err := e.k8s.List(ctx, e.cfg.Namespace, "")
	require.NoError(t, err)
	assert.Len(t, pods, 1)
}
