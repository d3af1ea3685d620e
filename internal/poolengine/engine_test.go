package poolengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandboxpool/orchestrator/internal/labels"
)

func TestCount_FiltersByTypeAndStatus(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mustCreateWarmPod(t, e, "sbx-warm-1")
	mustCreateWarmPod(t, e, "sbx-warm-2")

	creating := e.buildPod("sbx-creating-1", labels.ContainerSandbox, labels.StatusCreating, "")
	_, err := e.k8s.Create(ctx, e.cfg.Namespace, creating)
	require.NoError(t, err)

	assert.Equal(t, 2, e.Count(ctx, labels.ContainerSandbox, labels.StatusWarm))
	assert.Equal(t, 1, e.Count(ctx, labels.ContainerSandbox, labels.StatusCreating))
	assert.Equal(t, 0, e.Count(ctx, labels.ContainerMCPServer, labels.StatusWarm))
}

func TestStatistics_DerivesPctsAndTotal(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	mustCreateWarmPod(t, e, "sbx-warm-1")
	allocated := e.buildPod("sbx-1", labels.ContainerSandbox, labels.StatusAllocated, "u1")
	_, err := e.k8s.Create(ctx, e.cfg.Namespace, allocated)
	require.NoError(t, err)

	stats := e.Statistics(ctx, labels.ContainerSandbox)
	assert.Equal(t, 1, stats.Warm)
	assert.Equal(t, 1, stats.Allocated)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 3, stats.Target)
	assert.InDelta(t, 33.3, stats.ReadyPct, 0.5)
	assert.InDelta(t, 50.0, stats.UtilizationPct, 0.5)
}

func TestTotalWorkloads_CountsOnlyMatchingRuntimeClass(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")

	assert.Equal(t, 1, e.TotalWorkloads(ctx))
}

func TestDelete_RemovesWorkload(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")

	require.NoError(t, e.Delete(ctx, "sbx-warm-1"))

	pod, err := e.k8s.Get(ctx, e.cfg.Namespace, "sbx-warm-1")
	require.NoError(t, err)
	assert.Nil(t, pod)
}

func TestGet_ReturnsDecodedWorkload(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")

	w, err := e.Get(ctx, "sbx-warm-1")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, labels.StatusWarm, w.PoolStatus)
}

func TestGet_ReturnsNilForMissingWorkload(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	w, err := e.Get(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestDeleteAll_RemovesOnlyMatchingContainerType(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")
	mustCreateWarmPod(t, e, "sbx-warm-2")

	mcpPod := e.buildPod("mcp-warm-1", labels.ContainerMCPServer, labels.StatusWarm, "")
	_, err := e.k8s.Create(ctx, e.cfg.Namespace, mcpPod)
	require.NoError(t, err)

	deleted, err := e.DeleteAll(ctx, labels.ContainerSandbox)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := e.List(ctx, labels.ContainerMCPServer)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	sandboxes, err := e.List(ctx, labels.ContainerSandbox)
	require.NoError(t, err)
	assert.Empty(t, sandboxes)
}
