package poolengine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sandboxpool/orchestrator/internal/labels"
)

func TestBackfillTick_CreatesUpToTarget(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	e.backfillTick(ctx)

	creating := e.Count(ctx, labels.ContainerSandbox, labels.StatusCreating)
	assert.Equal(t, e.cfg.Sandbox.Target, creating)
}

func TestBackfillTick_SkipsWhenPipelineMeetsTarget(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	mustCreateWarmPod(t, e, "sbx-warm-1")
	mustCreateWarmPod(t, e, "sbx-warm-2")
	mustCreateWarmPod(t, e, "sbx-warm-3")

	e.backfillTick(ctx)

	creating := e.Count(ctx, labels.ContainerSandbox, labels.StatusCreating)
	assert.Equal(t, 0, creating)
}

func TestBackfillTick_RespectsGlobalCap(t *testing.T) {
	e := newTestEngine()
	e.cfg.MaxTotalWorkloads = 1
	ctx := context.Background()

	e.backfillTick(ctx)

	total := e.Count(ctx, labels.ContainerSandbox, labels.StatusCreating)
	assert.LessOrEqual(t, total, 1)
}

func TestBackfillTick_SkippedAtGlobalCapacity(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	for i := 0; i < e.cfg.MaxTotalWorkloads; i++ {
		mustCreateWarmPod(t, e, fmt.Sprintf("sbx-warm-filler-%d", i))
	}
	total := e.TotalWorkloads(ctx)
	assert.GreaterOrEqual(t, total, e.cfg.MaxTotalWorkloads)

	e.backfillTick(ctx)

	assert.Equal(t, total, e.TotalWorkloads(ctx))
}
