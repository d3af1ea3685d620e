package poolengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/metrics"
)

// RunBackfill runs the leader-only Backfill loop of spec.md §4.6 until ctx
// is cancelled. The caller (the leader coordinator) is responsible for only
// invoking this while holding the lease.
func (e *Engine) RunBackfill(ctx context.Context) {
	slog.Info("poolengine: backfill starting", "interval", e.cfg.BackfillInterval)

	e.backfillTick(ctx)

	ticker := time.NewTicker(e.cfg.BackfillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poolengine: backfill stopping")
			return
		case <-ticker.C:
			e.backfillTick(ctx)
		}
	}
}

func (e *Engine) backfillTick(ctx context.Context) {
	total := e.TotalWorkloads(ctx)
	if total >= e.cfg.MaxTotalWorkloads {
		slog.Warn("poolengine: backfill skipped, at global capacity", "total", total, "max", e.cfg.MaxTotalWorkloads)
		return
	}

	total = e.backfillType(ctx, labels.ContainerSandbox, total)
	if e.cfg.MCP.Target > 0 {
		// Re-read total before MCP backfill so the global cap is respected
		// across both pools, per spec.md §4.6 step 4.
		total = e.TotalWorkloads(ctx)
		e.backfillType(ctx, labels.ContainerMCPServer, total)
	}
}

// backfillType tops up a single container type and returns the total
// workload count after accounting for what it just created (used to keep
// a later call in the same tick capacity-aware without an extra round trip
// when the caller doesn't need a fresh read).
func (e *Engine) backfillType(ctx context.Context, ct labels.ContainerType, total int) int {
	tc := e.typeConfig(ct)
	if tc.Target <= 0 {
		return total
	}

	pipeline := e.Count(ctx, ct, labels.StatusCreating) + e.Count(ctx, ct, labels.StatusWarm)
	if pipeline >= tc.Target {
		return total
	}

	deficit := tc.Target - pipeline
	remaining := e.cfg.MaxTotalWorkloads - total
	if remaining <= 0 {
		slog.Warn("poolengine: backfill capacity-limited", "container_type", ct, "deficit", deficit, "remaining_capacity", 0)
		return total
	}

	toCreate := deficit
	if toCreate > remaining {
		toCreate = remaining
		slog.Warn("poolengine: backfill capacity-limited", "container_type", ct, "deficit", deficit, "to_create", toCreate)
	}

	var wg sync.WaitGroup
	for i := 0; i < toCreate; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.CreateWarm(ctx, ct)
			metrics.BackfillCreated(string(ct))
		}()
	}
	wg.Wait()

	return total + toCreate
}
