package poolengine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/metrics"
)

// RunCleanup runs the Cleanup loop of spec.md §4.8 until ctx is cancelled.
// Every replica runs this; a Delete racing another replica's Delete is a
// tolerated not-found.
func (e *Engine) RunCleanup(ctx context.Context) {
	slog.Info("poolengine: cleanup starting", "interval", e.cfg.CleanupInterval)

	e.cleanupTick(ctx)

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poolengine: cleanup stopping")
			return
		case <-ticker.C:
			e.cleanupTick(ctx)
		}
	}
}

func (e *Engine) cleanupTick(ctx context.Context) {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, "")
	if err != nil {
		slog.Error("poolengine: cleanup list failed", "err", err)
		return
	}

	now := time.Now()
	for _, pod := range pods {
		w := labels.Decode(&pod)

		// Max lifetime applies to every workload once it has a created-at
		// timestamp, regardless of pool status.
		if !w.CreatedAt.IsZero() && now.Sub(w.CreatedAt) >= e.cfg.MaxLifetime {
			e.deleteForReason(ctx, pod.Name, "lifetime")
			continue
		}

		// Idle timeout is scoped to allocated/manual workloads, not every
		// pool status. buildPod stamps last-activity on warm pods too, so
		// read literally the invariant is unconditional — but evicting a
		// warm candidate on its creation timestamp alone would fight
		// Backfill, which is the only thing that should ever retire an
		// untouched warm pod. A workload only has a real activity clock
		// once it's allocated or manually created.
		if w.PoolStatus != labels.StatusAllocated && w.PoolStatus != labels.StatusManual {
			continue
		}
		reference := w.LastActivity
		if reference.IsZero() {
			reference = w.AllocatedAt
		}
		if reference.IsZero() {
			continue
		}
		if now.Sub(reference) >= e.cfg.IdleTimeout {
			e.deleteForReason(ctx, pod.Name, "idle")
		}
	}
}

func (e *Engine) deleteForReason(ctx context.Context, name, reason string) {
	if err := e.k8s.Delete(ctx, e.cfg.Namespace, name, 0); err != nil {
		if k8sclient.IsNotFound(err) {
			return
		}
		slog.Error("poolengine: cleanup delete failed", "name", name, "reason", reason, "err", err)
		return
	}
	slog.Info("poolengine: cleanup deleted workload", "name", name, "reason", reason)
	metrics.CleanupDeleted(reason)
}
