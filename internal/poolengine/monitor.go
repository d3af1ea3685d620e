package poolengine

import (
	"context"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/metrics"
)

// RunMonitor runs the Monitor loop of spec.md §4.7 until ctx is cancelled.
// Unlike Backfill, every replica runs this — garbage-collecting terminal
// pods is safe to race on since Delete of an already-deleted pod is a
// no-op not-found.
func (e *Engine) RunMonitor(ctx context.Context) {
	slog.Info("poolengine: monitor starting", "interval", e.cfg.MonitorInterval)

	e.monitorTick(ctx)

	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("poolengine: monitor stopping")
			return
		case <-ticker.C:
			e.monitorTick(ctx)
		}
	}
}

func (e *Engine) monitorTick(ctx context.Context) {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, "")
	if err != nil {
		slog.Error("poolengine: monitor list failed", "err", err)
		return
	}

	for _, pod := range pods {
		if pod.Status.Phase != corev1.PodFailed && pod.Status.Phase != corev1.PodSucceeded {
			continue
		}
		if err := e.k8s.Delete(ctx, e.cfg.Namespace, pod.Name, 0); err != nil {
			if k8sclient.IsNotFound(err) {
				continue
			}
			slog.Error("poolengine: monitor delete failed", "name", pod.Name, "err", err)
			continue
		}
		slog.Info("poolengine: monitor reaped terminal workload", "name", pod.Name, "phase", pod.Status.Phase)
		metrics.MonitorDeleted()
	}
}
