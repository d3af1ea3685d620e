package poolengine

import (
	"context"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
)

const readinessPollInterval = 2 * time.Second

// watchReadiness polls a newly-created workload every 2s until it is ready,
// failed, or the configured pod_ready_timeout elapses (spec.md §4.5). It
// logs human-readable phase transitions once per change, and on success
// submits a replace that flips pool-status creating -> warm; a conflict on
// that write is tolerated since another replica may have already promoted
// it.
func (e *Engine) watchReadiness(ctx context.Context, name string) {
	deadline := time.Now().Add(e.cfg.PodReadyTimeout)
	var lastReason string

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			slog.Warn("poolengine: readiness watcher timed out", "name", name)
			return
		}

		pod, err := e.k8s.Get(ctx, e.cfg.Namespace, name)
		if err != nil {
			slog.Error("poolengine: readiness watcher get failed", "name", name, "err", err)
			return
		}
		if pod == nil {
			return
		}

		reason := waitingReason(pod)
		if reason != lastReason {
			slog.Info("poolengine: workload transition", "name", name, "state", reason)
			lastReason = reason
		}

		w := labels.Decode(pod)
		switch {
		case w.Ready:
			e.promoteToWarm(ctx, pod)
			return
		case pod.Status.Phase == corev1.PodFailed:
			slog.Warn("poolengine: workload failed during readiness wait", "name", name)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) promoteToWarm(ctx context.Context, pod *corev1.Pod) {
	candidate := pod.DeepCopy()
	if candidate.Labels == nil {
		candidate.Labels = map[string]string{}
	}
	candidate.Labels[labels.KeyPoolStatus] = string(labels.StatusWarm)
	if _, err := e.k8s.Replace(ctx, e.cfg.Namespace, candidate); err != nil {
		if k8sclient.IsConflict(err) {
			// Another replica already promoted (or claimed) it; re-read next reconcile.
			return
		}
		slog.Error("poolengine: promote to warm failed", "name", pod.Name, "err", err)
		return
	}
	slog.Info("poolengine: workload warm", "name", pod.Name)
}

// waitingReason decodes the pod's container-waiting state into the
// human-readable vocabulary spec.md §4.5 requires: ContainerCreating,
// PodInitializing, ErrImagePull, ImagePullBackOff, Running, Terminated, or
// the raw waiting reason if none of those match.
func waitingReason(pod *corev1.Pod) string {
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return "Running"
	case corev1.PodSucceeded, corev1.PodFailed:
		return "Terminated"
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil {
			switch cs.State.Waiting.Reason {
			case "ContainerCreating", "PodInitializing", "ErrImagePull", "ImagePullBackOff":
				return cs.State.Waiting.Reason
			default:
				if cs.State.Waiting.Reason != "" {
					return cs.State.Waiting.Reason
				}
			}
		}
	}
	if len(pod.Status.Conditions) == 0 {
		return "PodInitializing"
	}
	return "ContainerCreating"
}
