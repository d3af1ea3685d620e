package poolengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/metrics"
	"github.com/sandboxpool/orchestrator/internal/tracing"
)

const maxAllocateAttempts = 5

// emptyPoolBackoff and conflictBackoff are the two distinct retry delays of
// spec.md §4.3: an empty warm pool (step 2) backs off longer than a lost
// replace race against another replica (step 4), since the former needs
// Backfill time to catch up while the latter is resolved by the very next
// list.
const (
	emptyPoolBackoffUnit = 100 * time.Millisecond
	conflictBackoffUnit  = 50 * time.Millisecond
)

// Allocate claims one warm sandbox workload for userID. Per spec.md §4.3 it
// is lock-free: it lists warm candidates, mutates the first one in a local
// copy, and submits a replace carrying the original resource version. A
// version conflict means another replica won the race; the caller retries
// against a freshly-listed candidate. Emptiness after the retry budget is
// ErrNoneAvailable, not an error.
func (e *Engine) Allocate(ctx context.Context, userID string) (labels.Workload, error) {
	if userID == "" {
		return labels.Workload{}, fmt.Errorf("poolengine: user_id is required")
	}

	ctx, span := tracing.StartSpan(ctx, "poolengine.Allocate", attribute.String("user_id", userID))
	defer span.End()

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		if ctx.Err() != nil {
			return labels.Workload{}, ctx.Err()
		}

		pods, err := e.k8s.List(ctx, e.cfg.Namespace, labels.SelectorPool(labels.ContainerSandbox, labels.StatusWarm))
		if err != nil {
			metrics.AllocateResult("error")
			return labels.Workload{}, fmt.Errorf("list warm workloads: %w", err)
		}
		if len(pods) == 0 {
			sleepCtx(ctx, time.Duration(attempt+1)*emptyPoolBackoffUnit)
			continue
		}

		candidate := pods[0].DeepCopy()
		now := labels.NowString()
		if candidate.Labels == nil {
			candidate.Labels = map[string]string{}
		}
		candidate.Labels[labels.KeyPoolStatus] = string(labels.StatusAllocated)
		candidate.Labels[labels.KeyAllocatedTo] = userID
		if candidate.Annotations == nil {
			candidate.Annotations = map[string]string{}
		}
		candidate.Annotations[labels.KeyAllocatedAt] = now
		candidate.Annotations[labels.KeyLastActivity] = now

		updated, err := e.k8s.Replace(ctx, e.cfg.Namespace, candidate)
		if err != nil {
			if k8sclient.IsConflict(err) {
				// Another replica won this candidate; back off briefly and
				// retry against the next list.
				sleepCtx(ctx, time.Duration(attempt+1)*conflictBackoffUnit)
				continue
			}
			metrics.AllocateResult("error")
			return labels.Workload{}, fmt.Errorf("replace warm workload: %w", err)
		}

		metrics.AllocateResult("success")
		return labels.Decode(updated), nil
	}

	slog.Warn("poolengine: allocate exhausted retries", "user_id", userID)
	metrics.AllocateResult("none_available")
	return labels.Workload{}, ErrNoneAvailable
}
