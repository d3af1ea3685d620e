// Package poolengine implements the sandbox/MCP pool engine: the state
// machine and reconciliation loops that keep warm pools at target size,
// allocate warm workloads to users under contention, detect and replace
// failed instances, and garbage-collect idle or aged ones.
//
// The engine holds no authoritative state of its own — every operation is a
// read or a conditional write against the orchestrator (see Design Note 9
// in spec.md). The only thing a Engine value owns locally is its
// configuration and its client handle.
package poolengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/metrics"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
)

// ErrNoneAvailable is returned by Allocate when no warm workload could be
// claimed within the retry budget — a capacity condition, not a failure.
var ErrNoneAvailable = fmt.Errorf("poolengine: no warm workload available")

// Engine is the pool engine of spec.md §4.2-§4.9.
type Engine struct {
	k8s       *k8sclient.Client
	cfg       *poolconfig.Config
	managerID string
}

// New creates a pool Engine. managerID identifies this replica in the
// manager-id label on every workload it creates.
func New(k8s *k8sclient.Client, cfg *poolconfig.Config, managerID string) *Engine {
	return &Engine{k8s: k8s, cfg: cfg, managerID: managerID}
}

func (e *Engine) typeConfig(ct labels.ContainerType) poolconfig.TypeConfig {
	if ct == labels.ContainerMCPServer {
		return e.cfg.MCP
	}
	return e.cfg.Sandbox
}

// Count runs a single labelled list and returns how many workloads of the
// given type and pool status exist. Errors are logged and default to zero:
// §4.2 requires counts to never fail the statistics endpoint.
func (e *Engine) Count(ctx context.Context, ct labels.ContainerType, status labels.PoolStatus) int {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, labels.SelectorPool(ct, status))
	if err != nil {
		slog.Error("poolengine: count failed", "container_type", ct, "pool_status", status, "err", err)
		return 0
	}
	return len(pods)
}

// TotalWorkloads lists every pod in the namespace and counts those whose
// runtime class matches the configured VM handler.
func (e *Engine) TotalWorkloads(ctx context.Context) int {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, "")
	if err != nil {
		slog.Error("poolengine: total workloads failed", "err", err)
		return 0
	}
	total := 0
	for _, p := range pods {
		w := labels.Decode(&p)
		if w.RuntimeClass == e.cfg.RuntimeClass {
			total++
		}
	}
	return total
}

// Statistics is the derived Pool Statistics tuple of spec.md §3.
type Statistics struct {
	Creating       int     `json:"creating"`
	Warm           int     `json:"warm"`
	Allocated      int     `json:"allocated"`
	Manual         int     `json:"manual"`
	Total          int     `json:"total"`
	Target         int     `json:"target"`
	MaxTotal       int     `json:"max_total"`
	ReadyPct       float64 `json:"ready_pct"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// Statistics issues the four counts for a container type in parallel and
// returns the derived tuple; target/max_total always come from config so
// the endpoint never 500s on a transient upstream failure.
func (e *Engine) Statistics(ctx context.Context, ct labels.ContainerType) Statistics {
	type result struct {
		status labels.PoolStatus
		count  int
	}
	statuses := []labels.PoolStatus{labels.StatusCreating, labels.StatusWarm, labels.StatusAllocated, labels.StatusManual}
	results := make(chan result, len(statuses))
	for _, s := range statuses {
		go func(status labels.PoolStatus) {
			results <- result{status: status, count: e.Count(ctx, ct, status)}
		}(s)
	}
	counts := make(map[labels.PoolStatus]int, len(statuses))
	for range statuses {
		r := <-results
		counts[r.status] = r.count
	}

	stats := Statistics{
		Creating: counts[labels.StatusCreating],
		Warm:     counts[labels.StatusWarm],
		Allocated: counts[labels.StatusAllocated],
		Manual:    counts[labels.StatusManual],
		Target:    e.typeConfig(ct).Target,
		MaxTotal:  e.cfg.MaxTotalWorkloads,
	}
	stats.Total = stats.Creating + stats.Warm + stats.Allocated + stats.Manual
	if stats.Target > 0 {
		stats.ReadyPct = 100 * float64(stats.Warm) / float64(stats.Target)
	}
	if stats.Total > 0 {
		stats.UtilizationPct = 100 * float64(stats.Allocated+stats.Manual) / float64(stats.Total)
	}
	metrics.ObservePoolStats(string(ct), stats.Creating, stats.Warm, stats.Allocated, stats.Manual)
	return stats
}

// List returns every workload of the given container type, decoded. Used
// by operator tooling (cmd/poolctl list); the reconciliation loops use
// e.k8s.List with a narrower selector directly instead.
func (e *Engine) List(ctx context.Context, ct labels.ContainerType) ([]labels.Workload, error) {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, labels.SelectorPoolStatuses(ct))
	if err != nil {
		return nil, fmt.Errorf("list workloads: %w", err)
	}
	out := make([]labels.Workload, 0, len(pods))
	for i := range pods {
		out = append(out, labels.Decode(&pods[i]))
	}
	return out, nil
}

// Get returns a single workload by name, decoded. Returns nil, nil if no
// such workload exists — callers translate that into a 404, not an error.
func (e *Engine) Get(ctx context.Context, name string) (*labels.Workload, error) {
	pod, err := e.k8s.Get(ctx, e.cfg.Namespace, name)
	if err != nil {
		return nil, fmt.Errorf("get workload: %w", err)
	}
	if pod == nil {
		return nil, nil
	}
	w := labels.Decode(pod)
	return &w, nil
}

// Delete removes a workload by name. Exposed for operator tooling
// (cmd/poolctl delete); the reconciliation loops never call this directly,
// they each apply their own deletion policy.
func (e *Engine) Delete(ctx context.Context, name string) error {
	return e.k8s.Delete(ctx, e.cfg.Namespace, name, 0)
}

// DeleteAll removes every workload of the given container type, regardless
// of pool status. It is the privileged delete_all operation of spec.md §6:
// callers are expected to gate it behind the static API-key check before
// ever reaching this method. Individual delete failures are collected and
// logged but don't stop the sweep; the first error is returned after every
// candidate has been attempted.
func (e *Engine) DeleteAll(ctx context.Context, ct labels.ContainerType) (int, error) {
	pods, err := e.k8s.List(ctx, e.cfg.Namespace, labels.SelectorPoolStatuses(ct))
	if err != nil {
		return 0, fmt.Errorf("list workloads for delete_all: %w", err)
	}

	deleted := 0
	var firstErr error
	for _, pod := range pods {
		if err := e.k8s.Delete(ctx, e.cfg.Namespace, pod.Name, 0); err != nil {
			if k8sclient.IsNotFound(err) {
				continue
			}
			slog.Error("poolengine: delete_all delete failed", "name", pod.Name, "container_type", ct, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
