// Package metrics exposes the pool engine's Prometheus instrumentation.
// Gauges track pool composition per container type; counters track the
// outcome of the operations spec.md §8 lists as testable properties.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sandboxpool",
		Name:      "workloads",
		Help:      "Current workload count by container type and pool status.",
	}, []string{"container_type", "pool_status"})

	allocateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxpool",
		Name:      "allocate_total",
		Help:      "Allocate attempts by outcome.",
	}, []string{"outcome"})

	backfillCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxpool",
		Name:      "backfill_created_total",
		Help:      "Warm workloads created by the backfill loop, by container type.",
	}, []string{"container_type"})

	monitorDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sandboxpool",
		Name:      "monitor_deleted_total",
		Help:      "Failed/Succeeded workloads deleted by the monitor loop.",
	})

	cleanupDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sandboxpool",
		Name:      "cleanup_deleted_total",
		Help:      "Workloads deleted by the cleanup loop, by reason (idle|lifetime).",
	}, []string{"reason"})

	leaderGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sandboxpool",
		Name:      "leader",
		Help:      "1 if this replica currently holds the backfill leader lease.",
	})
)

// ObservePoolStats records the four pool-status gauges for a container type.
func ObservePoolStats(containerType string, creating, warm, allocated, manual int) {
	poolGauge.WithLabelValues(containerType, "creating").Set(float64(creating))
	poolGauge.WithLabelValues(containerType, "warm").Set(float64(warm))
	poolGauge.WithLabelValues(containerType, "allocated").Set(float64(allocated))
	poolGauge.WithLabelValues(containerType, "manual").Set(float64(manual))
}

// AllocateResult records the outcome of an Allocate call: "success",
// "none_available", or "error".
func AllocateResult(outcome string) {
	allocateTotal.WithLabelValues(outcome).Inc()
}

// BackfillCreated records a successful warm-workload creation by the
// backfill loop.
func BackfillCreated(containerType string) {
	backfillCreatedTotal.WithLabelValues(containerType).Inc()
}

// MonitorDeleted records a Failed/Succeeded workload deletion by the
// monitor loop.
func MonitorDeleted() {
	monitorDeletedTotal.Inc()
}

// CleanupDeleted records a cleanup-loop deletion for the given reason.
func CleanupDeleted(reason string) {
	cleanupDeletedTotal.WithLabelValues(reason).Inc()
}

// SetLeader records this replica's current leadership state.
func SetLeader(isLeader bool) {
	if isLeader {
		leaderGauge.Set(1)
		return
	}
	leaderGauge.Set(0)
}
