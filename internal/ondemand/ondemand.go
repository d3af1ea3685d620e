// Package ondemand implements the On-Demand Creator of spec.md §4.9: a
// streaming, explicit create path that produces a manual workload and
// emits a finite sequence of LifecycleEvent values as it comes up.
package ondemand

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/mcpbridge"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
	"github.com/sandboxpool/orchestrator/internal/poolengine"
	"github.com/sandboxpool/orchestrator/internal/tracing"
)

// EventType enumerates the LifecycleEvent kinds of spec.md §4.9.
type EventType string

const (
	EventCreated        EventType = "created"
	EventWaiting        EventType = "waiting"
	EventReady          EventType = "ready"
	EventFailed         EventType = "failed"
	EventMCPStarting    EventType = "mcp_starting"
	EventMCPStarted     EventType = "mcp_started"
	EventMCPStartFailed EventType = "mcp_start_failed"
)

// Event is one item of the lazy sequence create_on_demand produces.
type Event struct {
	Type     EventType         `json:"type"`
	Name     string            `json:"name"`
	Phase    corev1.PodPhase   `json:"phase,omitempty"`
	Attempt  int               `json:"attempt,omitempty"`
	Message  string            `json:"message,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	Info     map[string]string `json:"info,omitempty"`
	ElapsedS float64           `json:"elapsed_s,omitempty"`
}

const pollInterval = 2 * time.Second

// Creator is the on-demand workload creator. It holds no state of its own
// beyond its collaborators — every session is an independent goroutine
// producing into its own channel.
type Creator struct {
	k8s *k8sclient.Client
	cfg *poolconfig.Config
	eng *poolengine.Engine
	mcp *mcpbridge.Bridge
}

// New builds a Creator. eng supplies pod construction (buildPod is shared
// with the warm-pool path via Engine.CreateManual) so on-demand and
// backfilled workloads stay identical in shape. mcp arms the MCP process for
// mcp-server workloads once their pod is ready; it may be nil for deployments
// that only ever create sandboxes.
func New(k8s *k8sclient.Client, cfg *poolconfig.Config, eng *poolengine.Engine, mcp *mcpbridge.Bridge) *Creator {
	return &Creator{k8s: k8s, cfg: cfg, eng: eng, mcp: mcp}
}

// CreateOnDemand starts provisioning a manual workload of the given type for
// userID and returns a channel of LifecycleEvent. For ct ==
// labels.ContainerMCPServer, launch carries the arm() payload (spec.md
// §4.10) applied once the pod reports ready; it is ignored for sandboxes.
// The channel is closed when the sequence ends (ready, failed,
// mcp_started/mcp_start_failed, or ctx cancellation) and is never restarted;
// the caller owns ctx's lifetime and closing it early ends polling without
// rolling back the already-created workload.
func (c *Creator) CreateOnDemand(ctx context.Context, ct labels.ContainerType, userID string, launch *mcpbridge.LaunchRequest) <-chan Event {
	out := make(chan Event, 8)
	go c.run(ctx, ct, userID, launch, out)
	return out
}

func (c *Creator) run(ctx context.Context, ct labels.ContainerType, userID string, launch *mcpbridge.LaunchRequest, out chan<- Event) {
	defer close(out)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "ondemand.CreateOnDemand",
		attribute.String("container_type", string(ct)),
		attribute.String("user_id", userID),
	)
	defer span.End()

	pod, err := c.eng.CreateManual(ctx, ct, userID)
	if err != nil {
		emit(ctx, out, Event{Type: EventFailed, Reason: "create_error", Message: err.Error()})
		return
	}
	emit(ctx, out, Event{Type: EventCreated, Name: pod.Name, Phase: pod.Status.Phase})

	deadline := start.Add(c.cfg.PodReadyTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if time.Now().After(deadline) {
			emit(ctx, out, Event{Type: EventFailed, Name: pod.Name, Reason: "timeout"})
			return
		}

		current, err := c.k8s.Get(ctx, c.cfg.Namespace, pod.Name)
		if err != nil {
			emit(ctx, out, Event{Type: EventFailed, Name: pod.Name, Reason: "get_error", Message: err.Error()})
			return
		}
		if current == nil {
			emit(ctx, out, Event{Type: EventFailed, Name: pod.Name, Reason: "not_found"})
			return
		}

		w := labels.Decode(current)
		switch {
		case w.Ready:
			if ct == labels.ContainerMCPServer {
				c.armMCP(ctx, out, pod.Name, launch, start)
				return
			}
			emit(ctx, out, Event{
				Type:     EventReady,
				Name:     pod.Name,
				Phase:    current.Status.Phase,
				ElapsedS: time.Since(start).Seconds(),
				Info:     map[string]string{"pod_ip": w.PodIP},
			})
			return
		case current.Status.Phase == corev1.PodFailed:
			emit(ctx, out, Event{Type: EventFailed, Name: pod.Name, Reason: "pod_failed"})
			return
		}

		attempt++
		emit(ctx, out, Event{
			Type:    EventWaiting,
			Name:    pod.Name,
			Attempt: attempt,
			Phase:   current.Status.Phase,
			Message: waitingReason(current),
		})

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// armMCP drives the mcp_starting/mcp_started/mcp_start_failed leg of
// spec.md §4.9: once the pod is ready, the MCP process still has to be
// started inside it before the workload is usable. c.mcp.Arm blocks until
// the bridge's own start-stream closes, so mcp_started is only emitted once
// the process has actually come up.
func (c *Creator) armMCP(ctx context.Context, out chan<- Event, name string, launch *mcpbridge.LaunchRequest, start time.Time) {
	if c.mcp == nil || launch == nil {
		emit(ctx, out, Event{Type: EventMCPStartFailed, Name: name, Reason: "missing_launch_spec"})
		return
	}

	emit(ctx, out, Event{Type: EventMCPStarting, Name: name, ElapsedS: time.Since(start).Seconds()})

	if err := c.mcp.Arm(ctx, name, *launch, func(mcpbridge.Event) {}); err != nil {
		emit(ctx, out, Event{Type: EventMCPStartFailed, Name: name, Reason: "arm_error", Message: err.Error()})
		return
	}

	emit(ctx, out, Event{Type: EventMCPStarted, Name: name, ElapsedS: time.Since(start).Seconds()})
}

// emit sends an event, dropping it rather than blocking forever if the
// consumer has gone away without draining the channel.
func emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

// waitingReason mirrors poolengine's readiness decoding so on-demand and
// warm-pool readiness waits report identical vocabulary.
func waitingReason(pod *corev1.Pod) string {
	switch pod.Status.Phase {
	case corev1.PodRunning:
		return "Running"
	case corev1.PodSucceeded, corev1.PodFailed:
		return "Terminated"
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason != "" {
			return cs.State.Waiting.Reason
		}
	}
	if len(pod.Status.Conditions) == 0 {
		return "PodInitializing"
	}
	return "ContainerCreating"
}
