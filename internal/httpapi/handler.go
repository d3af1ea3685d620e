// Package httpapi is the thin HTTP/SSE/WebSocket edge around the pool
// engine core. It is intentionally minimal: the core (internal/poolengine,
// internal/ondemand, internal/mcpbridge, internal/execbridge,
// internal/terminalbridge) is the system under test; this package only
// adapts it to wire formats.
package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sandboxpool/orchestrator/internal/execbridge"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/mcpbridge"
	"github.com/sandboxpool/orchestrator/internal/ondemand"
	"github.com/sandboxpool/orchestrator/internal/poolengine"
	"github.com/sandboxpool/orchestrator/internal/terminalbridge"
)

// Handler is the edge HTTP handler wrapping the pool engine core.
type Handler struct {
	engine   *poolengine.Engine
	creator  *ondemand.Creator
	mcp      *mcpbridge.Bridge
	exec     *execbridge.Bridge
	terminal *terminalbridge.Bridge
	apiKeys  map[string]struct{}
	upgrader websocket.Upgrader
}

// New builds a Handler. apiKeys, if non-empty, enables bearer-token
// authentication on every route except /healthz and /metrics.
func New(engine *poolengine.Engine, creator *ondemand.Creator, mcp *mcpbridge.Bridge, exec *execbridge.Bridge, terminal *terminalbridge.Bridge, apiKeys []string) *Handler {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		keys[k] = struct{}{}
	}
	return &Handler{
		engine:   engine,
		creator:  creator,
		mcp:      mcp,
		exec:     exec,
		terminal: terminal,
		apiKeys:  keys,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// Router returns the chi router with every route registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/pool/{containerType}/stats", h.PoolStats)
		r.Get("/pool/{containerType}/workloads", h.ListWorkloads)
		r.Post("/pool/{containerType}/allocate", h.Allocate)
		r.Post("/pool/{containerType}/create", h.CreateOnDemand)
		r.Delete("/pool/{containerType}/workloads", h.DeleteAllWorkloads)

		r.Post("/workloads/{name}/mcp/arm", h.MCPArm)
		r.Post("/workloads/{name}/mcp/invoke", h.MCPInvoke)
		r.Get("/workloads/{name}/mcp/status", h.MCPStatus)
		r.Delete("/workloads/{name}/mcp", h.MCPStop)

		r.Get("/workloads/{name}", h.GetWorkload)
		r.Delete("/workloads/{name}", h.DeleteWorkload)
		r.Post("/workloads/{name}/exec", h.Exec)
		r.Get("/workloads/{name}/terminal", h.Terminal)
		r.Post("/workloads/{name}/terminal/resize", h.TerminalResize)
	})

	return r
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	if len(h.apiKeys) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Pool-Api-Key")
		if key == "" {
			key = extractBearer(r.Header.Get("Authorization"))
		}
		if _, ok := h.apiKeys[key]; !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Healthz returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func containerType(r *http.Request) labels.ContainerType {
	ct := chi.URLParam(r, "containerType")
	if ct == "mcp-server" {
		return labels.ContainerMCPServer
	}
	return labels.ContainerSandbox
}

// PoolStats returns the derived Pool Statistics tuple for a container type.
func (h *Handler) PoolStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Statistics(r.Context(), containerType(r))
	writeJSON(w, http.StatusOK, stats)
}

// ListWorkloads returns every workload of a container type.
func (h *Handler) ListWorkloads(w http.ResponseWriter, r *http.Request) {
	workloads, err := h.engine.List(r.Context(), containerType(r))
	if err != nil {
		slog.Error("httpapi: list workloads failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workloads)
}

// Allocate claims one warm sandbox workload for the requesting user. The
// containerType path parameter is not consulted: every request claims a
// sandbox.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	workload, err := h.engine.Allocate(r.Context(), req.UserID)
	if err == poolengine.ErrNoneAvailable {
		http.Error(w, "no warm workload available", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		slog.Error("httpapi: allocate failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

// CreateOnDemand streams LifecycleEvent values as Server-Sent Events while
// an on-demand workload is provisioned.
func (h *Handler) CreateOnDemand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string                   `json:"user_id"`
		MCP    *mcpbridge.LaunchRequest `json:"mcp,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	events := h.creator.CreateOnDemand(r.Context(), containerType(r), req.UserID, req.MCP)
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("httpapi: failed to marshal lifecycle event", "err", err)
			continue
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return
		}
		if _, err := w.Write(payload); err != nil {
			return
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}

// MCPArm starts the MCP process inside a workload and streams the bridge's
// own start events back as SSE.
func (h *Handler) MCPArm(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req mcpbridge.LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	err := h.mcp.Arm(r.Context(), name, req, func(ev mcpbridge.Event) {
		w.Write([]byte("data: "))
		w.Write(ev.Raw)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	})
	if err != nil {
		slog.Error("httpapi: mcp arm failed", "name", name, "err", err)
	}
}

// MCPInvoke proxies a raw JSON-RPC body to the workload's MCP process.
func (h *Handler) MCPInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := readAll(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp, err := h.mcp.Proxy(r.Context(), name, body)
	if err != nil {
		slog.Error("httpapi: mcp proxy failed", "name", name, "err", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// MCPStatus passes through the bridge's process status.
func (h *Handler) MCPStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	resp, err := h.mcp.Status(r.Context(), name)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(resp)
}

// MCPStop stops the workload's MCP process.
func (h *Handler) MCPStop(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.mcp.Stop(r.Context(), name); err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWorkload returns a single workload by name, per spec.md §6 get(name).
func (h *Handler) GetWorkload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	workload, err := h.engine.Get(r.Context(), name)
	if err != nil {
		slog.Error("httpapi: get workload failed", "name", name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if workload == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, workload)
}

// DeleteWorkload removes a workload by name, for operator tooling.
func (h *Handler) DeleteWorkload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.engine.Delete(r.Context(), name); err != nil {
		slog.Error("httpapi: delete workload failed", "name", name, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAllWorkloads is the privileged delete_all(type) operation of
// spec.md §6. It sits behind the same static API-key gate as the rest of
// this route group (h.authenticate) — there is no separate "admin" tier of
// key, so the gate is the group itself.
func (h *Handler) DeleteAllWorkloads(w http.ResponseWriter, r *http.Request) {
	ct := containerType(r)
	deleted, err := h.engine.DeleteAll(r.Context(), ct)
	if err != nil {
		slog.Error("httpapi: delete_all failed", "container_type", ct, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// Exec streams the workload's command-exec SSE output directly to the
// response writer.
func (h *Handler) Exec(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req execbridge.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if err := h.exec.Exec(r.Context(), name, req, w); err != nil {
		slog.Error("httpapi: exec failed", "name", name, "err", err)
	}
}

// Terminal upgrades to a WebSocket and runs an interactive bash session
// against the workload until either side disconnects.
func (h *Handler) Terminal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("httpapi: websocket upgrade failed", "name", name, "err", err)
		return
	}
	if err := h.terminal.Terminal(r.Context(), name, conn); err != nil {
		slog.Warn("httpapi: terminal session ended", "name", name, "err", err)
	}
}

// TerminalResize pushes an out-of-band resize event to an active session.
func (h *Handler) TerminalResize(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Cols uint16 `json:"cols"`
		Rows uint16 `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !h.terminal.Resize(name, req.Cols, req.Rows) {
		http.Error(w, "no active session", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: encode response failed", "err", err)
	}
}

func readAll(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}
