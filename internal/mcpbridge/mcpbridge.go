// Package mcpbridge implements MCP Arming & Proxy (spec.md §4.10): launching
// the in-sandbox MCP bridge process, consuming its SSE event stream, and
// proxying JSON-RPC traffic to it once armed.
package mcpbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
)

// State mirrors the bridge's own process state machine. The core treats
// these as opaque strings to render, never interprets transitions.
type State string

const (
	StateIdle         State = "Idle"
	StateInitializing State = "Initializing"
	StateReady        State = "Ready"
	StateError        State = "Error"
	StateDisposed     State = "Disposed"
)

// LaunchRequest is the arm() payload forwarded to the bridge's start
// endpoint.
type LaunchRequest struct {
	PreExecScripts []string `json:"preExecScripts"`
	Command        string   `json:"command"`
	Arguments      []string `json:"arguments"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

// Event is one decoded SSE frame from the bridge's start stream.
type Event struct {
	Raw json.RawMessage
}

// Bridge proxies arm/invoke/status/stop calls to the in-sandbox MCP bridge
// process over plain HTTP. It holds no per-workload state; the workload's
// address is resolved fresh on every call.
type Bridge struct {
	k8s    *k8sclient.Client
	ns     string
	http   *http.Client
	scheme string
	port   string
}

// New builds a Bridge. k8s is used only to patch the last-activity
// annotation and to resolve a workload's pod IP.
func New(k8s *k8sclient.Client, namespace string) *Bridge {
	return &Bridge{
		k8s:    k8s,
		ns:     namespace,
		http:   &http.Client{Timeout: 30 * time.Second},
		scheme: "http",
		port:   "8765",
	}
}

func (b *Bridge) addr(ctx context.Context, name string) (string, error) {
	pod, err := b.k8s.Get(ctx, b.ns, name)
	if err != nil {
		return "", fmt.Errorf("mcpbridge: resolve address: %w", err)
	}
	if pod == nil || pod.Status.PodIP == "" {
		return "", fmt.Errorf("mcpbridge: workload %s has no address", name)
	}
	return fmt.Sprintf("%s://%s:%s", b.scheme, pod.Status.PodIP, b.port), nil
}

func (b *Bridge) touchActivity(ctx context.Context, name string) {
	if err := b.k8s.PatchAnnotations(ctx, b.ns, name, map[string]string{
		labels.KeyLastActivity: labels.NowString(),
	}); err != nil {
		slog.Warn("mcpbridge: last-activity patch failed", "name", name, "err", err)
	}
}

// Arm starts the MCP process inside the named workload and streams the
// bridge's SSE start events to onEvent until the stream closes or ctx is
// cancelled. Per spec.md §4.10 step 1, the launch command's display form is
// recorded as an annotation before the start call is made.
func (b *Bridge) Arm(ctx context.Context, name string, launch LaunchRequest, onEvent func(Event)) error {
	display := launch.Command
	if len(launch.Arguments) > 0 {
		display = display + " " + strings.Join(launch.Arguments, " ")
	}
	if err := b.k8s.PatchAnnotations(ctx, b.ns, name, map[string]string{
		labels.KeyLaunchCommand: display,
		labels.KeyLastActivity:  labels.NowString(),
	}); err != nil {
		slog.Warn("mcpbridge: launch-command annotation failed", "name", name, "err", err)
	}

	addr, err := b.addr(ctx, name)
	if err != nil {
		return err
	}

	body, err := json.Marshal(launch)
	if err != nil {
		return fmt.Errorf("mcpbridge: marshal launch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/mcp/start", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("mcpbridge: start request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mcpbridge: start failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(errText)))
	}

	return consumeSSE(resp.Body, onEvent)
}

// consumeSSE scans newline-delimited `data: <json>\n\n` frames. Non-JSON
// lines are skipped with a single warning each; malformed JSON never
// terminates the stream, per spec.md §4.10 step 3.
func consumeSSE(r io.Reader, onEvent func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if !json.Valid([]byte(payload)) {
			slog.Warn("mcpbridge: skipping non-JSON SSE frame")
			continue
		}
		onEvent(Event{Raw: json.RawMessage(payload)})
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcpbridge: sse stream: %w", err)
	}
	return nil
}

// Proxy forwards a raw JSON-RPC body to the bridge's /mcp endpoint. Per
// spec.md §4.10: a 202 means the body was a notification and the caller
// gets back an empty object; any other 2xx returns the bridge's body
// verbatim; non-2xx propagates as an error.
func (b *Bridge) Proxy(ctx context.Context, name string, body []byte) (json.RawMessage, error) {
	b.touchActivity(ctx, name)

	addr, err := b.addr(ctx, name)
	if err != nil {
		return nil, err
	}

	// Decode just far enough to validate the envelope shape; mcp-go's
	// JSON-RPC types give us the same struct the rest of the JSON-RPC
	// tooling in this codebase uses, without hand-rolling one.
	var probe mcp.JSONRPCRequest
	if err := json.Unmarshal(body, &probe); err != nil {
		slog.Warn("mcpbridge: proxied body is not a JSON-RPC envelope", "name", name, "err", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: proxy request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: read proxy response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusAccepted:
		return json.RawMessage("{}"), nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return json.RawMessage(respBody), nil
	default:
		return nil, fmt.Errorf("mcpbridge: proxy failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

// Status pass-through to the bridge's /api/mcp/status endpoint.
func (b *Bridge) Status(ctx context.Context, name string) (json.RawMessage, error) {
	addr, err := b.addr(ctx, name)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/api/mcp/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: status request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcpbridge: status failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return json.RawMessage(respBody), nil
}

// Stop pass-through to the bridge's DELETE /api/mcp endpoint.
func (b *Bridge) Stop(ctx context.Context, name string) error {
	addr, err := b.addr(ctx, name)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, addr+"/api/mcp", nil)
	if err != nil {
		return err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("mcpbridge: stop request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mcpbridge: stop failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(errText)))
	}
	return nil
}
