// Package execbridge implements the Command-Exec Bridge of spec.md §4.11:
// a byte-streaming proxy between a caller's sink and the in-sandbox
// executor's SSE output. It does not parse per-event framing; the upstream
// envelope passes through untouched.
package execbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
)

// Request is the command-exec payload forwarded to the in-sandbox executor.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// Bridge proxies exec() calls to the in-sandbox executor over plain HTTP.
type Bridge struct {
	k8s  *k8sclient.Client
	ns   string
	http *http.Client
	port string
}

// New builds a Bridge targeting the executor's fixed port.
func New(k8s *k8sclient.Client, namespace string) *Bridge {
	return &Bridge{
		k8s:  k8s,
		ns:   namespace,
		http: &http.Client{}, // no timeout: exec streams can run long
		port: "8666",
	}
}

// Exec resolves the workload's address, updates last-activity, opens a
// streaming POST to /api/execute, and byte-copies the response into sink.
// Transport errors surface to the caller; bytes already copied to sink are
// not rolled back.
func (b *Bridge) Exec(ctx context.Context, name string, req Request, sink io.Writer) error {
	pod, err := b.k8s.Get(ctx, b.ns, name)
	if err != nil {
		return fmt.Errorf("execbridge: resolve address: %w", err)
	}
	if pod == nil || pod.Status.PodIP == "" {
		return fmt.Errorf("execbridge: workload %s has no address", name)
	}

	if err := b.k8s.PatchAnnotations(ctx, b.ns, name, map[string]string{
		labels.KeyLastActivity: labels.NowString(),
	}); err != nil {
		slog.Warn("execbridge: last-activity patch failed", "name", name, "err", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("execbridge: marshal request: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%s/api/execute", pod.Status.PodIP, b.port)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := b.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execbridge: exec request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errText, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("execbridge: exec failed (%d): %s", resp.StatusCode, errText)
	}

	n, err := io.Copy(sink, resp.Body)
	slog.Debug("execbridge: exec stream finished", "name", name, "bytes", n, "elapsed", time.Since(start))
	if err != nil {
		return fmt.Errorf("execbridge: stream copy: %w", err)
	}
	return nil
}
