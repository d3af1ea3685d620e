package mcpbridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
)

func newTestBridge(t *testing.T, srv *httptest.Server) (*Bridge, *k8sclient.Client) {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := splitHostPort(u.Host)
	require.NoError(t, err)

	cs := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "sbx-1", Namespace: "sandboxes"},
		Status:     corev1.PodStatus{PodIP: host},
	})
	k8s := k8sclient.New(cs, nil)
	b := New(k8s, "sandboxes")
	b.port = portStr
	return b, k8s
}

func splitHostPort(hostport string) (string, string, error) {
	idx := strings.LastIndex(hostport, ":")
	if idx < 0 {
		return hostport, "", nil
	}
	host, port := hostport[:idx], hostport[idx+1:]
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", err
	}
	return host, port, nil
}

func TestArm_ConsumesSSEEventsAndSkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/mcp/start", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"state\":\"Initializing\"}\n\n")
		io.WriteString(w, "not-a-data-line\n")
		io.WriteString(w, "data: not-json\n\n")
		io.WriteString(w, "data: {\"state\":\"Ready\"}\n\n")
	}))
	defer srv.Close()

	b, _ := newTestBridge(t, srv)

	var seen []string
	err := b.Arm(context.Background(), "sbx-1", LaunchRequest{Command: "run.sh"}, func(ev Event) {
		seen = append(seen, string(ev.Raw))
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Contains(t, seen[0], "Initializing")
	assert.Contains(t, seen[1], "Ready")
}

func TestProxy_NotificationReturns202AsEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	b, _ := newTestBridge(t, srv)

	resp, err := b.Proxy(context.Background(), "sbx-1", []byte(`{"jsonrpc":"2.0","method":"notify"}`))
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(resp))
}

func TestProxy_SuccessReturnsBodyVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"jsonrpc": "2.0", "result": "ok"})
	}))
	defer srv.Close()
	b, _ := newTestBridge(t, srv)

	resp, err := b.Proxy(context.Background(), "sbx-1", []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), "\"result\":\"ok\"")
}

func TestProxy_NonSuccessPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "boom")
	}))
	defer srv.Close()
	b, _ := newTestBridge(t, srv)

	_, err := b.Proxy(context.Background(), "sbx-1", []byte(`{}`))
	assert.Error(t, err)
}

func TestStop_PropagatesNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	b, _ := newTestBridge(t, srv)

	err := b.Stop(context.Background(), "sbx-1")
	assert.Error(t, err)
}
