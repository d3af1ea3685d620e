package poolctlclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_DecodesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pool/sandbox/stats", r.URL.Path)
		json.NewEncoder(w).Encode(Stats{Warm: 3, Total: 5, Target: 3, MaxTotal: 10})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	stats, err := c.Stats("sandbox")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Warm)
	assert.Equal(t, 5, stats.Total)
}

func TestStats_PropagatesNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Stats("sandbox")
	assert.Error(t, err)
}

func TestAllocate_SendsApiKeyHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Pool-Api-Key"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user-1", body["user_id"])
		json.NewEncoder(w).Encode(Workload{Name: "sbx-1", PoolStatus: "allocated", AllocatedTo: "user-1"})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	w, err := c.Allocate("sandbox", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", w.Name)
	assert.Equal(t, "allocated", w.PoolStatus)
}

func TestAllocate_NoWarmWorkloadPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no warm workload available", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.Allocate("sandbox", "user-1")
	assert.Error(t, err)
}

func TestDelete_SucceedsOnNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/workloads/sbx-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	assert.NoError(t, c.Delete("sbx-1"))
}

func TestList_DecodesWorkloadSlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Workload{{Name: "sbx-1"}, {Name: "sbx-2"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	workloads, err := c.List("sandbox")
	require.NoError(t, err)
	require.Len(t, workloads, 2)
	assert.Equal(t, "sbx-2", workloads[1].Name)
}
