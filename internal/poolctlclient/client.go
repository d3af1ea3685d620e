// Package poolctlclient is the HTTP client cmd/poolctl uses to talk to a
// running orchestrator, speaking to the orchestrator's own httpapi edge
// instead of kubectl.
package poolctlclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Stats is the wire shape of internal/poolengine.Statistics.
type Stats struct {
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

// Workload is the wire shape of internal/labels.Workload.
type Workload struct {
	Name          string `json:"name"`
	ContainerType string `json:"container_type"`
	PoolStatus    string `json:"pool_status"`
	AllocatedTo   string `json:"allocated_to,omitempty"`
	Phase         string `json:"phase"`
	Ready         bool   `json:"ready"`
	PodIP         string `json:"pod_ip,omitempty"`
}

// Client is a thin HTTP client against the orchestrator's edge API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a Client. baseURL is the orchestrator's HTTP address, e.g.
// http://localhost:8080.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("X-Pool-Api-Key", c.apiKey)
	}
	return c.http.Do(req)
}

// Stats fetches the pool statistics for a container type ("sandbox" or
// "mcp-server").
func (c *Client) Stats(containerType string) (*Stats, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/pool/"+containerType+"/stats", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("poolctlclient: stats request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("poolctlclient: decode stats: %w", err)
	}
	return &stats, nil
}

// List returns every workload of a container type.
func (c *Client) List(containerType string) ([]Workload, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/pool/"+containerType+"/workloads", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("poolctlclient: list request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var workloads []Workload
	if err := json.NewDecoder(resp.Body).Decode(&workloads); err != nil {
		return nil, fmt.Errorf("poolctlclient: decode workloads: %w", err)
	}
	return workloads, nil
}

// Allocate claims one warm workload for userID. containerType only selects
// the URL path: the server always allocates a sandbox workload, so an
// "mcp-server" request also returns a sandbox.
func (c *Client) Allocate(containerType, userID string) (*Workload, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/pool/"+containerType+"/allocate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("poolctlclient: allocate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var w Workload
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, fmt.Errorf("poolctlclient: decode workload: %w", err)
	}
	return &w, nil
}

// Delete removes a workload by name.
func (c *Client) Delete(name string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/workloads/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("poolctlclient: delete request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("poolctlclient: %s: %s", resp.Status, body)
}
