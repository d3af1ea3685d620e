// Package cliout renders cmd/poolctl results as either a rounded table
// (go-pretty) or pretty-printed JSON, via an --output table|json switch.
package cliout

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sandboxpool/orchestrator/internal/poolctlclient"
)

// FormatJSON pretty-prints v as indented JSON.
func FormatJSON(v interface{}) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Stats renders a single Stats value as a two-column table.
func Stats(s *poolctlclient.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"FIELD", "VALUE"})
	t.AppendRow(table.Row{"creating", s.Creating})
	t.AppendRow(table.Row{"warm", s.Warm})
	t.AppendRow(table.Row{"allocated", s.Allocated})
	t.AppendRow(table.Row{"manual", s.Manual})
	t.AppendRow(table.Row{"total", s.Total})
	t.AppendRow(table.Row{"target", s.Target})
	t.AppendRow(table.Row{"max_total", s.MaxTotal})
	t.AppendRow(table.Row{"ready_pct", fmt.Sprintf("%.1f", s.ReadyPct)})
	t.AppendRow(table.Row{"utilization_pct", fmt.Sprintf("%.1f", s.UtilizationPct)})
	t.Render()
}

// Workloads renders a list of workloads as a table.
func Workloads(workloads []poolctlclient.Workload) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "TYPE", "STATUS", "ALLOCATED TO", "READY", "POD IP"})
	for _, w := range workloads {
		t.AppendRow(table.Row{w.Name, w.ContainerType, w.PoolStatus, w.AllocatedTo, w.Ready, w.PodIP})
	}
	t.Render()
	fmt.Printf("\nTotal: %d workloads\n", len(workloads))
}

// Workload renders a single workload as a two-column table.
func Workload(w *poolctlclient.Workload) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"FIELD", "VALUE"})
	t.AppendRow(table.Row{"name", w.Name})
	t.AppendRow(table.Row{"container_type", w.ContainerType})
	t.AppendRow(table.Row{"pool_status", w.PoolStatus})
	t.AppendRow(table.Row{"allocated_to", w.AllocatedTo})
	t.AppendRow(table.Row{"ready", w.Ready})
	t.AppendRow(table.Row{"pod_ip", w.PodIP})
	t.Render()
}
