package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sandboxpool/orchestrator/internal/poolctlclient"
)

var (
	version   string
	commit    string
	buildDate string

	orchestratorURL string
	apiKey          string
	outputFormat    string
)

var rootCmd = &cobra.Command{
	Use:   "poolctl",
	Short: "Sandbox/MCP pool engine operator CLI",
	Long: `poolctl is a CLI for operating the sandbox/MCP pool engine.

It provides commands to inspect pool statistics, list workloads,
allocate a warm workload on demand, and delete a workload.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&orchestratorURL, "orchestrator-url", getEnvOrDefault("POOLCTL_ORCHESTRATOR_URL", "http://localhost:8080"), "Orchestrator HTTP URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("POOLCTL_API_KEY"), "Orchestrator API key")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "Output format: json|table")
}

func client() *poolctlclient.Client {
	return poolctlclient.New(orchestratorURL, apiKey)
}

func Execute() error {
	rootCmd.AddCommand(newPoolCmd())
	return rootCmd.Execute()
}

func SetVersion(v, c, d string) {
	version = v
	commit = c
	buildDate = d
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
