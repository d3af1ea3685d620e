package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandboxpool/orchestrator/internal/cliout"
)

func newPoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect and manage pool-engine workloads",
	}

	cmd.AddCommand(newPoolStatusCmd())
	cmd.AddCommand(newPoolListCmd())
	cmd.AddCommand(newPoolAllocateCmd())
	cmd.AddCommand(newPoolDeleteCmd())

	return cmd
}

func newPoolStatusCmd() *cobra.Command {
	var containerType string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool statistics for a container type",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := client().Stats(containerType)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				out, err := cliout.FormatJSON(stats)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			cliout.Stats(stats)
			return nil
		},
	}
	cmd.Flags().StringVar(&containerType, "type", "sandbox", "Container type: sandbox|mcp-server")
	return cmd
}

func newPoolListCmd() *cobra.Command {
	var containerType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workloads for a container type",
		RunE: func(cmd *cobra.Command, args []string) error {
			workloads, err := client().List(containerType)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				out, err := cliout.FormatJSON(workloads)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			cliout.Workloads(workloads)
			return nil
		},
	}
	cmd.Flags().StringVar(&containerType, "type", "sandbox", "Container type: sandbox|mcp-server")
	return cmd
}

func newPoolAllocateCmd() *cobra.Command {
	var containerType, userID string
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate one warm workload to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			workload, err := client().Allocate(containerType, userID)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				out, err := cliout.FormatJSON(workload)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			cliout.Workload(workload)
			return nil
		},
	}
	cmd.Flags().StringVar(&containerType, "type", "sandbox", "Container type: sandbox|mcp-server")
	cmd.Flags().StringVar(&userID, "user", "", "User ID to allocate the workload to")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newPoolDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a workload by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
