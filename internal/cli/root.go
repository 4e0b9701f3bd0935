// Package cli is the watchlane command line: the long-running server plus one-shot admin commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "watchlane",
		Short:        "watchlane tracks whether inbound customer email gets answered within SLA",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ./watchlane.yaml)")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newSyncCmd(&configPath))
	cmd.AddCommand(newMetricsCmd(&configPath))
	cmd.AddCommand(newRecomputeCmd(&configPath))
	cmd.AddCommand(newUserCmd(&configPath))
	cmd.AddCommand(newOrgCmd(&configPath))
	cmd.AddCommand(newAccountCmd(&configPath))
	cmd.AddCommand(newConfigCmd(&configPath))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)

	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
