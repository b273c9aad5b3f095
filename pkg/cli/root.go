// Package cli is the whalefall command line: the long-running scheduler and
// one-shot sync, aggregation and rule tooling over the same services.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("command failed")

// Execute runs the CLI and returns the process exit code.
func Execute(version string) int {
	rootCmd := newRootCmd(version)
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errReported) {
			return 1
		}
		if getOutputFormat(rootCmd) == "json" {
			_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(version string) *cobra.Command {
	var (
		configPath string
		output     string
	)

	rootCmd := &cobra.Command{
		Use:           "whalefall",
		Short:         "Database account audit engine",
		Long:          "Synchronizes accounts and privileges of managed database instances and classifies them against risk rules.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return validateOutputFormat(output)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(
		newServeCmd(version),
		newSyncCmd(version),
		newAggregateCmd(version),
		newClassifyCmd(version),
		newMigrateCmd(version),
		newRulesCmd(version),
		newHistoryCmd(version),
		newInstancesCmd(version),
		newVersionCmd(version),
	)

	return rootCmd
}
