package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stepflow",
		Short: "Stepflow - Resumable framework execution over SSH",
		Long: `Stepflow executes ordered command frameworks against remote hosts
over SSH, with automatic retry of connection failures, resumable runs,
and a streamed progress channel.

Features:
  - Frameworks as ordered shell-script steps with template bindings
  - Resume from the last successful step after interruption
  - Connection-class failures retried, script failures surfaced
  - Concurrent execution across hosts with strictly ordered messages
  - Encrypted key/value context store`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newFrameworksCommand())
	rootCmd.AddCommand(newContextCommand())

	return rootCmd
}
