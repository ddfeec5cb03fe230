package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reagent",
		Short: "Reactive dependency-tracking and scheduling engine",
		Long: `Reagent is a reactive engine for Go: trackable cells over plain
data, automatic dependency collection, per-field subscriptions, and a
three-phase job scheduler.

The CLI ships two small tools:

  • demo     — run a sample reactive graph and print what fires when
  • inspect  — run the demo with the devtools inspector attached`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		demoCmd(),
		inspectCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("reagent %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
