package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set during build.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Errors worth explaining are printed by the printer; anything else lands here.
	if err := newRootCmd().Execute(); err != nil {
		if !printed(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "adaptctl",
		Short: "Run and inspect the behavioral adaptation pipeline",
		Long: `adaptctl drives the configuration-driven adaptation pipeline.

Aggregation specs turn recent parameter scores into learner profile
attributes; adaptation specs turn profile attributes into clamped
behavior targets. Every rule lives in a specification record, so
changing behavior means editing specs, not code.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")
	rootCmd.PersistentFlags().String("stage-mode", "", "Stage mode: strict or fallback")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newAggregateCmd(),
		newAdaptCmd(),
		newValidateCmd(),
		newStagesCmd(),
		newGuardrailsCmd(),
		newEraseCmd(),
		newReplayCmd(),
		newServeCmd(),
		newHealthCmd(),
		newSpecsCmd(),
	)
	return rootCmd
}
