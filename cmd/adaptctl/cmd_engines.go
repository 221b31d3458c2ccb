package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// engineReport is the JSON shape of a standalone engine run.
type engineReport struct {
	CallerID       string   `json:"callerId"`
	SpecsRun       int      `json:"specsRun"`
	ProfileUpdates int      `json:"profileUpdates,omitempty"`
	TargetsCreated int      `json:"targetsCreated,omitempty"`
	TargetsUpdated int      `json:"targetsUpdated,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <caller-id>",
		Short: "Run every active AGGREGATE spec for a caller",
		Long: `Aggregate runs the aggregation engine on its own, without stage
resolution or dependency checks. Useful when tuning aggregation rules.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.stack.Aggregator.RunAggregateSpecs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rep := engineReport{
				CallerID:       args[0],
				SpecsRun:       res.SpecsRun,
				ProfileUpdates: res.ProfileUpdates,
				Errors:         errorStrings(res.Errors),
			}
			return printEngineReport(cmd, rep)
		},
	}
}

func newAdaptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adapt <caller-id>",
		Short: "Run every active ADAPT spec for a caller",
		Long: `Adapt runs the adaptation engine on its own under the current
guardrails, without stage resolution or dependency checks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.stack.Adapter.RunAdaptSpecs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			rep := engineReport{
				CallerID:       args[0],
				SpecsRun:       res.SpecsRun,
				TargetsCreated: res.TargetsCreated,
				TargetsUpdated: res.TargetsUpdated,
				Warnings:       res.Warnings,
				Errors:         errorStrings(res.Errors),
			}
			return printEngineReport(cmd, rep)
		},
	}
}

func printEngineReport(cmd *cobra.Command, rep engineReport) error {
	out := newPrinter(cmd)
	if jsonOutput(cmd) {
		enc := json.NewEncoder(out.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	out.Success("%d spec(s) run for %s\n", rep.SpecsRun, rep.CallerID)
	out.Fields(map[string]string{
		"profile updates": fmt.Sprint(rep.ProfileUpdates),
		"targets created": fmt.Sprint(rep.TargetsCreated),
		"targets updated": fmt.Sprint(rep.TargetsUpdated),
	})
	for _, w := range rep.Warnings {
		out.Warning("%s\n", w)
	}
	for _, msg := range rep.Errors {
		out.Info("  error: %s\n", msg)
	}
	return nil
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}
