package main

import (
	"fmt"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/orchestrator"
	"github.com/paw2paw/hf-pipeline/internal/printer"
	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <caller-id>...",
		Short: "Run every pipeline stage for one or more callers",
		Long: `Run resolves the stage list, loads guardrails, validates dependencies
and executes each stage's AGGREGATE and ADAPT specs for every caller.

A missing or malformed stage configuration aborts the run. Any other
failure is recorded in the summary and the remaining specs still run.`,
		Example: `  adaptctl run caller-42
  adaptctl run caller-42 --only AGGREGATE
  adaptctl run caller-1 caller-2 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			only, _ := cmd.Flags().GetStringSlice("only")
			var outputTypes []spec.OutputType
			for _, o := range only {
				ot := spec.OutputType(strings.ToUpper(strings.TrimSpace(o)))
				if !spec.KnownOutputType(ot) {
					return fail(newPrinter(cmd), "unknown output type", fmt.Sprintf("%q is not an output type", o),
						"Use one of LEARN, MEASURE, MEASURE_AGENT, AGGREGATE, REWARD, ADAPT, SUPERVISE, COMPOSE")
				}
				outputTypes = append(outputTypes, ot)
			}

			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, callerID := range args {
				sum, err := e.stack.Orchestrator.Run(cmd.Context(), callerID, outputTypes...)
				if err != nil {
					if spec.IsConfigurationError(err) {
						return fail(e.out, "stage configuration error", err.Error(),
							fmt.Sprintf("Activate the stage spec %s", e.cfg.Pipeline.StageSpec),
							"Or run with --stage-mode fallback to use the built-in stages")
					}
					return err
				}
				if jsonOutput(cmd) {
					fmt.Fprintln(e.out.Out, orchestrator.Summary(sum))
					continue
				}
				printSummary(e.out, sum)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("only", nil, "Restrict the run to these output types")
	return cmd
}

func printSummary(out *printer.Printer, sum *orchestrator.RunSummary) {
	if sum.OK() {
		out.Success("Run %s for %s complete\n", sum.RunID, sum.CallerID)
	} else {
		out.Warning("Run %s for %s finished with %d error(s)\n", sum.RunID, sum.CallerID, len(sum.Errors))
	}
	guard := sum.GuardrailSpec
	if guard == "" {
		guard = "(defaults)"
	}
	out.Fields(map[string]string{
		"stages":          strings.Join(sum.Stages, " → "),
		"guardrails":      guard,
		"specs run":       fmt.Sprint(sum.SpecsRun),
		"profile updates": fmt.Sprint(sum.ProfileUpdates),
		"targets created": fmt.Sprint(sum.TargetsCreated),
		"targets updated": fmt.Sprint(sum.TargetsUpdated),
	})
	for _, s := range sum.Skipped {
		out.Warning("skipped %s: missing %s\n", s.SpecSlug, strings.Join(s.MissingDeps, ", "))
	}
	for _, w := range sum.Warnings {
		out.Warning("%s\n", w)
	}
	for _, msg := range sum.Errors {
		out.Info("  error: %s\n", msg)
	}
}
