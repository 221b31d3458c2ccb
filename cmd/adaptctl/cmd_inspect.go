package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paw2paw/hf-pipeline/internal/spec"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check dependsOn declarations across the active rule set",
		Long: `Validate resolves every active spec's declared dependencies against
the active rule set. Specs with missing dependencies would be skipped
by a run. Exits non-zero when any spec would be skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			active, err := e.stack.Registry.ListActive(cmd.Context())
			if err != nil {
				return err
			}
			slugs := make([]string, len(active))
			for i, s := range active {
				slugs[i] = s.Slug
			}
			rep, err := e.stack.Validator.Validate(cmd.Context(), slugs)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				enc := json.NewEncoder(e.out.Out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				for _, w := range rep.Warnings {
					e.out.Warning("%s\n", w)
				}
				if rep.Valid {
					e.out.Success("%d active spec(s), all dependencies resolved\n", len(slugs))
				}
			}
			if !rep.Valid {
				ctx := make(map[string]string, len(rep.Skipped))
				for _, s := range rep.Skipped {
					ctx[s.SpecSlug] = "missing " + strings.Join(s.MissingDeps, ", ")
				}
				return printedError{e.out.ErrorWithContext(
					fmt.Sprintf("%d spec(s) have unresolved dependencies", len(rep.Skipped)),
					"These specs would be skipped by every run:",
					ctx,
					[]string{"Activate the missing specs or remove them from dependsOn"},
				)}
			}
			return nil
		},
	}
}

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "Show the resolved stage order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.stack.Scheduler.LoadStages(cmd.Context())
			if err != nil {
				if spec.IsConfigurationError(err) {
					return fail(e.out, "stage configuration error", err.Error(),
						"Run with --stage-mode fallback to see the built-in stages")
				}
				return err
			}
			if jsonOutput(cmd) {
				enc := json.NewEncoder(e.out.Out)
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			e.out.Heading("Stages (%s, %s mode)", e.cfg.Pipeline.StageSpec, e.cfg.StageMode())
			for _, s := range list {
				types := make([]string, len(s.OutputTypes))
				for i, ot := range s.OutputTypes {
					types[i] = string(ot)
				}
				e.out.Info("  %3d  %-14s %s\n", s.Order, s.Name, strings.Join(types, ", "))
			}
			return nil
		},
	}
}

func newGuardrailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guardrails",
		Short: "Show the merged guardrail configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			cfg, warnings, err := e.stack.Guardrails.Load(cmd.Context())
			if err != nil {
				return fail(e.out, "cannot load guardrails", err.Error(),
					"Runs fall back to the compiled defaults until the SUPERVISE spec loads")
			}
			for _, w := range warnings {
				e.out.Warning("%s\n", w)
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			if !jsonOutput(cmd) {
				src := cfg.SourceSpec
				if src == "" {
					src = "compiled defaults"
				}
				e.out.Heading("Guardrails from %s", src)
			}
			fmt.Fprintln(e.out.Out, string(data))
			return nil
		},
	}
}
