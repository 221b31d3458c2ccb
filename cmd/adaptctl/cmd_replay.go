package main

import (
	"encoding/json"
	"fmt"

	"github.com/paw2paw/hf-pipeline/internal/logging"
	"github.com/paw2paw/hf-pipeline/internal/replay"
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <fixture.yaml>...",
		Short: "Replay fixtures against a fresh pipeline and check expectations",
		Long: `Replay loads each fixture into a fresh database, performs its runs
in order and compares the resulting profiles and targets with the
fixture's expectations. Exits non-zero when any expectation fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fail(out, "invalid configuration", err.Error())
			}
			keep, _ := cmd.Flags().GetString("keep-db")
			opts := replay.Options{
				DBPath:      keep,
				SpecTimeout: cfg.Pipeline.SpecTimeout,
				Logger:      logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr()),
			}

			failed := 0
			for _, path := range args {
				f, err := replay.LoadFixture(path)
				if err != nil {
					return fail(out, "cannot load fixture", err.Error())
				}
				rep, err := replay.Replay(cmd.Context(), f, opts)
				if err != nil {
					return fail(out, "replay failed", fmt.Sprintf("%s: %v", path, err))
				}
				sum := replay.Summarize(rep)

				if jsonOutput(cmd) {
					enc := json.NewEncoder(out.Out)
					enc.SetIndent("", "  ")
					if err := enc.Encode(map[string]any{
						"fixture": path, "passed": rep.Passed(), "summary": sum, "mismatches": rep.Mismatches,
					}); err != nil {
						return err
					}
				} else {
					if rep.Passed() {
						out.Success("%s: %d run(s) passed\n", path, sum.TotalRuns)
					} else {
						out.Warning("%s: %d mismatch(es)\n", path, sum.Mismatches)
						for _, m := range rep.Mismatches {
							out.Info("  %s\n", m)
						}
					}
					out.Fields(map[string]string{
						"aborted":         fmt.Sprint(sum.Aborted),
						"specs run":       fmt.Sprint(sum.SpecsRun),
						"profile updates": fmt.Sprint(sum.ProfileUpdates),
						"targets created": fmt.Sprint(sum.TargetsCreated),
						"targets updated": fmt.Sprint(sum.TargetsUpdated),
						"skipped":         fmt.Sprint(sum.Skipped),
						"errors":          fmt.Sprint(sum.Errors),
					})
				}
				if !rep.Passed() {
					failed++
				}
			}
			if failed > 0 {
				return printedError{fmt.Errorf("%d fixture(s) failed", failed)}
			}
			return nil
		},
	}
	cmd.Flags().String("keep-db", "", "Replay into this database file instead of memory")
	return cmd
}
