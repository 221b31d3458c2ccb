package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/paw2paw/hf-pipeline/internal/replay"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/yaml.v3"
)

func newSpecsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specs",
		Short: "List, import and toggle specification records",
	}
	cmd.AddCommand(newSpecsListCmd(), newSpecsShowCmd(), newSpecsImportCmd(),
		newSpecsStateCmd("activate", true), newSpecsStateCmd("deactivate", false))
	return cmd
}

func newSpecsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active rule set",
		Args:  cobra.NoArgs,
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
			if len(active) == 0 {
				e.out.Info("No active specs.\n")
				return nil
			}
			for _, s := range active {
				deps := ""
				if len(s.DependsOn) > 0 {
					deps = fmt.Sprintf(" dependsOn=%v", s.DependsOn)
				}
				e.out.Info("%-24s %-14s v%d%s\n", s.Slug, s.OutputType, s.Version, deps)
			}
			return nil
		},
	}
}

func newSpecsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <slug>",
		Short: "Print one spec record, active or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.stack.Store.GetSpec(cmd.Context(), args[0])
			if errors.Is(err, sql.ErrNoRows) {
				return fail(e.out, "spec not found", fmt.Sprintf("No spec with slug %s.", args[0]),
					"List active specs:\n  adaptctl specs list")
			}
			if err != nil {
				return err
			}
			e.out.Heading("%s (%s, v%d)", rec.Slug, rec.OutputType, rec.Version)
			e.out.Fields(map[string]string{
				"active": fmt.Sprint(rec.IsActive),
				"dirty":  fmt.Sprint(rec.IsDirty),
			})
			if rec.Config != nil {
				data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(rec.Config)
				if err != nil {
					return err
				}
				fmt.Fprintln(e.out.Out, string(data))
			}
			return nil
		},
	}
}

func newSpecsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Load specs, parameters and seed history from a fixture-format file",
		Long: `Import reads the specs, parameters, attributes, targets and scores
sections of a fixture file into the configured database. Runs and
expectations in the file are ignored. Existing specs with the same
slug are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(cmd)
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fail(out, "cannot read file", err.Error())
			}
			var f replay.Fixture
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fail(out, "cannot parse file", err.Error())
			}

			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := replay.Seed(cmd.Context(), e.stack.Store, &f); err != nil {
				return err
			}
			if err := e.stack.Registry.Invalidate(cmd.Context()); err != nil {
				e.out.Warning("%v\n", err)
			}
			e.out.Success("Imported %d spec(s) and %d parameter(s) from %s\n", len(f.Specs), len(f.Parameters), args[0])
			return nil
		},
	}
}

func newSpecsStateCmd(use string, active bool) *cobra.Command {
	short := "Mark a spec active"
	if !active {
		short = "Mark a spec inactive"
	}
	return &cobra.Command{
		Use:   use + " <slug>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.stack.Store.SetSpecState(cmd.Context(), args[0], active, false); err != nil {
				return fail(e.out, "cannot update spec", err.Error())
			}
			// Other processes see the change after their cache TTL.
			if err := e.stack.Registry.Invalidate(cmd.Context()); err != nil {
				e.out.Warning("%v\n", err)
			}
			e.out.Success("%s %sd\n", args[0], use)
			return nil
		},
	}
}
