package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erase <caller-id>",
		Short: "Delete a caller's profile attributes, targets and score history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fail(newPrinter(cmd), "confirmation required",
					fmt.Sprintf("Erasing %s cannot be undone.", args[0]),
					fmt.Sprintf("Re-run with --yes:\n  adaptctl erase %s --yes", args[0]))
			}
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.stack.Store.EraseCallerData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			e.logger.Info("caller data erased", "caller", args[0],
				"attributes", res.Attributes, "targets", res.Targets, "scores", res.Scores)
			e.out.Success("Erased %s\n", args[0])
			e.out.Fields(map[string]string{
				"attributes":   fmt.Sprint(res.Attributes),
				"targets":      fmt.Sprint(res.Targets),
				"score events": fmt.Sprint(res.Scores),
			})
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm the erase")
	return cmd
}
