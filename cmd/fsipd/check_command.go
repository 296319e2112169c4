package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fsipd/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that fsipd could start with the current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)

			out := cmd.OutOrStdout()
			colorize := isTerminal(out)
			for _, r := range results {
				fmt.Fprintln(out, checkLine(r.Name, r.Passed, r.Detail, colorize))
			}
			if n := preflight.Failed(results); n > 0 {
				return fmt.Errorf("%d preflight check(s) failed", n)
			}
			return nil
		},
	}
}
