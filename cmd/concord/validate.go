package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/concord-cpg-engine/internal/domain"
)

var validateCmd = &cobra.Command{
	Use:   "validate <guideline>...",
	Short: "Check guideline documents for structural problems",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := newRegistry()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, name := range args {
			g, err := registry.Load(name)
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s: invalid\n", name)
				var gv *domain.GuidelineValidationError
				if errors.As(err, &gv) {
					for _, p := range gv.Problems() {
						fmt.Fprintf(out, "  - %v\n", p)
					}
				} else {
					fmt.Fprintf(out, "  - %v\n", err)
				}
				continue
			}
			fmt.Fprintf(out, "%s: ok (%s, %d variables, %d recommendations)\n",
				name, g.Identifier, len(g.Variables), len(g.Recommendations))
		}
		if failed > 0 {
			return fmt.Errorf("%w: %d of %d guidelines invalid", domain.ErrGuidelineValidation, failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
