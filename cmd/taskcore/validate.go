package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskcore/internal/plan"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan for missing dependencies, cycles, and bad actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}
			if err := p.Validate(); err != nil {
				return err
			}

			order, err := p.Order()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s: %d tasks, valid", args[0], len(p.Tasks))))
			fmt.Fprintf(out, "order: %s\n", strings.Join(order, " -> "))
			return nil
		},
	}
}
