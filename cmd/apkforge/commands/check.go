package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/apkforge/internal/ui/style"
)

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the descriptor and list the packages each variant produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := c.app.Check(cmd.Context(), configFlag(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, plan := range plans {
				signing := "unsigned"
				if plan.Signed {
					signing = "signed"
				}
				_, _ = fmt.Fprintf(out, "%s %s %s\n",
					style.Bold(style.Accent, plan.Variant),
					style.Faint(fmt.Sprintf("%d tasks,", plan.Tasks)),
					style.Faint(signing))
				for _, pkg := range plan.Packages {
					_, _ = fmt.Fprintf(out, "  %s %s\n", style.Arrow, pkg)
				}
			}
			_, _ = fmt.Fprintf(out, "%s descriptor is valid, %d variants\n", style.Bold(style.Green, style.Check), len(plans))
			return nil
		},
	}
}
