package commands

import (
	"github.com/spf13/cobra"
	"go.trai.ch/apkforge/internal/app"
)

func (c *CLI) newCleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove build outputs and intermediates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return c.app.Clean(cmd.Context(), app.CleanOptions{
				Config: configFlag(cmd),
				All:    all,
			})
		},
	}

	cmd.Flags().BoolP("all", "a", false, "Also remove the build cache, downloaded artifacts and the debug key")

	return cmd
}
