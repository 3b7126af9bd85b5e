package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/apkforge/internal/app"
	"go.trai.ch/apkforge/internal/ui/style"
)

func (c *CLI) newDepsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps [variant]",
		Short: "Resolve the dependencies of a variant and list the archives",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.DepsOptions{Config: configFlag(cmd), Offline: offline(cmd)}
			if len(args) == 1 {
				opts.Variant = args[0]
			}

			artifacts, err := c.app.Deps(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(artifacts) == 0 {
				_, _ = fmt.Fprintln(out, style.Faint("no dependencies"))
				return nil
			}
			for _, a := range artifacts {
				_, _ = fmt.Fprintf(out, "%s %s %s %s\n",
					style.Faint(a.Configuration), style.Bold(style.Accent, a.Name()), style.Arrow, a.Path)
			}
			return nil
		},
	}
	cmd.Flags().Bool("offline", false, "Resolve dependencies from local repositories and the artifact cache only")
	return cmd
}
