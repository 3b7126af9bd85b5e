package commands

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.trai.ch/apkforge/internal/app"
)

// offlineEnv forces offline resolution when set to a true boolean value.
const offlineEnv = "APKFORGE_OFFLINE"

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [variant...]",
		Short: "Build the packages of the given variants (debug by default)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noCache, _ := cmd.Flags().GetBool("no-cache")
			jobs, _ := cmd.Flags().GetInt("jobs")

			return c.app.Build(cmd.Context(), app.BuildOptions{
				Config:   configFlag(cmd),
				Variants: args,
				NoCache:  noCache,
				Offline:  offline(cmd),
				Jobs:     jobs,
			})
		},
	}
	cmd.Flags().BoolP("no-cache", "n", false, "Bypass the build cache and run every stage")
	cmd.Flags().Bool("offline", false, "Resolve dependencies from local repositories and the artifact cache only")
	cmd.Flags().IntP("jobs", "j", 0, "Number of stages to run concurrently (default: number of CPUs)")
	return cmd
}

func offline(cmd *cobra.Command) bool {
	flag, _ := cmd.Flags().GetBool("offline")
	if flag {
		return true
	}
	env, err := strconv.ParseBool(os.Getenv(offlineEnv))
	return err == nil && env
}
