package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/github-community-projects/internal-contribution-forks/bootstrap"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "internal-contribution-forks version %s\n", bootstrap.Version)
		if full, _ := cmd.Flags().GetBool("full"); full {
			fmt.Fprintf(cmd.OutOrStdout(), "Build date: %s\n", cfg.GetString("build_date"))
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolP("full", "f", false, "Display full version information")
}
