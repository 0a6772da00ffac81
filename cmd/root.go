package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/github-community-projects/internal-contribution-forks/config"
	"github.com/github-community-projects/internal-contribution-forks/logging"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "icf",
	Short: "Internal contribution forks GitHub App",
	Long: `Keeps private mirrors of public contribution forks in sync and manages
the root, feature and upstream branch lifecycle of forks.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			cfg.Set("log-level", "debug")
		}
		logging.Init(logging.LogConfig{
			Level:  logging.ParseLevel(cfg.GetString("log-level")),
			Format: cfg.GetString("log-format"),
		})
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging (sets log level to debug)")
	_ = cfg.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = cfg.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
}
