package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/github-community-projects/internal-contribution-forks/bootstrap"
	"github.com/github-community-projects/internal-contribution-forks/config"
	"github.com/github-community-projects/internal-contribution-forks/services"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync one branch between a fork and its mirror",
	Example: `  icf sync --to mirror --fork octo-public/widget --mirror octo-private/widget-mirror \
    --fork-branch feature-x --mirror-branch main`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		destination, _ := flags.GetString("to")
		forkName, _ := flags.GetString("fork")
		mirrorName, _ := flags.GetString("mirror")
		forkBranch, _ := flags.GetString("fork-branch")
		mirrorBranch, _ := flags.GetString("mirror-branch")
		orgID, _ := flags.GetString("org")

		fork, err := utils.ParseRepoRef(forkName)
		if err != nil {
			return fmt.Errorf("--fork: %w", err)
		}
		mirror, err := utils.ParseRepoRef(mirrorName)
		if err != nil {
			return fmt.Errorf("--mirror: %w", err)
		}
		if mirrorBranch == "" {
			mirrorBranch = forkBranch
		}
		if orgID == "" {
			orgID = mirror.Owner
		}

		appEnv, err := config.LoadAppEnv()
		if err != nil {
			return err
		}
		app, err := bootstrap.NewApp(cfg, appEnv)
		if err != nil {
			return err
		}
		syncer := &services.Syncer{
			GithubClientProvider:     app.GithubClientProvider,
			Resolver:                 config.NewResolver(appEnv, app.GithubClientProvider),
			NewGit:                   app.NewGit,
			TrimInternalMergeCommits: appEnv.TrimInternalMergeCommits,
		}

		res, err := syncer.SyncRepos(cmd.Context(), services.SyncRequest{
			OrgID:            orgID,
			DestinationTo:    destination,
			ForkOwner:        fork.Owner,
			ForkName:         fork.Name,
			MirrorOwner:      mirror.Owner,
			MirrorName:       mirror.Name,
			ForkBranchName:   forkBranch,
			MirrorBranchName: mirrorBranch,
		})
		if err != nil {
			return err
		}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().String("to", services.DestinationMirror, "Destination side, fork or mirror")
	syncCmd.Flags().String("fork", "", "Fork repository as owner/name")
	syncCmd.Flags().String("mirror", "", "Mirror repository as owner/name")
	syncCmd.Flags().String("fork-branch", "", "Branch on the fork")
	syncCmd.Flags().String("mirror-branch", "", "Branch on the mirror (defaults to --fork-branch)")
	syncCmd.Flags().String("org", "", "Organization to resolve config for (defaults to the mirror owner)")
	_ = syncCmd.MarkFlagRequired("fork")
	_ = syncCmd.MarkFlagRequired("mirror")
	_ = syncCmd.MarkFlagRequired("fork-branch")
}
