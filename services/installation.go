package services

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"

	"github.com/github-community-projects/internal-contribution-forks/utils"
)

type InstallationStatus struct {
	Installed bool `json:"installed"`
}

// CheckInstallation reports whether the app is installed on org.
func CheckInstallation(ctx context.Context, gh utils.GithubClientProvider, org string) (*InstallationStatus, error) {
	if org == "" {
		return nil, fmt.Errorf("orgId is required")
	}
	client, err := gh.App(ctx)
	if err != nil {
		return nil, err
	}
	var installation *github.Installation
	err = utils.WithRetry(ctx, func() error {
		var err error
		installation, _, err = client.Apps.FindOrganizationInstallation(ctx, org)
		return err
	})
	if utils.IsNotFound(err) {
		return &InstallationStatus{Installed: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not look up installation for %s: %w", org, err)
	}
	return &InstallationStatus{Installed: installation.GetID() != 0}, nil
}
