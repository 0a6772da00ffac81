package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/github-community-projects/internal-contribution-forks/gitops"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const remoteMirrorTarget = "upstream"

type CreateMirrorRequest struct {
	OrgID         string `json:"orgId"`
	ForkRepoOwner string `json:"forkRepoOwner" binding:"required"`
	ForkRepoName  string `json:"forkRepoName" binding:"required"`
	NewRepoName   string `json:"newRepoName" binding:"required"`
	NewBranchName string `json:"newBranchName" binding:"required"`
	// ActionsEnabled and AllowedActions are applied to the new repository.
	// AllowedActions is one of all, local_only or selected.
	ActionsEnabled bool   `json:"actionsEnabled"`
	AllowedActions string `json:"allowedActions,omitempty"`
}

type CreateMirrorResult struct {
	Success bool               `json:"success"`
	Data    *github.Repository `json:"data"`
}

// Mirrors provisions and manages the private mirrors of contribution forks.
type Mirrors struct {
	GithubClientProvider utils.GithubClientProvider
	Resolver             OrgConfigResolver
	NewGit               gitops.Factory
}

// CreateMirror creates a private copy of a fork in the private org. Once the
// name is known to be free any failure deletes the new repository again.
func (m *Mirrors) CreateMirror(ctx context.Context, req CreateMirrorRequest) (*CreateMirrorResult, error) {
	logger := logging.From(ctx).With(
		slog.Group("fork", "owner", req.ForkRepoOwner, "name", req.ForkRepoName),
		"newRepoName", req.NewRepoName,
		"newBranchName", req.NewBranchName,
	)

	cfg, err := m.Resolver.GetConfig(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	forkClient, forkToken, err := m.GithubClientProvider.ForOrg(ctx, cfg.PublicOrg)
	if err != nil {
		return nil, fmt.Errorf("could not authenticate as contribution org %s: %w", cfg.PublicOrg, err)
	}
	privateClient, privateToken, err := m.GithubClientProvider.ForOrg(ctx, cfg.PrivateOrg)
	if err != nil {
		return nil, fmt.Errorf("could not authenticate as private org %s: %w", cfg.PrivateOrg, err)
	}

	_, err = getRepository(ctx, privateClient, cfg.PrivateOrg, req.NewRepoName)
	if err == nil {
		return nil, fmt.Errorf("repository %s/%s already exists", cfg.PrivateOrg, req.NewRepoName)
	}
	if !utils.IsNotFound(err) {
		return nil, fmt.Errorf("could not check for repository %s/%s: %w", cfg.PrivateOrg, req.NewRepoName, err)
	}

	fork := RepoContext{Client: forkClient, Token: forkToken, Owner: req.ForkRepoOwner, Name: req.ForkRepoName}
	target := RepoContext{Client: privateClient, Token: privateToken, Owner: cfg.PrivateOrg, Name: req.NewRepoName}

	mirror, err := m.provision(ctx, req, fork, target)
	if err != nil {
		logger.Error("Mirror provisioning failed, deleting repository", "error", err)
		m.rollback(ctx, target)
		return nil, err
	}

	logger.Info("Created mirror", "mirror", mirror.GetFullName())
	return &CreateMirrorResult{Success: true, Data: mirror}, nil
}

func (m *Mirrors) provision(ctx context.Context, req CreateMirrorRequest, fork, target RepoContext) (*github.Repository, error) {
	forkRepo, err := getRepository(ctx, fork.Client, fork.Owner, fork.Name)
	if err != nil {
		return nil, fmt.Errorf("could not get fork %s: %w", fork.FullName(), err)
	}
	defaultBranch := forkRepo.GetDefaultBranch()
	forkFullName := forkRepo.GetFullName()
	if forkFullName == "" {
		forkFullName = fork.FullName()
	}

	var mirror *github.Repository
	err = gitops.WithScratch(ctx, "icf-mirror", func(dir string) error {
		git := m.NewGit(dir)
		if err := git.Clone(ctx, gitops.RepoURL(fork.Owner, fork.Name, fork.Token), "--single-branch", "--branch", defaultBranch); err != nil {
			return err
		}

		if err := ensureForkProperty(ctx, target.Client, target.Owner); err != nil {
			return err
		}

		if err := utils.WithRetry(ctx, func() error {
			var err error
			mirror, _, err = target.Client.Repositories.Create(ctx, target.Owner, &github.Repository{
				Name:        github.Ptr(target.Name),
				Private:     github.Ptr(true),
				Description: github.Ptr(MirrorDescription(forkFullName)),
			})
			return err
		}); err != nil {
			return fmt.Errorf("could not create %s: %w", target.FullName(), err)
		}

		if err := utils.WithRetry(ctx, func() error {
			_, err := target.Client.Organizations.CreateOrUpdateRepoCustomPropertyValues(ctx, target.Owner, []string{target.Name}, []*github.CustomPropertyValue{
				{PropertyName: PropertyFork, Value: forkFullName},
			})
			return err
		}); err != nil {
			return fmt.Errorf("could not set %s property on %s: %w", PropertyFork, target.FullName(), err)
		}

		if err := git.AddRemote(ctx, remoteMirrorTarget, gitops.RepoURL(target.Owner, target.Name, target.Token)); err != nil {
			return err
		}
		if err := git.Push(ctx, remoteMirrorTarget, defaultBranch); err != nil {
			return err
		}
		if err := git.CheckoutBranch(ctx, req.NewBranchName, defaultBranch); err != nil {
			return err
		}
		return git.Push(ctx, remoteMirrorTarget, req.NewBranchName)
	})
	if err != nil {
		return nil, err
	}

	if err := utils.WithRetry(ctx, func() error {
		var err error
		mirror, _, err = target.Client.Repositories.Edit(ctx, target.Owner, target.Name, &github.Repository{
			DefaultBranch: github.Ptr(req.NewBranchName),
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("could not set default branch of %s: %w", target.FullName(), err)
	}

	perms := github.ActionsPermissionsRepository{Enabled: github.Ptr(req.ActionsEnabled)}
	if req.ActionsEnabled && req.AllowedActions != "" {
		perms.AllowedActions = github.Ptr(req.AllowedActions)
	}
	if err := utils.WithRetry(ctx, func() error {
		_, _, err := target.Client.Repositories.EditActionsPermissions(ctx, target.Owner, target.Name, perms)
		return err
	}); err != nil {
		return nil, fmt.Errorf("could not apply actions settings to %s: %w", target.FullName(), err)
	}
	return mirror, nil
}

// rollback deletes a half provisioned mirror. Delete is not retried so it is
// issued exactly once.
func (m *Mirrors) rollback(ctx context.Context, target RepoContext) {
	ctx = context.WithoutCancel(ctx)
	_, err := target.Client.Repositories.Delete(ctx, target.Owner, target.Name)
	if err == nil {
		logging.From(ctx).Info("Deleted partially created mirror", "mirror", target.FullName())
		return
	}
	if utils.IsNotFound(err) {
		logging.From(ctx).Info("Mirror was never created, nothing to delete", "mirror", target.FullName())
		return
	}
	logging.From(ctx).Error("Could not delete partially created mirror", "mirror", target.FullName(), "error", err)
}

func ensureForkProperty(ctx context.Context, client *github.Client, org string) error {
	err := utils.WithRetry(ctx, func() error {
		_, _, err := client.Organizations.GetCustomProperty(ctx, org, PropertyFork)
		return err
	})
	if err == nil {
		return nil
	}
	if !utils.IsNotFound(err) {
		return fmt.Errorf("could not read %s custom property of %s: %w", PropertyFork, org, err)
	}
	err = utils.WithRetry(ctx, func() error {
		_, _, err := client.Organizations.CreateOrUpdateCustomProperty(ctx, org, PropertyFork, &github.CustomProperty{
			ValueType:   "string",
			Description: github.Ptr("The fork this repository mirrors"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("could not create %s custom property on %s: %w", PropertyFork, org, err)
	}
	logging.From(ctx).Info("Created custom property", "org", org, "property", PropertyFork)
	return nil
}

type ListMirrorsRequest struct {
	OrgID    string `json:"orgId"`
	ForkName string `json:"forkName" binding:"required"`
}

// ListMirrors returns the private org repositories whose fork property points
// at <publicOrg>/<forkName>, sorted by name.
func (m *Mirrors) ListMirrors(ctx context.Context, req ListMirrorsRequest) ([]*github.Repository, error) {
	cfg, err := m.Resolver.GetConfig(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}
	client, _, err := m.GithubClientProvider.ForOrg(ctx, cfg.PrivateOrg)
	if err != nil {
		return nil, fmt.Errorf("could not authenticate as private org %s: %w", cfg.PrivateOrg, err)
	}

	forkFullName := cfg.PublicOrg + "/" + req.ForkName
	var values []*github.RepoCustomPropertyValue
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.RepoCustomPropertyValue
		var resp *github.Response
		err := utils.WithRetry(ctx, func() error {
			var err error
			page, resp, err = client.Organizations.ListCustomPropertyValues(ctx, cfg.PrivateOrg, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("could not list custom property values of %s: %w", cfg.PrivateOrg, err)
		}
		values = append(values, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	names := lo.FilterMap(values, func(v *github.RepoCustomPropertyValue, _ int) (string, bool) {
		return v.RepositoryName, strings.EqualFold(PropertyString(v.Properties, PropertyFork), forkFullName)
	})

	repos := make([]*github.Repository, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		g.Go(func() error {
			repo, err := getRepository(gctx, client, cfg.PrivateOrg, name)
			if utils.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("could not get mirror %s/%s: %w", cfg.PrivateOrg, name, err)
			}
			repos[i] = repo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	repos = lo.Compact(repos)
	sort.Slice(repos, func(i, j int) bool { return repos[i].GetName() < repos[j].GetName() })
	return repos, nil
}

type DeleteMirrorRequest struct {
	OrgID      string `json:"orgId"`
	MirrorName string `json:"mirrorName" binding:"required"`
}

func (m *Mirrors) DeleteMirror(ctx context.Context, req DeleteMirrorRequest) (bool, error) {
	cfg, err := m.Resolver.GetConfig(ctx, req.OrgID)
	if err != nil {
		return false, err
	}
	client, _, err := m.GithubClientProvider.ForOrg(ctx, cfg.PrivateOrg)
	if err != nil {
		return false, fmt.Errorf("could not authenticate as private org %s: %w", cfg.PrivateOrg, err)
	}
	err = utils.WithRetry(ctx, func() error {
		_, err := client.Repositories.Delete(ctx, cfg.PrivateOrg, req.MirrorName)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("could not delete mirror %s/%s: %w", cfg.PrivateOrg, req.MirrorName, err)
	}
	logging.From(ctx).Info("Deleted mirror", "mirror", cfg.PrivateOrg+"/"+req.MirrorName)
	return true, nil
}
