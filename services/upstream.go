package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/hashicorp/go-multierror"

	"github.com/github-community-projects/internal-contribution-forks/gitops"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const (
	remoteOrigin   = "origin"
	remoteUpstream = "upstream"
	remoteRoot     = "root"
)

var ErrNoUpstream = errors.New("repository has no upstream-repository property")

// RepoContext is a repository together with the installation identity acting on it.
type RepoContext struct {
	Client *github.Client
	Token  string
	Owner  string
	Name   string
}

func (rc RepoContext) FullName() string {
	return rc.Owner + "/" + rc.Name
}

// UpstreamLinks are the clone urls of a fork's upstream and root repositories.
type UpstreamLinks struct {
	Upstream utils.RepoRef
	Root     utils.RepoRef
}

// Upstreams keeps a fork's root and upstream/ branches tied to its upstream repository.
type Upstreams struct {
	GithubClientProvider utils.GithubClientProvider
	NewGit               gitops.Factory
}

// ResolveLinks reads the upstream and root properties of rc. Without a root
// property the upstream's parent is used, or the upstream itself when it is no fork.
func (u *Upstreams) ResolveLinks(ctx context.Context, rc RepoContext) (*UpstreamLinks, error) {
	var values []*github.CustomPropertyValue
	err := utils.WithRetry(ctx, func() error {
		var err error
		values, _, err = rc.Client.Repositories.GetAllCustomPropertyValues(ctx, rc.Owner, rc.Name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not read custom properties of %s: %w", rc.FullName(), err)
	}

	upstreamProp := PropertyString(values, PropertyUpstream)
	if upstreamProp == "" {
		return nil, ErrNoUpstream
	}
	upstream, err := utils.ParseRepoRef(upstreamProp)
	if err != nil {
		return nil, fmt.Errorf("invalid %s property: %w", PropertyUpstream, err)
	}

	if rootProp := PropertyString(values, PropertyRoot); rootProp != "" {
		root, err := utils.ParseRepoRef(rootProp)
		if err != nil {
			return nil, fmt.Errorf("invalid %s property: %w", PropertyRoot, err)
		}
		return &UpstreamLinks{Upstream: upstream, Root: root}, nil
	}

	upstreamRepo, err := getRepository(ctx, rc.Client, upstream.Owner, upstream.Name)
	if err != nil {
		return nil, fmt.Errorf("could not get upstream %s: %w", upstream.FullName(), err)
	}
	root := upstream
	if parent := upstreamRepo.GetParent(); parent != nil {
		root = utils.RepoRef{Owner: parent.GetOwner().GetLogin(), Name: parent.GetName()}
	}
	return &UpstreamLinks{Upstream: upstream, Root: root}, nil
}

// AttachUpstream points the root branch of rc at the root repository's default
// branch and documents the relationship in the description. Safe to repeat.
func (u *Upstreams) AttachUpstream(ctx context.Context, rc RepoContext) (*UpstreamLinks, error) {
	logger := logging.From(ctx).With("repository", rc.FullName())

	if err := utils.WithRetry(ctx, func() error {
		_, err := rc.Client.Repositories.DisableAutomatedSecurityFixes(ctx, rc.Owner, rc.Name)
		return err
	}); err != nil {
		logger.Warn("Could not disable automated security fixes", "error", err)
	}

	if err := utils.WithRetry(ctx, func() error {
		_, _, err := rc.Client.Repositories.EditActionsPermissions(ctx, rc.Owner, rc.Name, github.ActionsPermissionsRepository{
			Enabled: github.Ptr(false),
		})
		return err
	}); err != nil {
		return nil, fmt.Errorf("could not disable actions on %s: %w", rc.FullName(), err)
	}

	links, err := u.ResolveLinks(ctx, rc)
	if err != nil {
		return nil, err
	}

	rootRepo, err := getRepository(ctx, rc.Client, links.Root.Owner, links.Root.Name)
	if err != nil {
		return nil, fmt.Errorf("could not get root %s: %w", links.Root.FullName(), err)
	}
	rootDefault := rootRepo.GetDefaultBranch()

	err = gitops.WithScratch(ctx, "icf-attach", func(dir string) error {
		git := u.NewGit(dir)
		if err := git.Clone(ctx, gitops.RepoURL(rc.Owner, rc.Name, rc.Token), "--no-checkout", "--single-branch", "--no-tags"); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteUpstream, links.Upstream.CloneURL()); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteRoot, links.Root.CloneURL()); err != nil {
			return err
		}
		if err := git.Fetch(ctx, remoteRoot, rootDefault); err != nil {
			return err
		}
		return git.Push(ctx, remoteOrigin, fmt.Sprintf("%s/%s:refs/heads/%s", remoteRoot, rootDefault, RootBranch), "--force")
	})
	if err != nil {
		return nil, err
	}

	description := UpstreamDescription(links.Upstream.CloneURL(), links.Root.CloneURL())
	if err := utils.WithRetry(ctx, func() error {
		_, _, err := rc.Client.Repositories.Edit(ctx, rc.Owner, rc.Name, &github.Repository{Description: github.Ptr(description)})
		return err
	}); err != nil {
		return nil, fmt.Errorf("could not update description of %s: %w", rc.FullName(), err)
	}

	logger.Info("Attached upstream", "upstream", links.Upstream.FullName(), "root", links.Root.FullName(), "rootBranch", rootDefault)
	return links, nil
}

// DetachUpstream deletes the upstream/ branches of rc, then tries to delete the
// <repo>/ branches it pushed to oldUpstream. Only the first part can fail.
func (u *Upstreams) DetachUpstream(ctx context.Context, rc RepoContext, oldUpstream string) error {
	logger := logging.From(ctx).With("repository", rc.FullName())

	deleted, err := deleteMatchingBranches(ctx, rc.Client, rc.Owner, rc.Name, UpstreamPrefix)
	if err != nil {
		return fmt.Errorf("could not delete upstream branches of %s: %w", rc.FullName(), err)
	}
	logger.Info("Deleted upstream branches", "count", deleted)

	if oldUpstream == "" {
		return nil
	}
	upstream, err := utils.ParseRepoRef(oldUpstream)
	if err != nil {
		logger.Warn("Could not parse previous upstream", "upstream", oldUpstream, "error", err)
		return nil
	}
	client, _, err := u.GithubClientProvider.ForOrg(ctx, upstream.Owner)
	if err != nil {
		logger.Warn("App is not installed on previous upstream, leaving its branches", "upstream", upstream.FullName(), "error", err)
		return nil
	}
	count, err := deleteMatchingBranches(ctx, client, upstream.Owner, upstream.Name, rc.Name+"/")
	if err != nil {
		logger.Warn("Could not delete branches on previous upstream", "upstream", upstream.FullName(), "error", err)
		return nil
	}
	logger.Info("Deleted branches on previous upstream", "upstream", upstream.FullName(), "count", count)
	return nil
}

// deleteMatchingBranches deletes every branch starting with prefix and returns how many went.
func deleteMatchingBranches(ctx context.Context, client *github.Client, owner, repo, prefix string) (int, error) {
	var refs []*github.Reference
	opts := &github.ReferenceListOptions{Ref: "heads/" + prefix, ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page []*github.Reference
		var resp *github.Response
		err := utils.WithRetry(ctx, func() error {
			var err error
			page, resp, err = client.Git.ListMatchingRefs(ctx, owner, repo, opts)
			return err
		})
		if err != nil {
			return 0, err
		}
		refs = append(refs, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var result error
	deleted := 0
	for _, ref := range refs {
		name := strings.TrimPrefix(ref.GetRef(), "refs/")
		err := utils.WithRetry(ctx, func() error {
			_, err := client.Git.DeleteRef(ctx, owner, repo, name)
			return err
		})
		if err != nil && !utils.IsNotFound(err) {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted++
	}
	return deleted, result
}

// EnsureUpstreamBranch creates upstream/<name> at the root branch head for
// feature/<name>, unless it exists already. It reports whether it created one.
func (u *Upstreams) EnsureUpstreamBranch(ctx context.Context, rc RepoContext, featureBranch string) (bool, error) {
	name := strings.TrimPrefix(featureBranch, FeaturePrefix)
	if name == "" {
		return false, fmt.Errorf("invalid feature branch %q", featureBranch)
	}
	upstreamBranch := UpstreamPrefix + name

	sha, err := BranchHeadSHA(ctx, rc.Client, rc.Owner, rc.Name, upstreamBranch)
	if err != nil {
		return false, err
	}
	if sha != "" {
		logging.From(ctx).Debug("Upstream branch already exists", "repository", rc.FullName(), "branch", upstreamBranch)
		return false, nil
	}

	rootSHA, err := BranchHeadSHA(ctx, rc.Client, rc.Owner, rc.Name, RootBranch)
	if err != nil {
		return false, err
	}
	if rootSHA == "" {
		return false, fmt.Errorf("%s has no %s branch, resync the repository first", rc.FullName(), RootBranch)
	}

	err = utils.WithRetry(ctx, func() error {
		_, _, err := rc.Client.Git.CreateRef(ctx, rc.Owner, rc.Name, &github.Reference{
			Ref:    github.Ptr("refs/heads/" + upstreamBranch),
			Object: &github.GitObject{SHA: github.Ptr(rootSHA)},
		})
		return err
	})
	if utils.IsAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not create %s on %s: %w", upstreamBranch, rc.FullName(), err)
	}
	logging.From(ctx).Info("Created upstream branch", "repository", rc.FullName(), "branch", upstreamBranch, "sha", rootSHA)
	return true, nil
}

// UpstreamBranchName is where upstream/<name> of repo lands on the upstream repository.
func UpstreamBranchName(repo, upstreamBranch string) string {
	return repo + "/" + strings.TrimPrefix(upstreamBranch, UpstreamPrefix)
}

// PushToUpstream mirrors upstream/<name> of rc to <repo>/<name> on the upstream repository.
func (u *Upstreams) PushToUpstream(ctx context.Context, rc RepoContext, upstreamBranch string) error {
	links, err := u.ResolveLinks(ctx, rc)
	if err != nil {
		return err
	}
	_, upstreamToken, err := u.GithubClientProvider.ForOrg(ctx, links.Upstream.Owner)
	if err != nil {
		return fmt.Errorf("could not authenticate for upstream %s: %w", links.Upstream.FullName(), err)
	}

	target := UpstreamBranchName(rc.Name, upstreamBranch)
	err = gitops.WithScratch(ctx, "icf-upstream", func(dir string) error {
		git := u.NewGit(dir)
		if err := git.Init(ctx); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteOrigin, gitops.RepoURL(rc.Owner, rc.Name, rc.Token)); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteUpstream, gitops.RepoURL(links.Upstream.Owner, links.Upstream.Name, upstreamToken)); err != nil {
			return err
		}
		if err := git.Fetch(ctx, remoteOrigin, upstreamBranch); err != nil {
			return err
		}
		return git.Push(ctx, remoteUpstream, fmt.Sprintf("refs/remotes/%s/%s:refs/heads/%s", remoteOrigin, upstreamBranch, target), "--force")
	})
	if err != nil {
		return err
	}
	logging.From(ctx).Info("Pushed to upstream", "repository", rc.FullName(), "upstream", links.Upstream.FullName(), "branch", target)
	return nil
}

// DeleteUpstreamBranch removes upstream/<name> once feature/<name> is gone.
func (u *Upstreams) DeleteUpstreamBranch(ctx context.Context, rc RepoContext, featureBranch string) error {
	upstreamBranch := UpstreamPrefix + strings.TrimPrefix(featureBranch, FeaturePrefix)
	err := utils.WithRetry(ctx, func() error {
		_, err := rc.Client.Git.DeleteRef(ctx, rc.Owner, rc.Name, "heads/"+upstreamBranch)
		return err
	})
	if utils.IsNotFound(err) {
		return nil
	}
	if err != nil {
		// GitHub answers 422 "Reference does not exist" for refs deleted concurrently
		if utils.WrapGitHubError(err).Type == utils.ErrorTypeValidation {
			return nil
		}
		return fmt.Errorf("could not delete %s on %s: %w", upstreamBranch, rc.FullName(), err)
	}
	logging.From(ctx).Info("Deleted upstream branch", "repository", rc.FullName(), "branch", upstreamBranch)
	return nil
}
