package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v68/github"
	"golang.org/x/sync/errgroup"

	"github.com/github-community-projects/internal-contribution-forks/config"
	"github.com/github-community-projects/internal-contribution-forks/gitops"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const (
	DestinationFork   = "fork"
	DestinationMirror = "mirror"

	remoteFork   = "fork"
	remoteMirror = "mirror"

	syncIgnoreCommitMessage = "Keep paths listed in .syncignore"
)

// SyncRequest names one branch pair and the side that receives the other side's commits.
type SyncRequest struct {
	OrgID            string `json:"orgId"`
	DestinationTo    string `json:"destinationTo" binding:"required,oneof=fork mirror"`
	ForkOwner        string `json:"forkOwner" binding:"required"`
	ForkName         string `json:"forkName" binding:"required"`
	MirrorOwner      string `json:"mirrorOwner" binding:"required"`
	MirrorName       string `json:"mirrorName" binding:"required"`
	ForkBranchName   string `json:"forkBranchName" binding:"required"`
	MirrorBranchName string `json:"mirrorBranchName" binding:"required"`
	AccessToken      string `json:"accessToken,omitempty"`
}

func (r SyncRequest) validate() error {
	if r.DestinationTo != DestinationFork && r.DestinationTo != DestinationMirror {
		return fmt.Errorf("invalid destinationTo %q, expected %q or %q", r.DestinationTo, DestinationFork, DestinationMirror)
	}
	for name, value := range map[string]string{
		"forkOwner":        r.ForkOwner,
		"forkName":         r.ForkName,
		"mirrorOwner":      r.MirrorOwner,
		"mirrorName":       r.MirrorName,
		"forkBranchName":   r.ForkBranchName,
		"mirrorBranchName": r.MirrorBranchName,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	return nil
}

type SyncResult struct {
	Success bool `json:"success"`
}

// OrgConfigResolver is implemented by config.Resolver.
type OrgConfigResolver interface {
	GetConfig(ctx context.Context, orgId string) (*config.OrgConfig, error)
}

// Syncer moves commits between a public fork branch and a private mirror branch.
type Syncer struct {
	GithubClientProvider     utils.GithubClientProvider
	Resolver                 OrgConfigResolver
	NewGit                   gitops.Factory
	TrimInternalMergeCommits bool
	// Locks serializes syncs of the same branch pair. Nil disables locking.
	Locks *utils.KeyedMutex
}

type syncSide struct {
	client *github.Client
	token  string
	owner  string
	name   string
	branch string
	sha    string
}

func (s *Syncer) SyncRepos(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := logging.From(ctx).With(
		slog.String("destination", req.DestinationTo),
		slog.Group("fork", "owner", req.ForkOwner, "name", req.ForkName, "branch", req.ForkBranchName),
		slog.Group("mirror", "owner", req.MirrorOwner, "name", req.MirrorName, "branch", req.MirrorBranchName),
	)

	cfg, err := s.Resolver.GetConfig(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	forkClient, forkToken, err := s.GithubClientProvider.ForOrg(ctx, cfg.PublicOrg)
	if err != nil {
		return nil, fmt.Errorf("could not authenticate as contribution org %s: %w", cfg.PublicOrg, err)
	}
	mirrorClient, mirrorToken, err := s.GithubClientProvider.ForOrg(ctx, cfg.PrivateOrg)
	if err != nil {
		return nil, fmt.Errorf("could not authenticate as private org %s: %w", cfg.PrivateOrg, err)
	}

	if req.AccessToken != "" {
		personal := s.GithubClientProvider.Personal(ctx, req.AccessToken)
		if _, err := getRepository(ctx, personal, req.MirrorOwner, req.MirrorName); err != nil {
			return nil, fmt.Errorf("mirror %s/%s is not accessible with the given access token: %w", req.MirrorOwner, req.MirrorName, err)
		}
	}

	fork := &syncSide{client: forkClient, token: forkToken, branch: req.ForkBranchName}
	mirror := &syncSide{client: mirrorClient, token: mirrorToken, branch: req.MirrorBranchName}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		repo, err := getRepository(gctx, forkClient, req.ForkOwner, req.ForkName)
		if err != nil {
			return fmt.Errorf("could not get fork %s/%s: %w", req.ForkOwner, req.ForkName, err)
		}
		fork.owner, fork.name = repo.GetOwner().GetLogin(), repo.GetName()
		return nil
	})
	g.Go(func() error {
		repo, err := getRepository(gctx, mirrorClient, req.MirrorOwner, req.MirrorName)
		if err != nil {
			return fmt.Errorf("could not get mirror %s/%s: %w", req.MirrorOwner, req.MirrorName, err)
		}
		mirror.owner, mirror.name = repo.GetOwner().GetLogin(), repo.GetName()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.Locks != nil {
		key := utils.SyncKey(fork.owner, fork.name, fork.branch, mirror.owner, mirror.name, mirror.branch)
		unlock, err := s.Locks.Lock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("gave up waiting for sync lock %s: %w", key, err)
		}
		defer unlock()
	}

	g, gctx = errgroup.WithContext(ctx)
	for _, side := range []*syncSide{fork, mirror} {
		g.Go(func() error {
			sha, err := BranchHeadSHA(gctx, side.client, side.owner, side.name, side.branch)
			if err != nil {
				return fmt.Errorf("could not get head of %s/%s@%s: %w", side.owner, side.name, side.branch, err)
			}
			side.sha = sha
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if fork.sha != "" && fork.sha == mirror.sha {
		logger.Info("Branches already in sync", "sha", fork.sha)
		return &SyncResult{Success: true}, nil
	}

	source := fork
	if req.DestinationTo == DestinationFork {
		source = mirror
	}
	if source.sha == "" {
		return nil, fmt.Errorf("source branch %s/%s@%s does not exist", source.owner, source.name, source.branch)
	}

	logger.Info("Syncing branches", "forkSha", fork.sha, "mirrorSha", mirror.sha)
	err = gitops.WithScratch(ctx, "icf-sync", func(dir string) error {
		git := s.NewGit(dir)
		if err := git.Init(ctx); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteFork, gitops.RepoURL(fork.owner, fork.name, fork.token)); err != nil {
			return err
		}
		if err := git.AddRemote(ctx, remoteMirror, gitops.RepoURL(mirror.owner, mirror.name, mirror.token)); err != nil {
			return err
		}
		if fork.sha != "" {
			if err := git.Fetch(ctx, remoteFork, fork.branch); err != nil {
				return err
			}
		}
		if mirror.sha != "" {
			if err := git.Fetch(ctx, remoteMirror, mirror.branch); err != nil {
				return err
			}
		}

		if req.DestinationTo == DestinationMirror {
			return s.syncToMirror(ctx, git, fork, mirror)
		}
		return s.syncToFork(ctx, git, fork, mirror)
	})
	if err != nil {
		logger.Error("Sync failed", "error", err)
		return nil, err
	}

	logger.Info("Sync complete")
	return &SyncResult{Success: true}, nil
}

func (s *Syncer) syncToMirror(ctx context.Context, git gitops.Git, fork, mirror *syncSide) error {
	forkRef := remoteFork + "/" + fork.branch
	if mirror.sha == "" {
		if err := git.CheckoutBranch(ctx, mirror.branch, forkRef); err != nil {
			return err
		}
		return git.Push(ctx, remoteMirror, mirror.branch, "--force")
	}

	mirrorRef := remoteMirror + "/" + mirror.branch
	exclusions := readSyncIgnore(ctx, git, mirrorRef)
	if err := git.CheckoutBranch(ctx, mirror.branch, mirrorRef); err != nil {
		return err
	}
	if err := git.Rebase(ctx, []string{forkRef}); err != nil {
		return err
	}
	if err := keepExcludedPaths(ctx, git, mirrorRef, exclusions); err != nil {
		return err
	}
	return git.Push(ctx, remoteMirror, mirror.branch, "--force")
}

func (s *Syncer) syncToFork(ctx context.Context, git gitops.Git, fork, mirror *syncSide) error {
	mirrorRef := remoteMirror + "/" + mirror.branch
	refspec := mirror.branch + ":" + fork.branch
	if err := git.CheckoutBranch(ctx, mirror.branch, mirrorRef); err != nil {
		return err
	}
	if fork.sha == "" {
		return git.Push(ctx, remoteFork, refspec)
	}

	forkRef := remoteFork + "/" + fork.branch
	exclusions := readSyncIgnore(ctx, git, mirrorRef)
	if s.TrimInternalMergeCommits {
		if err := git.Reset(ctx, []string{"--hard", "HEAD^2"}); err != nil {
			return err
		}
		if err := git.Rebase(ctx, []string{forkRef, "-r"}); err != nil {
			return err
		}
	} else {
		if err := git.Rebase(ctx, []string{forkRef}); err != nil {
			return err
		}
	}
	if err := keepExcludedPaths(ctx, git, forkRef, exclusions); err != nil {
		return err
	}
	return git.Push(ctx, remoteFork, refspec)
}

// readSyncIgnore reads .syncignore from rev. A missing file means no exclusions.
func readSyncIgnore(ctx context.Context, git gitops.Git, rev string) []string {
	content, err := git.Show(ctx, rev, gitops.SyncIgnoreFile)
	if err != nil {
		logging.From(ctx).Debug("No .syncignore found", "rev", rev)
		return nil
	}
	return gitops.ParseSyncIgnore(content)
}

// keepExcludedPaths puts back the destination's content of every excluded path the sync touched.
func keepExcludedPaths(ctx context.Context, git gitops.Git, destRef string, exclusions []string) error {
	if len(exclusions) == 0 {
		return nil
	}
	changed, err := git.DiffNames(ctx, destRef, "HEAD")
	if err != nil {
		return err
	}
	excluded := gitops.MatchExcluded(exclusions, changed)
	if len(excluded) == 0 {
		return nil
	}
	logging.From(ctx).Info("Keeping excluded paths", "paths", excluded)
	if err := git.RestorePaths(ctx, destRef, excluded); err != nil {
		return err
	}
	status, err := git.Status(ctx)
	if err != nil {
		return err
	}
	if status.Clean {
		return nil
	}
	return git.Commit(ctx, syncIgnoreCommitMessage)
}

func getRepository(ctx context.Context, client *github.Client, owner, name string) (*github.Repository, error) {
	var repo *github.Repository
	err := utils.WithRetry(ctx, func() error {
		var err error
		repo, _, err = client.Repositories.Get(ctx, owner, name)
		return err
	})
	return repo, err
}

// BranchHeadSHA returns the sha branch points at, or "" when the branch does not exist.
func BranchHeadSHA(ctx context.Context, client *github.Client, owner, repo, branch string) (string, error) {
	var ref *github.Reference
	err := utils.WithRetry(ctx, func() error {
		var err error
		ref, _, err = client.Git.GetRef(ctx, owner, repo, "heads/"+branch)
		return err
	})
	if utils.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}
