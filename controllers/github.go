package controllers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v68/github"

	"github.com/github-community-projects/internal-contribution-forks/checks"
	"github.com/github-community-projects/internal-contribution-forks/logging"
	"github.com/github-community-projects/internal-contribution-forks/protection"
	"github.com/github-community-projects/internal-contribution-forks/services"
	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const defaultWebhookTimeout = 10 * time.Minute

// GithubController receives GitHub App webhooks and routes them by EventKind.
type GithubController struct {
	GithubClientProvider utils.GithubClientProvider
	Classifier           Classifier
	WebhookSecret        string
	// WebhookTimeout bounds the work done for one delivery. Check runs report
	// timed_out shortly before it expires.
	WebhookTimeout time.Duration
	Upstreams      *services.Upstreams
	Syncer         *services.Syncer
}

func (d *GithubController) GithubAppWebHook(c *gin.Context) {
	c.Header("Content-Type", "application/json")
	logger := logging.From(c.Request.Context())

	payload, err := github.ValidatePayload(c.Request, []byte(d.WebhookSecret))
	if err != nil {
		logger.Error("Error validating github app webhook's payload", "error", err)
		c.String(http.StatusBadRequest, "Error validating github app webhook's payload")
		return
	}

	webhookType := github.WebHookType(c.Request)
	event, err := github.ParseWebHook(webhookType, payload)
	if err != nil {
		logger.Error("Failed to parse Github Event", "webhookType", webhookType, "error", err)
		c.String(http.StatusInternalServerError, "Failed to parse Github Event")
		return
	}

	kind := d.Classifier.Classify(event)
	logger.Info("Received github event", "webhookType", webhookType, "kind", kind.String())
	if kind == EventUnknown {
		c.JSON(http.StatusOK, "ok")
		return
	}

	timeout := d.WebhookTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	// the delivery may be dropped by GitHub long before we are done, keep going regardless
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), timeout)
	defer cancel()

	if err := d.HandleEvent(ctx, kind, event); err != nil {
		logger.Error("Failed to handle github event", "kind", kind.String(), "error", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, "ok")
}

// HandleEvent runs the handler for kind. Panics are turned into errors.
func (d *GithubController) HandleEvent(ctx context.Context, kind EventKind, event interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logging.From(ctx).Error("Recovered from panic while handling github event", "kind", kind.String(), "error", r, "stack", stack)
			err = fmt.Errorf("panic while handling %s: %v", kind, r)
		}
	}()

	switch kind {
	case EventUnknown:
		return nil
	case EventCustomPropertiesUpdated:
		return d.handleCustomPropertiesUpdated(ctx, event.(*github.CustomPropertyValuesEvent))
	case EventPushRoot:
		return d.handlePushRoot(ctx, event.(*github.PushEvent))
	case EventPushFeature:
		return d.handlePushFeature(ctx, event.(*github.PushEvent))
	case EventFeatureDeleted:
		return d.handleFeatureDeleted(ctx, event.(*github.PushEvent))
	case EventPushUpstream:
		return d.handlePushUpstream(ctx, event.(*github.PushEvent))
	case EventCheckRunResync:
		return d.handleCheckRunResync(ctx, event.(*github.CheckRunEvent))
	case EventForkCreated:
		return d.handleForkCreated(ctx, event.(*github.RepositoryEvent))
	case EventMirrorRepositoryChanged:
		return d.handleMirrorRepositoryChanged(ctx, event.(*github.RepositoryEvent))
	case EventMirrorDefaultBranchPush:
		return d.handleMirrorDefaultBranchPush(ctx, event.(*github.PushEvent))
	}
	return fmt.Errorf("no handler for event kind %d", kind)
}

func (d *GithubController) repoContext(ctx context.Context, installationId int64, owner, name string) (services.RepoContext, error) {
	client, token, err := d.GithubClientProvider.Get(ctx, installationId)
	if err != nil {
		return services.RepoContext{}, fmt.Errorf("could not get client for installation %d: %w", installationId, err)
	}
	return services.RepoContext{Client: client, Token: token, Owner: owner, Name: name}, nil
}

func (d *GithubController) pushRepoContext(ctx context.Context, e *github.PushEvent) (services.RepoContext, error) {
	return d.repoContext(ctx, e.GetInstallation().GetID(), e.GetRepo().GetOwner().GetLogin(), e.GetRepo().GetName())
}

// underCheck runs fn wrapped in a check run for spec. Without a commit to attach
// the check to, fn runs bare.
func (d *GithubController) underCheck(ctx context.Context, rc services.RepoContext, spec checks.Spec, fn func(ctx context.Context) error) error {
	if spec.HeadSHA == "" {
		logging.From(ctx).Warn("No commit to report on, running without check run", "check", spec.Name, "repository", rc.FullName())
		return fn(ctx)
	}
	check, err := checks.New(ctx, rc.Client, rc.Owner, rc.Name, spec, checks.WithTimeRemaining(checks.DeadlineProbe(ctx)))
	if err != nil {
		return err
	}
	_, err = checks.With(ctx, check, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (d *GithubController) defaultCheck(ctx context.Context, rc services.RepoContext, defaultBranch string) (checks.Spec, error) {
	sha, err := services.BranchHeadSHA(ctx, rc.Client, rc.Owner, rc.Name, defaultBranch)
	if err != nil {
		return checks.Spec{}, fmt.Errorf("could not get head of %s@%s: %w", rc.FullName(), defaultBranch, err)
	}
	return checks.DefaultCheck(sha), nil
}

func (d *GithubController) handleCustomPropertiesUpdated(ctx context.Context, e *github.CustomPropertyValuesEvent) error {
	repo := e.GetRepo()
	rc, err := d.repoContext(ctx, e.GetInstallation().GetID(), repo.GetOwner().GetLogin(), repo.GetName())
	if err != nil {
		return err
	}

	oldUpstream := services.PropertyString(e.OldPropertyValues, services.PropertyUpstream)
	newUpstream := services.PropertyString(e.NewPropertyValues, services.PropertyUpstream)
	upstreamChanged := oldUpstream != newUpstream
	rootChanged := services.PropertyString(e.OldPropertyValues, services.PropertyRoot) != services.PropertyString(e.NewPropertyValues, services.PropertyRoot)

	spec, err := d.defaultCheck(ctx, rc, repo.GetDefaultBranch())
	if err != nil {
		return err
	}
	return d.underCheck(ctx, rc, spec, func(ctx context.Context) error {
		if upstreamChanged && oldUpstream != "" {
			if err := d.Upstreams.DetachUpstream(ctx, rc, oldUpstream); err != nil {
				return err
			}
		}
		if upstreamChanged && newUpstream == "" {
			return nil
		}
		if !upstreamChanged && !rootChanged {
			return nil
		}
		_, err := d.Upstreams.AttachUpstream(ctx, rc)
		if errors.Is(err, services.ErrNoUpstream) {
			logging.From(ctx).Info("Root changed on a repository without upstream, nothing to attach", "repository", rc.FullName())
			return nil
		}
		return err
	})
}

func (d *GithubController) handlePushRoot(ctx context.Context, e *github.PushEvent) error {
	rc, err := d.pushRepoContext(ctx, e)
	if err != nil {
		return err
	}
	check, err := checks.New(ctx, rc.Client, rc.Owner, rc.Name, checks.RootCheck(e.GetAfter()))
	if err != nil {
		return err
	}
	return check.SendSuccess(ctx)
}

func (d *GithubController) handlePushFeature(ctx context.Context, e *github.PushEvent) error {
	rc, err := d.pushRepoContext(ctx, e)
	if err != nil {
		return err
	}
	branch := branchName(e.GetRef())
	return d.underCheck(ctx, rc, checks.FeatureCheck(branch, e.GetAfter()), func(ctx context.Context) error {
		_, err := d.Upstreams.EnsureUpstreamBranch(ctx, rc, branch)
		return err
	})
}

func (d *GithubController) handleFeatureDeleted(ctx context.Context, e *github.PushEvent) error {
	rc, err := d.pushRepoContext(ctx, e)
	if err != nil {
		return err
	}
	return d.Upstreams.DeleteUpstreamBranch(ctx, rc, branchName(e.GetRef()))
}

func (d *GithubController) handlePushUpstream(ctx context.Context, e *github.PushEvent) error {
	rc, err := d.pushRepoContext(ctx, e)
	if err != nil {
		return err
	}
	branch := branchName(e.GetRef())
	return d.underCheck(ctx, rc, checks.UpstreamCheck(branch, e.GetAfter()), func(ctx context.Context) error {
		return d.Upstreams.PushToUpstream(ctx, rc, branch)
	})
}

func (d *GithubController) handleCheckRunResync(ctx context.Context, e *github.CheckRunEvent) error {
	repo := e.GetRepo()
	rc, err := d.repoContext(ctx, e.GetInstallation().GetID(), repo.GetOwner().GetLogin(), repo.GetName())
	if err != nil {
		return err
	}
	return d.underCheck(ctx, rc, checks.DefaultCheck(e.GetCheckRun().GetHeadSHA()), func(ctx context.Context) error {
		_, err := d.Upstreams.AttachUpstream(ctx, rc)
		return err
	})
}

func (d *GithubController) handleForkCreated(ctx context.Context, e *github.RepositoryEvent) error {
	return d.protect(ctx, e, "*", false)
}

func (d *GithubController) handleMirrorRepositoryChanged(ctx context.Context, e *github.RepositoryEvent) error {
	return d.protect(ctx, e, e.GetRepo().GetDefaultBranch(), true)
}

// protect never fails on the protection itself, only on missing credentials.
func (d *GithubController) protect(ctx context.Context, e *github.RepositoryEvent, pattern string, defaultBranchOnly bool) error {
	repo := e.GetRepo()
	rc, err := d.repoContext(ctx, e.GetInstallation().GetID(), repo.GetOwner().GetLogin(), repo.GetName())
	if err != nil {
		return err
	}

	engine := &protection.Engine{
		Client:  rc.Client,
		GraphQL: d.GithubClientProvider.GraphQL(ctx, rc.Token),
	}
	tier := engine.CreateBranchProtection(ctx, protection.Request{
		Owner:             rc.Owner,
		Repo:              rc.Name,
		RepositoryNodeID:  repo.GetNodeID(),
		ActorNodeID:       d.appNodeID(ctx),
		ActorID:           d.Classifier.AppID,
		Pattern:           pattern,
		DefaultBranchOnly: defaultBranchOnly,
	})
	logging.From(ctx).Info("Branch protection done", slog.Group("repository", "owner", rc.Owner, "name", rc.Name), "tier", tier, "pattern", pattern)
	return nil
}

func (d *GithubController) appNodeID(ctx context.Context) string {
	client, err := d.GithubClientProvider.App(ctx)
	if err != nil {
		logging.From(ctx).Warn("Could not get app client", "error", err)
		return ""
	}
	var app *github.App
	err = utils.WithRetry(ctx, func() error {
		var err error
		app, _, err = client.Apps.Get(ctx, "")
		return err
	})
	if err != nil {
		logging.From(ctx).Warn("Could not look up app node id", "error", err)
		return ""
	}
	return app.GetNodeID()
}

func (d *GithubController) handleMirrorDefaultBranchPush(ctx context.Context, e *github.PushEvent) error {
	repo := e.GetRepo()
	forkName := services.ParseDescriptionMetadata(repo.GetDescription())[services.MetadataMirror]
	fork, err := utils.ParseRepoRef(forkName)
	if err != nil {
		return fmt.Errorf("mirror %s has an invalid fork in its description: %w", repo.GetFullName(), err)
	}
	branch := branchName(e.GetRef())
	_, err = d.Syncer.SyncRepos(ctx, services.SyncRequest{
		OrgID:            repo.GetOwner().GetLogin(),
		DestinationTo:    services.DestinationFork,
		ForkOwner:        fork.Owner,
		ForkName:         fork.Name,
		MirrorOwner:      repo.GetOwner().GetLogin(),
		MirrorName:       repo.GetName(),
		ForkBranchName:   branch,
		MirrorBranchName: branch,
	})
	if err != nil {
		return fmt.Errorf("could not sync %s to %s: %w", repo.GetName(), strings.ToLower(fork.FullName()), err)
	}
	return nil
}
