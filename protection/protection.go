package protection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v68/github"
	"github.com/hashicorp/go-multierror"
	"github.com/shurcooL/githubv4"

	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const (
	AllBranchesRulesetName   = "all-branch-protections-icf"
	DefaultBranchRulesetName = "default-branch-protection-icf"

	allBranchesCondition   = "~ALL"
	defaultBranchCondition = "~DEFAULT_BRANCH"
)

// Request describes the protection to put on one repository.
type Request struct {
	Owner string
	Repo  string

	RepositoryNodeID string
	// ActorNodeID is allowed to push through classic protection.
	ActorNodeID string
	// ActorID is the app id, added as an Integration bypass actor on rulesets.
	ActorID int64

	// Pattern is "*" or the literal default branch name.
	Pattern           string
	DefaultBranchOnly bool
}

func (r Request) rulesetName() string {
	if r.DefaultBranchOnly {
		return DefaultBranchRulesetName
	}
	return AllBranchesRulesetName
}

// Engine protects branches through rulesets, then classic protection over GraphQL,
// then classic protection over REST, moving on only when the previous tier failed.
type Engine struct {
	Client  *github.Client
	GraphQL *githubv4.Client
}

type tier struct {
	name  string
	apply func(ctx context.Context, req Request) error
}

func (e *Engine) tiers() []tier {
	return []tier{
		{name: "ruleset", apply: e.createRuleset},
		{name: "graphql", apply: e.createGraphQLProtection},
		{name: "rest", apply: e.createRESTProtection},
	}
}

// CreateBranchProtection never fails, exhausting every tier is logged and tolerated.
// It returns the tier that succeeded, empty when none did.
func (e *Engine) CreateBranchProtection(ctx context.Context, req Request) string {
	logger := slog.With(
		slog.Group("repository",
			slog.String("owner", req.Owner),
			slog.String("name", req.Repo),
		),
		"pattern", req.Pattern,
		"defaultBranchOnly", req.DefaultBranchOnly,
	)

	var errs *multierror.Error
	for _, t := range e.tiers() {
		err := t.apply(ctx, req)
		if err == nil {
			logger.Info("Branch protection in place", "tier", t.name)
			return t.name
		}
		logger.Error("Failed to create branch protection", "tier", t.name, "error", err)
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", t.name, err))
	}
	logger.Error("All branch protection mechanisms failed", "error", errs.ErrorOrNil())
	return ""
}

func (e *Engine) createRuleset(ctx context.Context, req Request) error {
	name := req.rulesetName()

	var rulesets []*github.Ruleset
	err := utils.WithRetry(ctx, func() error {
		var err error
		rulesets, _, err = e.Client.Repositories.GetAllRulesets(ctx, req.Owner, req.Repo, false)
		return err
	})
	if err != nil {
		return fmt.Errorf("could not list rulesets: %w", err)
	}
	for _, rs := range rulesets {
		if rs.Name == name {
			slog.Debug("Ruleset already exists", "ruleset", name, "owner", req.Owner, "repo", req.Repo)
			return nil
		}
	}

	condition := allBranchesCondition
	if req.DefaultBranchOnly {
		condition = defaultBranchCondition
	}
	ruleset := &github.Ruleset{
		Name:        name,
		Target:      github.Ptr("branch"),
		Enforcement: "active",
		BypassActors: []*github.BypassActor{
			{
				ActorID:    github.Ptr(req.ActorID),
				ActorType:  github.Ptr("Integration"),
				BypassMode: github.Ptr("always"),
			},
		},
		Conditions: &github.RulesetConditions{
			RefName: &github.RulesetRefConditionParameters{
				Include: []string{condition},
				Exclude: []string{},
			},
		},
		Rules: []*github.RepositoryRule{
			github.NewPullRequestRule(&github.PullRequestRuleParameters{
				DismissStaleReviewsOnPush:    true,
				RequiredApprovingReviewCount: 1,
			}),
		},
	}
	return utils.WithRetry(ctx, func() error {
		_, _, err := e.Client.Repositories.CreateRuleset(ctx, req.Owner, req.Repo, ruleset)
		return err
	})
}

func (e *Engine) createGraphQLProtection(ctx context.Context, req Request) error {
	var m struct {
		CreateBranchProtectionRule struct {
			BranchProtectionRule struct {
				ID githubv4.ID
			}
		} `graphql:"createBranchProtectionRule(input: $input)"`
	}
	input := githubv4.CreateBranchProtectionRuleInput{
		RepositoryID:                 githubv4.ID(req.RepositoryNodeID),
		Pattern:                      githubv4.String(req.Pattern),
		RequiresApprovingReviews:     githubv4.NewBoolean(true),
		RequiredApprovingReviewCount: githubv4.NewInt(1),
		DismissesStaleReviews:        githubv4.NewBoolean(true),
		RestrictsPushes:              githubv4.NewBoolean(true),
		PushActorIDs:                 &[]githubv4.ID{githubv4.ID(req.ActorNodeID)},
	}
	return utils.WithRetry(ctx, func() error {
		return e.GraphQL.Mutate(ctx, &m, input, nil)
	})
}

func (e *Engine) createRESTProtection(ctx context.Context, req Request) error {
	protection := &github.ProtectionRequest{
		EnforceAdmins: true,
		RequiredPullRequestReviews: &github.PullRequestReviewsEnforcementRequest{
			RequiredApprovingReviewCount: 1,
		},
		RequiredStatusChecks: nil,
		Restrictions:         nil,
	}
	return utils.WithRetry(ctx, func() error {
		_, _, err := e.Client.Repositories.UpdateBranchProtection(ctx, req.Owner, req.Repo, req.Pattern, protection)
		return err
	})
}
