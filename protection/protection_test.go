package protection

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/github-community-projects/internal-contribution-forks/utils"
)

var (
	getRulesets      = mock.EndpointPattern{Pattern: "/repos/{owner}/{repo}/rulesets", Method: "GET"}
	postRuleset      = mock.EndpointPattern{Pattern: "/repos/{owner}/{repo}/rulesets", Method: "POST"}
	graphqlEndpoint  = mock.EndpointPattern{Pattern: "/graphql", Method: "POST"}
	updateProtection = mock.EndpointPattern{Pattern: "/repos/{owner}/{repo}/branches/{branch}/protection", Method: "PUT"}
)

func TestMain(m *testing.M) {
	utils.DefaultRetryConfig = utils.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	os.Exit(m.Run())
}

type graphqlRequest struct {
	Query     string `json:"query"`
	Variables struct {
		Input struct {
			RepositoryID string   `json:"repositoryId"`
			Pattern      string   `json:"pattern"`
			PushActorIDs []string `json:"pushActorIds"`
			Count        int      `json:"requiredApprovingReviewCount"`
			DismissStale bool     `json:"dismissesStaleReviews"`
		} `json:"input"`
	} `json:"variables"`
}

type calls struct {
	rulesetCreates atomic.Int32
	graphql        atomic.Int32
	rest           atomic.Int32
	lastGraphQL    graphqlRequest
	lastRuleset    github.Ruleset
	restBranch     string
}

func failWith(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}

func newEngine(t *testing.T, c *calls, existing []*github.Ruleset, rulesetFails, graphqlFails, restFails bool) *Engine {
	httpClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatchHandler(getRulesets, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(existing)
		})),
		mock.WithRequestMatchHandler(postRuleset, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.rulesetCreates.Add(1)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&c.lastRuleset))
			if rulesetFails {
				failWith(w, http.StatusForbidden, "Upgrade to GitHub Pro or make this repository public to enable this feature.")
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(c.lastRuleset)
		})),
		mock.WithRequestMatchHandler(graphqlEndpoint, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.graphql.Add(1)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&c.lastGraphQL))
			if graphqlFails {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"errors": []map[string]string{{"message": "Resource not accessible by integration"}},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"createBranchProtectionRule": map[string]interface{}{
						"branchProtectionRule": map[string]string{"id": "BPR_1"},
					},
				},
			})
		})),
		mock.WithRequestMatchHandler(updateProtection, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.rest.Add(1)
			c.restBranch = r.URL.Path
			if restFails {
				failWith(w, http.StatusForbidden, "Resource not accessible by integration")
				return
			}
			_ = json.NewEncoder(w).Encode(github.Protection{})
		})),
	)
	return &Engine{Client: github.NewClient(httpClient), GraphQL: githubv4.NewClient(httpClient)}
}

func allBranches() Request {
	return Request{
		Owner:            "octo",
		Repo:             "fork",
		RepositoryNodeID: "R_kgDOAbc",
		ActorNodeID:      "MDM6Qm90MQ==",
		ActorID:          1234,
		Pattern:          "*",
	}
}

func TestRulesetAlreadyExistsIsNoop(t *testing.T) {
	c := &calls{}
	e := newEngine(t, c, []*github.Ruleset{{Name: AllBranchesRulesetName}}, false, false, false)

	tier := e.CreateBranchProtection(context.Background(), allBranches())
	assert.Equal(t, "ruleset", tier)
	assert.Zero(t, c.rulesetCreates.Load())
	assert.Zero(t, c.graphql.Load())
	assert.Zero(t, c.rest.Load())
}

func TestRulesetCreatedWithBypassActor(t *testing.T) {
	c := &calls{}
	e := newEngine(t, c, []*github.Ruleset{{Name: "something-else"}}, false, false, false)

	req := allBranches()
	req.DefaultBranchOnly = true
	req.Pattern = "main"
	assert.Equal(t, "ruleset", e.CreateBranchProtection(context.Background(), req))

	require.Equal(t, int32(1), c.rulesetCreates.Load())
	assert.Equal(t, DefaultBranchRulesetName, c.lastRuleset.Name)
	assert.Equal(t, []string{"~DEFAULT_BRANCH"}, c.lastRuleset.Conditions.RefName.Include)
	require.Len(t, c.lastRuleset.BypassActors, 1)
	assert.Equal(t, int64(1234), c.lastRuleset.BypassActors[0].GetActorID())
	assert.Equal(t, "Integration", c.lastRuleset.BypassActors[0].GetActorType())
	assert.Zero(t, c.graphql.Load())
}

func TestFallsBackToGraphQLWithSameInputs(t *testing.T) {
	c := &calls{}
	e := newEngine(t, c, nil, true, false, false)

	assert.Equal(t, "graphql", e.CreateBranchProtection(context.Background(), allBranches()))
	assert.Equal(t, int32(1), c.rulesetCreates.Load())
	assert.Equal(t, int32(1), c.graphql.Load())
	assert.Zero(t, c.rest.Load())

	input := c.lastGraphQL.Variables.Input
	assert.Contains(t, c.lastGraphQL.Query, "createBranchProtectionRule")
	assert.Equal(t, "R_kgDOAbc", input.RepositoryID)
	assert.Equal(t, "*", input.Pattern)
	assert.Equal(t, []string{"MDM6Qm90MQ=="}, input.PushActorIDs)
	assert.Equal(t, 1, input.Count)
	assert.True(t, input.DismissStale)
}

func TestFallsBackToREST(t *testing.T) {
	c := &calls{}
	e := newEngine(t, c, nil, true, true, false)

	assert.Equal(t, "rest", e.CreateBranchProtection(context.Background(), allBranches()))
	assert.Equal(t, int32(1), c.rest.Load())
	assert.Equal(t, "/repos/octo/fork/branches/*/protection", c.restBranch)
}

func TestAllTiersFailingIsTolerated(t *testing.T) {
	c := &calls{}
	e := newEngine(t, c, nil, true, true, true)

	assert.NotPanics(t, func() {
		assert.Empty(t, e.CreateBranchProtection(context.Background(), allBranches()))
	})
	assert.Equal(t, int32(1), c.rulesetCreates.Load())
	assert.Equal(t, int32(1), c.graphql.Load())
	assert.Equal(t, int32(1), c.rest.Load())
}
