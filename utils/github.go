package utils

import (
	"context"
	"fmt"
	"log/slog"
	net "net/http"
	"slices"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v68/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// GithubClientProvider hands out API clients for the three identities the app acts as:
// the app itself, an org installation and the signed in user.
type GithubClientProvider interface {
	App(ctx context.Context) (*github.Client, error)
	// Get mints a fresh installation token and returns a client using it.
	Get(ctx context.Context, installationId int64) (*github.Client, string, error)
	ForOrg(ctx context.Context, org string) (*github.Client, string, error)
	Personal(ctx context.Context, accessToken string) *github.Client
	GraphQL(ctx context.Context, token string) *githubv4.Client
}

type GithubRealClientProvider struct {
	Credentials *AppCredentials
	Transport   net.RoundTripper
}

func NewGithubRealClientProvider(creds *AppCredentials) *GithubRealClientProvider {
	return &GithubRealClientProvider{Credentials: creds, Transport: net.DefaultTransport}
}

func (gh *GithubRealClientProvider) appsTransport() *ghinstallation.AppsTransport {
	tr := gh.Transport
	if tr == nil {
		tr = net.DefaultTransport
	}
	return ghinstallation.NewAppsTransportFromPrivateKey(tr, gh.Credentials.appID, gh.Credentials.key)
}

func (gh *GithubRealClientProvider) App(ctx context.Context) (*github.Client, error) {
	if gh.Credentials == nil {
		return nil, fmt.Errorf("github app credentials are not configured")
	}
	return github.NewClient(&net.Client{Transport: gh.appsTransport()}), nil
}

func (gh *GithubRealClientProvider) Get(ctx context.Context, installationId int64) (*github.Client, string, error) {
	if gh.Credentials == nil {
		return nil, "", fmt.Errorf("github app credentials are not configured")
	}
	itr := ghinstallation.NewFromAppsTransport(gh.appsTransport(), installationId)
	token, err := itr.Token(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("error initialising github app installation %d: %w", installationId, err)
	}
	return github.NewClient(&net.Client{Transport: itr}), token, nil
}

func (gh *GithubRealClientProvider) ForOrg(ctx context.Context, org string) (*github.Client, string, error) {
	appClient, err := gh.App(ctx)
	if err != nil {
		return nil, "", err
	}
	var installation *github.Installation
	err = WithRetry(ctx, func() error {
		var err error
		installation, _, err = appClient.Apps.FindOrganizationInstallation(ctx, org)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("could not find installation for org %s: %w", org, err)
	}
	slog.Debug("Resolved org installation", "org", org, "installationId", installation.GetID())
	return gh.Get(ctx, installation.GetID())
}

func (gh *GithubRealClientProvider) Personal(ctx context.Context, accessToken string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

func (gh *GithubRealClientProvider) GraphQL(ctx context.Context, token string) *githubv4.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return githubv4.NewClient(oauth2.NewClient(ctx, ts))
}

// GithubClientMockProvider serves every identity from one mocked http client.
type GithubClientMockProvider struct {
	MockedHTTPClient *net.Client
	// MissingOrgs lists orgs the app is not installed on.
	MissingOrgs []string
}

func (gh *GithubClientMockProvider) App(ctx context.Context) (*github.Client, error) {
	return github.NewClient(gh.MockedHTTPClient), nil
}

func (gh *GithubClientMockProvider) Get(ctx context.Context, installationId int64) (*github.Client, string, error) {
	return github.NewClient(gh.MockedHTTPClient), fmt.Sprintf("installation-token-%d", installationId), nil
}

func (gh *GithubClientMockProvider) ForOrg(ctx context.Context, org string) (*github.Client, string, error) {
	if slices.Contains(gh.MissingOrgs, org) {
		return nil, "", &GitHubError{Type: ErrorTypeNotFound, StatusCode: net.StatusNotFound, Message: "installation not found"}
	}
	return github.NewClient(gh.MockedHTTPClient), "installation-token-" + org, nil
}

func (gh *GithubClientMockProvider) Personal(ctx context.Context, accessToken string) *github.Client {
	return github.NewClient(gh.MockedHTTPClient)
}

func (gh *GithubClientMockProvider) GraphQL(ctx context.Context, token string) *githubv4.Client {
	return githubv4.NewClient(gh.MockedHTTPClient)
}
