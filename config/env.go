package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
)

// AppEnv holds the environment recognized by the app. NEXTAUTH_* are read so
// that a shared deployment env file validates, the dashboard is their only consumer.
type AppEnv struct {
	AppID              int64  `env:"APP_ID"`
	PrivateKey         string `env:"PRIVATE_KEY"`
	GithubClientID     string `env:"GITHUB_CLIENT_ID"`
	GithubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	NextAuthSecret     string `env:"NEXTAUTH_SECRET"`
	NextAuthURL        string `env:"NEXTAUTH_URL"`
	WebhookSecret      string `env:"WEBHOOK_SECRET"`

	PublicOrg  string `env:"PUBLIC_ORG"`
	PrivateOrg string `env:"PRIVATE_ORG"`

	AllowedHandles []string `env:"ALLOWED_HANDLES" envSeparator:","`
	AllowedOrgs    []string `env:"ALLOWED_ORGS" envSeparator:","`

	TrimInternalMergeCommits bool `env:"TRIM_INTERNAL_MERGE_COMMITS"`

	// BotLogin is the app's bot account, e.g. "my-app[bot]". Pushes it
	// makes are never synced back.
	BotLogin string `env:"BOT_LOGIN"`

	SentryDSN         string `env:"SENTRY_DSN"`
	PprofDebugEnabled bool   `env:"ICF_PPROF_DEBUG_ENABLED"`
}

func LoadAppEnv() (*AppEnv, error) {
	appEnv, err := env.ParseAs[AppEnv]()
	if err != nil {
		return nil, fmt.Errorf("could not parse environment: %w", err)
	}
	return &appEnv, nil
}

// RequireApp checks the settings without which no GitHub App client can be built.
func (e *AppEnv) RequireApp() error {
	var missing []string
	if e.AppID == 0 {
		missing = append(missing, "APP_ID")
	}
	if e.PrivateKey == "" {
		missing = append(missing, "PRIVATE_KEY")
	}
	if len(missing) > 0 {
		return &InvalidConfigError{Source: "environment", Violations: lo.Map(missing, func(name string, _ int) string {
			return name + " is required"
		})}
	}
	return nil
}
