package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-github/v68/github"
	"gopkg.in/yaml.v3"

	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const (
	OrgConfigRepo = ".github"
	OrgConfigPath = "internal-contribution-forks/config.yml"
)

// OrgConfig pairs the public contribution org with the private org holding mirrors.
type OrgConfig struct {
	PublicOrg  string `yaml:"publicOrg" json:"publicOrg"`
	PrivateOrg string `yaml:"privateOrg" json:"privateOrg"`
}

// Resolver resolves the OrgConfig for an organization. It never caches,
// every call reads the environment or the org's config file again.
type Resolver struct {
	PublicOrg            string
	PrivateOrg           string
	GithubClientProvider utils.GithubClientProvider
}

func NewResolver(appEnv *AppEnv, gh utils.GithubClientProvider) *Resolver {
	return &Resolver{
		PublicOrg:            appEnv.PublicOrg,
		PrivateOrg:           appEnv.PrivateOrg,
		GithubClientProvider: gh,
	}
}

// GetConfig returns the env configured orgs when PUBLIC_ORG is set, regardless of orgId.
// Otherwise it reads <orgId>/.github/internal-contribution-forks/config.yml, falling back
// to orgId for both orgs when the file does not exist.
func (r *Resolver) GetConfig(ctx context.Context, orgId string) (*OrgConfig, error) {
	if r.PublicOrg != "" {
		privateOrg := r.PrivateOrg
		if privateOrg == "" {
			privateOrg = r.PublicOrg
		}
		return validateOrgConfig("environment", map[string]interface{}{
			"publicOrg":  r.PublicOrg,
			"privateOrg": privateOrg,
		})
	}

	if orgId == "" {
		return nil, &ConfigError{Message: "Organization ID is required"}
	}

	client, _, err := r.GithubClientProvider.ForOrg(ctx, orgId)
	if err != nil {
		return nil, fmt.Errorf("could not get client for org %s: %w", orgId, err)
	}

	var content *github.RepositoryContent
	err = utils.WithRetry(ctx, func() error {
		var err error
		content, _, _, err = client.Repositories.GetContents(ctx, orgId, OrgConfigRepo, OrgConfigPath, nil)
		return err
	})
	if utils.IsNotFound(err) {
		slog.Warn("No config file found, using organization for both public and private org",
			"orgId", orgId,
			"path", fmt.Sprintf("%s/%s/%s", orgId, OrgConfigRepo, OrgConfigPath),
		)
		return &OrgConfig{PublicOrg: orgId, PrivateOrg: orgId}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not fetch config for org %s: %w", orgId, err)
	}
	if content == nil {
		return nil, &InvalidConfigError{Source: OrgConfigPath, Violations: []string{"path is not a file"}}
	}

	body, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("could not decode config for org %s: %w", orgId, err)
	}
	return ParseOrgConfig(OrgConfigPath, []byte(body))
}

// ParseOrgConfig decodes and validates a YAML config file body.
func ParseOrgConfig(source string, body []byte) (*OrgConfig, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, &InvalidConfigError{Source: source, Violations: []string{err.Error()}}
	}
	return validateOrgConfig(source, raw)
}

func validateOrgConfig(source string, raw map[string]interface{}) (*OrgConfig, error) {
	var violations []string
	fields := map[string]string{}
	for _, key := range []string{"publicOrg", "privateOrg"} {
		value, ok := raw[key]
		if !ok || value == nil {
			violations = append(violations, fmt.Sprintf("%s: required", key))
			continue
		}
		s, ok := value.(string)
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: expected string, got %T", key, value))
			continue
		}
		if s == "" {
			violations = append(violations, fmt.Sprintf("%s: must not be empty", key))
			continue
		}
		fields[key] = s
	}
	if len(violations) > 0 {
		return nil, &InvalidConfigError{Source: source, Violations: violations}
	}
	return &OrgConfig{PublicOrg: fields["publicOrg"], PrivateOrg: fields["privateOrg"]}, nil
}
