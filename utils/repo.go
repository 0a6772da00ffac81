package utils

import (
	"fmt"
	"net/url"
	"strings"
)

const GithubHost = "github.com"

// RepoRef identifies a repository on github.com.
type RepoRef struct {
	Owner string
	Name  string
}

func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

func (r RepoRef) CloneURL() string {
	return fmt.Sprintf("https://%s/%s/%s.git", GithubHost, r.Owner, r.Name)
}

// ParseRepoRef accepts "owner/repo", https URLs and scp style git URLs.
func ParseRepoRef(value string) (RepoRef, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return RepoRef{}, fmt.Errorf("empty repository reference")
	}

	path := v
	switch {
	case strings.HasPrefix(v, "git@"):
		_, after, ok := strings.Cut(v, ":")
		if !ok {
			return RepoRef{}, fmt.Errorf("invalid repository reference %q", value)
		}
		path = after
	case strings.Contains(v, "://"):
		parsed, err := url.Parse(v)
		if err != nil {
			return RepoRef{}, fmt.Errorf("invalid repository url %q: %w", value, err)
		}
		path = parsed.Path
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("invalid repository reference %q", value)
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}
