package gitops

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"

	"github.com/google/uuid"
)

// Git is the set of git operations the sync and provisioning flows run against
// one scratch working directory.
type Git interface {
	Dir() string
	Init(ctx context.Context) error
	Clone(ctx context.Context, repoURL string, args ...string) error
	AddRemote(ctx context.Context, name, remoteURL string) error
	Fetch(ctx context.Context, remote string, refs ...string) error
	CheckoutBranch(ctx context.Context, branch, startPoint string) error
	Rebase(ctx context.Context, args []string) error
	MergeFromTo(ctx context.Context, from, to string) error
	Reset(ctx context.Context, args []string) error
	Push(ctx context.Context, remote string, args ...string) error
	Branches(ctx context.Context, pattern string) ([]string, error)
	Status(ctx context.Context) (Status, error)
	Show(ctx context.Context, rev, path string) ([]byte, error)
	DiffNames(ctx context.Context, from, to string) ([]string, error)
	RestorePaths(ctx context.Context, source string, paths []string) error
	Commit(ctx context.Context, message string) error
}

// Factory builds a Git bound to dir.
type Factory func(dir string) Git

type Status struct {
	Clean   bool
	Changed []string
}

// GitOperationError is returned for any git subprocess exiting non zero.
type GitOperationError struct {
	Operation string
	Stderr    string
	Err       error
}

func (e *GitOperationError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s failed: %v: %s", e.Operation, e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s failed: %v", e.Operation, e.Err)
}

func (e *GitOperationError) Unwrap() error {
	return e.Err
}

// AuthURL embeds an installation token into an https clone url.
func AuthURL(repoURL string, token string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %v", err)
	}
	if token != "" {
		parsedURL.User = url.UserPassword("x-access-token", token)
	}
	return parsedURL.String(), nil
}

// RepoURL is AuthURL for a github.com owner/repo pair.
func RepoURL(owner, repo, token string) string {
	u := &url.URL{Scheme: "https", Host: "github.com", Path: "/" + owner + "/" + repo + ".git"}
	if token != "" {
		u.User = url.UserPassword("x-access-token", token)
	}
	return u.String()
}

// WithScratch runs action in a fresh temporary directory that is removed
// afterwards, whether action fails or not.
func WithScratch(ctx context.Context, prefix string, action func(dir string) error) error {
	dir, err := os.MkdirTemp("", fmt.Sprintf("%s-%s-", prefix, uuid.NewString()[:8]))
	if err != nil {
		return fmt.Errorf("could not create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("Could not remove scratch dir", "dir", dir, "error", err)
		}
	}()
	return action(dir)
}
