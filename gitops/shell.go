package gitops

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	defaultTimeout     = 5 * time.Minute
	defaultAuthorName  = "internal-contribution-forks[bot]"
	defaultAuthorEmail = "internal-contribution-forks[bot]@users.noreply.github.com"
)

var credentialsPattern = regexp.MustCompile(`x-access-token:[^@\s]+@`)

// Shell runs the git binary in a working directory. Repository bookkeeping
// (init, remotes, refs, status) goes through go-git, history rewriting through git itself.
type Shell struct {
	workDir     string
	timeout     time.Duration
	environment []string
}

type Option func(*Shell)

func WithTimeout(timeout time.Duration) Option {
	return func(g *Shell) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func WithIdentity(name, email string) Option {
	return func(g *Shell) {
		g.environment = append(g.environment,
			"GIT_AUTHOR_NAME="+name,
			"GIT_AUTHOR_EMAIL="+email,
			"GIT_COMMITTER_NAME="+name,
			"GIT_COMMITTER_EMAIL="+email,
		)
	}
}

func NewShell(workDir string, opts ...Option) *Shell {
	env := append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_EDITOR=true",
		"GIT_SEQUENCE_EDITOR=true",
	)
	g := &Shell{
		workDir:     workDir,
		timeout:     defaultTimeout,
		environment: env,
	}
	WithIdentity(defaultAuthorName, defaultAuthorEmail)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewShellFactory returns a Factory producing Shells with opts applied.
func NewShellFactory(opts ...Option) Factory {
	return func(dir string) Git {
		return NewShell(dir, opts...)
	}
}

func (g *Shell) Dir() string {
	return g.workDir
}

func (g *Shell) runCommand(ctx context.Context, operation string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir
	cmd.Env = g.environment

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running git command", "operation", operation, "dir", g.workDir)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", &GitOperationError{
			Operation: operation,
			Stderr:    redact(strings.TrimSpace(stderr.String())),
			Err:       err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

func redact(s string) string {
	return credentialsPattern.ReplaceAllString(s, "x-access-token:***@")
}

func (g *Shell) open() (*git.Repository, error) {
	repo, err := git.PlainOpen(g.workDir)
	if err != nil {
		return nil, &GitOperationError{Operation: "open", Err: err}
	}
	return repo, nil
}

func (g *Shell) Init(ctx context.Context) error {
	if _, err := git.PlainInit(g.workDir, false); err != nil {
		return &GitOperationError{Operation: "init", Err: err}
	}
	return nil
}

// Clone clones repoURL into the working directory, which must be empty.
func (g *Shell) Clone(ctx context.Context, repoURL string, args ...string) error {
	cloneArgs := append([]string{"clone"}, args...)
	cloneArgs = append(cloneArgs, repoURL, g.workDir)
	_, err := g.runCommand(ctx, "clone", cloneArgs...)
	return err
}

func (g *Shell) AddRemote(ctx context.Context, name, remoteURL string) error {
	repo, err := g.open()
	if err != nil {
		return err
	}
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: name,
		URLs: []string{remoteURL},
	})
	if err != nil {
		return &GitOperationError{Operation: "remote add " + name, Err: err}
	}
	return nil
}

func (g *Shell) Fetch(ctx context.Context, remote string, refs ...string) error {
	args := append([]string{"fetch", "--no-tags", remote}, refs...)
	_, err := g.runCommand(ctx, "fetch "+remote, args...)
	return err
}

// CheckoutBranch creates or resets branch to startPoint and checks it out.
func (g *Shell) CheckoutBranch(ctx context.Context, branch, startPoint string) error {
	_, err := g.runCommand(ctx, "checkout "+branch, "checkout", "-B", branch, startPoint)
	return err
}

func (g *Shell) Rebase(ctx context.Context, args []string) error {
	_, err := g.runCommand(ctx, "rebase", append([]string{"rebase"}, args...)...)
	if err != nil {
		if _, abortErr := g.runCommand(ctx, "rebase --abort", "rebase", "--abort"); abortErr != nil {
			slog.Debug("Could not abort rebase", "error", abortErr)
		}
	}
	return err
}

// MergeFromTo merges from into to, leaving to checked out.
func (g *Shell) MergeFromTo(ctx context.Context, from, to string) error {
	if _, err := g.runCommand(ctx, "checkout "+to, "checkout", to); err != nil {
		return err
	}
	_, err := g.runCommand(ctx, "merge", "merge", "--no-edit", from)
	return err
}

func (g *Shell) Reset(ctx context.Context, args []string) error {
	_, err := g.runCommand(ctx, "reset", append([]string{"reset"}, args...)...)
	return err
}

func (g *Shell) Push(ctx context.Context, remote string, args ...string) error {
	pushArgs := append([]string{"push", remote}, args...)
	_, err := g.runCommand(ctx, "push "+remote, pushArgs...)
	return err
}

// Branches lists local branches and remote tracking branches ("remote/branch")
// whose short name matches the doublestar pattern.
func (g *Shell) Branches(ctx context.Context, pattern string) ([]string, error) {
	repo, err := g.open()
	if err != nil {
		return nil, err
	}
	refs, err := repo.References()
	if err != nil {
		return nil, &GitOperationError{Operation: "branch", Err: err}
	}
	defer refs.Close()

	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name()
		if !name.IsBranch() && !name.IsRemote() {
			return nil
		}
		short := name.Short()
		if strings.HasSuffix(short, "/HEAD") {
			return nil
		}
		if pattern != "" {
			ok, err := doublestar.Match(pattern, short)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		branches = append(branches, short)
		return nil
	})
	if err != nil {
		return nil, &GitOperationError{Operation: "branch", Err: err}
	}
	return branches, nil
}

func (g *Shell) Status(ctx context.Context) (Status, error) {
	repo, err := g.open()
	if err != nil {
		return Status{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return Status{}, &GitOperationError{Operation: "status", Err: err}
	}
	st, err := wt.Status()
	if err != nil {
		return Status{}, &GitOperationError{Operation: "status", Err: err}
	}
	status := Status{Clean: st.IsClean()}
	for path, fileStatus := range st {
		if fileStatus.Staging != git.Unmodified || fileStatus.Worktree != git.Unmodified {
			status.Changed = append(status.Changed, path)
		}
	}
	return status, nil
}

// Show returns the content of path at rev.
func (g *Shell) Show(ctx context.Context, rev, path string) ([]byte, error) {
	out, err := g.runCommand(ctx, "show", "show", rev+":"+path)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func (g *Shell) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	out, err := g.runCommand(ctx, "diff", "diff", "--name-only", "--no-renames", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RestorePaths makes paths in the working tree and index match source. Paths
// absent from source are removed.
func (g *Shell) RestorePaths(ctx context.Context, source string, paths []string) error {
	for _, path := range paths {
		_, err := g.runCommand(ctx, "cat-file", "cat-file", "-e", source+":"+path)
		if err == nil {
			if _, err := g.runCommand(ctx, "checkout "+path, "checkout", source, "--", path); err != nil {
				return err
			}
			continue
		}
		var opErr *GitOperationError
		if !errors.As(err, &opErr) {
			return err
		}
		if _, err := g.runCommand(ctx, "rm "+path, "rm", "-r", "-q", "--cached", "--ignore-unmatch", "--", path); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(g.workDir, path)); err != nil {
			return fmt.Errorf("could not remove %s: %w", path, err)
		}
	}
	return nil
}

func (g *Shell) Commit(ctx context.Context, message string) error {
	_, err := g.runCommand(ctx, "commit", "commit", "-q", "-m", message)
	return err
}
