package gitops

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Call is one recorded MockGit invocation.
type Call struct {
	Op   string
	Args []string
}

// MockGit records every call instead of running git.
type MockGit struct {
	mu    sync.Mutex
	dir   string
	Calls []Call

	// Errors fails the named operation, e.g. "push" or "rebase".
	Errors map[string]error
	// Files is served by Show, keyed "rev:path".
	Files map[string][]byte
	// Diff is returned by DiffNames.
	Diff []string
	// Refs is filtered by Branches.
	Refs []string
	// Dirty is reported by Status.
	Dirty []string
}

func NewMockGit(dir string) *MockGit {
	return &MockGit{dir: dir, Errors: map[string]error{}, Files: map[string][]byte{}}
}

// MockFactory returns a Factory that always hands out m, rebinding it to dir.
func MockFactory(m *MockGit) Factory {
	return func(dir string) Git {
		m.mu.Lock()
		m.dir = dir
		m.mu.Unlock()
		return m
	}
}

func (m *MockGit) record(op string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{Op: op, Args: args})
	if err, ok := m.Errors[op]; ok {
		return err
	}
	return nil
}

// CallsTo returns the recorded calls of one operation in order.
func (m *MockGit) CallsTo(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []Call
	for _, c := range m.Calls {
		if c.Op == op {
			calls = append(calls, c)
		}
	}
	return calls
}

// Ops returns the operation names in call order.
func (m *MockGit) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}

func (m *MockGit) Dir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dir
}

func (m *MockGit) Init(ctx context.Context) error {
	return m.record("init")
}

func (m *MockGit) Clone(ctx context.Context, repoURL string, args ...string) error {
	return m.record("clone", append([]string{repoURL}, args...)...)
}

func (m *MockGit) AddRemote(ctx context.Context, name, remoteURL string) error {
	return m.record("addRemote", name, remoteURL)
}

func (m *MockGit) Fetch(ctx context.Context, remote string, refs ...string) error {
	return m.record("fetch", append([]string{remote}, refs...)...)
}

func (m *MockGit) CheckoutBranch(ctx context.Context, branch, startPoint string) error {
	return m.record("checkoutBranch", branch, startPoint)
}

func (m *MockGit) Rebase(ctx context.Context, args []string) error {
	return m.record("rebase", args...)
}

func (m *MockGit) MergeFromTo(ctx context.Context, from, to string) error {
	return m.record("mergeFromTo", from, to)
}

func (m *MockGit) Reset(ctx context.Context, args []string) error {
	return m.record("reset", args...)
}

func (m *MockGit) Push(ctx context.Context, remote string, args ...string) error {
	return m.record("push", append([]string{remote}, args...)...)
}

func (m *MockGit) Branches(ctx context.Context, pattern string) ([]string, error) {
	if err := m.record("branch", pattern); err != nil {
		return nil, err
	}
	var out []string
	for _, ref := range m.Refs {
		if ok, _ := doublestar.Match(pattern, ref); ok || pattern == "" {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (m *MockGit) Status(ctx context.Context) (Status, error) {
	if err := m.record("status"); err != nil {
		return Status{}, err
	}
	return Status{Clean: len(m.Dirty) == 0, Changed: m.Dirty}, nil
}

func (m *MockGit) Show(ctx context.Context, rev, path string) ([]byte, error) {
	if err := m.record("show", rev, path); err != nil {
		return nil, err
	}
	content, ok := m.Files[rev+":"+path]
	if !ok {
		return nil, &GitOperationError{Operation: "show", Stderr: fmt.Sprintf("fatal: path '%s' does not exist in '%s'", path, rev), Err: fmt.Errorf("exit status 128")}
	}
	return content, nil
}

func (m *MockGit) DiffNames(ctx context.Context, from, to string) ([]string, error) {
	if err := m.record("diff", from, to); err != nil {
		return nil, err
	}
	return m.Diff, nil
}

func (m *MockGit) RestorePaths(ctx context.Context, source string, paths []string) error {
	return m.record("restore", append([]string{source}, paths...)...)
}

func (m *MockGit) Commit(ctx context.Context, message string) error {
	return m.record("commit", message)
}

// String renders the calls one per line, handy in assertion messages.
func (m *MockGit) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		lines = append(lines, c.Op+" "+strings.Join(c.Args, " "))
	}
	return strings.Join(lines, "\n")
}
