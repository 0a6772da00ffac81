package checks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/go-github/v68/github"

	"github.com/github-community-projects/internal-contribution-forks/utils"
)

const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	ConclusionSuccess  = "success"
	ConclusionFailure  = "failure"
	ConclusionTimedOut = "timed_out"

	ResyncActionID = "resync"

	// timeoutMargin is how long before the deadline a run reports itself timed out.
	timeoutMargin = 5 * time.Second
)

// Spec is everything that differs between the kinds of check the app posts.
type Spec struct {
	Name    string
	HeadSHA string
	Title   string
	Summary string
	Actions []*github.CheckRunAction
}

var resyncAction = &github.CheckRunAction{
	Label:       "Resync",
	Description: "Resync with the upstream repository",
	Identifier:  ResyncActionID,
}

// DefaultCheck reports the health of the upstream relationship on the default branch.
func DefaultCheck(headSHA string) Spec {
	return Spec{
		Name:    "Upstream sync",
		HeadSHA: headSHA,
		Title:   "Upstream relationship",
		Summary: "Keeps the root branch and upstream settings of this repository in sync with the upstream repository.",
		Actions: []*github.CheckRunAction{resyncAction},
	}
}

// RootCheck floats on the root branch, which only moves by force push from the root repository.
func RootCheck(headSHA string) Spec {
	return Spec{
		Name:    "Root branch",
		HeadSHA: headSHA,
		Title:   "Root branch",
		Summary: "The root branch mirrors the default branch of the root repository.",
		Actions: []*github.CheckRunAction{resyncAction},
	}
}

func FeatureCheck(branch string, headSHA string) Spec {
	return Spec{
		Name:    "Upstream branch",
		HeadSHA: headSHA,
		Title:   fmt.Sprintf("Upstream branch for %s", branch),
		Summary: fmt.Sprintf("Ensures an upstream/ branch exists for %s.", branch),
	}
}

func UpstreamCheck(branch string, headSHA string) Spec {
	return Spec{
		Name:    "Push to upstream",
		HeadSHA: headSHA,
		Title:   fmt.Sprintf("Push %s to upstream", branch),
		Summary: fmt.Sprintf("Mirrors %s to the upstream repository.", branch),
	}
}

// Check is one GitHub check run driven through queued, in_progress and completed.
type Check struct {
	client *github.Client
	owner  string
	repo   string
	spec   Spec
	id     int64

	timeRemaining func() time.Duration
}

type Option func(*Check)

// WithTimeRemaining installs a probe for the time left before the caller's
// environment kills the operation. Without one, With never reports timed_out.
func WithTimeRemaining(probe func() time.Duration) Option {
	return func(c *Check) {
		c.timeRemaining = probe
	}
}

// DeadlineProbe returns a time remaining probe for ctx, or nil when ctx has no deadline.
func DeadlineProbe(ctx context.Context) func() time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	return func() time.Duration {
		return time.Until(deadline)
	}
}

// New creates the check run in the queued state.
func New(ctx context.Context, client *github.Client, owner, repo string, spec Spec, opts ...Option) (*Check, error) {
	c := &Check{client: client, owner: owner, repo: repo, spec: spec}
	for _, opt := range opts {
		opt(c)
	}

	var run *github.CheckRun
	err := utils.WithRetry(ctx, func() error {
		var err error
		run, _, err = client.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
			Name:    spec.Name,
			HeadSHA: spec.HeadSHA,
			Status:  github.Ptr(StatusQueued),
			Output:  c.output(""),
			Actions: spec.Actions,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("could not create check run %q: %w", spec.Name, err)
	}
	c.id = run.GetID()
	return c, nil
}

func (c *Check) ID() int64 {
	return c.id
}

func (c *Check) Spec() Spec {
	return c.spec
}

func (c *Check) output(extra string) *github.CheckRunOutput {
	text := c.spec.Summary
	if extra != "" {
		text = text + "\n\n" + extra
	}
	return &github.CheckRunOutput{
		Title:   github.Ptr(c.spec.Title),
		Summary: github.Ptr(text),
	}
}

// Send updates the check run. conclusion is ignored unless status is completed,
// extra is appended to the static output text.
func (c *Check) Send(ctx context.Context, status string, conclusion string, extra string) error {
	opts := github.UpdateCheckRunOptions{
		Name:    c.spec.Name,
		Status:  github.Ptr(status),
		Output:  c.output(extra),
		Actions: c.spec.Actions,
	}
	if status == StatusCompleted {
		opts.Conclusion = github.Ptr(conclusion)
		opts.CompletedAt = &github.Timestamp{Time: time.Now()}
	}
	err := utils.WithRetry(ctx, func() error {
		_, _, err := c.client.Checks.UpdateCheckRun(ctx, c.owner, c.repo, c.id, opts)
		return err
	})
	if err != nil {
		return fmt.Errorf("could not update check run %q to %s: %w", c.spec.Name, status, err)
	}
	return nil
}

func (c *Check) SendSuccess(ctx context.Context) error {
	return c.Send(ctx, StatusCompleted, ConclusionSuccess, "")
}

type result[R any] struct {
	value R
	err   error
}

// With runs fn under the check: in_progress first, then success or failure by fn's outcome.
// When a time remaining probe is set and the deadline minus a margin passes first, the check
// is marked timed_out, fn's context is cancelled and With waits for fn to return before
// giving back the zero value and a nil error. A panic in fn is reported as a failure.
func With[R any](ctx context.Context, c *Check, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	logger := slog.With(slog.String("check", c.spec.Name), slog.Int64("checkRunId", c.id))

	if err := c.Send(ctx, StatusInProgress, "", ""); err != nil {
		return zero, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan result[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Recovered from panic in checked operation", "error", r, "stack", string(debug.Stack()))
				done <- result[R]{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		value, err := fn(runCtx)
		done <- result[R]{value: value, err: err}
	}()

	var timeout <-chan time.Time
	if c.timeRemaining != nil {
		wait := c.timeRemaining() - timeoutMargin
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-done:
		// ctx may be cancelled by now, the final status still has to land
		sendCtx := context.WithoutCancel(ctx)
		if r.err != nil {
			if err := c.Send(sendCtx, StatusCompleted, ConclusionFailure, r.err.Error()); err != nil {
				logger.Error("Could not report check failure", "error", err)
			}
			return zero, r.err
		}
		if err := c.Send(sendCtx, StatusCompleted, ConclusionSuccess, ""); err != nil {
			logger.Error("Could not report check success", "error", err)
		}
		return r.value, nil
	case <-timeout:
		remaining := c.timeRemaining()
		logger.Warn("Check run is about to time out, cancelling operation", "remaining", remaining)
		extra := fmt.Sprintf("Timed out with %s remaining.", remaining.Round(time.Millisecond))
		if err := c.Send(context.WithoutCancel(ctx), StatusCompleted, ConclusionTimedOut, extra); err != nil {
			logger.Error("Could not report check timeout", "error", err)
		}
		cancel()
		r := <-done
		if r.err != nil {
			logger.Info("Operation stopped after timeout", "error", r.err)
		}
		return zero, nil
	}
}
