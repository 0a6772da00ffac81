package utils

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig is used by WithRetry. Tests shrink it.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2,
}

// WithRetry runs operation with DefaultRetryConfig.
func WithRetry(ctx context.Context, operation func() error) error {
	return WithRetryConfig(ctx, DefaultRetryConfig, operation)
}

// policy turns cfg into a deterministic exponential backoff bounded by attempts and ctx.
func (cfg RetryConfig) policy(ctx context.Context) backoff.BackOff {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}
	if cfg.BackoffFactor >= 1 {
		b.Multiplier = cfg.BackoffFactor
	}
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// WithRetryConfig runs operation until it succeeds, fails with a non retryable
// error, runs out of attempts or ctx is done. The last error is returned as a *GitHubError.
func WithRetryConfig(ctx context.Context, cfg RetryConfig, operation func() error) error {
	var lastErr *GitHubError
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = WrapGitHubError(err)
		if !lastErr.Retryable {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, cfg.policy(ctx), func(err error, delay time.Duration) {
		slog.Debug("Retrying GitHub API call",
			"attempt", attempt,
			"delay", delay,
			"errorType", lastErr.Type,
			"error", err,
		)
	})
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return WrapGitHubError(err)
}
