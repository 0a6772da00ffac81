package utils

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseError(status int, message string, details ...github.Error) error {
	return &github.ErrorResponse{
		Response: &http.Response{StatusCode: status, Request: &http.Request{Method: http.MethodGet}},
		Message:  message,
		Errors:   details,
	}
}

func TestWrapGitHubError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{name: "unauthorized", err: responseError(401, "Bad credentials"), wantType: ErrorTypeAuth},
		{name: "forbidden", err: responseError(403, "Resource not accessible by integration"), wantType: ErrorTypePermission},
		{name: "secondary rate limit", err: responseError(403, "You have exceeded a secondary rate limit"), wantType: ErrorTypeRateLimit, retryable: true},
		{name: "not found", err: responseError(404, "Not Found"), wantType: ErrorTypeNotFound},
		{name: "conflict", err: responseError(409, "Git Repository is empty"), wantType: ErrorTypeConflict},
		{name: "validation", err: responseError(422, "Validation Failed"), wantType: ErrorTypeValidation},
		{name: "too many requests", err: responseError(429, "slow down"), wantType: ErrorTypeRateLimit, retryable: true},
		{name: "server", err: responseError(502, "Bad Gateway"), wantType: ErrorTypeServer, retryable: true},
		{name: "rate limit", err: &github.RateLimitError{Response: &http.Response{StatusCode: 403, Request: &http.Request{Method: http.MethodGet}}, Message: "API rate limit exceeded"}, wantType: ErrorTypeRateLimit, retryable: true},
		{name: "canceled", err: context.Canceled, wantType: ErrorTypeUnknown},
		{name: "connection reset", err: errors.New("read tcp: connection reset by peer"), wantType: ErrorTypeNetwork, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapGitHubError(tt.err)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestWrapGitHubErrorKeepsClassifiedErrors(t *testing.T) {
	assert.Nil(t, WrapGitHubError(nil))

	inner := &GitHubError{Type: ErrorTypeConflict}
	assert.Same(t, inner, WrapGitHubError(inner))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(responseError(404, "Not Found")))
	assert.False(t, IsNotFound(responseError(403, "Forbidden")))
	assert.False(t, IsNotFound(nil))
}

func TestIsAlreadyExists(t *testing.T) {
	assert.True(t, IsAlreadyExists(responseError(422, "Reference already exists")))
	assert.True(t, IsAlreadyExists(responseError(422, "Repository creation failed.", github.Error{Message: "name already exists on this account"})))
	assert.False(t, IsAlreadyExists(responseError(422, "Validation Failed")))
	assert.False(t, IsAlreadyExists(responseError(409, "already exists")))
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}

	t.Run("retries retryable errors", func(t *testing.T) {
		calls := 0
		err := WithRetryConfig(t.Context(), cfg, func() error {
			calls++
			if calls < 3 {
				return responseError(502, "Bad Gateway")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		err := WithRetryConfig(t.Context(), cfg, func() error {
			calls++
			return responseError(404, "Not Found")
		})
		assert.True(t, IsNotFound(err))
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := WithRetryConfig(t.Context(), cfg, func() error {
			calls++
			return responseError(500, "boom")
		})
		var ghErr *GitHubError
		require.True(t, errors.As(err, &ghErr))
		assert.Equal(t, ErrorTypeServer, ghErr.Type)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when context is done", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		calls := 0
		slow := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 1}
		err := WithRetryConfig(ctx, slow, func() error {
			calls++
			return responseError(503, "unavailable")
		})
		var ghErr *GitHubError
		require.True(t, errors.As(err, &ghErr))
		assert.Equal(t, http.StatusServiceUnavailable, ghErr.StatusCode)
		assert.Equal(t, 1, calls)
	})

	t.Run("single attempt never waits", func(t *testing.T) {
		calls := 0
		once := RetryConfig{MaxAttempts: 1, InitialDelay: time.Hour, BackoffFactor: 2}
		err := WithRetryConfig(t.Context(), once, func() error {
			calls++
			return responseError(502, "Bad Gateway")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
