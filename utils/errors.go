package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
)

type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// GitHubError is a GitHub API failure classified by how callers should react to it.
type GitHubError struct {
	Type       ErrorType
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *GitHubError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s error (%d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("github %s error: %s", e.Type, e.Message)
}

func (e *GitHubError) Unwrap() error {
	return e.Cause
}

// WrapGitHubError classifies err. 5xx, 429, rate limits and network errors are retryable,
// every other 4xx is not.
func WrapGitHubError(err error) *GitHubError {
	if err == nil {
		return nil
	}

	var ghErr *GitHubError
	if errors.As(err, &ghErr) {
		return ghErr
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &GitHubError{
			Type:       ErrorTypeRateLimit,
			StatusCode: statusOf(rateErr.Response),
			Message:    fmt.Sprintf("rate limit exceeded, resets at %v", rateErr.Rate.Reset.Time),
			Retryable:  true,
			Cause:      err,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &GitHubError{
			Type:       ErrorTypeRateLimit,
			StatusCode: statusOf(abuseErr.Response),
			Message:    abuseErr.Message,
			Retryable:  true,
			Cause:      err,
		}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return classifyStatus(statusOf(respErr.Response), respErr.Message, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &GitHubError{Type: ErrorTypeUnknown, Message: err.Error(), Cause: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || strings.Contains(strings.ToLower(err.Error()), "connection reset") {
		return &GitHubError{Type: ErrorTypeNetwork, Message: err.Error(), Retryable: true, Cause: err}
	}

	return &GitHubError{Type: ErrorTypeUnknown, Message: err.Error(), Cause: err}
}

func classifyStatus(status int, message string, cause error) *GitHubError {
	e := &GitHubError{StatusCode: status, Message: message, Cause: cause}
	switch {
	case status == http.StatusUnauthorized:
		e.Type = ErrorTypeAuth
	case status == http.StatusForbidden && strings.Contains(strings.ToLower(message), "rate limit"):
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
	case status == http.StatusForbidden:
		e.Type = ErrorTypePermission
	case status == http.StatusNotFound:
		e.Type = ErrorTypeNotFound
	case status == http.StatusConflict:
		e.Type = ErrorTypeConflict
	case status == http.StatusUnprocessableEntity:
		e.Type = ErrorTypeValidation
	case status == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
		e.Retryable = true
	case status >= 500:
		e.Type = ErrorTypeServer
		e.Retryable = true
	default:
		e.Type = ErrorTypeUnknown
	}
	return e
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

// IsNotFound reports whether err is a 404 from the GitHub API, which existence
// checks treat as a negative answer rather than a failure.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return WrapGitHubError(err).Type == ErrorTypeNotFound
}

// IsAlreadyExists reports the 422 GitHub answers with when a ref or repo name is taken.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	ghErr := WrapGitHubError(err)
	if ghErr.Type != ErrorTypeValidation {
		return false
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		for _, e := range respErr.Errors {
			if strings.Contains(e.Message, "already exists") {
				return true
			}
		}
	}
	return strings.Contains(err.Error(), "already exists")
}
