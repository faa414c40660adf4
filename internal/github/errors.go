package github

import (
	"errors"
	"fmt"
	"time"
)

// AuthError reports a missing or rejected credential (401/403). Surfaces
// present a token hint; read-only operations against a warm cache proceed.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return "github: authentication required"
	}
	return "github: " + e.Msg
}

// RateLimitError reports an exhausted API quota, carrying the reset time.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github: rate limited until %s", e.Reset.Format(time.RFC3339))
}

// NotFoundError reports a missing PR, comment, or thread.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("github: %s not found", e.Resource)
}

// ConflictError reports a state conflict. Duplicate reactions and
// already-resolved threads land here; callers treat those as success.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string {
	return "github: conflict: " + e.Msg
}

// TransientError wraps network faults and 5xx responses. The client retries
// these with backoff before giving up.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "github: transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError reports a non-retryable API failure.
type PermanentError struct {
	StatusCode int
	Msg        string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("github: %s (status %d)", e.Msg, e.StatusCode)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
