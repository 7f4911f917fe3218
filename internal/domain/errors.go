package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies the failure reported in a Bundle
type ErrorCode string

const (
	CodeBadRequest           ErrorCode = "BAD_REQUEST"
	CodeRefNotFound          ErrorCode = "RefNotFound"
	CodeContentNotFound      ErrorCode = "ContentNotFound"
	CodeRateLimited          ErrorCode = "RateLimited"
	CodeUpstreamUnavailable  ErrorCode = "UpstreamUnavailable"
	CodeMalformedContent     ErrorCode = "MalformedContent"
	CodeMalformedFrontmatter ErrorCode = "MalformedFrontmatter"
	CodeCancelled            ErrorCode = "Cancelled"
)

// Sentinel errors
var (
	// ErrNotFound is returned by providers when an object does not exist upstream
	ErrNotFound = errors.New("not found")

	// ErrCacheMiss indicates a cache miss
	ErrCacheMiss = errors.New("cache miss")

	// ErrBadRequest indicates invalid caller input
	ErrBadRequest = errors.New("bad request")

	// ErrRefNotFound indicates the ref matched no branch, tag or commit
	ErrRefNotFound = errors.New("ref not found")

	// ErrContentNotFound indicates the path does not exist at the commit
	ErrContentNotFound = errors.New("content not found")

	// ErrRateLimited indicates the upstream kept rate limiting until retries ran out
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamUnavailable indicates the upstream could not be reached
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedContent indicates the content could not be decoded as text
	ErrMalformedContent = errors.New("malformed content")

	// ErrMalformedFrontmatter indicates an invalid frontmatter block
	ErrMalformedFrontmatter = errors.New("malformed frontmatter")

	// ErrCancelled indicates the caller cancelled the build
	ErrCancelled = errors.New("cancelled")
)

// UpstreamError represents a failed call to the hosting provider
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError creates a new UpstreamError
func NewUpstreamError(op string, statusCode int, err error) *UpstreamError {
	return &UpstreamError{
		Op:         op,
		StatusCode: statusCode,
		Err:        err,
	}
}

// RetryableError indicates an error that can be retried
type RetryableError struct {
	Err         error
	RetryAfter  time.Duration // zero if unknown
	RateLimited bool
}

func (e *RetryableError) Error() string {
	kind := "retryable error"
	if e.RateLimited {
		kind = "rate limited"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s): %v", kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %v", kind, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrRateLimited) match rate-limit signals
func (e *RetryableError) Is(target error) bool {
	return e.RateLimited && target == ErrRateLimited
}

// NewRateLimitError wraps err as a rate-limit signal
func NewRateLimitError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter, RateLimited: true}
}

// NewTransientError wraps err as a retryable upstream failure
func NewTransientError(err error) *RetryableError {
	return &RetryableError{Err: fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)}
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if err == nil || isContextErr(err) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.StatusCode {
		case 429, 502, 503, 504:
			return true
		}
	}

	return errors.Is(err, ErrRateLimited)
}

// IsRateLimited reports whether err carries a rate-limit signal
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var upstream *UpstreamError
	return errors.As(err, &upstream) && upstream.StatusCode == 429
}

// RetryAfter extracts the server-provided wait hint, if any
func RetryAfter(err error) time.Duration {
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return retryable.RetryAfter
	}
	return 0
}

// CodeOf maps an error to the code reported in a Bundle.
// Unknown errors are reported as UpstreamUnavailable.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	case errors.Is(err, ErrRefNotFound):
		return CodeRefNotFound
	case errors.Is(err, ErrContentNotFound):
		return CodeContentNotFound
	case errors.Is(err, ErrMalformedFrontmatter):
		return CodeMalformedFrontmatter
	case errors.Is(err, ErrMalformedContent):
		return CodeMalformedContent
	case IsRateLimited(err):
		return CodeRateLimited
	default:
		return CodeUpstreamUnavailable
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrBadRequest
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
