package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantmind-br/docbundle/internal/domain"
)

const (
	// HeaderRateLimit is the rate limit header.
	HeaderRateLimit = "X-RateLimit-Limit"

	// HeaderRateRemaining is the remaining requests header.
	HeaderRateRemaining = "X-RateLimit-Remaining"

	// HeaderRateReset is the reset timestamp header (Unix seconds).
	HeaderRateReset = "X-RateLimit-Reset"

	// HeaderRetryAfter is the retry-after header (seconds or HTTP date).
	HeaderRetryAfter = "Retry-After"

	// DefaultRequestsPerSecond is the proactive throttle rate.
	DefaultRequestsPerSecond = 5.0
)

// RateLimiter throttles requests with a token bucket and tracks the quota
// GitHub reports in response headers.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	known     bool
	bucket    *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps requests per second.
// A non-positive rps disables proactive throttling.
func NewRateLimiter(rps float64) *RateLimiter {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until the token bucket admits a request. While the reported
// quota is exhausted it fails fast with a rate-limit error whose hint is
// the time left until reset, leaving the wait to the caller's retry policy.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if wait := r.exhaustedFor(time.Now()); wait > 0 {
		return domain.NewRateLimitError(fmt.Errorf("quota exhausted, resets in %s", wait.Round(time.Second)), wait)
	}
	return r.bucket.Wait(ctx)
}

// UpdateFromResponse updates quota state from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(HeaderRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
			r.known = true
		}
	}
	if limit := resp.Header.Get(HeaderRateLimit); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			r.limit = val
		}
	}
	if reset := resp.Header.Get(HeaderRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

// IsRateLimited reports whether resp is a rate-limit rejection:
// 429, or 403 with an exhausted quota.
func IsRateLimited(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get(HeaderRateRemaining) == "0"
}

// RetryAfter returns how long the server asked us to wait, preferring
// Retry-After over the quota reset time. Zero means no hint.
func RetryAfter(resp *http.Response, now time.Time) time.Duration {
	if resp == nil {
		return 0
	}
	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil && at.After(now) {
			return at.Sub(now)
		}
	}
	if v := resp.Header.Get(HeaderRateReset); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if at := time.Unix(unix, 0); at.After(now) {
				return at.Sub(now)
			}
		}
	}
	return 0
}

// Quota is the API quota GitHub last reported
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Quota returns the last reported quota and whether any response has
// carried one yet.
func (r *RateLimiter) Quota() (Quota, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Quota{Limit: r.limit, Remaining: r.remaining, Reset: r.resetTime}, r.known
}

// exhaustedFor returns how long until an exhausted quota resets.
// Zero means requests may proceed.
func (r *RateLimiter) exhaustedFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known || r.remaining > 0 || r.resetTime.IsZero() {
		return 0
	}
	wait := r.resetTime.Sub(now)
	if wait <= 0 {
		r.known = false
		return 0
	}
	return wait
}
