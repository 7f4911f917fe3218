package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// AttemptFunc observes every upstream attempt
type AttemptFunc func(op string, attempt int, err error)

// Retrier handles retry logic with exponential backoff.
// MaxAttempts bounds the total number of calls, including the first one.
type Retrier struct {
	maxAttempts         int
	initialInterval     time.Duration
	maxInterval         time.Duration
	multiplier          float64
	randomizationFactor float64
	onAttempt           AttemptFunc
}

// RetrierOptions contains options for creating a Retrier
type RetrierOptions struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	OnAttempt           AttemptFunc
}

// DefaultRetrierOptions returns default retrier options
func DefaultRetrierOptions() RetrierOptions {
	return RetrierOptions{
		MaxAttempts:         3,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// NewRetrier creates a new Retrier with the given options
func NewRetrier(opts RetrierOptions) *Retrier {
	defaults := DefaultRetrierOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaults.InitialInterval
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaults.MaxInterval
	}
	if opts.Multiplier <= 0 {
		opts.Multiplier = defaults.Multiplier
	}
	if opts.RandomizationFactor <= 0 || opts.RandomizationFactor >= 1 {
		opts.RandomizationFactor = defaults.RandomizationFactor
	}

	return &Retrier{
		maxAttempts:         opts.MaxAttempts,
		initialInterval:     opts.InitialInterval,
		maxInterval:         opts.MaxInterval,
		multiplier:          opts.Multiplier,
		randomizationFactor: opts.RandomizationFactor,
		onAttempt:           opts.OnAttempt,
	}
}

// MaxAttempts returns the attempt bound
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// newBackoff creates a new jittered exponential backoff
func (r *Retrier) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.Multiplier = r.multiplier
	b.RandomizationFactor = r.randomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Do executes operation until it succeeds, fails permanently, or the
// attempt bound is reached. A Retry-After hint longer than the computed
// backoff replaces it, capped at the maximum interval.
//
// Exhausted rate limiting is reported as domain.ErrRateLimited, other
// exhausted transient failures as domain.ErrUpstreamUnavailable.
func (r *Retrier) Do(ctx context.Context, op string, operation func(context.Context) error) error {
	b := r.newBackoff()

	var err error
	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err = operation(ctx)
		if r.onAttempt != nil {
			r.onAttempt(op, attempt, err)
		}
		if err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
		if attempt >= r.maxAttempts {
			break
		}

		wait := b.NextBackOff()
		if hint := domain.RetryAfter(err); hint > wait {
			wait = min(hint, r.maxInterval)
		}
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}

	if domain.IsRateLimited(err) {
		return fmt.Errorf("%s: %w after %d attempts: %w", op, domain.ErrRateLimited, attempt, err)
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, domain.ErrUpstreamUnavailable, attempt, err)
}

// RetryWithValue executes an operation with exponential backoff and returns a value
func RetryWithValue[T any](ctx context.Context, r *Retrier, op string, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
