package bulk

import (
	"context"
	"errors"
	"time"
)

// Retry defaults
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second
)

// ErrUnknownAfterRetries is reported when every attempt failed without
// leaving an error behind.
var ErrUnknownAfterRetries = errors.New("Unknown error after retries")

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryPolicy runs a single Producer call with bounded exponential backoff.
// Attempt n (0-based) that fails transiently is followed by a wait of
// BaseDelay * 2^n. There is no wait after the final attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration

	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc

	// OnRetry, if set, is called before each wait with the failed attempt
	// number and its error.
	OnRetry func(attempt int, err error)
}

// NewRetryPolicy returns a policy with the given limits. Non-positive values
// fall back to the defaults.
func NewRetryPolicy(maxRetries int, baseDelay time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. It returns the last result, the number of attempts
// made and the final error. A context cancelled while waiting ends the loop
// with the context's error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) (ProduceResult, error)) (ProduceResult, int, error) {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxRetries; attempt++ {
		attempts++
		result, err := fn(ctx)
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		if !Classify(err).Retryable() {
			return ProduceResult{}, attempts, err
		}
		if ctx.Err() != nil {
			return ProduceResult{}, attempts, ctx.Err()
		}
		if attempt == maxRetries-1 {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if err := sleep(ctx, p.backoff(attempt)); err != nil {
			return ProduceResult{}, attempts, err
		}
	}

	if lastErr == nil {
		lastErr = ErrUnknownAfterRetries
	}
	return ProduceResult{}, attempts, lastErr
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	return base << uint(attempt)
}

// sleepContext waits for d unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
