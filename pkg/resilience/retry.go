package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Jitter adds up to Jitter*delay of random slack to every wait.
	Jitter float64
	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, MaxBackoff: 2 * time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, the retry
// budget is spent or ctx is done.
func (r RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !r.retryable(err) || attempt == r.MaxRetries {
			return err
		}
		timer := time.NewTimer(r.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// IsRetryable rejects cancellation and open circuits; everything else is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrCircuitOpen)
}

func (r RetryPolicy) retryable(err error) bool {
	if r.Retryable != nil {
		return r.Retryable(err)
	}
	return IsRetryable(err)
}

func (r RetryPolicy) delay(attempt int) time.Duration {
	d := r.Backoff << attempt
	if r.MaxBackoff > 0 && (d > r.MaxBackoff || d <= 0) {
		d = r.MaxBackoff
	}
	if r.Jitter > 0 {
		d += time.Duration(float64(d) * r.Jitter * rand.Float64())
	}
	return d
}
