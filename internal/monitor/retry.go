package monitor

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryBackoff = 100 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// retryPolicy retries a cycle step with doubling backoff, capped at
// maxRetryBackoff. Cancellation is never retried.
type retryPolicy struct {
	maxRetries int
	backoff    time.Duration
	// onRetry runs before each wait with the failed attempt (1-based) and the
	// delay until the next one.
	onRetry func(attempt int, wait time.Duration, err error)
}

func (p retryPolicy) do(ctx context.Context, step func(context.Context) error) error {
	maxRetries := p.maxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	wait := p.backoff
	if wait <= 0 {
		wait = defaultRetryBackoff
	}

	for attempt := 1; ; attempt++ {
		err := step(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return err
		}
		if attempt > maxRetries {
			return err
		}
		if p.onRetry != nil {
			p.onRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		wait = nextBackoff(wait)
	}
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > maxRetryBackoff {
		return maxRetryBackoff
	}
	return wait
}
