package kvcache

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy bounds the retries of idempotent operations that failed
// before any byte was sent.
type RetryPolicy struct {
	MaxRetries  int           // retries after the first attempt
	BaseBackoff time.Duration // initial backoff duration
	MaxBackoff  time.Duration // upper bound on backoff
	JitterFn    func(time.Duration) time.Duration
}

// DefaultRetryPolicy returns the policy used when Config.Retry is nil.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}
}

// retryable reports whether err is known to have happened before anything
// reached the server.
func retryable(err error) bool {
	var notSent *notSentError
	var dialErr *DialError
	return errors.As(err, &notSent) || errors.As(err, &dialErr)
}

// retry runs fn until it succeeds or fails with an error that cannot be
// retried. Only idempotent calls are retried. The backoff never outlives
// ctx: when ctx is done the last error of fn is returned.
func retry(ctx context.Context, policy RetryPolicy, idempotent bool, onRetry func(attempt int, err error), fn func() error) error {
	var attempt int
	var backoff = policy.BaseBackoff

	for {
		err := fn()
		if err == nil || !idempotent || !retryable(err) {
			return err
		}

		attempt++
		if attempt > policy.MaxRetries {
			return err
		}

		delay := backoff
		if policy.JitterFn != nil {
			delay += policy.JitterFn(backoff)
		}
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			backoff *= 2
		case <-ctx.Done():
			timer.Stop()
			return err
		}

		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
}
