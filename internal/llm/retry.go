package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds how often a retryable provider failure is re-attempted
// before it is surfaced to the caller.
type RetryPolicy struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

func withRetry(ctx context.Context, p RetryPolicy, logger *slog.Logger, op func() (Response, error)) (Response, error) {
	if p.MaxAttempts <= 1 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	attempt := 0
	return backoff.Retry(ctx, func() (Response, error) {
		attempt++
		resp, err := op()
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return Response{}, backoff.Permanent(err)
		}
		return Response{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("llm request failed, retrying", "attempt", attempt, "delay", next, "error", err)
			}
		}),
	)
}
