package chat

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"wschat/internal/registry"
)

// RetryPolicy bounds how often a failing operation is attempted.
type RetryPolicy struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
}

func (p RetryPolicy) options(notify backoff.Notify) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = 2 * time.Second

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(notify),
	}
}

// retryStore runs fn until it succeeds, fails with something other than
// registry.ErrStoreUnavailable, or the policy is exhausted.
func retryStore[T any](ctx context.Context, p RetryPolicy, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, registry.ErrStoreUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.options(func(err error, next time.Duration) {
		zap.L().Warn("chat.store_retry",
			zap.String("op", op),
			zap.Duration("next", next),
			zap.Error(err),
		)
	})...)
}

// retryStoreErr is retryStore for operations without a result.
func retryStoreErr(ctx context.Context, p RetryPolicy, op string, fn func() error) error {
	_, err := retryStore(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
