package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tasklane/be-workflows/internal/platform/errors"
)

// retryRead runs an idempotent read with bounded exponential backoff.
// Only transient failures are retried; coded domain errors (not found,
// invalid transition, unauthorized) surface immediately. Status transitions
// are never routed through this helper: a non-idempotent write must re-check
// current state instead of being replayed blind.
func retryRead[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T

	op := func() error {
		var err error
		out, err = fn()
		if err == nil {
			return nil
		}
		if !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
	if err != nil && transient(err) {
		err = errors.Wrap(err, errors.ErrCodeUnavailable, "persistence unavailable after retries")
	}
	return out, err
}

func transient(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeUnavailable, errors.ErrCodeInternal:
		return true
	default:
		return false
	}
}
