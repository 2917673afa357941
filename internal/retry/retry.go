// Package retry provides the bounded retry policy wrapped around remote
// fetches.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retried operation: how many attempts in total, how the
// wait between them grows, and which errors are worth another try.
type Policy struct {
	// MaxAttempts counts every call of the operation, so 3 means at most
	// three tries, not three retries. Values below 1 behave as 1.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Retryable decides whether an error deserves another attempt. A nil
	// predicate retries everything.
	Retryable func(error) bool
}

// Do runs op under the policy. Errors the policy deems non-retryable stop
// the loop immediately and surface unchanged; retryable ones trigger another
// attempt after an exponential, jittered wait. A cancelled context aborts
// the wait right away.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}

	attempt := func() (T, error) {
		v, err := op(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}

		return v, err
	}

	maxTries := p.MaxAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	return backoff.Retry(ctx, attempt, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxTries)))
}
