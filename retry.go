package payledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const casMaxTries = 20

// withCAS runs op until it stops failing with ErrVersionConflict. op must
// reload the entity on every attempt. Any other error ends the loop
// unchanged.
func withCAS[T any](ctx context.Context, op func() (T, error)) (T, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 2 * time.Millisecond
	exp.MaxInterval = 50 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ErrVersionConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(exp), backoff.WithMaxTries(casMaxTries), backoff.WithMaxElapsedTime(0))
}
