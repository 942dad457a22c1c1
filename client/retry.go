package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retriable reports whether err is worth retrying: transport failures,
// 429 and 5xx responses, and temporary credential failures.
func Retriable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

// DefaultBackOff retries up to five times with exponential delays.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithMaxRetries(b, 5)
}

// Retry runs fn until it succeeds, fails with an error Retriable rejects,
// ctx is done or policy gives up. A nil policy uses DefaultBackOff.
func Retry[T any](ctx context.Context, policy backoff.BackOff, fn func() (T, error)) (T, error) {
	if policy == nil {
		policy = DefaultBackOff()
	}
	op := func() (T, error) {
		v, err := fn()
		if err != nil && !Retriable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	return backoff.RetryWithData(op, backoff.WithContext(policy, ctx))
}
