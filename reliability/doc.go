// Package reliability provides the retry policies used by the retry
// interceptor and by the redis backed caches.
//
// Policies:
//   - ExponentialBackoff: the delay is multiplied after every attempt, up to a cap
//   - LinearBackoff: the delay grows by a fixed step after every attempt
//   - FixedDelay: the same delay before every retry, without jitter
//
// Errors are retried unless they implement IsRetryable() bool returning
// false. Permanent wraps an error that way; Retry strips the wrapper again
// before returning.
//
//	policy := reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)
//
//	err := reliability.Retry(ctx, policy, func() error {
//	    return client.Ping(ctx).Err()
//	})
package reliability
