package reliability

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// DefaultJitter spreads backoff delays by ±15%
const DefaultJitter = 0.15

// RetryPolicy decides whether a failed attempt is tried again and how long
// to wait first. Attempts are counted from zero.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) (bool, time.Duration)
	MaxRetries() int
	NextDelay(attempt int) time.Duration
}

// budget is the retry limit shared by every policy
type budget struct {
	MaxAttempts int
}

func (b budget) allows(attempt int, err error) bool {
	return attempt < b.MaxAttempts && IsRetryable(err)
}

// MaxRetries implements RetryPolicy
func (b budget) MaxRetries() int {
	return b.MaxAttempts
}

// ExponentialBackoff multiplies the delay after every attempt, up to
// MaxInterval
type ExponentialBackoff struct {
	budget
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter spreads each delay by this fraction either way; zero disables it
	Jitter float64
}

// NewExponentialBackoff creates an exponential policy with DefaultJitter
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxRetries int) *ExponentialBackoff {
	return &ExponentialBackoff{
		budget:          budget{MaxAttempts: maxRetries},
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          DefaultJitter,
	}
}

// ShouldRetry implements RetryPolicy
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if !e.allows(attempt, err) {
		return false, 0
	}
	return true, e.NextDelay(attempt)
}

// NextDelay implements RetryPolicy
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	return jitter(time.Duration(delay), e.Jitter)
}

// LinearBackoff grows the delay by Interval after every attempt, up to
// MaxInterval when set
type LinearBackoff struct {
	budget
	Interval    time.Duration
	MaxInterval time.Duration
	Jitter      float64
}

// NewLinearBackoff creates a linear policy with DefaultJitter and no cap
func NewLinearBackoff(interval time.Duration, maxRetries int) *LinearBackoff {
	return &LinearBackoff{
		budget:   budget{MaxAttempts: maxRetries},
		Interval: interval,
		Jitter:   DefaultJitter,
	}
}

// ShouldRetry implements RetryPolicy
func (l *LinearBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if !l.allows(attempt, err) {
		return false, 0
	}
	return true, l.NextDelay(attempt)
}

// NextDelay implements RetryPolicy
func (l *LinearBackoff) NextDelay(attempt int) time.Duration {
	delay := l.Interval * time.Duration(attempt+1)
	if l.MaxInterval > 0 && delay > l.MaxInterval {
		delay = l.MaxInterval
	}
	return jitter(delay, l.Jitter)
}

// FixedDelay waits the same time before every retry
type FixedDelay struct {
	budget
	Delay time.Duration
}

// NewFixedDelay creates a fixed delay policy
func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{
		budget: budget{MaxAttempts: maxRetries},
		Delay:  delay,
	}
}

// ShouldRetry implements RetryPolicy
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if !f.allows(attempt, err) {
		return false, 0
	}
	return true, f.Delay
}

// NextDelay implements RetryPolicy
func (f *FixedDelay) NextDelay(int) time.Duration {
	return f.Delay
}

func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * fraction
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

// Notify is called before each retry with the retry number (from 1), the
// error that caused it and the delay about to be waited
type Notify func(retry int, err error, delay time.Duration)

// Retry calls fn until it succeeds, the policy gives up or ctx ends. It
// returns nil, the last error with any Permanent wrapper removed, or the
// context error.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	return RetryNotify(ctx, policy, fn, nil)
}

// RetryNotify is Retry with a hook called before every retry
func RetryNotify(ctx context.Context, policy RetryPolicy, fn func() error, notify Notify) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, err)
		if !retry {
			return unwrapPermanent(err)
		}
		if notify != nil {
			notify(attempt+1, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports whether err may be retried. Errors are retryable
// unless they, or an error they wrap, implement IsRetryable() bool and
// return false.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// permanentError stops retries and is removed again by Retry
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }
func (p *permanentError) IsRetryable() bool { return false }

// Permanent marks err as not worth retrying. Retry returns err itself, so
// callers still see the original error value.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func unwrapPermanent(err error) error {
	if p, ok := err.(*permanentError); ok {
		return p.err
	}
	return err
}
