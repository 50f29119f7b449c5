package interceptors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/glimte/interpose/contracts"
)

func TestBreaker(t *testing.T) {
	t.Run("opens after consecutive failures", func(t *testing.T) {
		breaker := NewBreaker(BreakerSettings{Name: "render", ConsecutiveFailures: 2, Timeout: time.Minute}, nil)
		interceptor := NewCircuitBreakerInterceptor(breaker)
		failure := errors.New("failed")
		calls := 0
		impl := func(ctx context.Context, params *contracts.Params) (any, error) {
			calls++
			return nil, failure
		}

		for i := 0; i < 2; i++ {
			_, err := interceptor.Intercept(context.Background(), nil, impl)
			assert.Equal(t, failure, err)
		}
		assert.Equal(t, gobreaker.StateOpen, breaker.State())

		_, err := interceptor.Intercept(context.Background(), nil, impl)
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, 2, calls)
	})

	t.Run("short-circuits do not count as failures", func(t *testing.T) {
		breaker := NewBreaker(BreakerSettings{Name: "gate", ConsecutiveFailures: 1}, nil)

		for i := 0; i < 3; i++ {
			_, err := breaker.Execute(context.Background(), func() (any, error) {
				return nil, &ShortCircuitError{}
			})
			assert.True(t, IsShortCircuit(err))
		}

		assert.Equal(t, gobreaker.StateClosed, breaker.State())
	})

	t.Run("default threshold is five", func(t *testing.T) {
		breaker := NewBreaker(BreakerSettings{Name: "default"}, nil)
		failure := errors.New("failed")

		for i := 0; i < 4; i++ {
			_, _ = breaker.Execute(context.Background(), func() (any, error) { return nil, failure })
		}
		assert.Equal(t, gobreaker.StateClosed, breaker.State())

		_, _ = breaker.Execute(context.Background(), func() (any, error) { return nil, failure })
		assert.Equal(t, gobreaker.StateOpen, breaker.State())
	})
}
