package interceptors

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/reliability"
)

// Mock retry policy for testing
type mockRetryPolicy struct {
	mock.Mock
}

func (m *mockRetryPolicy) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	args := m.Called(attempt, err)
	return args.Bool(0), args.Get(1).(time.Duration)
}

func (m *mockRetryPolicy) MaxRetries() int {
	args := m.Called()
	return args.Int(0)
}

func (m *mockRetryPolicy) NextDelay(attempt int) time.Duration {
	args := m.Called(attempt)
	return args.Get(0).(time.Duration)
}

func TestRetryInterceptor(t *testing.T) {
	t.Run("NewRetryInterceptor creates interceptor", func(t *testing.T) {
		policy := &mockRetryPolicy{}
		interceptor := NewRetryInterceptor(policy)

		assert.NotNil(t, interceptor)
		assert.Equal(t, policy, interceptor.retryPolicy)
		assert.NotNil(t, interceptor.logger)
		assert.Equal(t, "RetryInterceptor", interceptor.Name())
	})

	t.Run("WithLogger sets the logger", func(t *testing.T) {
		policy := &mockRetryPolicy{}
		logger := slog.Default()
		interceptor := NewRetryInterceptor(policy).WithLogger(logger)

		assert.Equal(t, logger, interceptor.logger)
	})

	t.Run("Intercept succeeds on first attempt", func(t *testing.T) {
		policy := &mockRetryPolicy{}
		interceptor := NewRetryInterceptor(policy)

		result, err := interceptor.Intercept(context.Background(), contracts.NewParams(), Advance(okImpl("ok")))

		assert.NoError(t, err)
		assert.Equal(t, "ok", result)
		policy.AssertNotCalled(t, "ShouldRetry", mock.Anything, mock.Anything)
	})

	t.Run("Intercept retries until success", func(t *testing.T) {
		policy := &mockRetryPolicy{}
		interceptor := NewRetryInterceptor(policy)
		transient := errors.New("transient")
		attempts := 0

		policy.On("ShouldRetry", mock.AnythingOfType("int"), transient).Return(true, time.Millisecond)

		result, err := interceptor.Intercept(withTestOperation("render"), contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, transient
			}
			return attempts, nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, result)
		policy.AssertNumberOfCalls(t, "ShouldRetry", 2)
	})

	t.Run("Intercept gives up when the policy says so", func(t *testing.T) {
		policy := &mockRetryPolicy{}
		interceptor := NewRetryInterceptor(policy)
		permanent := errors.New("permanent")

		policy.On("ShouldRetry", 0, permanent).Return(false, time.Duration(0))

		_, err := interceptor.Intercept(context.Background(), contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, permanent
		})

		assert.Equal(t, permanent, err)
		policy.AssertExpectations(t)
	})

	t.Run("short-circuits are never retried", func(t *testing.T) {
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 5))
		attempts := 0
		shortCircuit := &ShortCircuitError{Result: &ShortCircuitResult{Reason: "denied"}}

		_, err := interceptor.Intercept(context.Background(), contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			attempts++
			return nil, shortCircuit
		})

		assert.Equal(t, 1, attempts)
		assert.Same(t, shortCircuit, err)
	})

	t.Run("configuration errors are never retried", func(t *testing.T) {
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 5))
		attempts := 0
		cfgErr := &contracts.ConfigError{Op: "run", Err: contracts.ErrEmptyOperation}

		_, err := interceptor.Intercept(context.Background(), contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			attempts++
			return nil, cfgErr
		})

		assert.Equal(t, 1, attempts)
		assert.Same(t, cfgErr, err)
	})

	t.Run("retries see the params from before the first attempt", func(t *testing.T) {
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Millisecond, 3))
		var seen []int

		_, err := interceptor.Intercept(context.Background(), contracts.NewParams("n", 1), func(ctx context.Context, params *contracts.Params) (any, error) {
			n, _ := params.GetInt("n")
			seen = append(seen, n)
			params.Set("n", n+10)
			if len(seen) < 3 {
				return nil, errors.New("again")
			}
			return nil, nil
		})

		assert.NoError(t, err)
		assert.Equal(t, []int{1, 1, 1}, seen)
	})

	t.Run("context cancellation stops retrying", func(t *testing.T) {
		interceptor := NewRetryInterceptor(reliability.NewFixedDelay(time.Hour, 5))
		ctx, cancel := context.WithCancel(context.Background())

		_, err := interceptor.Intercept(ctx, contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			cancel()
			return nil, errors.New("failed")
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}
