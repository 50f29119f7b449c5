package interceptors

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/reliability"
)

// RetryPolicy decides whether and when a failed call is retried
type RetryPolicy = reliability.RetryPolicy

// RetryInterceptor re-runs the rest of the chain when it fails. Retries get a
// fresh copy of the params as they were before the first attempt, so inner
// interceptors never see a previous attempt's rewrites.
type RetryInterceptor struct {
	retryPolicy RetryPolicy
	logger      *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(retryPolicy RetryPolicy) *RetryInterceptor {
	return &RetryInterceptor{
		retryPolicy: retryPolicy,
		logger:      slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	r.logger = logger
	return r
}

// Intercept implements the Interceptor interface
func (r *RetryInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	var result any
	attempt := 0
	snapshot := params.Clone()

	op, _ := OperationFromContext(ctx)
	err := reliability.RetryNotify(ctx, r.retryPolicy, func() error {
		attempt++
		attemptParams := params
		if attempt > 1 {
			attemptParams = snapshot.Clone()
		}

		value, err := next(ctx, attemptParams)
		if err != nil {
			if IsShortCircuit(err) || contracts.IsConfigError(err) {
				return reliability.Permanent(err)
			}
			return err
		}
		result = value
		return nil
	}, func(retry int, err error, delay time.Duration) {
		r.logger.Debug("retrying operation",
			"operation", op.String(),
			"retry", retry,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}
