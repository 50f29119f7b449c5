package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/interpose/contracts"
)

// Implementation is the terminal operation wrapped by a chain
type Implementation func(ctx context.Context, params *contracts.Params) (any, error)

// Advance proceeds to the next interceptor in the chain, or to the
// implementation once every interceptor has been entered
type Advance func(ctx context.Context, params *contracts.Params) (any, error)

// Interceptor runs logic around an operation and decides whether it runs at all
type Interceptor interface {
	// Intercept processes the call and usually calls next exactly once.
	// Returning without calling next short-circuits the chain.
	Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error)

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, params *contracts.Params, next Advance) (any, error)
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, params *contracts.Params, next Advance) (any, error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	return i.fn(ctx, params, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain is an immutable sequence of interceptors ending in an implementation.
// Each run carries its own cursor and implementation, so one Chain can serve
// any number of concurrent runs.
type Chain struct {
	interceptors []Interceptor
}

// NewChain creates a chain from interceptors, outermost first
func NewChain(interceptors ...Interceptor) *Chain {
	ics := make([]Interceptor, len(interceptors))
	copy(ics, interceptors)
	return &Chain{interceptors: ics}
}

// With returns a new chain with interceptors appended innermost
func (c *Chain) With(interceptors ...Interceptor) *Chain {
	ics := make([]Interceptor, 0, len(c.interceptors)+len(interceptors))
	ics = append(ics, c.interceptors...)
	ics = append(ics, interceptors...)
	return &Chain{interceptors: ics}
}

// Len returns the number of interceptors
func (c *Chain) Len() int {
	return len(c.interceptors)
}

// Interceptors returns a copy of the interceptor sequence
func (c *Chain) Interceptors() []Interceptor {
	ics := make([]Interceptor, len(c.interceptors))
	copy(ics, c.interceptors)
	return ics
}

// Names returns the interceptor names, outermost first
func (c *Chain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, ic := range c.interceptors {
		names[i] = ic.Name()
	}
	return names
}

// Run executes the chain. Code an interceptor places before next runs
// outside-in; code after next runs inside-out.
func (c *Chain) Run(ctx context.Context, params *contracts.Params, impl Implementation) (any, error) {
	if impl == nil {
		return nil, contracts.ErrNilImplementation
	}
	if len(c.interceptors) == 0 {
		return impl(ctx, params)
	}
	return c.advance(0, impl)(ctx, params)
}

// advance returns the step at cursor. The cursor stops at len(interceptors),
// which is the implementation.
func (c *Chain) advance(cursor int, impl Implementation) Advance {
	if cursor >= len(c.interceptors) {
		return Advance(impl)
	}

	interceptor := c.interceptors[cursor]
	return func(ctx context.Context, params *contracts.Params) (any, error) {
		return interceptor.Intercept(ctx, params, c.advance(cursor+1, impl))
	}
}

// Built-in interceptors

// LoggingInterceptor logs operation processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	start := time.Now()
	op, _ := OperationFromContext(ctx)

	i.logger.Info("running operation",
		"operation", op.String(),
		"params", params.Keys(),
	)

	result, err := next(ctx, params)
	duration := time.Since(start)

	if err != nil {
		i.logger.Error("operation failed",
			"operation", op.String(),
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.Info("operation completed",
			"operation", op.String(),
			"duration", duration,
		)
	}

	return result, err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// MetricsInterceptor collects metrics about operation processing
type MetricsInterceptor struct {
	collector MetricsCollector
}

// MetricsCollector defines the interface for collecting metrics
type MetricsCollector interface {
	IncrementCallCount(operation string)
	RecordDuration(operation string, duration time.Duration)
	IncrementErrorCount(operation string, errorType string)
}

// NewMetricsInterceptor creates a new metrics interceptor
func NewMetricsInterceptor(collector MetricsCollector) *MetricsInterceptor {
	return &MetricsInterceptor{collector: collector}
}

// Intercept implements Interceptor
func (i *MetricsInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	start := time.Now()
	op, _ := OperationFromContext(ctx)
	label := op.Label()

	i.collector.IncrementCallCount(label)

	result, err := next(ctx, params)

	i.collector.RecordDuration(label, time.Since(start))

	if err != nil {
		errorType := "operation_error"
		if IsShortCircuit(err) {
			errorType = "short_circuit"
		}
		i.collector.IncrementErrorCount(label, errorType)
	}

	return result, err
}

// Name implements Interceptor
func (i *MetricsInterceptor) Name() string {
	return "MetricsInterceptor"
}

// TracingInterceptor wraps each operation in an OpenTelemetry span
type TracingInterceptor struct {
	tracer trace.Tracer
}

// NewTracingInterceptor creates a new tracing interceptor. A nil tracer uses
// the global tracer provider.
func NewTracingInterceptor(tracer trace.Tracer) *TracingInterceptor {
	if tracer == nil {
		tracer = otel.Tracer("github.com/glimte/interpose")
	}
	return &TracingInterceptor{tracer: tracer}
}

// Intercept implements Interceptor
func (i *TracingInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	op, _ := OperationFromContext(ctx)

	attrs := []attribute.KeyValue{
		attribute.String("operation.owner", op.TypeName),
		attribute.String("operation.name", op.Name),
		attribute.Int("operation.params", params.Len()),
	}
	if op.InstanceID != "" {
		attrs = append(attrs, attribute.String("operation.instance", op.InstanceID))
	}

	spanCtx, span := i.tracer.Start(ctx, op.Label(), trace.WithAttributes(attrs...))
	defer span.End()

	result, err := next(spanCtx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return result, err
}

// Name implements Interceptor
func (i *TracingInterceptor) Name() string {
	return "TracingInterceptor"
}

// ValidationInterceptor validates params before processing
type ValidationInterceptor struct {
	validator ParamsValidator
}

// ParamsValidator defines the interface for params validation
type ParamsValidator interface {
	Validate(ctx context.Context, params *contracts.Params) error
}

// ParamsValidatorFunc is a function adapter for ParamsValidator
type ParamsValidatorFunc func(ctx context.Context, params *contracts.Params) error

// Validate implements ParamsValidator
func (f ParamsValidatorFunc) Validate(ctx context.Context, params *contracts.Params) error {
	return f(ctx, params)
}

// RequireParams returns a validator that fails when any name is missing
func RequireParams(names ...string) ParamsValidator {
	return ParamsValidatorFunc(func(ctx context.Context, params *contracts.Params) error {
		for _, name := range names {
			if !params.Has(name) {
				return fmt.Errorf("missing parameter %q", name)
			}
		}
		return nil
	})
}

// NewValidationInterceptor creates a new validation interceptor
func NewValidationInterceptor(validator ParamsValidator) *ValidationInterceptor {
	return &ValidationInterceptor{validator: validator}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	if err := i.validator.Validate(ctx, params); err != nil {
		return nil, fmt.Errorf("params validation failed: %w", err)
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}

// AuthenticationInterceptor validates caller authentication
type AuthenticationInterceptor struct {
	authenticator Authenticator
}

// Authenticator defines the interface for caller authentication
type Authenticator interface {
	Authenticate(ctx context.Context, params *contracts.Params) error
}

// NewAuthenticationInterceptor creates a new authentication interceptor
func NewAuthenticationInterceptor(authenticator Authenticator) *AuthenticationInterceptor {
	return &AuthenticationInterceptor{authenticator: authenticator}
}

// Intercept implements Interceptor
func (i *AuthenticationInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	if err := i.authenticator.Authenticate(ctx, params); err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *AuthenticationInterceptor) Name() string {
	return "AuthenticationInterceptor"
}

// RateLimitingInterceptor implements rate limiting
type RateLimitingInterceptor struct {
	limiter RateLimiter
}

// RateLimiter defines the interface for rate limiting
type RateLimiter interface {
	Allow(ctx context.Context, key string) error
}

// NewRateLimitingInterceptor creates a new rate limiting interceptor
func NewRateLimitingInterceptor(limiter RateLimiter) *RateLimitingInterceptor {
	return &RateLimitingInterceptor{limiter: limiter}
}

// Intercept implements Interceptor
func (i *RateLimitingInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	// Limits are shared by every instance of a type
	op, _ := OperationFromContext(ctx)
	key := op.Label()

	if err := i.limiter.Allow(ctx, key); err != nil {
		return nil, fmt.Errorf("rate limit exceeded for operation %s: %w", key, err)
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *RateLimitingInterceptor) Name() string {
	return "RateLimitingInterceptor"
}

// TimeoutInterceptor adds timeout handling
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

type timeoutResult struct {
	value  any
	err    error
	params *contracts.Params
	panic  any
}

// Intercept implements Interceptor. The inner call runs on its own copy of
// params and keeps running after a timeout; it only loses its caller. Its
// changes to params reach the caller only when it finishes in time. A panic
// in the inner call is raised again on the caller's goroutine.
func (i *TimeoutInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	inner := params.Clone()
	done := make(chan timeoutResult, 1)
	go func() {
		var res timeoutResult
		defer func() {
			if r := recover(); r != nil {
				res.panic = r
			}
			done <- res
		}()
		res.value, res.err = next(timeoutCtx, inner)
		res.params = inner
	}()

	select {
	case res := <-done:
		if res.panic != nil {
			panic(res.panic)
		}
		params.Replace(res.params)
		return res.value, res.err
	case <-timeoutCtx.Done():
		op, _ := OperationFromContext(ctx)
		return nil, fmt.Errorf("operation %s timed out after %v: %w", op.String(), i.timeout, timeoutCtx.Err())
	}
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// ErrorHandlingInterceptor handles errors and provides recovery
type ErrorHandlingInterceptor struct {
	errorHandler ErrorHandler
	logger       *slog.Logger
}

// ErrorHandler defines the interface for error handling. It may return a
// replacement result with a nil error to recover.
type ErrorHandler interface {
	HandleError(ctx context.Context, params *contracts.Params, err error) (any, error)
}

// NewErrorHandlingInterceptor creates a new error handling interceptor
func NewErrorHandlingInterceptor(errorHandler ErrorHandler, logger *slog.Logger) *ErrorHandlingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorHandlingInterceptor{
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// Intercept implements Interceptor
func (i *ErrorHandlingInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	result, err := next(ctx, params)
	if err != nil {
		op, _ := OperationFromContext(ctx)
		i.logger.Error("operation error",
			"operation", op.String(),
			"error", err,
		)

		// Let error handler decide how to handle the error
		return i.errorHandler.HandleError(ctx, params, err)
	}

	return result, nil
}

// Name implements Interceptor
func (i *ErrorHandlingInterceptor) Name() string {
	return "ErrorHandlingInterceptor"
}

// CircuitBreakerInterceptor provides circuit breaker functionality
type CircuitBreakerInterceptor struct {
	circuitBreaker CircuitBreaker
}

// CircuitBreaker defines the interface for circuit breaker functionality
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() (any, error)) (any, error)
}

// NewCircuitBreakerInterceptor creates a new circuit breaker interceptor
func NewCircuitBreakerInterceptor(circuitBreaker CircuitBreaker) *CircuitBreakerInterceptor {
	return &CircuitBreakerInterceptor{circuitBreaker: circuitBreaker}
}

// Intercept implements Interceptor
func (i *CircuitBreakerInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	return i.circuitBreaker.Execute(ctx, func() (any, error) {
		return next(ctx, params)
	})
}

// Name implements Interceptor
func (i *CircuitBreakerInterceptor) Name() string {
	return "CircuitBreakerInterceptor"
}

// Default interceptor chain builder

// ChainBuilder builds a common interceptor chain, outermost first
type ChainBuilder struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChainBuilder creates a new builder
func NewChainBuilder(logger *slog.Logger) *ChainBuilder {
	if logger == nil {
		logger = slog.Default()
	}

	return &ChainBuilder{
		interceptors: make([]Interceptor, 0),
		logger:       logger,
	}
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging() *ChainBuilder {
	return b.WithCustom(NewLoggingInterceptor(b.logger))
}

// WithMetrics adds metrics interceptor
func (b *ChainBuilder) WithMetrics(collector MetricsCollector) *ChainBuilder {
	return b.WithCustom(NewMetricsInterceptor(collector))
}

// WithTracing adds tracing interceptor
func (b *ChainBuilder) WithTracing(tracer trace.Tracer) *ChainBuilder {
	return b.WithCustom(NewTracingInterceptor(tracer))
}

// WithValidation adds validation interceptor
func (b *ChainBuilder) WithValidation(validator ParamsValidator) *ChainBuilder {
	return b.WithCustom(NewValidationInterceptor(validator))
}

// WithAuthentication adds authentication interceptor
func (b *ChainBuilder) WithAuthentication(authenticator Authenticator) *ChainBuilder {
	return b.WithCustom(NewAuthenticationInterceptor(authenticator))
}

// WithAuthorization adds authorization interceptor
func (b *ChainBuilder) WithAuthorization(authorizer *Authorizer) *ChainBuilder {
	return b.WithCustom(NewAuthorizationInterceptor(authorizer))
}

// WithRateLimit adds rate limiting interceptor
func (b *ChainBuilder) WithRateLimit(limiter RateLimiter) *ChainBuilder {
	return b.WithCustom(NewRateLimitingInterceptor(limiter))
}

// WithTimeout adds timeout interceptor
func (b *ChainBuilder) WithTimeout(timeout time.Duration) *ChainBuilder {
	return b.WithCustom(NewTimeoutInterceptor(timeout))
}

// WithRetry adds retry interceptor
func (b *ChainBuilder) WithRetry(policy RetryPolicy) *ChainBuilder {
	return b.WithCustom(NewRetryInterceptor(policy).WithLogger(b.logger))
}

// WithErrorHandling adds error handling interceptor
func (b *ChainBuilder) WithErrorHandling(errorHandler ErrorHandler) *ChainBuilder {
	return b.WithCustom(NewErrorHandlingInterceptor(errorHandler, b.logger))
}

// WithCircuitBreaker adds circuit breaker interceptor
func (b *ChainBuilder) WithCircuitBreaker(circuitBreaker CircuitBreaker) *ChainBuilder {
	return b.WithCustom(NewCircuitBreakerInterceptor(circuitBreaker))
}

// WithCustom adds a custom interceptor
func (b *ChainBuilder) WithCustom(interceptor Interceptor) *ChainBuilder {
	b.interceptors = append(b.interceptors, interceptor)
	return b
}

// Interceptors returns the collected interceptors, ready for registration
func (b *ChainBuilder) Interceptors() []Interceptor {
	ics := make([]Interceptor, len(b.interceptors))
	copy(ics, b.interceptors)
	return ics
}

// Build returns the built interceptor chain
func (b *ChainBuilder) Build() *Chain {
	return NewChain(b.interceptors...)
}
