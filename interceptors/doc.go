// Package interceptors provides the interceptor chain and a set of built-in interceptors.
//
// The interceptor pattern lets cross-cutting behaviour wrap an operation without
// modifying it. This package provides:
//   - Interceptor interface and the InterceptorFunc adapter
//   - Chain: an immutable interceptor sequence ending in an Implementation
//   - Built-in interceptors for common concerns
//   - ChainBuilder for easy chain construction
//
// Built-in interceptors:
//   - LoggingInterceptor: Logs operations with timing information
//   - MetricsInterceptor: Collects call, error and duration metrics
//   - TracingInterceptor: Wraps each operation in an OpenTelemetry span
//   - ValidationInterceptor: Validates params before processing
//   - AuthenticationInterceptor: Rejects unauthenticated callers
//   - AuthorizationInterceptor: Evaluates CEL rules against params
//   - RateLimitingInterceptor: Token bucket or paced limits per operation
//   - TimeoutInterceptor: Bounds how long the caller waits
//   - RetryInterceptor: Re-runs the inner chain on failure
//   - ErrorHandlingInterceptor: Provides error recovery and handling
//   - CircuitBreakerInterceptor: Implements the circuit breaker pattern
//   - CachingInterceptor, DuplicateDetectionInterceptor, ShortCircuitInterceptor
//   - FilteringInterceptor and ConditionalInterceptor
//
// Example usage:
//
//	chain := interceptors.NewChainBuilder(logger).
//		WithLogging().
//		WithMetrics(collector).
//		WithValidation(interceptors.RequireParams("id")).
//		WithTimeout(30 * time.Second).
//		Build()
//
//	result, err := chain.Run(ctx, params, impl)
//
// Custom interceptors can be created by implementing the Interceptor interface:
//
//	type CustomInterceptor struct{}
//
//	func (i *CustomInterceptor) Intercept(ctx context.Context, params *contracts.Params, next interceptors.Advance) (any, error) {
//		// Pre-processing logic, may rewrite params
//		result, err := next(ctx, params)
//		// Post-processing logic, may replace the result
//		return result, err
//	}
//
//	func (i *CustomInterceptor) Name() string {
//		return "CustomInterceptor"
//	}
//
// Interceptors run in the order they were added: the first is outermost. Code
// before next runs outside-in, code after next runs inside-out. An interceptor
// that returns without calling next stops every deeper interceptor and the
// implementation from running.
package interceptors
