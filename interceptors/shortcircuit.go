package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glimte/interpose/contracts"
)

// ErrShortCircuit matches every short-circuit with errors.Is
var ErrShortCircuit = errors.New("interceptor chain short-circuited")

// ShortCircuitResult is what a short-circuiting interceptor hands back
// instead of running the rest of the chain
type ShortCircuitResult struct {
	Result any
	Reason string
}

// ShortCircuitError stops a run on purpose. Callers treat it as "handled",
// not as a failure of the operation.
type ShortCircuitError struct {
	Result *ShortCircuitResult
	// Cause is the error that was converted into a short-circuit, if any
	Cause error
}

// NewShortCircuit creates a short-circuit carrying reason and result
func NewShortCircuit(reason string, result any) *ShortCircuitError {
	return &ShortCircuitError{Result: &ShortCircuitResult{Result: result, Reason: reason}}
}

// Error implements the error interface
func (e *ShortCircuitError) Error() string {
	if e.Result != nil && e.Result.Reason != "" {
		return e.Result.Reason
	}
	return ErrShortCircuit.Error()
}

// Unwrap exposes ErrShortCircuit and the cause
func (e *ShortCircuitError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrShortCircuit}
	}
	return []error{ErrShortCircuit, e.Cause}
}

// IsShortCircuit checks if an error is a short-circuit error
func IsShortCircuit(err error) bool {
	return errors.Is(err, ErrShortCircuit)
}

// GetShortCircuitResult extracts the short-circuit result from an error
func GetShortCircuitResult(err error) (*ShortCircuitResult, bool) {
	var scErr *ShortCircuitError
	if errors.As(err, &scErr) && scErr.Result != nil {
		return scErr.Result, true
	}
	return nil, false
}

// ShortCircuitInterceptor can short-circuit the interceptor chain based on conditions
type ShortCircuitInterceptor struct {
	evaluator ShortCircuitEvaluator
}

// ShortCircuitEvaluator determines if the chain should be short-circuited
type ShortCircuitEvaluator interface {
	// ShouldShortCircuit returns true if the chain should be short-circuited
	// It can also return a result that will be available to the caller
	ShouldShortCircuit(ctx context.Context, params *contracts.Params) (bool, *ShortCircuitResult, error)
}

// NewShortCircuitInterceptor creates a new short-circuit interceptor
func NewShortCircuitInterceptor(evaluator ShortCircuitEvaluator) *ShortCircuitInterceptor {
	return &ShortCircuitInterceptor{evaluator: evaluator}
}

// Intercept implements Interceptor
func (i *ShortCircuitInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	shouldShortCircuit, result, err := i.evaluator.ShouldShortCircuit(ctx, params)
	if err != nil {
		return nil, err
	}

	if shouldShortCircuit {
		return nil, &ShortCircuitError{Result: result}
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *ShortCircuitInterceptor) Name() string {
	return "ShortCircuitInterceptor"
}

// CachingInterceptor returns cached results without running the rest of the chain
type CachingInterceptor struct {
	cache   ResultCache
	keyFunc CacheKeyFunc
}

// ResultCache defines the interface for operation result caching
type ResultCache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
}

// CacheKeyFunc derives the cache key of a call
type CacheKeyFunc func(ctx context.Context, params *contracts.Params) (string, error)

// DefaultCacheKey keys on the full operation identity and the params in order
func DefaultCacheKey(ctx context.Context, params *contracts.Params) (string, error) {
	op, _ := OperationFromContext(ctx)
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to derive cache key: %w", err)
	}
	return op.String() + ":" + string(data), nil
}

// NewCachingInterceptor creates a new caching interceptor. A nil keyFunc uses DefaultCacheKey.
func NewCachingInterceptor(cache ResultCache, keyFunc CacheKeyFunc) *CachingInterceptor {
	if keyFunc == nil {
		keyFunc = DefaultCacheKey
	}
	return &CachingInterceptor{cache: cache, keyFunc: keyFunc}
}

// Intercept implements Interceptor
func (i *CachingInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	cacheKey, err := i.keyFunc(ctx, params)
	if err != nil {
		return nil, err
	}

	cached, found, err := i.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if found {
		return cached, nil
	}

	result, err := next(ctx, params)
	if err != nil {
		return nil, err
	}

	// A failed write only costs a future miss
	_ = i.cache.Set(ctx, cacheKey, result)

	return result, nil
}

// Name implements Interceptor
func (i *CachingInterceptor) Name() string {
	return "CachingInterceptor"
}

// DuplicateDetectionInterceptor prevents an idempotency key from being processed twice
type DuplicateDetectionInterceptor struct {
	detector DuplicateDetector
	param    string
}

// DuplicateDetector defines the interface for duplicate detection
type DuplicateDetector interface {
	IsDuplicate(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// NewDuplicateDetectionInterceptor creates a new duplicate detection interceptor
// keyed on the named string parameter
func NewDuplicateDetectionInterceptor(detector DuplicateDetector, param string) *DuplicateDetectionInterceptor {
	return &DuplicateDetectionInterceptor{detector: detector, param: param}
}

// Intercept implements Interceptor
func (i *DuplicateDetectionInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	key, ok := params.GetString(i.param)
	if !ok || key == "" {
		// Calls without a key are not deduplicated
		return next(ctx, params)
	}

	isDuplicate, err := i.detector.IsDuplicate(ctx, key)
	if err != nil {
		return nil, err
	}

	if isDuplicate {
		return nil, NewShortCircuit(fmt.Sprintf("duplicate %s %q", i.param, key), nil)
	}

	result, err := next(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := i.detector.MarkProcessed(ctx, key); err != nil {
		return nil, err
	}
	return result, nil
}

// Name implements Interceptor
func (i *DuplicateDetectionInterceptor) Name() string {
	return "DuplicateDetectionInterceptor"
}

// ShortCircuitOnErrorInterceptor short-circuits the chain if specific errors occur
type ShortCircuitOnErrorInterceptor struct {
	errorEvaluator ErrorEvaluator
}

// ErrorEvaluator determines if an error should cause a short-circuit
type ErrorEvaluator interface {
	ShouldShortCircuitOnError(err error) (bool, *ShortCircuitResult)
}

// NewShortCircuitOnErrorInterceptor creates a new error-based short-circuit interceptor
func NewShortCircuitOnErrorInterceptor(errorEvaluator ErrorEvaluator) *ShortCircuitOnErrorInterceptor {
	return &ShortCircuitOnErrorInterceptor{errorEvaluator: errorEvaluator}
}

// Intercept implements Interceptor
func (i *ShortCircuitOnErrorInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	result, err := next(ctx, params)
	if err != nil {
		shouldShortCircuit, scResult := i.errorEvaluator.ShouldShortCircuitOnError(err)
		if shouldShortCircuit {
			return nil, &ShortCircuitError{Result: scResult, Cause: err}
		}
	}
	return result, err
}

// Name implements Interceptor
func (i *ShortCircuitOnErrorInterceptor) Name() string {
	return "ShortCircuitOnErrorInterceptor"
}
