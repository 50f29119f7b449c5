package interceptors

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/interpose/contracts"
)

// ParamsFilter defines the interface for call filtering
type ParamsFilter interface {
	// ShouldProcess returns true if the call should be processed
	ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error)
}

// ParamsFilterFunc is a function adapter for ParamsFilter
type ParamsFilterFunc func(ctx context.Context, params *contracts.Params) (bool, error)

// ShouldProcess implements ParamsFilter
func (f ParamsFilterFunc) ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error) {
	return f(ctx, params)
}

// FilteringInterceptor filters calls based on conditions
type FilteringInterceptor struct {
	filter       ParamsFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// SkipBehavior defines what happens when a call is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the call without error
	SkipSilently SkipBehavior = iota
	// SkipWithError returns an error when the call is filtered
	SkipWithError
	// SkipWithLog logs that the call was skipped
	SkipWithLog
)

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter ParamsFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	i.logger = logger
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	shouldProcess, err := i.filter.ShouldProcess(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		op, _ := OperationFromContext(ctx)
		switch i.skipBehavior {
		case SkipWithError:
			return nil, NewShortCircuit("call filtered: operation="+op.String(), nil)
		case SkipWithLog:
			i.logger.Info("call filtered", "operation", op.String())
			return nil, nil
		default: // SkipSilently
			return nil, nil
		}
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []ParamsFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...ParamsFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements ParamsFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, params)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// OrFilter combines multiple filters with OR logic
type OrFilter struct {
	filters []ParamsFilter
}

// NewOrFilter creates a new OR filter
func NewOrFilter(filters ...ParamsFilter) *OrFilter {
	return &OrFilter{filters: filters}
}

// ShouldProcess implements ParamsFilter - at least one filter must return true
func (f *OrFilter) ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, params)
		if err != nil {
			return false, err
		}
		if shouldProcess {
			return true, nil
		}
	}
	return false, nil
}

// OperationFilter filters calls by operation name
type OperationFilter struct {
	allowed map[string]bool
}

// NewOperationFilter creates a filter that only allows specific operation names
func NewOperationFilter(operations ...string) *OperationFilter {
	allowed := make(map[string]bool)
	for _, op := range operations {
		allowed[op] = true
	}
	return &OperationFilter{allowed: allowed}
}

// ShouldProcess implements ParamsFilter
func (f *OperationFilter) ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error) {
	op, ok := OperationFromContext(ctx)
	if !ok {
		return false, nil
	}
	return f.allowed[op.Name], nil
}

// ParamEqualsFilter passes calls whose named parameter equals a value
type ParamEqualsFilter struct {
	param    string
	expected any
}

// NewParamEqualsFilter creates a filter that checks one parameter value
func NewParamEqualsFilter(param string, expected any) *ParamEqualsFilter {
	return &ParamEqualsFilter{param: param, expected: expected}
}

// ShouldProcess implements ParamsFilter
func (f *ParamEqualsFilter) ShouldProcess(ctx context.Context, params *contracts.Params) (bool, error) {
	value, exists := params.Get(f.param)
	if !exists {
		return false, nil
	}
	return value == f.expected, nil
}

// ConditionalInterceptor executes an interceptor only if a condition is met
type ConditionalInterceptor struct {
	condition   ParamsFilter
	interceptor Interceptor
}

// NewConditionalInterceptor creates a new conditional interceptor
func NewConditionalInterceptor(condition ParamsFilter, interceptor Interceptor) *ConditionalInterceptor {
	return &ConditionalInterceptor{
		condition:   condition,
		interceptor: interceptor,
	}
}

// Intercept implements Interceptor
func (i *ConditionalInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	shouldExecute, err := i.condition.ShouldProcess(ctx, params)
	if err != nil {
		return nil, err
	}

	if shouldExecute {
		return i.interceptor.Intercept(ctx, params, next)
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *ConditionalInterceptor) Name() string {
	return fmt.Sprintf("ConditionalInterceptor[%s]", i.interceptor.Name())
}
