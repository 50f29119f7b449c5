package interceptors

import (
	"context"
	"strings"

	"github.com/glimte/interpose/contracts"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	// OperationContextKey is the key for storing the running operation
	OperationContextKey contextKey = "interpose:operation"
)

// Operation describes the operation a chain is running for
type Operation struct {
	TypeName   string
	InstanceID string
	Name       string
}

// String returns Type.name or Type#id.name for instance operations
func (o Operation) String() string {
	if o.TypeName == "" && o.Name == "" {
		return "unknown"
	}
	var b strings.Builder
	b.WriteString(o.TypeName)
	if o.InstanceID != "" {
		b.WriteByte('#')
		b.WriteString(o.InstanceID)
	}
	b.WriteByte('.')
	b.WriteString(o.Name)
	return b.String()
}

// Label returns Type.name, leaving out the instance id so it is safe as a
// metrics label or limiter key
func (o Operation) Label() string {
	if o.TypeName == "" && o.Name == "" {
		return "unknown"
	}
	return o.TypeName + "." + o.Name
}

// WithOperation adds the operation to the context
func WithOperation(ctx context.Context, op Operation) context.Context {
	return context.WithValue(ctx, OperationContextKey, op)
}

// OperationFromContext retrieves the operation from the context
func OperationFromContext(ctx context.Context) (Operation, bool) {
	op, ok := ctx.Value(OperationContextKey).(Operation)
	return op, ok
}

// ContextEnrichmentInterceptor enriches the context and params before processing
type ContextEnrichmentInterceptor struct {
	enricher ContextEnricher
}

// ContextEnricher defines the interface for context enrichment
type ContextEnricher interface {
	Enrich(ctx context.Context, params *contracts.Params) (context.Context, error)
}

// ContextEnricherFunc is a function adapter for ContextEnricher
type ContextEnricherFunc func(ctx context.Context, params *contracts.Params) (context.Context, error)

// Enrich implements ContextEnricher
func (f ContextEnricherFunc) Enrich(ctx context.Context, params *contracts.Params) (context.Context, error) {
	return f(ctx, params)
}

// NewContextEnrichmentInterceptor creates a new context enrichment interceptor
func NewContextEnrichmentInterceptor(enricher ContextEnricher) *ContextEnrichmentInterceptor {
	return &ContextEnrichmentInterceptor{enricher: enricher}
}

// Intercept implements Interceptor
func (i *ContextEnrichmentInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	enriched, err := i.enricher.Enrich(ctx, params)
	if err != nil {
		return nil, err
	}
	if enriched == nil {
		enriched = ctx
	}

	return next(enriched, params)
}

// Name implements Interceptor
func (i *ContextEnrichmentInterceptor) Name() string {
	return "ContextEnrichmentInterceptor"
}
