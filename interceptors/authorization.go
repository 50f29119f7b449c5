package interceptors

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/glimte/interpose/contracts"
)

// ErrPermissionDenied is returned when an authorization rule rejects a call
var ErrPermissionDenied = errors.New("permission denied")

// Authorizer evaluates a CEL rule against each call. The rule sees
// `params` (map of parameter values), `owner` (type name), `instance`
// (instance id or empty) and `operation` (operation name), and must
// evaluate to a bool.
type Authorizer struct {
	expression string
	program    cel.Program
}

// NewAuthorizer compiles a CEL rule
func NewAuthorizer(expression string) (*Authorizer, error) {
	env, err := cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("owner", cel.StringType),
		cel.Variable("instance", cel.StringType),
		cel.Variable("operation", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %q: %w", expression, issues.Err())
	}

	outputType := ast.OutputType()
	if !outputType.IsExactType(cel.BoolType) && !outputType.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", expression, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for rule %q: %w", expression, err)
	}

	return &Authorizer{expression: expression, program: program}, nil
}

// Expression returns the source rule
func (a *Authorizer) Expression() string {
	return a.expression
}

// Authorize returns nil when the rule allows the call. Evaluation errors and
// non-bool results deny.
func (a *Authorizer) Authorize(ctx context.Context, params *contracts.Params) error {
	op, _ := OperationFromContext(ctx)

	result, _, err := a.program.Eval(map[string]any{
		"params":    params.ToMap(),
		"owner":     op.TypeName,
		"instance":  op.InstanceID,
		"operation": op.Name,
	})
	if err != nil {
		return fmt.Errorf("%w: rule %q failed: %v", ErrPermissionDenied, a.expression, err)
	}

	allowed, ok := result.Value().(bool)
	if !ok {
		return fmt.Errorf("%w: rule %q returned %T", ErrPermissionDenied, a.expression, result.Value())
	}
	if !allowed {
		return fmt.Errorf("%w: rule %q rejected %s", ErrPermissionDenied, a.expression, op.String())
	}
	return nil
}

// AuthorizationInterceptor gates the rest of the chain behind an Authorizer.
// A denied call never reaches deeper interceptors or the implementation.
type AuthorizationInterceptor struct {
	authorizer *Authorizer
}

// NewAuthorizationInterceptor creates a new authorization interceptor
func NewAuthorizationInterceptor(authorizer *Authorizer) *AuthorizationInterceptor {
	return &AuthorizationInterceptor{authorizer: authorizer}
}

// Intercept implements Interceptor
func (i *AuthorizationInterceptor) Intercept(ctx context.Context, params *contracts.Params, next Advance) (any, error) {
	if err := i.authorizer.Authorize(ctx, params); err != nil {
		return nil, err
	}

	return next(ctx, params)
}

// Name implements Interceptor
func (i *AuthorizationInterceptor) Name() string {
	return "AuthorizationInterceptor"
}
