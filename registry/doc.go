// Package registry maps operation identities to interceptors and runs
// operations through the merged chain.
//
// An identity is an owner plus an operation name. Owners are either a type
// (contracts.TypeRef) or an instance (contracts.Instance). Running an instance's
// operation merges the type's interceptors (outermost) with the instance's own
// (innermost), each in registration order.
//
// Chains are built lazily on the first run and cached until a registration or
// Clear touches an identity they were built from. Operations with nothing
// registered skip the chain entirely and call the implementation directly.
//
//	reg := registry.New(registry.WithLogger(logger))
//
//	reg.MustRegister(contracts.TypeRef("Widget"), "render",
//		interceptors.NewLoggingInterceptor(logger))
//
//	result, err := reg.Run(ctx, widget, "render", params, renderImpl)
//
// A Registry is safe for concurrent use. Chains are immutable and carry no
// per-run state, so one cached chain serves concurrent runs.
package registry
