// Package contracts provides the core types shared by every interpose package.
//
// This package defines the values that flow through an interceptor chain:
//   - Params: the ordered name/value parameters of an operation
//   - Owner: something operations belong to, either a type (TypeRef) or a live instance (Instance)
//   - BaseInstance: an embeddable Instance with a stable id assigned at construction
//   - ConfigError: the error returned for programmer and configuration mistakes
//
// Params are keyed by name, never by position, so interceptors can inspect and
// rewrite individual fields before handing them to the next step.
package contracts
