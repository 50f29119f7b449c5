package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrNilImplementation is returned when an operation is run without an implementation
	ErrNilImplementation = errors.New("implementation is nil")
	// ErrNilInterceptor is returned when a nil interceptor is registered
	ErrNilInterceptor = errors.New("interceptor is nil")
	// ErrNilOwner is returned when an owner is required but missing
	ErrNilOwner = errors.New("owner is nil")
	// ErrEmptyTypeName is returned for owners without a type name
	ErrEmptyTypeName = errors.New("owner type name is empty")
	// ErrEmptyInstanceID is returned for instances without an id
	ErrEmptyInstanceID = errors.New("instance id is empty")
	// ErrEmptyOperation is returned when an operation name is required but missing
	ErrEmptyOperation = errors.New("operation name is empty")
	// ErrAmbiguousClear is returned when an operation is cleared without an owner
	ErrAmbiguousClear = errors.New("operation given without owner")
	// ErrIdentityCollision is returned when one instance id is used with two type names
	ErrIdentityCollision = errors.New("instance id already registered under another type")
)

// ConfigError reports a misuse of the registry or a malformed identity
type ConfigError struct {
	Op        string
	Owner     string
	Operation string
	Err       error
}

// Error implements error
func (e *ConfigError) Error() string {
	switch {
	case e.Owner != "" && e.Operation != "":
		return fmt.Sprintf("%s %s.%s: %v", e.Op, e.Owner, e.Operation, e.Err)
	case e.Owner != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Owner, e.Err)
	case e.Operation != "":
		return fmt.Sprintf("%s .%s: %v", e.Op, e.Operation, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
