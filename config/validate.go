package config

import (
	"fmt"
	"strings"

	"github.com/glimte/interpose/interceptors"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, format string, args ...any) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks every policy and returns ValidationErrors listing all
// problems, or nil
func (c *Config) Validate() error {
	v := &validator{}
	for i, policy := range c.Policies {
		v.validatePolicy(fmt.Sprintf("policies[%d]", i), policy)
	}
	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *validator) validatePolicy(path string, p Policy) {
	if p.Owner == "" {
		v.addError(path+".owner", "is required")
	}
	if p.Operation == "" {
		v.addError(path+".operation", "is required")
	}
	if p.Timeout < 0 {
		v.addError(path+".timeout", "must not be negative")
	}

	for i, name := range p.RequireParams {
		if strings.TrimSpace(name) == "" {
			v.addError(fmt.Sprintf("%s.requireParams[%d]", path, i), "must not be empty")
		}
	}

	if p.Authorize != "" {
		if _, err := interceptors.NewAuthorizer(p.Authorize); err != nil {
			v.addError(path+".authorize", "%v", err)
		}
	}

	if p.Dedupe != nil {
		if p.Dedupe.Param == "" {
			v.addError(path+".dedupe.param", "is required")
		}
		v.validateBackend(path+".dedupe.backend", p.Dedupe.Backend)
		if p.Dedupe.TTL < 0 {
			v.addError(path+".dedupe.ttl", "must not be negative")
		}
	}

	if p.Cache != nil {
		v.validateBackend(path+".cache.backend", p.Cache.Backend)
		if p.Cache.TTL < 0 {
			v.addError(path+".cache.ttl", "must not be negative")
		}
	}

	if p.RateLimit != nil {
		v.validateRateLimit(path+".rateLimit", p.RateLimit)
	}

	if p.CircuitBreaker != nil {
		if p.CircuitBreaker.Timeout < 0 || p.CircuitBreaker.Interval < 0 {
			v.addError(path+".circuitBreaker", "durations must not be negative")
		}
	}

	if p.Retry != nil {
		v.validateRetry(path+".retry", p.Retry)
	}
}

func (v *validator) validateBackend(path string, backend Backend) {
	switch backend {
	case "", BackendMemory, BackendRedis:
	default:
		v.addError(path, "unknown backend %q", backend)
	}
}

func (v *validator) validateRateLimit(path string, r *RateLimitPolicy) {
	switch r.Mode {
	case "", RateLimitTokenBucket:
		if r.Burst < 0 {
			v.addError(path+".burst", "must not be negative")
		}
	case RateLimitPaced:
		if r.Rate != float64(int(r.Rate)) {
			v.addError(path+".rate", "must be a whole number in paced mode")
		}
	default:
		v.addError(path+".mode", "unknown mode %q", r.Mode)
	}
	if r.Rate <= 0 {
		v.addError(path+".rate", "must be positive")
	}
	if r.Per < 0 {
		v.addError(path+".per", "must not be negative")
	}
}

func (v *validator) validateRetry(path string, r *RetryPolicy) {
	if r.MaxRetries < 0 {
		v.addError(path+".maxRetries", "must not be negative")
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		v.addError(path, "delays must not be negative")
	}

	switch r.Backoff {
	case "", BackoffExponential:
		if r.Multiplier != 0 && r.Multiplier < 1 {
			v.addError(path+".multiplier", "must be at least 1")
		}
	case BackoffLinear, BackoffFixed:
	default:
		v.addError(path+".backoff", "unknown backoff %q", r.Backoff)
	}
}
