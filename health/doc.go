// Package health checks the backends an interpose client depends on: the
// redis client behind caches and duplicate detectors, circuit breakers built
// from policies, and the registry itself.
package health
