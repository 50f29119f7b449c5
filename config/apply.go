package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/interpose/cache"
	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/health"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
	"github.com/glimte/interpose/reliability"
)

var (
	// ErrMissingCollector is returned when a policy enables metrics without a collector
	ErrMissingCollector = errors.New("metrics enabled but no collector configured")
	// ErrMissingRedis is returned when a policy selects the redis backend without a client
	ErrMissingRedis = errors.New("redis backend selected but no client configured")
)

// Deps carries the shared collaborators policies are built with
type Deps struct {
	Logger  *slog.Logger
	Metrics interceptors.MetricsCollector
	// Tracer is used by tracing policies; nil uses the global provider
	Tracer trace.Tracer
	// Redis backs policies that select the redis backend
	Redis redis.UniversalClient
	// Health, when set, receives a checker for every circuit breaker built
	Health *health.Registry
}

// Apply validates cfg and registers every policy on reg at type level.
// Nothing is registered if any policy fails to build.
func Apply(reg *registry.Registry, cfg *Config, deps Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	// Breaker checkers are staged until every policy has built
	staged := deps
	if deps.Health != nil {
		staged.Health = health.NewRegistry()
	}

	built := make([][]interceptors.Interceptor, len(cfg.Policies))
	for i, policy := range cfg.Policies {
		ics, err := Build(policy, staged)
		if err != nil {
			return fmt.Errorf("policies[%d] %s: %w", i, policy.Identity(), err)
		}
		built[i] = ics
	}

	for i, policy := range cfg.Policies {
		if len(built[i]) == 0 {
			continue
		}
		if err := reg.Register(contracts.TypeRef(policy.Owner), policy.Operation, built[i]...); err != nil {
			return err
		}
		deps.Logger.Debug("policy applied",
			"identity", policy.Identity(),
			"interceptors", len(built[i]),
		)
	}

	if deps.Health != nil {
		for _, checker := range staged.Health.Checkers() {
			deps.Health.Register(checker)
		}
	}

	return nil
}

// Build creates a policy's interceptors, outermost first: logging, tracing,
// metrics, authorization, validation, dedupe, cache, rate limit, circuit
// breaker, retry, timeout. Timeout is innermost so each retry attempt gets
// its own deadline.
func Build(p Policy, deps Deps) ([]interceptors.Interceptor, error) {
	builder := interceptors.NewChainBuilder(deps.Logger)

	if p.Logging {
		builder.WithLogging()
	}
	if p.Tracing {
		builder.WithTracing(deps.Tracer)
	}
	if p.Metrics {
		if deps.Metrics == nil {
			return nil, ErrMissingCollector
		}
		builder.WithMetrics(deps.Metrics)
	}

	if p.Authorize != "" {
		authorizer, err := interceptors.NewAuthorizer(p.Authorize)
		if err != nil {
			return nil, err
		}
		builder.WithAuthorization(authorizer)
	}
	if len(p.RequireParams) > 0 {
		builder.WithValidation(interceptors.RequireParams(p.RequireParams...))
	}

	if p.Dedupe != nil {
		detector, err := buildDetector(p.Dedupe, deps)
		if err != nil {
			return nil, err
		}
		builder.WithCustom(interceptors.NewDuplicateDetectionInterceptor(detector, p.Dedupe.Param))
	}
	if p.Cache != nil {
		resultCache, err := buildCache(p.Cache, deps)
		if err != nil {
			return nil, err
		}
		builder.WithCustom(interceptors.NewCachingInterceptor(resultCache, nil))
	}

	if p.RateLimit != nil {
		builder.WithRateLimit(buildLimiter(p.RateLimit))
	}
	if p.CircuitBreaker != nil {
		breaker := interceptors.NewBreaker(interceptors.BreakerSettings{
			Name:                p.Identity(),
			MaxRequests:         p.CircuitBreaker.MaxRequests,
			Interval:            p.CircuitBreaker.Interval,
			Timeout:             p.CircuitBreaker.Timeout,
			ConsecutiveFailures: p.CircuitBreaker.ConsecutiveFailures,
		}, deps.Logger)
		builder.WithCircuitBreaker(breaker)
		if deps.Health != nil {
			deps.Health.Register(health.NewBreakerChecker(breaker))
		}
	}
	if p.Retry != nil {
		builder.WithRetry(buildRetryPolicy(p.Retry))
	}
	if p.Timeout > 0 {
		builder.WithTimeout(p.Timeout)
	}

	return builder.Interceptors(), nil
}

func buildCache(c *CachePolicy, deps Deps) (interceptors.ResultCache, error) {
	if c.Backend == BackendRedis {
		if deps.Redis == nil {
			return nil, ErrMissingRedis
		}
		opts := []cache.RedisOption{cache.WithTTL(c.TTL), cache.WithRedisLogger(deps.Logger)}
		if c.Prefix != "" {
			opts = append(opts, cache.WithKeyPrefix(c.Prefix))
		}
		return cache.NewRedisCache(deps.Redis, opts...), nil
	}
	return cache.NewMemoryCache(c.TTL), nil
}

func buildDetector(d *DedupePolicy, deps Deps) (interceptors.DuplicateDetector, error) {
	if d.Backend == BackendRedis {
		if deps.Redis == nil {
			return nil, ErrMissingRedis
		}
		opts := []cache.RedisOption{cache.WithTTL(d.TTL), cache.WithRedisLogger(deps.Logger)}
		if d.Prefix != "" {
			opts = append(opts, cache.WithKeyPrefix(d.Prefix))
		}
		return cache.NewRedisDuplicateDetector(deps.Redis, opts...), nil
	}
	return cache.NewMemoryDuplicateDetector(d.TTL), nil
}

func buildLimiter(r *RateLimitPolicy) interceptors.RateLimiter {
	per := r.Per
	if per <= 0 {
		per = time.Second
	}

	if r.Mode == RateLimitPaced {
		return interceptors.NewPacedLimiter(int(r.Rate), per)
	}

	burst := r.Burst
	if burst == 0 {
		burst = int(r.Rate)
	}
	return interceptors.NewTokenBucketLimiter(r.Rate/per.Seconds(), burst)
}

func buildRetryPolicy(r *RetryPolicy) reliability.RetryPolicy {
	initial := r.InitialDelay
	if initial == 0 {
		initial = 100 * time.Millisecond
	}

	switch r.Backoff {
	case BackoffLinear:
		linear := reliability.NewLinearBackoff(initial, r.MaxRetries)
		linear.MaxInterval = r.MaxDelay
		return linear
	case BackoffFixed:
		return reliability.NewFixedDelay(initial, r.MaxRetries)
	default:
		maxDelay := r.MaxDelay
		if maxDelay == 0 {
			maxDelay = 10 * time.Second
		}
		multiplier := r.Multiplier
		if multiplier == 0 {
			multiplier = 2.0
		}
		return reliability.NewExponentialBackoff(initial, maxDelay, multiplier, r.MaxRetries)
	}
}
