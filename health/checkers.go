package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
)

// RedisChecker pings the client backing redis caches and detectors
type RedisChecker struct {
	client redis.UniversalClient
	// slow marks the check degraded when a ping takes longer
	slow time.Duration
}

// NewRedisChecker creates a new Redis health checker. A ping slower than
// slow is reported degraded; zero disables the threshold.
func NewRedisChecker(client redis.UniversalClient, slow time.Duration) *RedisChecker {
	return &RedisChecker{client: client, slow: slow}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Ping failed"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	if stats := c.client.PoolStats(); stats != nil {
		result.Details["total_conns"] = stats.TotalConns
		result.Details["idle_conns"] = stats.IdleConns
		result.Details["timeouts"] = stats.Timeouts
	}

	if c.slow > 0 && result.Duration > c.slow {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Ping took %s", result.Duration)
		return result
	}

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	return result
}

// BreakerChecker reports a circuit breaker's state: closed is healthy,
// half-open degraded, open unhealthy
type BreakerChecker struct {
	breaker *interceptors.Breaker
}

// NewBreakerChecker creates a checker for breaker
func NewBreakerChecker(breaker *interceptors.Breaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return "breaker_" + c.breaker.Name()
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.breaker.State()
	counts := c.breaker.Counts()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Message:   "Circuit " + state.String(),
		Details: map[string]any{
			"state":                 state.String(),
			"requests":              counts.Requests,
			"consecutive_failures":  counts.ConsecutiveFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
		},
	}

	switch state {
	case gobreaker.StateOpen:
		result.Status = StatusUnhealthy
	case gobreaker.StateHalfOpen:
		result.Status = StatusDegraded
	default:
		result.Status = StatusHealthy
	}

	result.Duration = time.Since(start)
	return result
}

// RegistryChecker exposes registry counters; it is always healthy
type RegistryChecker struct {
	registry *registry.Registry
}

// NewRegistryChecker creates a checker for reg
func NewRegistryChecker(reg *registry.Registry) *RegistryChecker {
	return &RegistryChecker{registry: reg}
}

func (c *RegistryChecker) Name() string {
	return "registry"
}

func (c *RegistryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	stats := c.registry.Stats()

	return CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d operations registered", len(c.registry.Identities())),
		Timestamp: start,
		Duration:  time.Since(start),
		Details: map[string]any{
			"chains_built":   stats.ChainsBuilt,
			"cached_chains":  stats.CachedChains,
			"fast_path_runs": stats.FastPathRuns,
			"chain_runs":     stats.ChainRuns,
			"invalidations":  stats.Invalidations,
		},
	}
}

// GoroutineChecker flags runaway goroutine counts, for instance from
// deliveries that never finish
type GoroutineChecker struct {
	warningThreshold  int
	criticalThreshold int
}

// NewGoroutineChecker creates a new goroutine checker
func NewGoroutineChecker(warningThreshold, criticalThreshold int) *GoroutineChecker {
	return &GoroutineChecker{
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]any, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]any, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
