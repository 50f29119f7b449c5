package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// OverallHealth is the worst status across all checks
type OverallHealth struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker defines the interface for health checks
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry manages health checks
type Registry struct {
	checkers map[string]Checker
	mu       sync.RWMutex
}

// NewRegistry creates a new health check registry
func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker, replacing one with the same name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// Unregister removes a checker
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// Checkers returns the registered checkers sorted by name
func (r *Registry) Checkers() []Checker {
	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, checker := range r.checkers {
		checkers = append(checkers, checker)
	}
	r.mu.RUnlock()

	sort.Slice(checkers, func(i, j int) bool {
		return checkers[i].Name() < checkers[j].Name()
	})
	return checkers
}

// Names lists the registered checkers in sorted order
func (r *Registry) Names() []string {
	checkers := r.Checkers()
	names := make([]string, len(checkers))
	for i, checker := range checkers {
		names[i] = checker.Name()
	}
	return names
}

// Check runs every checker concurrently. Checks still running when ctx ends
// are reported unhealthy.
func (r *Registry) Check(ctx context.Context) OverallHealth {
	start := time.Now()
	checkers := r.Checkers()

	results := make([]CheckResult, len(checkers))
	finished := make([]bool, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, checker := range checkers {
		i, checker := i, checker
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := checker.Check(ctx)
			mu.Lock()
			results[i], finished[i] = result, true
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	health := OverallHealth{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checkers)),
	}
	for i, checker := range checkers {
		result := results[i]
		if !finished[i] {
			result = CheckResult{
				Name:      checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "Check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     ctx.Err().Error(),
			}
		}
		health.Checks[checker.Name()] = result
		health.Status = worst(health.Status, result.Status)
	}
	health.Timestamp = time.Now()
	health.Duration = time.Since(start)
	return health
}

func worst(a, b Status) Status {
	switch {
	case a == StatusUnhealthy || b == StatusUnhealthy:
		return StatusUnhealthy
	case a == StatusDegraded || b == StatusDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
