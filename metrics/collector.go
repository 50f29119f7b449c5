package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/interpose/interceptors"
)

// maxSamples bounds the latency samples kept per operation
const maxSamples = 100

// SimpleMetricsCollector is an in-memory MetricsCollector for tests, the CLI
// and processes that do not run Prometheus
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	// Call counters by operation
	callCounters map[string]int64

	// Error counters by operation and error type
	errorCounters map[string]map[string]int64

	// Duration stats by operation
	durations map[string]*TimeStats
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	samples []time.Duration
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	return &SimpleMetricsCollector{
		callCounters:  make(map[string]int64),
		errorCounters: make(map[string]map[string]int64),
		durations:     make(map[string]*TimeStats),
	}
}

// IncrementCallCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementCallCount(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callCounters[operation]++
}

// RecordDuration implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) RecordDuration(operation string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.durations[operation]
	if !exists {
		stats = &TimeStats{
			Min:     duration,
			Max:     duration,
			samples: make([]time.Duration, 0, maxSamples),
		}
		c.durations[operation] = stats
	}

	stats.Count++
	stats.Total += duration
	if duration < stats.Min {
		stats.Min = duration
	}
	if duration > stats.Max {
		stats.Max = duration
	}

	if len(stats.samples) >= maxSamples {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, duration)
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *SimpleMetricsCollector) IncrementErrorCount(operation string, errorType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errorCounters[operation] == nil {
		c.errorCounters[operation] = make(map[string]int64)
	}
	c.errorCounters[operation][errorType]++
}

// Summary is a snapshot of all collected metrics
type Summary struct {
	CallCounts    map[string]int64            `json:"call_counts"`
	ErrorCounts   map[string]map[string]int64 `json:"error_counts"`
	DurationStats map[string]DurationStats    `json:"duration_stats"`
}

// DurationStats summarises the durations of one operation
type DurationStats struct {
	Count int64         `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Summary returns a summary of all collected metrics
func (c *SimpleMetricsCollector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := Summary{
		CallCounts:    make(map[string]int64, len(c.callCounters)),
		ErrorCounts:   make(map[string]map[string]int64, len(c.errorCounters)),
		DurationStats: make(map[string]DurationStats, len(c.durations)),
	}

	for operation, count := range c.callCounters {
		summary.CallCounts[operation] = count
	}

	for operation, errs := range c.errorCounters {
		summary.ErrorCounts[operation] = make(map[string]int64, len(errs))
		for errorType, count := range errs {
			summary.ErrorCounts[operation][errorType] = count
		}
	}

	for operation, stats := range c.durations {
		ds := DurationStats{
			Count: stats.Count,
			Min:   stats.Min,
			Max:   stats.Max,
		}
		if stats.Count > 0 {
			ds.Avg = stats.Total / time.Duration(stats.Count)
		}

		if len(stats.samples) > 0 {
			sorted := make([]time.Duration, len(stats.samples))
			copy(sorted, stats.samples)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

			ds.P50 = percentile(sorted, 0.50)
			ds.P95 = percentile(sorted, 0.95)
			ds.P99 = percentile(sorted, 0.99)
		}

		summary.DurationStats[operation] = ds
	}

	return summary
}

// percentile picks the nearest-rank value from sorted samples
func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.callCounters = make(map[string]int64)
	c.errorCounters = make(map[string]map[string]int64)
	c.durations = make(map[string]*TimeStats)
}

var _ interceptors.MetricsCollector = (*SimpleMetricsCollector)(nil)
