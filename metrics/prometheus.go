package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "interpose"

// PrometheusCollector exports interceptor metrics to Prometheus. Operations
// are labelled Type.name; instance ids are left out to bound cardinality.
type PrometheusCollector struct {
	callsTotal  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewPrometheusCollector creates the collector and registers its metrics. A
// nil registerer uses prometheus.DefaultRegisterer.
func NewPrometheusCollector(namespace string, registerer prometheus.Registerer) (*PrometheusCollector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	c := &PrometheusCollector{
		callsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "calls_total",
				Help:      "Total number of intercepted operation calls",
			},
			[]string{"operation"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "errors_total",
				Help:      "Total number of failed or short-circuited operation calls",
			},
			[]string{"operation", "type"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Operation duration in seconds, including inner interceptors",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
	}

	for _, collector := range []prometheus.Collector{c.callsTotal, c.errorsTotal, c.duration} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// IncrementCallCount implements interceptors.MetricsCollector
func (c *PrometheusCollector) IncrementCallCount(operation string) {
	c.callsTotal.WithLabelValues(operation).Inc()
}

// RecordDuration implements interceptors.MetricsCollector
func (c *PrometheusCollector) RecordDuration(operation string, duration time.Duration) {
	c.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementErrorCount implements interceptors.MetricsCollector
func (c *PrometheusCollector) IncrementErrorCount(operation string, errorType string) {
	c.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

var _ interceptors.MetricsCollector = (*PrometheusCollector)(nil)

// RegisterRegistryStats exports a registry's counters. Values are read from
// Registry.Stats at scrape time.
func RegisterRegistryStats(namespace string, registerer prometheus.Registerer, reg *registry.Registry) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, value func(registry.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      name,
				Help:      help,
			},
			func() float64 { return float64(value(reg.Stats())) },
		)
	}

	collectors := []prometheus.Collector{
		counter("chains_built_total", "Merged chains constructed",
			func(s registry.Stats) uint64 { return s.ChainsBuilt }),
		counter("fast_path_runs_total", "Runs that called the implementation directly",
			func(s registry.Stats) uint64 { return s.FastPathRuns }),
		counter("chain_runs_total", "Runs that went through a chain",
			func(s registry.Stats) uint64 { return s.ChainRuns }),
		counter("invalidations_total", "Cached chains evicted",
			func(s registry.Stats) uint64 { return s.Invalidations }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "cached_chains",
				Help:      "Chains currently cached",
			},
			func() float64 { return float64(reg.Stats().CachedChains) },
		),
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
