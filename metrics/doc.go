// Package metrics provides MetricsCollector implementations for the metrics
// interceptor and exports registry counters to Prometheus.
package metrics
