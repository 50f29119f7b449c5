package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/registry"
)

type widget struct {
	contracts.BaseInstance
}

func newWidget() *widget {
	return &widget{BaseInstance: contracts.NewBaseInstance("Widget")}
}

func TestSimpleMetricsCollector(t *testing.T) {
	t.Run("counts calls, errors and durations", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		collector.IncrementCallCount("Widget.render")
		collector.IncrementCallCount("Widget.render")
		collector.IncrementErrorCount("Widget.render", "operation_error")
		collector.RecordDuration("Widget.render", 10*time.Millisecond)
		collector.RecordDuration("Widget.render", 30*time.Millisecond)

		summary := collector.Summary()
		assert.Equal(t, int64(2), summary.CallCounts["Widget.render"])
		assert.Equal(t, int64(1), summary.ErrorCounts["Widget.render"]["operation_error"])

		stats := summary.DurationStats["Widget.render"]
		assert.Equal(t, int64(2), stats.Count)
		assert.Equal(t, 20*time.Millisecond, stats.Avg)
		assert.Equal(t, 10*time.Millisecond, stats.Min)
		assert.Equal(t, 30*time.Millisecond, stats.Max)
		assert.Equal(t, 10*time.Millisecond, stats.P50)
	})

	t.Run("keeps a bounded window of samples", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()

		for i := 1; i <= maxSamples+50; i++ {
			collector.RecordDuration("op", time.Duration(i)*time.Millisecond)
		}

		stats := collector.Summary().DurationStats["op"]
		assert.Equal(t, int64(maxSamples+50), stats.Count)
		assert.Equal(t, time.Millisecond, stats.Min)
		assert.Len(t, collector.durations["op"].samples, maxSamples)
		assert.Equal(t, 100*time.Millisecond, stats.P50)
	})

	t.Run("reset clears everything", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		collector.IncrementCallCount("op")

		collector.Reset()

		assert.Empty(t, collector.Summary().CallCounts)
	})

	t.Run("summary is a copy", func(t *testing.T) {
		collector := NewSimpleMetricsCollector()
		collector.IncrementErrorCount("op", "operation_error")

		summary := collector.Summary()
		summary.ErrorCounts["op"]["operation_error"] = 99

		assert.Equal(t, int64(1), collector.Summary().ErrorCounts["op"]["operation_error"])
	})
}

func TestPrometheusCollector(t *testing.T) {
	t.Run("records interceptor metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector, err := NewPrometheusCollector("", reg)
		require.NoError(t, err)

		chain := interceptors.NewChain(interceptors.NewMetricsInterceptor(collector))
		ctx := interceptors.WithOperation(context.Background(), interceptors.Operation{TypeName: "Widget", InstanceID: "w1", Name: "render"})

		_, err = chain.Run(ctx, nil, func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
		_, err = chain.Run(ctx, nil, func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, errors.New("failed")
		})
		require.Error(t, err)

		assert.Equal(t, 2.0, testutil.ToFloat64(collector.callsTotal.WithLabelValues("Widget.render")))
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.errorsTotal.WithLabelValues("Widget.render", "operation_error")))
		assert.Equal(t, 1, testutil.CollectAndCount(collector.duration))
	})

	t.Run("exposes metrics under the namespace", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector, err := NewPrometheusCollector("app", reg)
		require.NoError(t, err)

		collector.IncrementCallCount("Widget.render")

		expected := `
# HELP app_operation_calls_total Total number of intercepted operation calls
# TYPE app_operation_calls_total counter
app_operation_calls_total{operation="Widget.render"} 1
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "app_operation_calls_total"))
	})

	t.Run("double registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewPrometheusCollector("", reg)
		require.NoError(t, err)

		_, err = NewPrometheusCollector("", reg)
		assert.Error(t, err)
	})
}

func TestRegisterRegistryStats(t *testing.T) {
	promReg := prometheus.NewRegistry()
	reg := registry.New()
	require.NoError(t, RegisterRegistryStats("", promReg, reg))

	w := newWidget()
	impl := func(ctx context.Context, params *contracts.Params) (any, error) { return nil, nil }

	_, err := reg.Run(context.Background(), w, "render", nil, impl)
	require.NoError(t, err)

	reg.MustRegister(w, "render", interceptors.NewInterceptorFunc("pass", func(ctx context.Context, params *contracts.Params, next interceptors.Advance) (any, error) {
		return next(ctx, params)
	}))
	_, err = reg.Run(context.Background(), w, "render", nil, impl)
	require.NoError(t, err)

	expected := `
# HELP interpose_registry_chain_runs_total Runs that went through a chain
# TYPE interpose_registry_chain_runs_total counter
interpose_registry_chain_runs_total 1
# HELP interpose_registry_fast_path_runs_total Runs that called the implementation directly
# TYPE interpose_registry_fast_path_runs_total counter
interpose_registry_fast_path_runs_total 1
# HELP interpose_registry_cached_chains Chains currently cached
# TYPE interpose_registry_cached_chains gauge
interpose_registry_cached_chains 1
`
	assert.NoError(t, testutil.GatherAndCompare(promReg, strings.NewReader(expected),
		"interpose_registry_chain_runs_total",
		"interpose_registry_fast_path_runs_total",
		"interpose_registry_cached_chains",
	))
}
