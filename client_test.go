package interpose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/interpose/config"
	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/health"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/metrics"
)

type widget struct {
	contracts.BaseInstance
}

func newWidget() *widget {
	return &widget{BaseInstance: contracts.NewBaseInstance("Widget")}
}

func render(ctx context.Context, params *contracts.Params) (any, error) {
	x, _ := params.GetInt("x")
	return x * 10, nil
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	t.Run("runs straight through when nothing is registered", func(t *testing.T) {
		client, err := NewClient()
		require.NoError(t, err)
		defer client.Close()

		result, err := client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 1), render)

		require.NoError(t, err)
		assert.Equal(t, 10, result)
		assert.Equal(t, uint64(0), client.Registry().Stats().ChainsBuilt)
		assert.Equal(t, uint64(1), client.Registry().Stats().FastPathRuns)
	})

	t.Run("type interceptors wrap instance interceptors", func(t *testing.T) {
		client, err := NewClient()
		require.NoError(t, err)
		defer client.Close()

		w := newWidget()
		var order []string
		outer := interceptors.NewInterceptorFunc("outer", func(ctx context.Context, params *contracts.Params, next interceptors.Advance) (any, error) {
			order = append(order, "type")
			return next(ctx, params)
		})
		increment := interceptors.NewInterceptorFunc("increment", func(ctx context.Context, params *contracts.Params, next interceptors.Advance) (any, error) {
			order = append(order, "instance")
			x, _ := params.GetInt("x")
			params.Set("x", x+1)
			return next(ctx, params)
		})
		require.NoError(t, client.Register(contracts.TypeRef("Widget"), "render", outer))
		require.NoError(t, client.Register(w, "render", increment))

		result, err := client.Run(ctx, w, "render", contracts.NewParams("x", 1), render)

		require.NoError(t, err)
		assert.Equal(t, 20, result)
		assert.Equal(t, []string{"type", "instance"}, order)
		assert.True(t, client.HasRegistered(w, "render"))
		assert.Equal(t, []string{"outer", "increment"}, interceptorNames(client.Registry().Interceptors(w, "render")))

		require.NoError(t, client.Clear(w, ""))
		assert.True(t, client.HasRegistered(w, "render"))
		assert.Equal(t, []string{"outer"}, interceptorNames(client.Registry().Interceptors(w, "render")))
		assert.True(t, client.HasRegistered(contracts.TypeRef("Widget"), "render"))
	})

	t.Run("applies policies with the in-process collector", func(t *testing.T) {
		client, err := NewClient(WithPolicies(config.Policy{
			Owner:         "Widget",
			Operation:     "render",
			Metrics:       true,
			RequireParams: []string{"x"},
		}))
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 1), render)
		require.NoError(t, err)
		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams(), render)
		require.Error(t, err)

		summary := client.GetMetricsSummary()
		require.NotNil(t, summary)
		assert.Equal(t, int64(2), summary.CallCounts["Widget.render"])
		assert.Equal(t, int64(1), summary.ErrorCounts["Widget.render"]["operation_error"])
	})

	t.Run("custom collectors receive metrics", func(t *testing.T) {
		collector := metrics.NewSimpleMetricsCollector()
		client, err := NewClient(
			WithMetrics(collector),
			WithPolicies(config.Policy{Owner: "Widget", Operation: "render", Metrics: true}),
		)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 1), render)

		require.NoError(t, err)
		assert.Same(t, collector, client.MetricsCollector())
		assert.Equal(t, int64(1), collector.Summary().CallCounts["Widget.render"])
	})

	t.Run("prometheus exports operations and registry counters", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		client, err := NewClient(
			WithPrometheus("app", reg),
			WithPolicies(config.Policy{Owner: "Widget", Operation: "render", Metrics: true}),
		)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 1), render)
		require.NoError(t, err)

		assert.Nil(t, client.GetMetricsSummary())
		count, err := testutil.GatherAndCount(reg, "app_operation_calls_total", "app_registry_chain_runs_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("registering prometheus metrics twice fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		first, err := NewClient(WithPrometheus("", reg))
		require.NoError(t, err)
		defer first.Close()

		_, err = NewClient(WithPrometheus("", reg))

		assert.Error(t, err)
	})

	t.Run("loads a policy file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policies.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - owner: Widget
    operation: render
    authorize: params.x < 5
`), 0o600))

		client, err := NewClient(WithPolicyFile(path))
		require.NoError(t, err)
		defer client.Close()

		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 1), render)
		require.NoError(t, err)
		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("x", 9), render)
		assert.ErrorIs(t, err, interceptors.ErrPermissionDenied)
	})

	t.Run("invalid policies fail creation", func(t *testing.T) {
		_, err := NewClient(WithPolicies(config.Policy{Owner: "Widget"}))

		var validationErrs config.ValidationErrors
		assert.True(t, errors.As(err, &validationErrs))
	})

	t.Run("redis policies use the given client", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		client, err := NewClient(
			WithRedis(rdb),
			WithPolicies(config.Policy{
				Owner:     "Widget",
				Operation: "render",
				Dedupe:    &config.DedupePolicy{Param: "id", Backend: config.BackendRedis},
			}),
		)
		require.NoError(t, err)

		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("id", "r-1", "x", 1), render)
		require.NoError(t, err)
		_, err = client.Run(ctx, newWidget(), "render", contracts.NewParams("id", "r-1", "x", 1), render)
		assert.True(t, interceptors.IsShortCircuit(err))
		assert.True(t, mr.Exists("interpose:processed:r-1"))

		require.NoError(t, client.Close())
		assert.NoError(t, rdb.Ping(ctx).Err())
	})

	t.Run("redis url clients are closed with the client", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClient(WithRedisURL("redis://" + mr.Addr() + "/0"))
		require.NoError(t, err)

		rdb := client.redis
		require.NotNil(t, rdb)
		require.NoError(t, rdb.Ping(ctx).Err())

		require.NoError(t, client.Close())
		assert.ErrorIs(t, rdb.Ping(ctx).Err(), redis.ErrClosed)
	})

	t.Run("health covers registry, redis and breakers", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		client, err := NewClient(
			WithRedis(rdb),
			WithPolicies(config.Policy{
				Owner:          "Payment",
				Operation:      "capture",
				CircuitBreaker: &config.BreakerPolicy{ConsecutiveFailures: 1, Timeout: time.Minute},
			}),
		)
		require.NoError(t, err)
		defer client.Close()

		result := client.Health(ctx)
		assert.Equal(t, health.StatusHealthy, result.Status)
		assert.Equal(t, []string{"breaker_Payment.capture", "redis", "registry"}, client.HealthRegistry().Names())

		_, err = client.Run(ctx, contracts.TypeRef("Payment"), "capture", contracts.NewParams(), func(ctx context.Context, params *contracts.Params) (any, error) {
			return nil, errors.New("gateway down")
		})
		require.Error(t, err)

		result = client.Health(ctx)
		assert.Equal(t, health.StatusUnhealthy, result.Status)
		assert.Equal(t, health.StatusUnhealthy, result.Checks["breaker_Payment.capture"].Status)
	})

	t.Run("bad redis url", func(t *testing.T) {
		_, err := NewClient(WithRedisURL("not a url"))
		assert.Error(t, err)
	})
}

func interceptorNames(ics []interceptors.Interceptor) []string {
	names := make([]string, len(ics))
	for i, ic := range ics {
		names[i] = ic.Name()
	}
	return names
}
