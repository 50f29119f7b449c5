// Copyright 2024 Interpose Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package interpose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/interpose/config"
	"github.com/glimte/interpose/contracts"
	"github.com/glimte/interpose/health"
	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/metrics"
	"github.com/glimte/interpose/registry"
	"github.com/glimte/interpose/transports/amqp"
)

// Client wires a registry with the collaborators policies and adapters need
type Client struct {
	registry *registry.Registry
	metrics  interceptors.MetricsCollector
	tracer   trace.Tracer
	redis    redis.UniversalClient
	health   *health.Registry
	logger   *slog.Logger

	ownsRedis bool
}

// NewClient creates a client with a fresh registry
func NewClient(options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:    slog.Default(),
		namespace: metrics.DefaultNamespace,
	}

	for _, opt := range options {
		opt(cfg)
	}

	c := &Client{
		registry: registry.New(registry.WithLogger(cfg.logger)),
		metrics:  cfg.metrics,
		tracer:   cfg.tracer,
		redis:    cfg.redis,
		health:   health.NewRegistry(),
		logger:   cfg.logger,
	}
	if c.metrics == nil {
		c.metrics = metrics.NewSimpleMetricsCollector()
	}

	if c.redis == nil && cfg.redisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		c.redis = redis.NewClient(redisOpts)
		c.ownsRedis = true
	}

	c.health.Register(health.NewRegistryChecker(c.registry))
	if c.redis != nil {
		c.health.Register(health.NewRedisChecker(c.redis, cfg.slowRedis))
	}

	if cfg.registerer != nil {
		collector, err := metrics.NewPrometheusCollector(cfg.namespace, cfg.registerer)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		if err := metrics.RegisterRegistryStats(cfg.namespace, cfg.registerer, c.registry); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to register registry stats: %w", err)
		}
		c.metrics = collector
	}

	policies := cfg.policies
	if cfg.policyFile != "" {
		loaded, err := config.Load(cfg.policyFile)
		if err != nil {
			c.Close()
			return nil, err
		}
		policies = append(policies, loaded.Policies...)
	}
	if len(policies) > 0 {
		if err := c.ApplyPolicies(&config.Config{Policies: policies}); err != nil {
			c.Close()
			return nil, err
		}
		c.logger.Info("Policies applied", "count", len(policies))
	}

	return c, nil
}

// ApplyPolicies registers cfg's policies on the client's registry
func (c *Client) ApplyPolicies(cfg *config.Config) error {
	return config.Apply(c.registry, cfg, config.Deps{
		Logger:  c.logger,
		Metrics: c.metrics,
		Tracer:  c.tracer,
		Redis:   c.redis,
		Health:  c.health,
	})
}

// Register adds interceptors to owner.operation
func (c *Client) Register(owner contracts.Owner, operation string, ics ...interceptors.Interceptor) error {
	return c.registry.Register(owner, operation, ics...)
}

// Run runs impl through the interceptors registered for owner.operation
func (c *Client) Run(ctx context.Context, owner contracts.Owner, operation string, params *contracts.Params, impl interceptors.Implementation) (any, error) {
	return c.registry.Run(ctx, owner, operation, params, impl)
}

// HasRegistered reports whether owner.operation has interceptors
func (c *Client) HasRegistered(owner contracts.Owner, operation string) bool {
	return c.registry.HasRegistered(owner, operation)
}

// Clear removes registrations, see registry.Registry.Clear
func (c *Client) Clear(owner contracts.Owner, operation string) error {
	return c.registry.Clear(owner, operation)
}

// Registry returns the underlying registry
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// MetricsCollector returns the collector metrics policies report to
func (c *Client) MetricsCollector() interceptors.MetricsCollector {
	return c.metrics
}

// GetMetricsSummary returns the in-process metrics summary, or nil when
// metrics go to another collector
func (c *Client) GetMetricsSummary() *metrics.Summary {
	simple, ok := c.metrics.(*metrics.SimpleMetricsCollector)
	if !ok {
		return nil
	}
	summary := simple.Summary()
	return &summary
}

// Health runs every health check: the registry, redis when configured, and
// one per circuit breaker policy
func (c *Client) Health(ctx context.Context) health.OverallHealth {
	return c.health.Check(ctx)
}

// HealthRegistry returns the health registry so callers can add checkers
func (c *Client) HealthRegistry() *health.Registry {
	return c.health
}

// DeliveryHandler returns an AMQP delivery handler running impl as
// owner.operation through the client's registry
func (c *Client) DeliveryHandler(owner contracts.Owner, operation string, impl interceptors.Implementation, opts ...amqp.HandlerOption) *amqp.DeliveryHandler {
	opts = append([]amqp.HandlerOption{amqp.WithLogger(c.logger)}, opts...)
	return amqp.NewDeliveryHandler(c.registry, owner, operation, impl, opts...)
}

// Close releases resources the client created. Clients passed in through
// options are left open.
func (c *Client) Close() error {
	var errs []error
	if c.ownsRedis && c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		c.redis = nil
	}
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger     *slog.Logger
	metrics    interceptors.MetricsCollector
	tracer     trace.Tracer
	redis      redis.UniversalClient
	redisURL   string
	slowRedis  time.Duration
	registerer prometheus.Registerer
	namespace  string
	policies   []config.Policy
	policyFile string
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithMetrics sets the collector metrics policies report to
func WithMetrics(collector interceptors.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = collector
	}
}

// WithPrometheus exports operation metrics and registry counters to
// registerer. It replaces any collector set with WithMetrics.
func WithPrometheus(namespace string, registerer prometheus.Registerer) ClientOption {
	return func(cfg *clientConfig) {
		if namespace != "" {
			cfg.namespace = namespace
		}
		cfg.registerer = registerer
	}
}

// WithTracer sets the tracer tracing policies use
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracer = tracer
	}
}

// WithRedis sets the client redis backed policies use
func WithRedis(client redis.UniversalClient) ClientOption {
	return func(cfg *clientConfig) {
		cfg.redis = client
	}
}

// WithRedisURL connects redis backed policies to url, e.g.
// redis://localhost:6379/0. The client is closed by Close.
func WithRedisURL(url string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.redisURL = url
	}
}

// WithSlowRedisThreshold reports redis degraded when a health ping takes
// longer than d
func WithSlowRedisThreshold(d time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.slowRedis = d
	}
}

// WithPolicies applies policies when the client is created
func WithPolicies(policies ...config.Policy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.policies = append(cfg.policies, policies...)
	}
}

// WithPolicyFile loads and applies a YAML policy file when the client is
// created
func WithPolicyFile(path string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.policyFile = path
	}
}
