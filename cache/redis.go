package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glimte/interpose/interceptors"
	"github.com/glimte/interpose/reliability"
)

// DefaultKeyPrefix namespaces every key written by this package
const DefaultKeyPrefix = "interpose:"

// RedisOption configures RedisCache and RedisDuplicateDetector
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
	retry  reliability.RetryPolicy
	logger *slog.Logger
}

// WithKeyPrefix sets the key prefix
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// WithTTL sets how long entries live. Zero keeps them until evicted by Redis.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// WithRetryPolicy sets the policy for transient Redis failures
func WithRetryPolicy(policy reliability.RetryPolicy) RedisOption {
	return func(o *redisOptions) {
		o.retry = policy
	}
}

// WithRedisLogger sets the logger
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(o *redisOptions) {
		o.logger = logger
	}
}

func buildRedisOptions(opts []RedisOption) redisOptions {
	o := redisOptions{
		prefix: DefaultKeyPrefix,
		retry:  reliability.NewExponentialBackoff(50*time.Millisecond, time.Second, 2.0, 2),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// do runs a Redis command under the retry policy. redis.Nil and context
// errors are answers, not failures, and are never retried.
func (o redisOptions) do(ctx context.Context, command string, fn func() error) error {
	return reliability.Retry(ctx, o.retry, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return reliability.Permanent(err)
		}
		o.logger.Debug("redis command failed", "command", command, "error", err)
		return err
	})
}

// RedisCache is a ResultCache shared between processes through Redis
type RedisCache struct {
	client redis.UniversalClient
	opts   redisOptions

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a cache on an existing client. The caller owns the
// client and closes it.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	return &RedisCache{
		client: client,
		opts:   buildRedisOptions(opts),
	}
}

func (c *RedisCache) key(key string) string {
	return c.opts.prefix + key
}

// Get implements interceptors.ResultCache
func (c *RedisCache) Get(ctx context.Context, key string) (any, bool, error) {
	var data []byte
	err := c.opts.do(ctx, "get", func() error {
		var getErr error
		data, getErr = c.client.Get(ctx, c.key(key)).Bytes()
		return getErr
	})
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached value for %s: %w", key, err)
	}

	c.hits.Add(1)
	return value, true, nil
}

// Set implements interceptors.ResultCache
func (c *RedisCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	err = c.opts.do(ctx, "set", func() error {
		return c.client.Set(ctx, c.key(key), data, c.opts.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.opts.do(ctx, "del", func() error {
		return c.client.Del(ctx, c.key(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Stats returns hit and miss counts. Entries is not tracked for Redis.
func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// RedisDuplicateDetector records processed keys in Redis
type RedisDuplicateDetector struct {
	client redis.UniversalClient
	opts   redisOptions
}

// NewRedisDuplicateDetector creates a detector on an existing client
func NewRedisDuplicateDetector(client redis.UniversalClient, opts ...RedisOption) *RedisDuplicateDetector {
	o := buildRedisOptions(opts)
	if o.prefix == DefaultKeyPrefix {
		o.prefix = DefaultKeyPrefix + "processed:"
	}
	return &RedisDuplicateDetector{client: client, opts: o}
}

// IsDuplicate implements interceptors.DuplicateDetector
func (d *RedisDuplicateDetector) IsDuplicate(ctx context.Context, key string) (bool, error) {
	var n int64
	err := d.opts.do(ctx, "exists", func() error {
		var existsErr error
		n, existsErr = d.client.Exists(ctx, d.opts.prefix+key).Result()
		return existsErr
	})
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// MarkProcessed implements interceptors.DuplicateDetector
func (d *RedisDuplicateDetector) MarkProcessed(ctx context.Context, key string) error {
	err := d.opts.do(ctx, "setnx", func() error {
		return d.client.SetNX(ctx, d.opts.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), d.opts.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return nil
}

var (
	_ interceptors.ResultCache       = (*RedisCache)(nil)
	_ interceptors.DuplicateDetector = (*RedisDuplicateDetector)(nil)
)
