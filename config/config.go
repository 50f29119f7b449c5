package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Config is a set of interceptor policies
type Config struct {
	Policies []Policy `mapstructure:"policies"`
}

// Policy attaches built-in interceptors to one type-level operation
type Policy struct {
	Owner     string `mapstructure:"owner"`
	Operation string `mapstructure:"operation"`

	Logging bool `mapstructure:"logging"`
	Tracing bool `mapstructure:"tracing"`
	Metrics bool `mapstructure:"metrics"`

	// Authorize is a CEL rule over params, owner, instance and operation
	Authorize     string   `mapstructure:"authorize"`
	RequireParams []string `mapstructure:"requireParams"`

	Dedupe         *DedupePolicy    `mapstructure:"dedupe"`
	Cache          *CachePolicy     `mapstructure:"cache"`
	RateLimit      *RateLimitPolicy `mapstructure:"rateLimit"`
	CircuitBreaker *BreakerPolicy   `mapstructure:"circuitBreaker"`
	Retry          *RetryPolicy     `mapstructure:"retry"`
	Timeout        time.Duration    `mapstructure:"timeout"`
}

// Identity returns Owner.operation
func (p Policy) Identity() string {
	return p.Owner + "." + p.Operation
}

// Backend names a storage backend
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
)

// CachePolicy caches successful results
type CachePolicy struct {
	Backend Backend       `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// DedupePolicy drops calls whose key parameter was already processed
type DedupePolicy struct {
	Param   string        `mapstructure:"param"`
	Backend Backend       `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Prefix  string        `mapstructure:"prefix"`
}

// RateLimitMode selects the limiter
type RateLimitMode string

const (
	// RateLimitTokenBucket rejects calls once the bucket is empty
	RateLimitTokenBucket RateLimitMode = "tokenBucket"
	// RateLimitPaced delays calls to an even pace
	RateLimitPaced RateLimitMode = "paced"
)

// RateLimitPolicy limits calls per operation, shared by every instance
type RateLimitPolicy struct {
	Mode  RateLimitMode `mapstructure:"mode"`
	Rate  float64       `mapstructure:"rate"`
	Burst int           `mapstructure:"burst"`
	Per   time.Duration `mapstructure:"per"`
}

// BreakerPolicy configures a circuit breaker
type BreakerPolicy struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutiveFailures"`
	MaxRequests         uint32        `mapstructure:"maxRequests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// BackoffKind selects the retry delay curve
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
)

// RetryPolicy configures retries of the inner chain
type RetryPolicy struct {
	Backoff      BackoffKind   `mapstructure:"backoff"`
	MaxRetries   int           `mapstructure:"maxRetries"`
	InitialDelay time.Duration `mapstructure:"initialDelay"`
	MaxDelay     time.Duration `mapstructure:"maxDelay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// Load reads and parses a policy file
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads and parses policies from r
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML policies. ${VAR} and ${VAR:-default} are substituted
// from the environment first. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	content := substituteEnvVars(string(data))

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := &Config{}
	if raw == nil {
		return cfg, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}

	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(content string) string {
	// Handle escaped dollar signs first
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
