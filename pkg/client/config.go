package client

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PentesterFlow/OpenClient/internal/auth"
	"github.com/PentesterFlow/OpenClient/internal/errors"
	"github.com/PentesterFlow/OpenClient/internal/ratelimit"
	"github.com/PentesterFlow/OpenClient/internal/resilience"
	"github.com/PentesterFlow/OpenClient/internal/transport"
	"github.com/PentesterFlow/OpenClient/internal/validation"
)

// Transport backends.
const (
	BackendHTTP     = "http"
	BackendFastHTTP = "fasthttp"
)

// Config holds all client configuration.
type Config struct {
	// Base URL that relative endpoint paths are resolved against
	BaseURL string `json:"base_url" yaml:"base_url" validate:"omitempty,url"`

	// Transport backend: http or fasthttp
	Backend string `json:"backend" yaml:"backend" validate:"oneof=http fasthttp"`

	// Connection settings for both backends
	HTTP transport.HTTPConfig `json:"http" yaml:"http"`

	// Headers added to every request before endpoint headers
	Headers map[string]string `json:"headers" yaml:"headers"`

	// Rate limiting; a zero rate disables it
	RateLimit ratelimit.Config `json:"rate_limit" yaml:"rate_limit"`

	// Retries of transport failures and listed statuses
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Response caching for GET requests
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Circuit breaker settings shared by every endpoint
	Breaker resilience.BreakerConfig `json:"breaker" yaml:"breaker"`

	// Wrap every synchronous method in a command with fallback
	Resilience bool `json:"resilience" yaml:"resilience"`

	// Authentication
	Auth auth.Credentials `json:"auth" yaml:"auth"`

	// Upper bound on concurrently running futures; 0 is unbounded
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" validate:"gte=0"`

	// Metrics collection
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// OpenTelemetry spans
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`

	// Log level: debug, info, warn, error or disabled
	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error disabled"`
}

// RetryConfig is the file form of the transport retrier.
type RetryConfig struct {
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier" validate:"gte=0"`
	Jitter       float64       `json:"jitter" yaml:"jitter" validate:"gte=0,lte=1"`

	// Response statuses retried like transport failures
	Statuses []int `json:"statuses" yaml:"statuses" validate:"dive,gte=100,lte=599"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// bbolt database file; empty keeps entries in memory
	Path string        `json:"path" yaml:"path"`
	TTL  time.Duration `json:"ttl" yaml:"ttl" validate:"gte=0"`
}

// MetricsConfig configures call metrics.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// TracingConfig configures client spans.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"service_name" yaml:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	retry := errors.DefaultRetryConfig()
	return &Config{
		Backend: BackendHTTP,
		HTTP:    transport.DefaultHTTPConfig(),
		Retry: RetryConfig{
			MaxRetries:   retry.MaxRetries,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
			Jitter:       retry.Jitter,
			Statuses:     []int{502, 503, 504},
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Breaker: resilience.DefaultBreakerConfig(),
		Auth: auth.Credentials{
			Type: auth.TypeNone,
		},
		Metrics: MetricsConfig{
			Namespace: "openclient",
		},
		Tracing: TracingConfig{
			ServiceName: "openclient",
		},
		LogLevel: "warn",
	}
}

// Retrier converts the file form into the runtime retry policy.
func (r RetryConfig) Retrier() *errors.Retrier {
	cfg := errors.DefaultRetryConfig()
	cfg.MaxRetries = r.MaxRetries
	if r.InitialDelay > 0 {
		cfg.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		cfg.MaxDelay = r.MaxDelay
	}
	if r.Multiplier > 0 {
		cfg.Multiplier = r.Multiplier
	}
	cfg.Jitter = r.Jitter
	return errors.NewRetrier(cfg)
}

// LoadFromFile loads configuration from a file (JSON or YAML).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A .json extension writes JSON,
// anything else YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validation.Struct("client config", c); err != nil {
		return err
	}
	if c.HTTP.Timeout < 0 {
		return errors.NewConfigurationError("client config", "http timeout must not be negative")
	}
	if c.Auth.Type == auth.TypeOAuth && c.Auth.OAuth == nil {
		return errors.NewConfigurationError("client config", "oauth auth needs an oauth section")
	}
	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
