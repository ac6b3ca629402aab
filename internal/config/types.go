package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	PMS            PMSConfig            `yaml:"pms"`
	PSP            PSPConfig            `yaml:"psp"`
	DocStore       DocStoreConfig       `yaml:"docstore"`
	Checkout       CheckoutConfig       `yaml:"checkout"`
	Jobs           JobsConfig           `yaml:"jobs"`
	Notify         NotifyConfig         `yaml:"notify"`
	Expiry         ExpiryConfig         `yaml:"expiry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout         Duration `yaml:"read_timeout"`
	WriteTimeout        Duration `yaml:"write_timeout"`
	IdleTimeout         Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins  []string `yaml:"cors_allowed_origins"`
	RoutePrefix         string   `yaml:"route_prefix"`
	AdminMetricsAPIKey  string   `yaml:"admin_metrics_api_key"` // protects /metrics if set
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error
	Format      string `yaml:"format"`      // json, console
	Environment string `yaml:"environment"` // production, staging, development
}

// PMSConfig holds property-management-system adapter configuration.
type PMSConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	ReadTimeout  Duration `yaml:"read_timeout"`  // short budget, 8s default, for lookups on the request path
	WriteTimeout Duration `yaml:"write_timeout"` // longer budget, 30s default, for reservation/booking writes
	ReadRateRPS  int      `yaml:"read_rate_rps"` // leaky-bucket pacing for read endpoints
}

// PSPConfig holds payment-processor adapter configuration.
type PSPConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	Currency      string `yaml:"currency"` // single configured currency, e.g. "usd"
}

// DocStoreConfig holds document store gateway configuration.
type DocStoreConfig struct {
	Backend         string `yaml:"backend"` // "memory", "mongodb", or "postgres"
	MongoDBURL      string `yaml:"mongodb_url"`
	MongoDBDatabase string `yaml:"mongodb_database"`
	PostgresURL     string `yaml:"postgres_url"`
}

// CheckoutConfig holds orchestrator-level TTL and policy configuration.
type CheckoutConfig struct {
	HoldTTL             Duration `yaml:"hold_ttl"`              // HOLD_TTL_MINUTES, default 15m
	QuoteTTL             Duration `yaml:"quote_ttl"`             // QUOTE_TTL_MINUTES, default 30m
	IdempotencyTTL       Duration `yaml:"idempotency_ttl"`       // IDEMPOTENCY_TTL_HOURS, default 24h
	WebhookDedupTTL      Duration `yaml:"webhook_dedup_ttl"`     // WEBHOOK_DEDUP_TTL_DAYS, default 7d
	FinalizeMaxWait      Duration `yaml:"finalize_max_wait"`     // hard cap on waitForConfirmation, 30s
	FinalizePollInterval Duration `yaml:"finalize_poll_interval"` // 1s
}

// JobsConfig holds configuration for service-authenticated background job endpoints.
type JobsConfig struct {
	AuthToken string `yaml:"auth_token"` // JOB_AUTH_TOKEN, compared against Authorization: Bearer <token>
}

// NotifyConfig configures outbound operational notifications: dangling
// capture alerts and sweep-degraded alerts delivered over the retryable
// webhook client.
type NotifyConfig struct {
	WebhookURL string            `yaml:"webhook_url"`
	Headers    map[string]string `yaml:"headers"`
	Timeout    Duration          `yaml:"timeout"`
	Retry      RetryConfig       `yaml:"retry"`
	DLQEnabled bool              `yaml:"dlq_enabled"`
	DLQPath    string            `yaml:"dlq_path"`
}

// RetryConfig holds exponential backoff configuration for outbound delivery.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// ExpiryConfig holds hold-expiration sweep engine configuration.
type ExpiryConfig struct {
	BatchLimit         int      `yaml:"batch_limit"`         // per-state page size for one sweep pass, default 100
	MaxConcurrency     int      `yaml:"max_concurrency"`     // bounded errgroup worker count
	TickerInterval      Duration `yaml:"ticker_interval"`     // optional local/dev internal ticker, 0 disables
	DegradedErrorRatio  float64  `yaml:"degraded_error_ratio"` // errorCount/total ratio that triggers a sweep-degraded alert
	DegradedMinBatches  int      `yaml:"degraded_min_batches"` // consecutive degraded sweeps before alerting
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	PMS     BreakerServiceConfig `yaml:"pms"`
	PSP     BreakerServiceConfig `yaml:"psp"`
	Webhook BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
