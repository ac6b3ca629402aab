package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "production",
		},
		PMS: PMSConfig{
			ReadTimeout:  Duration{Duration: 8 * time.Second},
			WriteTimeout: Duration{Duration: 30 * time.Second},
			ReadRateRPS:  20,
		},
		PSP: PSPConfig{
			Currency: "usd",
		},
		DocStore: DocStoreConfig{
			Backend: "memory",
		},
		Checkout: CheckoutConfig{
			HoldTTL:              Duration{Duration: 15 * time.Minute},
			QuoteTTL:             Duration{Duration: 30 * time.Minute},
			IdempotencyTTL:       Duration{Duration: 24 * time.Hour},
			WebhookDedupTTL:      Duration{Duration: 7 * 24 * time.Hour},
			FinalizeMaxWait:      Duration{Duration: 30 * time.Second},
			FinalizePollInterval: Duration{Duration: 1 * time.Second},
		},
		Notify: NotifyConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 5 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQEnabled: false,
			DLQPath:    "./data/notify-dlq.json",
		},
		Expiry: ExpiryConfig{
			BatchLimit:         100,
			MaxConcurrency:     8,
			TickerInterval:     Duration{Duration: 3 * time.Minute},
			DegradedErrorRatio: 0.2,
			DegradedMinBatches: 3,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			PMS: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			PSP: BreakerServiceConfig{
				MaxRequests:         3,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 30 * time.Second},
				ConsecutiveFailures: 5,
				FailureRatio:        0.5,
				MinRequests:         10,
			},
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
