package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.PSP.Currency == "" {
		c.PSP.Currency = "usd"
	}
	if c.DocStore.Backend == "" {
		c.DocStore.Backend = "memory"
	}

	if c.Checkout.HoldTTL.Duration <= 0 {
		c.Checkout.HoldTTL = Duration{Duration: 15 * time.Minute}
	}
	if c.Checkout.QuoteTTL.Duration <= 0 {
		c.Checkout.QuoteTTL = Duration{Duration: 30 * time.Minute}
	}
	if c.Checkout.IdempotencyTTL.Duration <= 0 {
		c.Checkout.IdempotencyTTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Checkout.WebhookDedupTTL.Duration <= 0 {
		c.Checkout.WebhookDedupTTL = Duration{Duration: 7 * 24 * time.Hour}
	}
	if c.Checkout.FinalizeMaxWait.Duration <= 0 || c.Checkout.FinalizeMaxWait.Duration > 30*time.Second {
		c.Checkout.FinalizeMaxWait = Duration{Duration: 30 * time.Second}
	}
	if c.Checkout.FinalizePollInterval.Duration <= 0 {
		c.Checkout.FinalizePollInterval = Duration{Duration: 1 * time.Second}
	}

	if c.PMS.ReadTimeout.Duration <= 0 {
		c.PMS.ReadTimeout = Duration{Duration: 8 * time.Second}
	}
	if c.PMS.WriteTimeout.Duration <= 0 {
		c.PMS.WriteTimeout = Duration{Duration: 30 * time.Second}
	}

	if c.Notify.Headers == nil {
		c.Notify.Headers = make(map[string]string)
	}
	if c.Notify.Timeout.Duration <= 0 {
		c.Notify.Timeout = Duration{Duration: 5 * time.Second}
	}

	if c.Expiry.BatchLimit <= 0 {
		c.Expiry.BatchLimit = 100
	}
	if c.Expiry.MaxConcurrency <= 0 {
		c.Expiry.MaxConcurrency = 8
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	if c.PMS.BaseURL == "" {
		errs = append(errs, "pms.base_url is required")
	}
	if c.PSP.SecretKey == "" {
		errs = append(errs, "psp.secret_key is required")
	}
	if c.PSP.WebhookSecret == "" {
		errs = append(errs, "psp.webhook_secret is required")
	}

	switch c.DocStore.Backend {
	case "memory":
	case "mongodb":
		if c.DocStore.MongoDBURL == "" {
			errs = append(errs, "docstore.mongodb_url is required when docstore.backend is 'mongodb'")
		}
	case "postgres":
		if c.DocStore.PostgresURL == "" {
			errs = append(errs, "docstore.postgres_url is required when docstore.backend is 'postgres'")
		}
	default:
		errs = append(errs, fmt.Sprintf("docstore.backend %q is not one of memory, mongodb, postgres", c.DocStore.Backend))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database
// connection, defaulting anything unset to values suited to a transactional
// document-store workload.
func ApplyPostgresPoolSettings(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
