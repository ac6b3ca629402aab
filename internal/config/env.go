package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. Server
// settings use a CHECKOUT_ prefix; the other settings read unprefixed names
// (LOG_*, PMS_*, PSP_*, DOCSTORE_*, the TTL variables, JOB_AUTH_TOKEN,
// NOTIFY_*).
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "CHECKOUT_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "CHECKOUT_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "CHECKOUT_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}
	if v := os.Getenv("CHECKOUT_CORS_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "LOG_ENVIRONMENT")

	// PMS adapter config
	setIfEnv(&c.PMS.BaseURL, "PMS_BASE_URL")
	setIfEnv(&c.PMS.APIKey, "PMS_API_KEY")
	setDurationIfEnv(&c.PMS.ReadTimeout, "PMS_READ_TIMEOUT")
	setDurationIfEnv(&c.PMS.WriteTimeout, "PMS_WRITE_TIMEOUT")

	// PSP adapter config
	setIfEnv(&c.PSP.SecretKey, "PSP_SECRET_KEY")
	setIfEnv(&c.PSP.WebhookSecret, "PSP_WEBHOOK_SECRET")
	setIfEnv(&c.PSP.Currency, "PSP_CURRENCY")

	// Document store config
	setIfEnv(&c.DocStore.Backend, "DOCSTORE_BACKEND")
	setIfEnv(&c.DocStore.MongoDBURL, "DOCSTORE_MONGODB_URL")
	setIfEnv(&c.DocStore.MongoDBDatabase, "DOCSTORE_MONGODB_DATABASE")
	setIfEnv(&c.DocStore.PostgresURL, "DOCSTORE_POSTGRES_URL")

	// Checkout TTL config
	setDurationIfEnv(&c.Checkout.HoldTTL, "HOLD_TTL_MINUTES_DURATION")
	if v := os.Getenv("HOLD_TTL_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			c.Checkout.HoldTTL = Duration{Duration: time.Duration(mins) * time.Minute}
		}
	}
	if v := os.Getenv("QUOTE_TTL_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil {
			c.Checkout.QuoteTTL = Duration{Duration: time.Duration(mins) * time.Minute}
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL_HOURS"); v != "" {
		if hrs, err := strconv.Atoi(v); err == nil {
			c.Checkout.IdempotencyTTL = Duration{Duration: time.Duration(hrs) * time.Hour}
		}
	}
	if v := os.Getenv("WEBHOOK_DEDUP_TTL_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Checkout.WebhookDedupTTL = Duration{Duration: time.Duration(days) * 24 * time.Hour}
		}
	}

	// Job auth
	setIfEnv(&c.Jobs.AuthToken, "JOB_AUTH_TOKEN")

	// Notify config
	setIfEnv(&c.Notify.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setDurationIfEnv(&c.Notify.Timeout, "NOTIFY_TIMEOUT")
	setBoolIfEnv(&c.Notify.DLQEnabled, "NOTIFY_DLQ_ENABLED")
	setIfEnv(&c.Notify.DLQPath, "NOTIFY_DLQ_PATH")
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "NOTIFY_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "NOTIFY_HEADER_")
		if name == "" {
			continue
		}
		if c.Notify.Headers == nil {
			c.Notify.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Notify.Headers[headerName] = parts[1]
	}
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
