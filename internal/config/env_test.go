package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_ServerConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "CHECKOUT_SERVER_ADDRESS overrides default",
			envVars: map[string]string{
				"CHECKOUT_SERVER_ADDRESS": ":3000",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("Expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name: "CHECKOUT_ROUTE_PREFIX override",
			envVars: map[string]string{
				"CHECKOUT_ROUTE_PREFIX": "api",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("Expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name: "CHECKOUT_CORS_ORIGINS splits on comma",
			envVars: map[string]string{
				"CHECKOUT_CORS_ORIGINS": "https://a.example.com,https://b.example.com",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.Server.CORSAllowedOrigins) != 2 {
					t.Fatalf("expected 2 origins, got %v", cfg.Server.CORSAllowedOrigins)
				}
				if cfg.Server.CORSAllowedOrigins[0] != "https://a.example.com" {
					t.Errorf("unexpected first origin: %s", cfg.Server.CORSAllowedOrigins[0])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_PMSConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "PMS_BASE_URL override",
			envVars: map[string]string{
				"PMS_BASE_URL": "https://pms.example.com",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.PMS.BaseURL != "https://pms.example.com" {
					t.Errorf("Expected custom base url, got %s", cfg.PMS.BaseURL)
				}
			},
		},
		{
			name: "PMS_READ_TIMEOUT duration override",
			envVars: map[string]string{
				"PMS_READ_TIMEOUT": "5s",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.PMS.ReadTimeout.Duration != 5*time.Second {
					t.Errorf("Expected 5s, got %v", cfg.PMS.ReadTimeout.Duration)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_PSPConfig(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "PSP_SECRET_KEY override",
			envVars: map[string]string{
				"PSP_SECRET_KEY": "sk_live_test",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.PSP.SecretKey != "sk_live_test" {
					t.Errorf("Expected sk_live_test, got %s", cfg.PSP.SecretKey)
				}
			},
		},
		{
			name: "PSP_CURRENCY override",
			envVars: map[string]string{
				"PSP_CURRENCY": "eur",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.PSP.Currency != "eur" {
					t.Errorf("Expected eur, got %s", cfg.PSP.Currency)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_CheckoutTTLs(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "HOLD_TTL_MINUTES override",
			envVars: map[string]string{
				"HOLD_TTL_MINUTES": "20",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Checkout.HoldTTL.Duration != 20*time.Minute {
					t.Errorf("Expected 20m, got %v", cfg.Checkout.HoldTTL.Duration)
				}
			},
		},
		{
			name: "IDEMPOTENCY_TTL_HOURS override",
			envVars: map[string]string{
				"IDEMPOTENCY_TTL_HOURS": "48",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Checkout.IdempotencyTTL.Duration != 48*time.Hour {
					t.Errorf("Expected 48h, got %v", cfg.Checkout.IdempotencyTTL.Duration)
				}
			},
		},
		{
			name: "WEBHOOK_DEDUP_TTL_DAYS override",
			envVars: map[string]string{
				"WEBHOOK_DEDUP_TTL_DAYS": "3",
			},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Checkout.WebhookDedupTTL.Duration != 3*24*time.Hour {
					t.Errorf("Expected 72h, got %v", cfg.Checkout.WebhookDedupTTL.Duration)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestEnvOverrides_NotifyHeaders(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("NOTIFY_HEADER_AUTHORIZATION", "Bearer token123")
	os.Setenv("NOTIFY_HEADER_X_API_KEY", "api-key-456")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Notify.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Expected Authorization header to be set, got %v", cfg.Notify.Headers)
	}

	if cfg.Notify.Headers["X-Api-Key"] != "api-key-456" {
		t.Errorf("Expected X-Api-Key header to be set, got %v", cfg.Notify.Headers)
	}
}

func TestEnvOverrides_JobAuthToken(t *testing.T) {
	defer os.Clearenv()

	os.Setenv("JOB_AUTH_TOKEN", "super-secret-token")

	cfg := defaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Jobs.AuthToken != "super-secret-token" {
		t.Errorf("Expected token to be set, got %s", cfg.Jobs.AuthToken)
	}
}

// TestNormalizeRoutePrefix already exists in config_test.go
