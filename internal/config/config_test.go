package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_DefaultsFailWithoutRequiredFields(t *testing.T) {
	clearEnv()
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "missing pms base url",
			envVars: map[string]string{
				"PSP_SECRET_KEY":     "sk_test_123",
				"PSP_WEBHOOK_SECRET": "whsec_123",
			},
			wantErr: "pms.base_url is required",
		},
		{
			name: "missing psp secret key",
			envVars: map[string]string{
				"PMS_BASE_URL":       "https://pms.example.com",
				"PSP_WEBHOOK_SECRET": "whsec_123",
			},
			wantErr: "psp.secret_key is required",
		},
		{
			name: "missing psp webhook secret",
			envVars: map[string]string{
				"PMS_BASE_URL":   "https://pms.example.com",
				"PSP_SECRET_KEY": "sk_test_123",
			},
			wantErr: "psp.webhook_secret is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("PMS_BASE_URL", "https://pms.example.com")
	os.Setenv("PSP_SECRET_KEY", "sk_test_123")
	os.Setenv("PSP_WEBHOOK_SECRET", "whsec_123")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.PSP.Currency != "usd" {
		t.Errorf("expected default currency usd, got %s", cfg.PSP.Currency)
	}
	if cfg.Checkout.HoldTTL.Duration != 15*time.Minute {
		t.Errorf("expected default hold TTL 15m, got %v", cfg.Checkout.HoldTTL.Duration)
	}
	if cfg.DocStore.Backend != "memory" {
		t.Errorf("expected default docstore backend memory, got %s", cfg.DocStore.Backend)
	}
}

func TestLoadConfig_DocStoreBackendValidation(t *testing.T) {
	clearEnv()
	os.Setenv("PMS_BASE_URL", "https://pms.example.com")
	os.Setenv("PSP_SECRET_KEY", "sk_test_123")
	os.Setenv("PSP_WEBHOOK_SECRET", "whsec_123")
	os.Setenv("DOCSTORE_BACKEND", "mongodb")
	defer clearEnv()

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when mongodb backend selected without a URL")
	}
	if !strings.Contains(err.Error(), "docstore.mongodb_url is required") {
		t.Errorf("expected error about mongodb_url, got: %v", err)
	}
}

func TestLoadConfig_FinalizeMaxWaitDefaults30s(t *testing.T) {
	clearEnv()
	os.Setenv("PMS_BASE_URL", "https://pms.example.com")
	os.Setenv("PSP_SECRET_KEY", "sk_test_123")
	os.Setenv("PSP_WEBHOOK_SECRET", "whsec_123")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Checkout.FinalizeMaxWait.Duration != 30*time.Second {
		t.Errorf("expected default FinalizeMaxWait 30s, got %v", cfg.Checkout.FinalizeMaxWait.Duration)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"checkout", "/checkout"},
		{"/v1/checkout", "/v1/checkout"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Test helpers

func clearEnv() {
	envVars := []string{
		"CHECKOUT_SERVER_ADDRESS", "CHECKOUT_ROUTE_PREFIX", "CHECKOUT_ADMIN_METRICS_API_KEY",
		"CHECKOUT_CORS_ORIGINS",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_ENVIRONMENT",
		"PMS_BASE_URL", "PMS_API_KEY", "PMS_READ_TIMEOUT", "PMS_WRITE_TIMEOUT",
		"PSP_SECRET_KEY", "PSP_WEBHOOK_SECRET", "PSP_CURRENCY",
		"DOCSTORE_BACKEND", "DOCSTORE_MONGODB_URL", "DOCSTORE_MONGODB_DATABASE", "DOCSTORE_POSTGRES_URL",
		"HOLD_TTL_MINUTES", "QUOTE_TTL_MINUTES", "IDEMPOTENCY_TTL_HOURS", "WEBHOOK_DEDUP_TTL_DAYS",
		"JOB_AUTH_TOKEN",
		"NOTIFY_WEBHOOK_URL", "NOTIFY_TIMEOUT", "NOTIFY_DLQ_ENABLED", "NOTIFY_DLQ_PATH",
		"NOTIFY_HEADER_X_API_KEY",
	}
	for _, key := range envVars {
		os.Unsetenv(key)
	}
}
