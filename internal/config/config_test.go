package config

import (
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	keys := []string{
		"SERVER_URL", "PORT", "SERVER_ENV",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"VALKEY_URL", "VALKEY_DIAL_TIMEOUT",
		"JWT_SECRET", "JWT_CLAIM_TTL", "FRONTEND_URL", "BASE_URL",
		"TWITTER_BEARER_TOKEN", "EXTERNAL_VERIFY_TIMEOUT", "CLAIM_SESSION_TTL",
		"MAX_BIO_LENGTH", "HANDLE_MAX_LENGTH",
		"MAX_MESSAGE_LENGTH", "MAX_LIST_LIMIT",
		"RATE_LIMIT_API_REQUESTS", "RATE_LIMIT_API_WINDOW_SECONDS",
		"RATE_LIMIT_AUTH_COUNT", "RATE_LIMIT_AUTH_WINDOW_SECONDS",
		"GATEWAY_MAX_CONNECTIONS", "GATEWAY_HEARTBEAT_INTERVAL_MS", "GATEWAY_SEND_BUFFER_SIZE",
		"SWEEP_INTERVAL", "CORS_ALLOW_ORIGINS",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32-chars")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.DatabaseMinConn != 5 {
		t.Errorf("DatabaseMinConn = %d, want 5", cfg.DatabaseMinConn)
	}
	if cfg.MaxMessageLength != 4000 {
		t.Errorf("MaxMessageLength = %d, want 4000", cfg.MaxMessageLength)
	}
	if cfg.MaxListLimit != 100 {
		t.Errorf("MaxListLimit = %d, want 100", cfg.MaxListLimit)
	}
	if cfg.RateLimitAPIRequests != 120 {
		t.Errorf("RateLimitAPIRequests = %d, want 120", cfg.RateLimitAPIRequests)
	}
	if cfg.RateLimitAuthCount != 10 {
		t.Errorf("RateLimitAuthCount = %d, want 10", cfg.RateLimitAuthCount)
	}
	if cfg.SweepInterval != 60*time.Second {
		t.Errorf("SweepInterval = %v, want 60s", cfg.SweepInterval)
	}
	if cfg.ExternalVerificationConfigured() {
		t.Error("ExternalVerificationConfigured() = true, want false when TWITTER_BEARER_TOKEN unset")
	}
}

func TestLoadValidationRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVER_ENV", "production")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for missing JWT_SECRET")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Load() error = %v, want mention of JWT_SECRET", err)
	}
}

func TestLoadDevelopmentFillsJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SERVER_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error in development mode: %v", err)
	}
	if cfg.JWTSecret == "" {
		t.Error("JWTSecret is empty in development mode, want a filled-in default")
	}
}

func TestLoadRejectsInvalidInteger(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32-chars")
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error for invalid PORT")
	}
	if !strings.Contains(err.Error(), "PORT") {
		t.Errorf("Load() error = %v, want mention of PORT", err)
	}
}

func TestLoadRejectsMinConnsExceedingMaxConns(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret-for-defaults-minimum-32-chars")
	t.Setenv("DATABASE_MAX_CONNS", "5")
	t.Setenv("DATABASE_MIN_CONNS", "10")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error for min > max conns")
	}
}

func TestExternalVerificationConfigured(t *testing.T) {
	t.Parallel()
	cfg := &Config{TwitterBearerToken: "token"}
	if !cfg.ExternalVerificationConfigured() {
		t.Error("ExternalVerificationConfigured() = false, want true when token set")
	}
	cfg2 := &Config{}
	if cfg2.ExternalVerificationConfigured() {
		t.Error("ExternalVerificationConfigured() = true, want false when token unset")
	}
}
