package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "crm"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "DB_HOST", "REDIS_HOST", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "crm"
	c.Auth.JWTAudience = "crm-api"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Sync.PollInterval != 5*time.Minute || c.Sync.PollWindow != 15*time.Minute {
		t.Fatalf("unexpected sync defaults: %+v", c.Sync)
	}
	if c.Sync.PageSize != 100 || c.Sync.Concurrency != 4 || c.Sync.WebhookTimeout != 5*time.Second {
		t.Fatalf("unexpected sync defaults: %+v", c.Sync)
	}
	if c.Provider.Scheme != "https" || c.Provider.RecordingStreams != 5 {
		t.Fatalf("unexpected provider defaults: %+v", c.Provider)
	}
}

func TestValidate_PollWindowMustExceedInterval(t *testing.T) {
	c := validLocal()
	c.Sync.PollInterval = 10 * time.Minute
	c.Sync.PollWindow = 10 * time.Minute
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "SYNC_POLL_WINDOW") {
		t.Fatalf("expected window error, got %v", err)
	}
}

func TestValidate_ProviderTimezone(t *testing.T) {
	c := validLocal()
	c.Provider.Timezone = "Mars/Olympus"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "PROVIDER_TIMEZONE") {
		t.Fatalf("expected timezone error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "crm")
	t.Setenv("DB_NAME", "crm")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SYNC_POLL_INTERVAL", "1m")
	t.Setenv("SYNC_POLL_WINDOW", "10m")
	t.Setenv("SYNC_POLL_ENABLED", "false")
	t.Setenv("PROVIDER_TIMEZONE", "UTC")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.HTTPAddr() != ":9090" || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected addrs %s %s", c.HTTPAddr(), c.RedisAddr())
	}
	if c.Sync.PollEnabled || c.Sync.PollWindow != 10*time.Minute {
		t.Fatalf("unexpected sync config %+v", c.Sync)
	}
	if c.ProviderLocation() != time.UTC {
		t.Fatalf("expected UTC location")
	}
	if c.Provider.MaxRetries != 3 {
		t.Fatalf("expected default of 3 retries, got %d", c.Provider.MaxRetries)
	}
}

func TestLoad_ZeroRetriesDisablesRetry(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "crm")
	t.Setenv("DB_NAME", "crm")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("PROVIDER_MAX_RETRIES", "0")
	t.Setenv("PROVIDER_RECORDING_HOSTS", "recordings.example.net, ,cdn.example.net")
	t.Setenv("SYNC_WEBHOOK_SECRET", "hook-secret")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Provider.MaxRetries != 0 {
		t.Fatalf("expected retries disabled, got %d", c.Provider.MaxRetries)
	}
	if len(c.Provider.RecordingHosts) != 2 || c.Provider.RecordingHosts[1] != "cdn.example.net" {
		t.Fatalf("unexpected recording hosts %v", c.Provider.RecordingHosts)
	}
	if c.Sync.WebhookSecret != "hook-secret" {
		t.Fatalf("unexpected webhook secret %q", c.Sync.WebhookSecret)
	}
}

func TestValidate_NegativeRetries(t *testing.T) {
	c := validLocal()
	c.Provider.MaxRetries = -1
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "PROVIDER_MAX_RETRIES") {
		t.Fatalf("expected retries error, got %v", err)
	}
}

func TestLoad_ReportsBadDurations(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "crm")
	t.Setenv("DB_NAME", "crm")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("SYNC_POLL_INTERVAL", "often")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SYNC_POLL_INTERVAL") {
		t.Fatalf("expected duration error, got %v", err)
	}
}
