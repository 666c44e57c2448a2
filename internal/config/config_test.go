package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BEADHUB_DATABASE_URL", "BEADHUB_REDIS_URL", "BEADHUB_HOST", "BEADHUB_PORT",
		"BEADHUB_RELOAD", "BEADHUB_LOG_LEVEL", "BEADHUB_PRESENCE_TTL_SECONDS",
		"BEADHUB_DASHBOARD_HUMAN", "BEADHUB_INTERNAL_AUTH_SECRET", "BEADHUB_CUSTODY_KEY",
		"BEADHUB_OUTBOX_MAX_ATTEMPTS", "BEADHUB_OUTBOX_BATCH_SIZE",
		"BEADHUB_OTEL_METRICS_URL", "BEADHUB_OTEL_LOGS_URL",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_RequiresDatabaseAndRedisURL(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil {
		t.Fatal("expected error when database_url/redis_url are unset")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	os.Setenv("BEADHUB_DATABASE_URL", "postgres://localhost/beadhub")
	os.Setenv("BEADHUB_REDIS_URL", "redis://localhost:6379/0")
	defer clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.PresenceTTLSeconds != DefaultPresenceTTLSeconds {
		t.Errorf("PresenceTTLSeconds = %d, want %d", cfg.PresenceTTLSeconds, DefaultPresenceTTLSeconds)
	}
	if cfg.OutboxMaxAttempts != DefaultOutboxMaxAttempts {
		t.Errorf("OutboxMaxAttempts = %d, want %d", cfg.OutboxMaxAttempts, DefaultOutboxMaxAttempts)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("BEADHUB_DATABASE_URL", "postgres://localhost/beadhub")
	os.Setenv("BEADHUB_REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("BEADHUB_PORT", "9090")
	os.Setenv("BEADHUB_LOG_LEVEL", "debug")
	defer clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Config{
		DatabaseURL:        "x",
		RedisURL:           "x",
		Port:               1,
		PresenceTTLSeconds: 1,
		OutboxMaxAttempts:  1,
		OutboxBatchSize:    1,
		LogLevel:           "verbose",
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "0.0.0.0", Port: 8080}
	if got, want := cfg.Addr(), "0.0.0.0:8080"; got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
