package config

import (
	"os"
	"testing"
	"time"
)

func setupEnv(t *testing.T, key, value string) {
	t.Helper()
	os.Setenv(key, value)
	t.Cleanup(func() { os.Unsetenv(key) })
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.MaxDepth != 5 {
		t.Errorf("MaxDepth = %d, want 5", cfg.MaxDepth)
	}
	if cfg.QueueBackend != BackendMemory {
		t.Errorf("QueueBackend = %q, want memory", cfg.QueueBackend)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setupEnv(t, "CRAWLER_MAX_DEPTH", "9")
	setupEnv(t, "CRAWLER_RATE_LIMIT_DELAY", "2s")
	setupEnv(t, "CRAWLER_QUEUE_BACKEND", "durable")
	setupEnv(t, "CRAWLER_ALLOWED_DOMAINS", "a.com, b.com")

	cfg := FromEnv()
	if cfg.MaxDepth != 9 {
		t.Errorf("MaxDepth = %d, want 9", cfg.MaxDepth)
	}
	if cfg.RateLimitDelay != 2*time.Second {
		t.Errorf("RateLimitDelay = %v, want 2s", cfg.RateLimitDelay)
	}
	if cfg.QueueBackend != BackendDurable {
		t.Errorf("QueueBackend = %q, want durable", cfg.QueueBackend)
	}
	if len(cfg.AllowedDomains) != 2 || cfg.AllowedDomains[0] != "a.com" || cfg.AllowedDomains[1] != "b.com" {
		t.Errorf("AllowedDomains = %v", cfg.AllowedDomains)
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DBHost: "h", DBPort: 5432, DBName: "d", DBUser: "u", DBPassword: "p"}
	dsn := cfg.DSN()
	if dsn == "" {
		t.Fatal("DSN returned empty string")
	}
}
