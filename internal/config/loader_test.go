package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"HTTP_PORT",
	"STORE_DRIVER",
	"STORE_DSN",
	"MAX_LISTENERS",
	"LISTENER_IDLE_TIMEOUT",
	"PREFETCH_DAYS",
	"PREFETCH_DEBOUNCE",
	"HEARTBEAT_INTERVAL",
	"IDLE_THRESHOLD",
	"SESSION_TIMEOUT",
	"HOVER_THROTTLE",
	"HOVER_DEBOUNCE",
	"HOVER_TTL",
	"LOCK_TTL",
	"HOVER_LOCK_TTL",
	"WORKSPACE_IDLE_TIMEOUT",
	"ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(envPrefix+key, "")
	}
}

func TestLoader_ParseEnvironment(t *testing.T) {
	t.Run("applies defaults when variables are missing", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 8080 {
			t.Fatalf("expected default HTTP port 8080, got %d", cfg.HTTPPort)
		}
		if cfg.StoreDriver != DriverMemory {
			t.Fatalf("expected the memory store by default, got %q", cfg.StoreDriver)
		}
		if cfg.MaxListeners != 8 || cfg.PrefetchDays != 14 {
			t.Fatalf("unexpected listener or prefetch defaults: %+v", cfg)
		}
		if cfg.SessionTimeout != 30*time.Second || cfg.LockTTL != 3*time.Minute || cfg.HoverLockTTL != 30*time.Second {
			t.Fatalf("unexpected timing defaults: %+v", cfg)
		}
		if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
			t.Fatalf("expected any origin by default, got %v", cfg.AllowedOrigins)
		}
	})

	t.Run("errors when the store dsn is missing", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STAFFPLAN_STORE_DRIVER", "sqlite")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error when the dsn is missing")
		}
		expected := "missing required environment variables: STAFFPLAN_STORE_DSN"
		if err.Error() != expected {
			t.Fatalf("unexpected error message: %q", err.Error())
		}
	})

	t.Run("parses duration and numeric fields", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STAFFPLAN_HTTP_PORT", "9090")
		t.Setenv("STAFFPLAN_STORE_DRIVER", "PGX")
		t.Setenv("STAFFPLAN_STORE_DSN", "postgres://planner@localhost/staffplan")
		t.Setenv("STAFFPLAN_MAX_LISTENERS", "12")
		t.Setenv("STAFFPLAN_PREFETCH_DEBOUNCE", "250ms")
		t.Setenv("STAFFPLAN_LOCK_TTL", "5m")
		t.Setenv("STAFFPLAN_ALLOWED_ORIGINS", "https://planning.example, https://admin.example,")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}

		if cfg.HTTPPort != 9090 || cfg.MaxListeners != 12 {
			t.Fatalf("unexpected numeric values: %+v", cfg)
		}
		if cfg.StoreDriver != DriverPgx || cfg.StoreDSN != "postgres://planner@localhost/staffplan" {
			t.Fatalf("unexpected store settings: %q %q", cfg.StoreDriver, cfg.StoreDSN)
		}
		if cfg.PrefetchDebounce != 250*time.Millisecond || cfg.LockTTL != 5*time.Minute {
			t.Fatalf("unexpected durations: %+v", cfg)
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example" {
			t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
		}
	})

	t.Run("reports every invalid value", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STAFFPLAN_HTTP_PORT", "-1")
		t.Setenv("STAFFPLAN_STORE_DRIVER", "mongo")
		t.Setenv("STAFFPLAN_HOVER_TTL", "soon")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for invalid values")
		}
		for _, key := range []string{"STAFFPLAN_HTTP_PORT", "STAFFPLAN_STORE_DRIVER", "STAFFPLAN_HOVER_TTL"} {
			if !strings.Contains(err.Error(), key) {
				t.Fatalf("expected %s in %q", key, err.Error())
			}
		}
	})

	t.Run("rejects a heartbeat slower than the session timeout", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STAFFPLAN_HEARTBEAT_INTERVAL", "45s")

		if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STAFFPLAN_HEARTBEAT_INTERVAL") {
			t.Fatalf("expected heartbeat error, got %v", err)
		}
	})

	t.Run("reads a dotenv file without overriding the environment", func(t *testing.T) {
		clearEnv(t)
		dir := t.TempDir()
		content := "STAFFPLAN_PREFETCH_DAYS=21\nSTAFFPLAN_HTTP_PORT=7000\n"
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
			t.Fatalf("write .env: %v", err)
		}
		t.Chdir(dir)
		t.Setenv("STAFFPLAN_HTTP_PORT", "9000")
		// godotenv only fills variables absent from the environment.
		if err := os.Unsetenv("STAFFPLAN_PREFETCH_DAYS"); err != nil {
			t.Fatalf("unset: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.PrefetchDays != 21 {
			t.Fatalf("expected prefetch days from .env, got %d", cfg.PrefetchDays)
		}
		if cfg.HTTPPort != 9000 {
			t.Fatalf("expected the environment to win over .env, got %d", cfg.HTTPPort)
		}
	})
}
