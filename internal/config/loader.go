package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "STAFFPLAN_"

// Store drivers accepted by STAFFPLAN_STORE_DRIVER.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// Config captures environment driven configuration values for the planning service.
type Config struct {
	HTTPPort    int
	StoreDriver string
	StoreDSN    string

	MaxListeners        int
	ListenerIdleTimeout time.Duration

	PrefetchDays     int
	PrefetchDebounce time.Duration

	HeartbeatInterval time.Duration
	IdleThreshold     time.Duration
	SessionTimeout    time.Duration
	HoverThrottle     time.Duration
	HoverDebounce     time.Duration
	HoverTTL          time.Duration

	LockTTL      time.Duration
	HoverLockTTL time.Duration

	WorkspaceIdleTimeout time.Duration
	AllowedOrigins       []string
}

// Load parses configuration values from the current process environment,
// after loading a .env file from the working directory when one exists.
// Variables already set in the environment win over the file.
//
// Defaults apply to unset variables. Every missing or malformed variable is
// reported in a single error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		HTTPPort:             8080,
		StoreDriver:          DriverMemory,
		MaxListeners:         8,
		ListenerIdleTimeout:  60 * time.Second,
		PrefetchDays:         14,
		PrefetchDebounce:     500 * time.Millisecond,
		HeartbeatInterval:    5 * time.Second,
		IdleThreshold:        15 * time.Second,
		SessionTimeout:       30 * time.Second,
		HoverThrottle:        100 * time.Millisecond,
		HoverDebounce:        300 * time.Millisecond,
		HoverTTL:             10 * time.Second,
		LockTTL:              3 * time.Minute,
		HoverLockTTL:         30 * time.Second,
		WorkspaceIdleTimeout: time.Minute,
		AllowedOrigins:       []string{"*"},
	}

	p := parser{}
	p.positiveInt("HTTP_PORT", &cfg.HTTPPort)
	p.positiveInt("MAX_LISTENERS", &cfg.MaxListeners)
	p.positiveInt("PREFETCH_DAYS", &cfg.PrefetchDays)

	p.duration("LISTENER_IDLE_TIMEOUT", &cfg.ListenerIdleTimeout)
	p.duration("PREFETCH_DEBOUNCE", &cfg.PrefetchDebounce)
	p.duration("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
	p.duration("IDLE_THRESHOLD", &cfg.IdleThreshold)
	p.duration("SESSION_TIMEOUT", &cfg.SessionTimeout)
	p.duration("HOVER_THROTTLE", &cfg.HoverThrottle)
	p.duration("HOVER_DEBOUNCE", &cfg.HoverDebounce)
	p.duration("HOVER_TTL", &cfg.HoverTTL)
	p.duration("LOCK_TTL", &cfg.LockTTL)
	p.duration("HOVER_LOCK_TTL", &cfg.HoverLockTTL)
	p.duration("WORKSPACE_IDLE_TIMEOUT", &cfg.WorkspaceIdleTimeout)

	if driver := lookup("STORE_DRIVER"); driver != "" {
		switch strings.ToLower(driver) {
		case DriverMemory, DriverSQLite, DriverPgx:
			cfg.StoreDriver = strings.ToLower(driver)
		default:
			p.invalid = append(p.invalid, envPrefix+"STORE_DRIVER")
		}
	}

	cfg.StoreDSN = lookup("STORE_DSN")
	if cfg.StoreDriver != DriverMemory && cfg.StoreDSN == "" {
		p.missing = append(p.missing, envPrefix+"STORE_DSN")
	}

	if origins := lookup("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if cfg.HeartbeatInterval >= cfg.SessionTimeout {
		p.invalid = append(p.invalid, envPrefix+"HEARTBEAT_INTERVAL")
	}

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment values: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

type parser struct {
	missing []string
	invalid []string
}

func (p *parser) positiveInt(key string, dst *int) {
	value := lookup(key)
	if value == "" {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		p.invalid = append(p.invalid, envPrefix+key)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	value := lookup(key)
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, envPrefix+key)
		return
	}
	*dst = d
}

func lookup(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
