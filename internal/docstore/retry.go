package docstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

// RetryConfig configures retry behaviour for store writes.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter is the fraction of each delay randomised in either direction.
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used for foreground writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.2,
	}
}

// WithRetry runs fn, retrying transient failures with exponential backoff.
// Non-transient errors are returned on first occurrence.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(jittered(delay, cfg.Jitter))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func jittered(delay time.Duration, jitter float64) time.Duration {
	if delay <= 0 || jitter <= 0 {
		return delay
	}
	spread := float64(delay) * jitter
	return time.Duration(float64(delay) - spread + rand.Float64()*2*spread)
}

var transientPatterns = []string{
	"database is locked",
	"database locked",
	"database is busy",
	"sqlite_busy",
	"connection reset",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"unavailable",
	"network",
	"disconnected",
	"eof",
}

var permanentPatterns = []string{
	"not found",
	"constraint",
	"duplicate",
	"invalid",
}

// IsTransient classifies err by message. Context cancellation and missing
// documents are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidPath) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
