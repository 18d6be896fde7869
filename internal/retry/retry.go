// Package retry repeats operations that fail with transient errors, waiting
// with exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts (default: 3)
	InitialBackoff time.Duration // Delay before the second attempt (default: 500ms)
	MaxBackoff     time.Duration // Upper bound for a single delay (default: 5s)

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = defaultInitialDelay
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxDelay
	}
	return c
}

// Do calls fn until it succeeds, returns a non-retryable error or the
// attempts run out. Context cancellation is checked between attempts.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := Backoff(attempt, cfg.InitialBackoff, cfg.MaxBackoff)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	if cfg.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// IsRetryable reports whether err looks transient: timeouts, dropped
// connections, rate limiting and 5xx responses. Client errors and explicit
// cancellation are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, pattern := range []string{"400", "401", "403", "404", "bad request", "unauthorized", "forbidden", "context canceled"} {
		if strings.Contains(msg, pattern) {
			return false
		}
	}

	for _, pattern := range []string{
		"deadline exceeded",
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary failure",
		"eof",
		"429",
		"too many requests",
		"500", "502", "503", "504",
		"bad gateway",
		"service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// Backoff returns 2^attempt * initial, capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt > 30 {
		return max
	}
	backoff := time.Duration(1<<uint(attempt)) * initial
	if backoff > max || backoff <= 0 {
		return max
	}
	return backoff
}
