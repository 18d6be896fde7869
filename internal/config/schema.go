// Package config provides configuration loading and validation for simcron.
// It reads a TOML file with environment variable expansion, applies default
// values and validates the result.
//
// Configuration structure:
//   - [logging]: level, format and output
//   - [clock]: simulation timezone and forced hour override
//   - [dispatcher]: job table location and runner settings
//   - [recovery]: retry planner thresholds and schedule
//   - [alerts]: operator alert channel (Telegram)
//   - [store]: SQLite task store
//   - [metrics]: Prometheus endpoint
//
// Environment variables can be referenced using ${VAR} or ${VAR:default}
// syntax, for example: token = "${SIMCRON_TELEGRAM_TOKEN}"
package config

import (
	"fmt"
	"time"
)

// Config represents the main application configuration.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Clock      ClockConfig      `toml:"clock"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Recovery   RecoveryConfig   `toml:"recovery"`
	Alerts     AlertsConfig     `toml:"alerts"`
	Store      StoreConfig      `toml:"store"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// LoggingConfig представляет конфигурацию логирования
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// ClockConfig describes the virtual clock. ForcedHour is nil when the true
// wall-clock hour should be used.
type ClockConfig struct {
	Timezone   string `toml:"timezone"`
	ForcedHour *int   `toml:"forced_hour"`
}

// DispatcherConfig представляет конфигурацию dispatcher и job runner
type DispatcherConfig struct {
	JobsFile        string `toml:"jobs_file"`
	JobsDir         string `toml:"jobs_dir"`
	TickSchedule    string `toml:"tick_schedule"`
	OutputTailLines int    `toml:"output_tail_lines"`
	HourEnv         string `toml:"hour_env"`
	HourFlag        string `toml:"hour_flag"`
}

// RecoveryConfig holds the retry planner settings. The planner runs unless
// Disabled is set.
type RecoveryConfig struct {
	Disabled       bool       `toml:"disabled"`
	Schedule       string     `toml:"schedule"`
	Lookback       Duration   `toml:"lookback"`
	MaxRetries     int        `toml:"max_retries"`
	SmallThreshold float64    `toml:"small_threshold"`
	RelayThreshold float64    `toml:"relay_threshold"`
	DetourFactor   float64    `toml:"detour_factor"`
	Backoff        []Duration `toml:"backoff"`
	CompletionFee  float64    `toml:"completion_fee"`
	WorkerSpeed    float64    `toml:"worker_speed"`
	Concurrency    int        `toml:"concurrency"`
}

// BackoffSchedule returns Backoff as plain durations.
func (c RecoveryConfig) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(c.Backoff))
	for i, d := range c.Backoff {
		out[i] = d.Duration
	}
	return out
}

// AlertsConfig представляет конфигурацию операторских уведомлений
type AlertsConfig struct {
	MaxLength  int            `toml:"max_length"`
	RatePerSec float64        `toml:"rate_per_sec"`
	Telegram   TelegramConfig `toml:"telegram"`
}

// TelegramConfig представляет конфигурацию Telegram канала
type TelegramConfig struct {
	Enabled            bool   `toml:"enabled"`
	Token              string `toml:"token"`
	ChatID             int64  `toml:"chat_id"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds"`
	SendAttempts       int    `toml:"send_attempts"`
}

// StoreConfig описывает SQLite хранилище задач
type StoreConfig struct {
	Path        string   `toml:"path"`
	BusyTimeout Duration `toml:"busy_timeout"`

	// RunRetention bounds the job run history; "0s" keeps everything.
	RunRetention    *Duration `toml:"run_retention"`
	CleanupSchedule string    `toml:"cleanup_schedule"`
}

// Retention returns the job run retention window, zero when pruning is off.
func (c StoreConfig) Retention() time.Duration {
	if c.RunRetention == nil {
		return 0
	}
	return c.RunRetention.Duration
}

// MetricsConfig описывает Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Duration is a time.Duration decoded from strings like "15m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
