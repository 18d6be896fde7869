package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // clock.timezone must resolve on hosts without zoneinfo

	"github.com/BurntSushi/toml"
)

// Default values applied by Load.
const (
	DefaultTimezone        = "UTC"
	DefaultJobsFile        = "./jobs.yaml"
	DefaultTickSchedule    = "0 * * * * *"
	DefaultOutputTailLines = 20
	DefaultHourEnv         = "SIM_FORCED_HOUR"
	DefaultHourFlag        = "--hour"

	DefaultRecoverySchedule = "@every 5m"
	DefaultLookback         = 24 * time.Hour
	DefaultMaxRetries       = 3
	DefaultSmallThreshold   = 5
	DefaultRelayThreshold   = 500
	DefaultDetourFactor     = 1.5
	DefaultCompletionFee    = 1.0
	DefaultWorkerSpeed      = 10
	DefaultConcurrency      = 4

	// Telegram считает длину в UTF-16 единицах, alert.Truncate тоже
	DefaultAlertMaxLength    = 4000
	DefaultAlertRatePerSec   = 1
	DefaultAlertSendAttempts = 3

	DefaultStorePath       = "~/.simcron/simcron.db"
	DefaultBusyTimeout     = 5 * time.Second
	DefaultRunRetention    = 30 * 24 * time.Hour
	DefaultCleanupSchedule = "@hourly"

	DefaultMetricsListen = "127.0.0.1:9310"
)

// DefaultBackoff is the direct-retry delay schedule indexed by retry count.
var DefaultBackoff = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute}

// Load загружает конфигурацию из TOML файла
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML data and applies defaults and env expansion.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	expandEnvVars(&cfg)

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	expandEnvVars(&cfg)
	return &cfg
}

// Validate проверяет валидность конфигурации и возвращает все найденные ошибки
func (c *Config) Validate() []error {
	var errors []error

	if c.Logging.Level == "" {
		errors = append(errors, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errors = append(errors, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format == "" {
		errors = append(errors, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errors = append(errors, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}

	if _, err := time.LoadLocation(c.Clock.Timezone); err != nil {
		errors = append(errors, fmt.Errorf("invalid clock.timezone %q: %w", c.Clock.Timezone, err))
	}
	if h := c.Clock.ForcedHour; h != nil && (*h < 0 || *h > 23) {
		errors = append(errors, fmt.Errorf("clock.forced_hour must be between 0 and 23 (got %d)", *h))
	}

	if c.Dispatcher.JobsFile == "" {
		errors = append(errors, fmt.Errorf("dispatcher.jobs_file is required"))
	} else if err := validatePath(c.Dispatcher.JobsFile, "dispatcher.jobs_file"); err != nil {
		errors = append(errors, err)
	}
	if c.Dispatcher.OutputTailLines < 1 {
		errors = append(errors, fmt.Errorf("dispatcher.output_tail_lines must be >= 1"))
	}

	errors = append(errors, c.Recovery.validate()...)

	if c.Alerts.MaxLength < 64 {
		errors = append(errors, fmt.Errorf("alerts.max_length must be >= 64 (got %d)", c.Alerts.MaxLength))
	}
	if c.Alerts.RatePerSec <= 0 {
		errors = append(errors, fmt.Errorf("alerts.rate_per_sec must be > 0 (got %g)", c.Alerts.RatePerSec))
	}
	if c.Alerts.Telegram.Enabled {
		if c.Alerts.Telegram.Token == "" {
			errors = append(errors, fmt.Errorf("alerts.telegram.token is required when telegram is enabled"))
		} else if err := validateTelegramToken(c.Alerts.Telegram.Token); err != nil {
			errors = append(errors, err)
		}
		if c.Alerts.Telegram.ChatID == 0 {
			errors = append(errors, fmt.Errorf("alerts.telegram.chat_id is required when telegram is enabled"))
		}
	}

	if c.Store.Path == "" {
		errors = append(errors, fmt.Errorf("store.path is required"))
	}
	if c.Store.Retention() < 0 {
		errors = append(errors, fmt.Errorf("store.run_retention must not be negative"))
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errors = append(errors, fmt.Errorf("metrics.listen is required when metrics are enabled"))
	}

	return errors
}

func (r RecoveryConfig) validate() []error {
	var errors []error
	if r.MaxRetries < 1 {
		errors = append(errors, fmt.Errorf("recovery.max_retries must be >= 1"))
	}
	if r.SmallThreshold < 0 {
		errors = append(errors, fmt.Errorf("recovery.small_threshold must be >= 0"))
	}
	if r.RelayThreshold <= 0 {
		errors = append(errors, fmt.Errorf("recovery.relay_threshold must be > 0"))
	}
	if r.DetourFactor < 1 {
		errors = append(errors, fmt.Errorf("recovery.detour_factor must be >= 1 (got %.2f)", r.DetourFactor))
	}
	if len(r.Backoff) == 0 {
		errors = append(errors, fmt.Errorf("recovery.backoff must have at least one entry"))
	}
	for i, d := range r.Backoff {
		if d.Duration < 0 {
			errors = append(errors, fmt.Errorf("recovery.backoff[%d] must not be negative", i))
		}
	}
	if r.WorkerSpeed <= 0 {
		errors = append(errors, fmt.Errorf("recovery.worker_speed must be > 0"))
	}
	if r.Concurrency < 1 {
		errors = append(errors, fmt.Errorf("recovery.concurrency must be >= 1"))
	}
	return errors
}

func validateTelegramToken(token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return fmt.Errorf("telegram token has invalid format (expected format: <bot_id>:<token>, got: %s)", maskSecret(token))
	}

	botID := parts[0]
	if len(botID) < 3 || len(botID) > 15 {
		return fmt.Errorf("telegram token has invalid bot ID length (expected 3-15 digits, got %d digits)", len(botID))
	}
	for _, r := range botID {
		if r < '0' || r > '9' {
			return fmt.Errorf("telegram token has invalid bot ID (expected digits only, got: %s)", botID)
		}
	}
	if len(parts[1]) < 10 || len(parts[1]) > 50 {
		return fmt.Errorf("telegram token has invalid token length (expected 10-50 characters, got %d)", len(parts[1]))
	}
	return nil
}

func validatePath(path, fieldName string) error {
	if strings.HasPrefix(path, "~") {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}

// applyDefaults применяет значения по умолчанию
func applyDefaults(c *Config) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Clock.Timezone == "" {
		c.Clock.Timezone = DefaultTimezone
	}
	// forced_hour = -1 in the file means "no override"
	if c.Clock.ForcedHour != nil && *c.Clock.ForcedHour == -1 {
		c.Clock.ForcedHour = nil
	}

	if c.Dispatcher.JobsFile == "" {
		c.Dispatcher.JobsFile = DefaultJobsFile
	}
	if c.Dispatcher.TickSchedule == "" {
		c.Dispatcher.TickSchedule = DefaultTickSchedule
	}
	if c.Dispatcher.OutputTailLines == 0 {
		c.Dispatcher.OutputTailLines = DefaultOutputTailLines
	}
	if c.Dispatcher.HourEnv == "" {
		c.Dispatcher.HourEnv = DefaultHourEnv
	}
	if c.Dispatcher.HourFlag == "" {
		c.Dispatcher.HourFlag = DefaultHourFlag
	}

	r := &c.Recovery
	if r.Schedule == "" {
		r.Schedule = DefaultRecoverySchedule
	}
	if r.Lookback.Duration == 0 {
		r.Lookback.Duration = DefaultLookback
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.SmallThreshold == 0 {
		r.SmallThreshold = DefaultSmallThreshold
	}
	if r.RelayThreshold == 0 {
		r.RelayThreshold = DefaultRelayThreshold
	}
	if r.DetourFactor == 0 {
		r.DetourFactor = DefaultDetourFactor
	}
	if len(r.Backoff) == 0 {
		for _, d := range DefaultBackoff {
			r.Backoff = append(r.Backoff, Duration{d})
		}
	}
	if r.CompletionFee == 0 {
		r.CompletionFee = DefaultCompletionFee
	}
	if r.WorkerSpeed == 0 {
		r.WorkerSpeed = DefaultWorkerSpeed
	}
	if r.Concurrency == 0 {
		r.Concurrency = DefaultConcurrency
	}

	if c.Alerts.MaxLength == 0 {
		c.Alerts.MaxLength = DefaultAlertMaxLength
	}
	if c.Alerts.RatePerSec == 0 {
		c.Alerts.RatePerSec = DefaultAlertRatePerSec
	}
	if c.Alerts.Telegram.SendTimeoutSeconds == 0 {
		c.Alerts.Telegram.SendTimeoutSeconds = 10
	}
	if c.Alerts.Telegram.SendAttempts == 0 {
		c.Alerts.Telegram.SendAttempts = DefaultAlertSendAttempts
	}

	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Store.BusyTimeout.Duration == 0 {
		c.Store.BusyTimeout.Duration = DefaultBusyTimeout
	}
	if c.Store.RunRetention == nil {
		c.Store.RunRetention = &Duration{DefaultRunRetention}
	}
	if c.Store.CleanupSchedule == "" {
		c.Store.CleanupSchedule = DefaultCleanupSchedule
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
}

// expandEnvVars расширяет переменные окружения в конфигурации
func expandEnvVars(c *Config) {
	c.Alerts.Telegram.Token = expandEnv(c.Alerts.Telegram.Token)

	c.Dispatcher.JobsFile = expandHome(expandEnv(c.Dispatcher.JobsFile))
	c.Dispatcher.JobsDir = expandHome(expandEnv(c.Dispatcher.JobsDir))
	c.Store.Path = expandHome(expandEnv(c.Store.Path))
	c.Logging.Output = expandEnv(c.Logging.Output)
}

// expandEnv расширяет переменную окружения формата ${VAR:default}
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		if val := os.Getenv(parts[0]); val != "" {
			return val
		}
		return parts[1]
	}

	return os.Getenv(content)
}

// expandHome расширяет ~ в пути
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
