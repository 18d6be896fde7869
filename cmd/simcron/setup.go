package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/logger"
)

// loadConfig reads .env and the config file, applies command-line overrides
// and validates the result.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnvOptional("./.env"); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, validationError(errs)
	}
	return cfg, nil
}

func validationError(errs []error) error {
	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, e := range errs {
		b.WriteString("\n  - ")
		b.WriteString(e.Error())
	}
	return errors.New(b.String())
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}

// applyHourFlag overrides clock.forced_hour when --hour was given. -1 clears
// the override.
func applyHourFlag(cfg *config.Config, hour int, changed bool) error {
	if !changed {
		return nil
	}
	if hour == -1 {
		cfg.Clock.ForcedHour = nil
		return nil
	}
	if hour < 0 || hour > 23 {
		return fmt.Errorf("--hour must be between 0 and 23 or -1 (got %d)", hour)
	}
	h := hour
	cfg.Clock.ForcedHour = &h
	return nil
}
