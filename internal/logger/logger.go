// Package logger provides a structured logging wrapper around Go's slog package.
// It supports JSON and text output, four levels (debug, info, warn, error)
// and stdout, stderr or a file path as destination.
//
// Example usage:
//
//	log, err := logger.New(logger.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	if err != nil {
//	    return err
//	}
//
//	log.Info("dispatcher started", logger.Field{Key: "jobs", Value: 12})
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config представляет конфигурацию logger
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr, или путь к файлу
}

// Logger wraps slog.Logger with the Field-based API used across simcron.
type Logger struct {
	slog *slog.Logger
}

// Field is a single structured key/value pair.
type Field struct {
	Key   string
	Value any
}

// New creates a logger from cfg.
func New(cfg Config) (*Logger, error) {
	level, valid := parseLevel(cfg.Level)
	if !valid {
		return nil, fmt.Errorf("invalid log level: %s (expected: debug, info, warn, error)", cfg.Level)
	}

	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, fmt.Errorf("invalid log format: %s (expected: json, text)", cfg.Format)
	}

	return &Logger{slog: slog.New(handler)}, nil
}

// NewWithWriter creates a JSON or text logger writing to w. Used by tests and
// by commands that print to the terminal.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	lvl, _ := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return &Logger{slog: slog.New(slog.NewJSONHandler(w, opts))}
	}
	return &Logger{slog: slog.New(slog.NewTextHandler(w, opts))}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	// Путь к файлу - разворачиваем ~ в домашнюю директорию
	filePath := output
	if strings.HasPrefix(filePath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(homeDir, filePath[2:])
	}
	filePath = filepath.Clean(filePath)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	return file, nil
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.slog.Debug(msg, fieldsToAny(fields)...)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.slog.Info(msg, fieldsToAny(fields)...)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.slog.Warn(msg, fieldsToAny(fields)...)
}

// Error logs at error level; err is always recorded under the "error" key.
func (l *Logger) Error(msg string, err error, fields ...Field) {
	l.slog.Error(msg, fieldsToAny(withError(err, fields))...)
}

func (l *Logger) DebugCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.DebugContext(ctx, msg, fieldsToAny(fields)...)
}

func (l *Logger) InfoCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.InfoContext(ctx, msg, fieldsToAny(fields)...)
}

func (l *Logger) WarnCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.WarnContext(ctx, msg, fieldsToAny(fields)...)
}

func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, fields ...Field) {
	l.slog.ErrorContext(ctx, msg, fieldsToAny(withError(err, fields))...)
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{slog: l.slog.With(fieldsToAny(fields)...)}
}

// StdLogger returns the underlying slog logger.
func (l *Logger) StdLogger() *slog.Logger {
	return l.slog
}

// SetDefault устанавливает стандартный logger
func SetDefault(l *Logger) {
	slog.SetDefault(l.slog)
}

func withError(err error, fields []Field) []Field {
	all := make([]Field, 0, len(fields)+1)
	all = append(all, Field{Key: "error", Value: err})
	return append(all, fields...)
}

func fieldsToAny(fields []Field) []any {
	result := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Value)
	}
	return result
}
