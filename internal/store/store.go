// Package store persists transfer tasks, the reference data the recovery
// strategies need (locations, inventory, workers, relay stations) and job run
// records in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/logger"
)

//go:embed schema.sql
var schema string

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrLocationNotFound     = errors.New("location not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity at origin")
	// ErrTaskNotFailed: a state transition found the task already moved on.
	ErrTaskNotFailed = errors.New("task is no longer failed")
)

// Store is the SQLite-backed task store. Safe for concurrent use; writes are
// serialized through a single connection.
type Store struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg config.StoreConfig, log *logger.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// Симуляция и внешние job'ы пишут в один файл: одно соединение на процесс
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log.With(logger.Field{Key: "component", Value: "store"}), now: time.Now}

	if cfg.BusyTimeout.Duration > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.log.Debug("store opened", logger.Field{Key: "path", Value: path})
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
