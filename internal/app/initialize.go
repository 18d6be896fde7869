package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aatumaykin/simcron/internal/alert"
	"github.com/aatumaykin/simcron/internal/cleanup"
	"github.com/aatumaykin/simcron/internal/clock"
	"github.com/aatumaykin/simcron/internal/dispatcher"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/recovery"
	"github.com/aatumaykin/simcron/internal/runner"
	"github.com/aatumaykin/simcron/internal/store"
)

// Initialize builds every component. It does not start scheduling.
func (a *App) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.initialized {
		return nil
	}

	// 1. Контекст приложения
	a.ctx, a.cancel = context.WithCancel(ctx)

	// 2. Metrics
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New("simcron", a.registry)

	// 3. Job table
	table, err := jobs.LoadTable(a.config.Dispatcher.JobsFile)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to load job table: %w", err)
	}
	a.table = table

	// 4. Virtual clock
	clk, err := clock.NewInZone(a.config.Clock.Timezone, a.config.Clock.ForcedHour)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to create clock: %w", err)
	}
	a.clock = clk

	// 5. Task store
	st, err := store.Open(a.ctx, a.config.Store, a.logger)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	// 6. Alert sink
	if a.config.Alerts.Telegram.Enabled {
		tg, err := alert.NewTelegram(a.config.Alerts, a.logger, a.metrics)
		if err != nil {
			_ = a.store.Close()
			a.cancel()
			return fmt.Errorf("failed to create telegram alert sink: %w", err)
		}
		a.sink = tg
	} else {
		a.sink = alert.NewLogSink(a.logger, a.config.Alerts.MaxLength, a.metrics)
	}

	// 7. Runner and dispatcher
	baseDir := a.config.Dispatcher.JobsDir
	if baseDir == "" {
		baseDir = filepath.Dir(a.config.Dispatcher.JobsFile)
	}
	a.runner = runner.New(runner.Config{
		BaseDir:   baseDir,
		TailLines: a.config.Dispatcher.OutputTailLines,
		HourEnv:   a.config.Dispatcher.HourEnv,
		HourFlag:  a.config.Dispatcher.HourFlag,
	}, a.sink, a.store, a.metrics, a.logger)
	a.dispatcher = dispatcher.New(a.table, a.clock, a.runner, a.metrics, a.logger)

	// 8. Retry planner
	a.planner = recovery.NewPlanner(recovery.ConfigFrom(a.config.Recovery), a.store, a.sink, a.metrics, a.logger)

	// 9. Job run history cleanup
	a.cleanup = cleanup.NewRunner(a.store, a.config.Store.Retention(), a.logger)

	a.initialized = true

	hour, forced := a.clock.ForcedHour()
	a.logger.Info("components initialized",
		logger.Field{Key: "jobs", Value: len(a.table.Jobs)},
		logger.Field{Key: "frequent", Value: len(a.table.Frequent())},
		logger.Field{Key: "daily", Value: len(a.table.Daily())},
		logger.Field{Key: "timezone", Value: a.config.Clock.Timezone},
		logger.Field{Key: "forced_hour", Value: forcedHourValue(hour, forced)},
		logger.Field{Key: "telegram", Value: a.config.Alerts.Telegram.Enabled})
	return nil
}

func forcedHourValue(hour int, forced bool) any {
	if !forced {
		return "none"
	}
	return hour
}

// RecoverOnce runs a single recovery scan.
func (a *App) RecoverOnce(ctx context.Context) (recovery.ScanStats, error) {
	if err := a.Initialize(ctx); err != nil {
		return recovery.ScanStats{}, err
	}
	return a.planner.Scan(ctx)
}
