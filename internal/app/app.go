// Package app wires simcron together: it builds the clock, job table, runner,
// dispatcher, retry planner, alert sink, store and metrics from the
// configuration and drives them from one cron scheduler.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/simcron/internal/alert"
	"github.com/aatumaykin/simcron/internal/cleanup"
	"github.com/aatumaykin/simcron/internal/clock"
	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/dispatcher"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/recovery"
	"github.com/aatumaykin/simcron/internal/runner"
	"github.com/aatumaykin/simcron/internal/store"
)

// App holds every long-lived component.
type App struct {
	config *config.Config
	logger *logger.Logger

	// Instruments
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	// Domain components
	store      *store.Store
	table      jobs.Table
	clock      *clock.Provider
	sink       alert.Sink
	runner     *runner.Runner
	dispatcher *dispatcher.Dispatcher
	planner    *recovery.Planner
	cleanup    *cleanup.Runner

	// Scheduling and serving
	scheduler     *cron.Cron
	metricsServer *http.Server
	metricsAddr   string

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	initialized bool
	started     bool
}

// New creates an App. Components are built by Initialize.
func New(cfg *config.Config, log *logger.Logger) *App {
	return &App{
		config: cfg,
		logger: log,
	}
}

// Run initializes and starts the app, then blocks until ctx is cancelled and
// shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		_ = a.Shutdown()
		return err
	}

	<-ctx.Done()

	return a.Shutdown()
}

// Runner returns the job runner, e.g. to register in-process jobs.
func (a *App) Runner() *runner.Runner {
	return a.runner
}

// Dispatcher returns the dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Store returns the task store.
func (a *App) Store() *store.Store {
	return a.store
}

// Table returns the loaded job table.
func (a *App) Table() jobs.Table {
	return a.table
}
