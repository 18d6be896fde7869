package app

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
)

// Start schedules the dispatcher tick, the recovery pass and job run
// cleanup, starts the
// metrics endpoint and reports readiness to systemd.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return errors.New("app is not initialized")
	}
	if a.started {
		return nil
	}

	cl := logger.CronLogger(a.logger)
	a.scheduler = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(a.clock.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := a.scheduler.AddFunc(a.config.Dispatcher.TickSchedule, a.tick); err != nil {
		return fmt.Errorf("invalid tick schedule %q: %w", a.config.Dispatcher.TickSchedule, err)
	}
	if !a.config.Recovery.Disabled {
		if _, err := a.scheduler.AddFunc(a.config.Recovery.Schedule, a.recoverPass); err != nil {
			return fmt.Errorf("invalid recovery schedule %q: %w", a.config.Recovery.Schedule, err)
		}
	}

	if a.config.Store.Retention() > 0 {
		if _, err := a.scheduler.AddFunc(a.config.Store.CleanupSchedule, a.cleanupPass); err != nil {
			return fmt.Errorf("invalid cleanup schedule %q: %w", a.config.Store.CleanupSchedule, err)
		}
	}

	if a.config.Metrics.Enabled {
		if err := a.startMetricsServer(); err != nil {
			return err
		}
	}

	a.scheduler.Start()
	a.started = true

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.logger.Warn("failed to notify systemd", logger.Field{Key: "error", Value: err})
	} else if sent {
		a.logger.Debug("systemd notified: ready")
	}

	a.logger.Info("✅ simcron is running",
		logger.Field{Key: "tick_schedule", Value: a.config.Dispatcher.TickSchedule},
		logger.Field{Key: "recovery", Value: !a.config.Recovery.Disabled})
	return nil
}

func (a *App) tick() {
	a.dispatcher.Tick(a.ctx)
}

func (a *App) recoverPass() {
	if _, err := a.planner.Scan(a.ctx); err != nil && a.ctx.Err() == nil {
		a.logger.Error("recovery scan failed", err)
	}
}

func (a *App) cleanupPass() {
	if _, err := a.cleanup.Run(a.ctx); err != nil && a.ctx.Err() == nil {
		a.logger.Error("job run cleanup failed", err)
	}
}

func (a *App) startMetricsServer() error {
	ln, err := net.Listen("tcp", a.config.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.config.Metrics.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", err)
		}
	}()
	a.metricsAddr = ln.Addr().String()
	a.logger.Info("metrics endpoint started", logger.Field{Key: "listen", Value: a.metricsAddr})
	return nil
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsAddr
}
