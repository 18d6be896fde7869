package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/aatumaykin/simcron/internal/logger"
)

// shutdownTimeout bounds how long Shutdown waits for the scheduler and the
// metrics server.
const shutdownTimeout = 30 * time.Second

// Shutdown stops the app in order:
//  1. cancels the app context (running jobs receive SIGINT)
//  2. stops the cron scheduler and waits for the current tick
//  3. waits for in-flight frequent jobs
//  4. stops the metrics server and closes the store
//
// Interrupted jobs are not alerted. Safe to call more than once.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return nil
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.logger.Debug("failed to notify systemd", logger.Field{Key: "error", Value: err})
	}

	a.cancel()

	if a.scheduler != nil {
		stopped := a.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-time.After(shutdownTimeout):
			a.logger.Warn("timed out waiting for scheduler to stop")
		}
	}
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server", err)
		}
		cancel()
		a.metricsServer = nil
	}

	var err error
	if a.store != nil {
		err = a.store.Close()
		if err != nil {
			a.logger.Error("failed to close store", err)
		}
	}

	a.initialized = false
	a.started = false
	a.logger.Info("👋 simcron stopped")
	return err
}
