// Package dispatcher decides, once per tick, which jobs are due and launches
// them. Frequent jobs run in their own goroutine guarded by the run registry;
// daily jobs run synchronously inside the tick in table order.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/aatumaykin/simcron/internal/clock"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/runner"
)

// Executor runs one job to completion.
type Executor interface {
	Execute(ctx context.Context, desc jobs.Descriptor, forcedHour *int) runner.Result
}

// Clock is the virtual time source.
type Clock interface {
	Now() clock.Instant
	ForcedHour() (int, bool)
}

// TickReport summarizes one tick.
type TickReport struct {
	At      clock.Instant
	Started []string
	Skipped []string
	Daily   []string
}

type Dispatcher struct {
	table    jobs.Table
	clock    Clock
	exec     Executor
	registry *Registry
	metrics  *metrics.Metrics
	log      *logger.Logger

	wg sync.WaitGroup
}

func New(table jobs.Table, clk Clock, exec Executor, m *metrics.Metrics, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		table:    table,
		clock:    clk,
		exec:     exec,
		registry: NewRegistry(),
		metrics:  m,
		log:      log.With(logger.Field{Key: "component", Value: "dispatcher"}),
	}
}

// Registry returns the run registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Tick dispatches every job due at the current virtual time. It returns once
// all due daily jobs have finished; frequent jobs keep running in the
// background. ctx is handed to the launched jobs.
func (d *Dispatcher) Tick(ctx context.Context) TickReport {
	now := d.clock.Now()
	report := TickReport{At: now}

	var forced *int
	if h, ok := d.clock.ForcedHour(); ok {
		forced = &h
	}

	minute := now.UTC.Minute()
	for _, desc := range d.table.Frequent() {
		if !desc.FrequentDue(minute) {
			continue
		}
		h, ok := d.registry.TryAcquire(desc.Name, now.UTC)
		if !ok {
			d.log.Info("job still running, skipping",
				logger.Field{Key: "job", Value: desc.Name})
			d.metrics.JobSkipped(desc.Name)
			report.Skipped = append(report.Skipped, desc.Name)
			continue
		}
		report.Started = append(report.Started, desc.Name)
		d.launch(ctx, desc, h, forced)
	}

	for _, desc := range d.table.Daily() {
		if ctx.Err() != nil {
			break
		}
		if !desc.DailyDue(now.Local) {
			continue
		}
		report.Daily = append(report.Daily, desc.Name)
		d.runDaily(ctx, desc, forced)
	}

	d.log.Debug("tick",
		logger.Field{Key: "local", Value: now.Local.Format("15:04")},
		logger.Field{Key: "started", Value: len(report.Started)},
		logger.Field{Key: "skipped", Value: len(report.Skipped)},
		logger.Field{Key: "daily", Value: len(report.Daily)})
	return report
}

func (d *Dispatcher) launch(ctx context.Context, desc jobs.Descriptor, h RunHandle, forced *int) {
	d.wg.Add(1)
	d.metrics.JobStarted()
	go func() {
		defer d.wg.Done()
		defer d.registry.Release(h)
		defer d.metrics.JobFinished()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("frequent job panic recovered", fmt.Errorf("panic: %v", r),
					logger.Field{Key: "job", Value: desc.Name})
			}
		}()

		d.exec.Execute(ctx, desc, forced)
	}()
}

func (d *Dispatcher) runDaily(ctx context.Context, desc jobs.Descriptor, forced *int) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("daily job panic recovered", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "job", Value: desc.Name})
		}
	}()

	d.exec.Execute(ctx, desc, forced)
}

// Wait blocks until every in-flight frequent job has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
