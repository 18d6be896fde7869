// Package recovery scans failed transfer tasks and chooses, per task, between
// escalation, automated completion, relay routing and a direct retry.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aatumaykin/simcron/internal/alert"
	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/store"
	"github.com/aatumaykin/simcron/internal/transfer"
)

// TaskStore is the persistence the planner needs.
type TaskStore interface {
	ListByStatus(ctx context.Context, status transfer.Status, since time.Time) ([]transfer.Task, error)
	Get(ctx context.Context, id string) (transfer.Task, error)
	Update(ctx context.Context, id string, u transfer.TaskUpdate) error
	CompleteTransfer(ctx context.Context, taskID string, c store.Completion) error
	SupersedeWith(ctx context.Context, taskID string, successors []transfer.Task, note string) ([]transfer.Task, error)
	ResourceQuantity(ctx context.Context, locationID, kind string) (float64, error)
	Location(ctx context.Context, id string) (transfer.Location, error)
	RelayStations(ctx context.Context) ([]transfer.RelayStation, error)
	FindAvailableWorker(ctx context.Context, near transfer.Position, excluding map[string]struct{}) (transfer.Worker, bool, error)
}

// Config holds planner thresholds.
type Config struct {
	MaxRetries     int
	SmallThreshold float64
	RelayThreshold float64
	DetourFactor   float64
	Backoff        []time.Duration
	CompletionFee  float64
	WorkerSpeed    float64
	Lookback       time.Duration
	Concurrency    int
}

// ConfigFrom converts the [recovery] config section.
func ConfigFrom(c config.RecoveryConfig) Config {
	return Config{
		MaxRetries:     c.MaxRetries,
		SmallThreshold: c.SmallThreshold,
		RelayThreshold: c.RelayThreshold,
		DetourFactor:   c.DetourFactor,
		Backoff:        c.BackoffSchedule(),
		CompletionFee:  c.CompletionFee,
		WorkerSpeed:    c.WorkerSpeed,
		Lookback:       c.Lookback.Duration,
		Concurrency:    c.Concurrency,
	}
}

// ScanStats summarizes one scan.
type ScanStats struct {
	Scanned   int
	Completed int
	Retried   int
	Relayed   int
	Escalated int
	NoWorker  int
	Skipped   int
	Errors    int
}

func (s ScanStats) String() string {
	return fmt.Sprintf("scanned=%d completed=%d retried=%d relayed=%d escalated=%d no_worker=%d skipped=%d errors=%d",
		s.Scanned, s.Completed, s.Retried, s.Relayed, s.Escalated, s.NoWorker, s.Skipped, s.Errors)
}

// Option configures a Planner.
type Option func(*Planner)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(p *Planner) {
		p.deps.now = now
	}
}

// Planner runs recovery passes.
type Planner struct {
	deps  *deps
	guard *lineageGuard

	escalation   Strategy
	autoComplete Strategy
	relay        Strategy
	directRetry  Strategy
}

func NewPlanner(cfg Config, st TaskStore, sink alert.Sink, m *metrics.Metrics, log *logger.Logger, opts ...Option) *Planner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	d := &deps{
		cfg:     cfg,
		store:   st,
		sink:    sink,
		metrics: m,
		log:     log.With(logger.Field{Key: "component", Value: "recovery"}),
		now:     time.Now,
	}
	p := &Planner{
		deps:         d,
		guard:        newLineageGuard(),
		escalation:   Escalation{d},
		autoComplete: AutoComplete{d},
		relay:        RelayRouting{d},
		directRetry:  DirectRetry{d},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Scan processes every Failed task updated within the lookback window.
// Per-task failures are counted and logged; only a failure to list tasks is
// returned.
func (p *Planner) Scan(ctx context.Context) (ScanStats, error) {
	start := time.Now()
	var since time.Time
	if p.deps.cfg.Lookback > 0 {
		since = p.deps.now().Add(-p.deps.cfg.Lookback)
	}

	tasks, err := p.deps.store.ListByStatus(ctx, transfer.StatusFailed, since)
	if err != nil {
		return ScanStats{}, fmt.Errorf("failed to list failed tasks: %w", err)
	}

	var (
		stats ScanStats
		mu    sync.Mutex
		g     errgroup.Group
	)
	g.SetLimit(p.deps.cfg.Concurrency)

	for _, t := range tasks {
		stats.Scanned++
		if t.Escalated {
			stats.Skipped++
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if !p.guard.tryLock(t.LineageID) {
			p.deps.log.Debug("lineage busy, skipping task",
				logger.Field{Key: "task_id", Value: t.ID},
				logger.Field{Key: "lineage_id", Value: t.LineageID})
			stats.Skipped++
			continue
		}

		g.Go(func() error {
			defer p.guard.unlock(t.LineageID)
			field := p.handle(ctx, t.ID)
			mu.Lock()
			*field(&stats)++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.deps.metrics.ObserveScan(time.Since(start))
	if stats.Scanned > 0 {
		p.deps.log.Info("recovery scan finished", logger.Field{Key: "stats", Value: stats.String()})
	}
	return stats, ctx.Err()
}

// handle plans one task and returns the stats counter its result belongs to.
func (p *Planner) handle(ctx context.Context, id string) (field func(*ScanStats) *int) {
	log := p.deps.log.With(logger.Field{Key: "task_id", Value: id})
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovery panic recovered", fmt.Errorf("panic: %v", r))
			field = func(s *ScanStats) *int { return &s.Errors }
		}
	}()

	task, err := p.deps.store.Get(ctx, id)
	if err != nil {
		log.Error("failed to re-read task", err)
		return func(s *ScanStats) *int { return &s.Errors }
	}

	out, err := p.Plan(ctx, task)
	switch {
	case errors.Is(err, ErrStaleTask):
		log.Debug("task changed since listing, skipping", logger.Field{Key: "status", Value: string(task.Status)})
		return func(s *ScanStats) *int { return &s.Skipped }
	case errors.Is(err, ErrNoWorkerAvailable):
		log.Warn("no worker available, task stays failed")
		return func(s *ScanStats) *int { return &s.NoWorker }
	case err != nil:
		log.Error("recovery failed", err)
		return func(s *ScanStats) *int { return &s.Errors }
	}

	log.Info("task recovered",
		logger.Field{Key: "strategy", Value: out.Strategy},
		logger.Field{Key: "successors", Value: len(out.Successors)})

	switch out.Strategy {
	case StrategyEscalation:
		return func(s *ScanStats) *int { return &s.Escalated }
	case StrategyAutoComplete:
		return func(s *ScanStats) *int { return &s.Completed }
	case StrategyRelay:
		return func(s *ScanStats) *int { return &s.Relayed }
	case StrategyDirectRetry:
		return func(s *ScanStats) *int { return &s.Retried }
	}
	return func(s *ScanStats) *int { return &s.Skipped }
}

// Plan picks and executes the recovery strategy for one Failed task, in order:
// escalation at the retry ceiling, automated completion for small payloads,
// relay routing for long distances, then a direct retry.
func (p *Planner) Plan(ctx context.Context, task transfer.Task) (Outcome, error) {
	if task.Status != transfer.StatusFailed {
		return Outcome{}, fmt.Errorf("%w: %s is %s", ErrStaleTask, task.ID, task.Status)
	}
	if task.Escalated {
		return Outcome{Strategy: StrategyNone}, nil
	}
	if task.Retry.Count >= p.deps.cfg.MaxRetries {
		return p.escalation.Execute(ctx, Route{Task: task})
	}

	route, err := p.resolve(ctx, task)
	if err != nil {
		return Outcome{}, err
	}

	if task.PayloadAmount <= p.deps.cfg.SmallThreshold {
		out, err := p.autoComplete.Execute(ctx, route)
		if !errors.Is(err, ErrNotApplicable) {
			return out, err
		}
		p.deps.log.Debug("automated completion not possible", logger.Field{Key: "reason", Value: err.Error()})
	}

	var relayErr error
	if route.Distance > p.deps.cfg.RelayThreshold {
		out, err := p.relay.Execute(ctx, route)
		if !errors.Is(err, ErrNotApplicable) {
			return out, err
		}
		relayErr = err
		p.deps.log.Debug("relay routing not possible", logger.Field{Key: "reason", Value: err.Error()})
	}

	out, err := p.directRetry.Execute(ctx, route)
	if err != nil && relayErr != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}
	return out, err
}

func (p *Planner) resolve(ctx context.Context, task transfer.Task) (Route, error) {
	origin, err := p.place(ctx, task.Origin)
	if err != nil {
		return Route{}, err
	}
	dest, err := p.place(ctx, task.Destination)
	if err != nil {
		return Route{}, err
	}
	return Route{
		Task:        task,
		Origin:      origin,
		Destination: dest,
		Distance:    transfer.Distance(origin.Position, dest.Position),
	}, nil
}

// place resolves a location id; relay legs use station ids as endpoints.
func (p *Planner) place(ctx context.Context, id string) (transfer.Location, error) {
	loc, err := p.deps.store.Location(ctx, id)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, store.ErrLocationNotFound) {
		return transfer.Location{}, err
	}

	stations, serr := p.deps.store.RelayStations(ctx)
	if serr != nil {
		return transfer.Location{}, serr
	}
	for _, st := range stations {
		if st.ID == id {
			return transfer.Location{ID: st.ID, Name: st.Name, Position: st.Position}, nil
		}
	}
	return transfer.Location{}, err
}
