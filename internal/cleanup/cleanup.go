// Package cleanup prunes job run history older than the retention window.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aatumaykin/simcron/internal/logger"
)

// Pruner deletes job runs that started before a cutoff.
type Pruner interface {
	PruneJobRuns(ctx context.Context, before time.Time) (int64, error)
}

// Stats holds statistics about one cleanup run.
type Stats struct {
	RunsDeleted int64
	Cutoff      time.Time
	Duration    time.Duration
}

// Runner performs cleanup runs and remembers the last result.
type Runner struct {
	pruner    Pruner
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	stats   Stats
}

// NewRunner creates a cleanup runner. A retention of zero or less disables
// pruning.
func NewRunner(p Pruner, retention time.Duration, log *logger.Logger) *Runner {
	return &Runner{
		pruner:    p,
		retention: retention,
		log:       log.With(logger.Field{Key: "component", Value: "cleanup"}),
		now:       time.Now,
	}
}

// Run deletes job runs older than the retention window.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	if r.retention <= 0 {
		return Stats{}, nil
	}

	start := r.now()
	stats := Stats{Cutoff: start.Add(-r.retention)}

	n, err := r.pruner.PruneJobRuns(ctx, stats.Cutoff)
	if err != nil {
		return stats, fmt.Errorf("failed to prune job runs: %w", err)
	}
	stats.RunsDeleted = n
	stats.Duration = r.now().Sub(start)

	r.mu.Lock()
	r.lastRun = start
	r.stats = stats
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("cleanup completed",
			logger.Field{Key: "runs_deleted", Value: n},
			logger.Field{Key: "cutoff", Value: stats.Cutoff.UTC().Format(time.RFC3339)},
			logger.Field{Key: "duration_ms", Value: stats.Duration.Milliseconds()})
	} else {
		r.log.Debug("cleanup completed: nothing to prune")
	}
	return stats, nil
}

// LastRun returns the time and result of the last successful run.
func (r *Runner) LastRun() (time.Time, Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.stats
}
