// Package runner executes one job to completion, captures the tail of its
// output, records the outcome and raises an operator alert on failure.
// Failed runs are never retried; the next scheduled run is the retry.
package runner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/simcron/internal/alert"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
)

// JobRunRecorder persists finished runs.
type JobRunRecorder interface {
	RecordJobRun(ctx context.Context, run jobs.RunRecord) error
}

// Config holds runner settings.
type Config struct {
	BaseDir   string
	TailLines int
	HourEnv   string
	HourFlag  string
}

// Runner executes job descriptors.
type Runner struct {
	cfg      Config
	sink     alert.Sink
	recorder JobRunRecorder
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu         sync.RWMutex
	registered map[string]Job
}

// New creates a runner. recorder may be nil.
func New(cfg Config, sink alert.Sink, recorder JobRunRecorder, m *metrics.Metrics, log *logger.Logger) *Runner {
	if cfg.TailLines < 1 {
		cfg.TailLines = 20
	}
	return &Runner{
		cfg:        cfg,
		sink:       sink,
		recorder:   recorder,
		metrics:    m,
		log:        log.With(logger.Field{Key: "component", Value: "runner"}),
		registered: make(map[string]Job),
	}
}

// Register replaces the command of the named job with an in-process Job.
func (r *Runner) Register(name string, job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[name] = job
}

// Execute runs desc once and blocks until it finishes. forcedHour, when set,
// is forwarded to clock-aware jobs.
func (r *Runner) Execute(ctx context.Context, desc jobs.Descriptor, forcedHour *int) Result {
	log := r.log.With(logger.Field{Key: "job", Value: desc.Name})
	started := time.Now()

	log.Info("job started", logger.Field{Key: "cadence", Value: desc.Cadence.String()})

	job, args, err := r.prepare(desc, forcedHour, log)
	var res Result
	if err != nil {
		res = Result{ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrJobLaunch, err)}
	} else {
		res = runSafe(ctx, job, args)
	}
	if res.Err == nil && res.ExitCode != 0 {
		res.Err = &ExitError{Code: res.ExitCode}
	}
	if res.Duration == 0 {
		res.Duration = time.Since(started)
	}

	r.finish(ctx, desc, forcedHour, started, res, log)
	return res
}

func (r *Runner) prepare(desc jobs.Descriptor, forcedHour *int, log *logger.Logger) (Job, []string, error) {
	var env []string
	extra := func(args []string) []string {
		if !desc.ClockAware || forcedHour == nil {
			return args
		}
		h := strconv.Itoa(*forcedHour)
		env = append(env, r.cfg.HourEnv+"="+h)
		return append(args, r.cfg.HourFlag+"="+h)
	}

	r.mu.RLock()
	job, ok := r.registered[desc.Name]
	r.mu.RUnlock()
	if ok {
		return job, extra(append([]string(nil), desc.Args...)), nil
	}

	path, args, err := desc.Resolve(r.cfg.BaseDir)
	if err != nil {
		return nil, nil, err
	}
	args = extra(args)
	return &ProcessJob{Path: path, Env: env, TailLines: r.cfg.TailLines, Log: log}, args, nil
}

func runSafe(ctx context.Context, job Job, args []string) (res Result) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrJobPanic, rec), Duration: time.Since(start)}
		}
	}()
	return job.Run(ctx, args)
}

func (r *Runner) finish(ctx context.Context, desc jobs.Descriptor, forcedHour *int, started time.Time, res Result, log *logger.Logger) {
	status := jobs.RunSuccess
	switch {
	case res.Err == nil:
		log.Info("job finished", logger.Field{Key: "duration", Value: res.Duration.String()})
	case res.Interrupted:
		status = jobs.RunInterrupted
		log.Info("job interrupted", logger.Field{Key: "duration", Value: res.Duration.String()})
	default:
		status = jobs.RunFailed
		log.Error("job failed", res.Err,
			logger.Field{Key: "exit_code", Value: res.ExitCode},
			logger.Field{Key: "duration", Value: res.Duration.String()})
	}

	r.metrics.RecordJob(desc.Name, string(status), res.Duration)

	if r.recorder != nil {
		rec := jobs.RunRecord{
			ID:         uuid.NewString(),
			Job:        desc.Name,
			Status:     status,
			ExitCode:   res.ExitCode,
			Tail:       res.Tail,
			ForcedHour: forcedHour,
			StartedAt:  started,
			FinishedAt: started.Add(res.Duration),
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		if err := r.recorder.RecordJobRun(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("failed to record job run", logger.Field{Key: "error", Value: err})
		}
	}

	if status == jobs.RunFailed && r.sink != nil {
		r.sink.Send(context.WithoutCancel(ctx), FormatFailure(desc.Name, res))
	}
}

// FormatFailure builds the operator alert for a failed run.
func FormatFailure(name string, res Result) string {
	reason := "unknown error"
	if res.Err != nil {
		reason = res.Err.Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "❌ Job %s failed (%s)", name, reason)
	if len(res.Tail) > 0 {
		sb.WriteString("\n```\n")
		sb.WriteString(strings.Join(res.Tail, "\n"))
		sb.WriteString("\n```")
	}
	return sb.String()
}
