package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wasilibs/go-re2"

	"github.com/aatumaykin/simcron/internal/logger"
)

// interruptPattern matches output or process states that mean the run was
// stopped by an operator rather than failing.
var interruptPattern = re2.MustCompile(`(?i)(KeyboardInterrupt|interrupted by (user|operator)|signal: interrupt)`)

// Result is the outcome of one job run.
type Result struct {
	ExitCode    int
	Tail        []string
	Interrupted bool
	Err         error
	Duration    time.Duration
}

// Job is anything the runner can execute. External commands are wrapped in
// ProcessJob; in-process jobs implement Run directly.
type Job interface {
	Run(ctx context.Context, args []string) Result
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, args []string) Result

func (f JobFunc) Run(ctx context.Context, args []string) Result {
	return f(ctx, args)
}

// ProcessJob runs an external command with stdout and stderr merged.
type ProcessJob struct {
	Path      string
	Env       []string
	TailLines int
	Log       *logger.Logger
}

// Run starts the process, streams its output line by line and waits for it.
// Cancelling ctx sends SIGINT; the run is then reported as interrupted.
func (p *ProcessJob) Run(ctx context.Context, args []string) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, p.Path, args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	out, err := cmd.StdoutPipe()
	if err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrJobLaunch, err), Duration: time.Since(start)}
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrJobLaunch, err), Duration: time.Since(start)}
	}

	tail := newTailBuffer(p.TailLines)
	scanner := bufio.NewScanner(out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if p.Log != nil {
			p.Log.Debug("job output", logger.Field{Key: "line", Value: line})
		}
		tail.add(line)
	}
	// слишком длинная строка: дочитываем, чтобы процесс не заблокировался
	_, _ = io.Copy(io.Discard, out)

	waitErr := cmd.Wait()

	res := Result{Tail: tail.lines(), Duration: time.Since(start)}
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		ee := &ExitError{Code: res.ExitCode}
		if state := exitErr.String(); strings.HasPrefix(state, "signal: ") {
			ee.Signal = strings.TrimPrefix(state, "signal: ")
			res.Interrupted = interruptPattern.MatchString(state)
		}
		res.Err = ee
	default:
		res.ExitCode = -1
		res.Err = fmt.Errorf("wait for job: %w", waitErr)
	}

	if res.Err != nil && !res.Interrupted {
		res.Interrupted = isInterrupted(ctx, res)
	}
	return res
}

func isInterrupted(ctx context.Context, res Result) bool {
	if ctx.Err() != nil || res.ExitCode == 130 {
		return true
	}
	for _, line := range res.Tail {
		if interruptPattern.MatchString(line) {
			return true
		}
	}
	return false
}

// tailBuffer keeps the last max lines.
type tailBuffer struct {
	buf []string
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max < 1 {
		max = 1
	}
	return &tailBuffer{buf: make([]string, 0, max), max: max}
}

func (t *tailBuffer) add(line string) {
	if len(t.buf) == t.max {
		copy(t.buf, t.buf[1:])
		t.buf = t.buf[:t.max-1]
	}
	t.buf = append(t.buf, line)
}

func (t *tailBuffer) lines() []string {
	return append([]string(nil), t.buf...)
}
