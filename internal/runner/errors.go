package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrJobLaunch means the job process could not be started.
	ErrJobLaunch = errors.New("job launch failed")
	// ErrJobPanic means an in-process job panicked.
	ErrJobPanic = errors.New("job panicked")
)

// ExitError is returned when a job exits with a non-zero code or is killed by
// a signal.
type ExitError struct {
	Code   int
	Signal string
}

func (e *ExitError) Error() string {
	if e.Signal != "" {
		return "killed by " + e.Signal
	}
	return fmt.Sprintf("exit code %d", e.Code)
}
