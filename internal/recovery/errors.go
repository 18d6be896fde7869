package recovery

import "errors"

var (
	// ErrNoWorkerAvailable: no idle worker outside the exclusion set.
	ErrNoWorkerAvailable = errors.New("no worker available")
	// ErrRouteUnavailable: neither relay routing nor a direct retry could be
	// arranged.
	ErrRouteUnavailable = errors.New("no route available")
	// ErrRetriesExhausted: the lineage reached the retry ceiling.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrStaleTask: the task is no longer Failed when the planner acts on it.
	ErrStaleTask = errors.New("task is no longer failed")
	// ErrNotApplicable makes the planner fall through to the next strategy.
	ErrNotApplicable = errors.New("strategy not applicable")
)
