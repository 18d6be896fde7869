package jobs

import "time"

// RunStatus is the outcome of one job execution.
type RunStatus string

const (
	RunSuccess     RunStatus = "success"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// RunRecord describes one finished execution of a job.
type RunRecord struct {
	ID         string
	Job        string
	Status     RunStatus
	ExitCode   int
	Error      string
	Tail       []string
	ForcedHour *int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
