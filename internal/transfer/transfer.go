// Package transfer defines the transfer-task domain: tasks that move a
// payload between two locations through an assigned worker, plus the
// reference data (locations, workers, relay stations) recovery works with.
package transfer

import (
	"fmt"
	"math"
	"time"
)

// Status is the lifecycle state of a transfer task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSuperseded Status = "superseded"
)

// IsTerminal reports whether no worker is busy with a task in this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSuperseded:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusSuperseded:
		return true
	}
	return false
}

// ParseStatus converts a stored string to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown transfer status: %q", s)
	}
	return st, nil
}

// RetryHistory records direct retries along one delivery lineage. Count is
// the number of direct-retry successors created so far; Workers lists every
// worker that already failed this delivery.
type RetryHistory struct {
	Count   int      `json:"count"`
	Workers []string `json:"workers,omitempty"`
}

// Next returns the history of a direct-retry successor of a task handled by
// prevWorker.
func (h RetryHistory) Next(prevWorker string) RetryHistory {
	workers := make([]string, 0, len(h.Workers)+1)
	workers = append(workers, h.Workers...)
	if prevWorker != "" {
		workers = append(workers, prevWorker)
	}
	return RetryHistory{Count: h.Count + 1, Workers: workers}
}

// Task is a request to move PayloadAmount of ResourceKind from Origin to
// Destination.
type Task struct {
	ID             string
	LineageID      string
	Status         Status
	Origin         string
	Destination    string
	PayloadAmount  float64
	ResourceKind   string
	AssignedWorker string
	Retry          RetryHistory
	Escalated      bool
	SuccessorIDs   []string
	Notes          string
	ScheduledAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Status       *Status
	Escalated    *bool
	SuccessorIDs []string
	Notes        *string
}

// Position is a point on the simulation map.
type Position struct {
	X float64
	Y float64
}

// Distance returns the straight-line distance between a and b.
func Distance(a, b Position) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Location is a place that holds resources. OwnerID is the party charged for
// services delivered to it.
type Location struct {
	ID       string
	Name     string
	Position Position
	OwnerID  string
}

// Worker is an agent that carries payloads. CurrentTask is empty when idle.
type Worker struct {
	ID          string
	Position    Position
	CurrentTask string
}

// RelayStation is an intermediate stop used to split long hauls.
type RelayStation struct {
	ID       string
	Name     string
	Position Position
}
