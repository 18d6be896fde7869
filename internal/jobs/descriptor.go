// Package jobs holds the static job descriptor table: which external command
// each simulation job runs and on what cadence.
package jobs

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// CadenceKind selects how a job is scheduled.
type CadenceKind string

const (
	// Frequent jobs run every IntervalMinutes, shifted by PhaseOffset.
	Frequent CadenceKind = "frequent"
	// DailyAt jobs run once per simulated day at Hour:Minute.
	DailyAt CadenceKind = "daily"
)

// Cadence describes when a job is due.
type Cadence struct {
	Kind            CadenceKind `yaml:"kind"`
	IntervalMinutes int         `yaml:"every,omitempty"`
	PhaseOffset     int         `yaml:"offset,omitempty"`
	Hour            int         `yaml:"hour,omitempty"`
	Minute          int         `yaml:"minute,omitempty"`
}

// String renders the cadence for logs and listings.
func (c Cadence) String() string {
	switch c.Kind {
	case Frequent:
		if c.PhaseOffset == 0 {
			return fmt.Sprintf("every %dm", c.IntervalMinutes)
		}
		return fmt.Sprintf("every %dm +%d", c.IntervalMinutes, c.PhaseOffset)
	case DailyAt:
		return fmt.Sprintf("daily %02d:%02d", c.Hour, c.Minute)
	}
	return string(c.Kind)
}

// Descriptor is one entry of the job table. Descriptors are immutable once
// the table is loaded.
type Descriptor struct {
	Name       string   `yaml:"name"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args,omitempty"`
	Cadence    Cadence  `yaml:"cadence"`
	ClockAware bool     `yaml:"clock_aware,omitempty"`
}

// FrequentDue reports whether a frequent job is due at the given minute of
// the hour.
func (d Descriptor) FrequentDue(minute int) bool {
	if d.Cadence.Kind != Frequent || d.Cadence.IntervalMinutes <= 0 {
		return false
	}
	n := d.Cadence.IntervalMinutes
	return ((minute-d.Cadence.PhaseOffset)%n+n)%n == 0
}

// DailyDue reports whether a daily job is due at the given local time.
func (d Descriptor) DailyDue(local time.Time) bool {
	if d.Cadence.Kind != DailyAt {
		return false
	}
	return local.Hour() == d.Cadence.Hour && local.Minute() == d.Cadence.Minute
}

// Resolve returns the executable path and a copy of the arguments.
// Relative paths with a directory component are joined with baseDir; bare
// names are looked up in PATH.
func (d Descriptor) Resolve(baseDir string) (string, []string, error) {
	args := append([]string(nil), d.Args...)

	cmd := d.Command
	switch {
	case filepath.IsAbs(cmd):
	case strings.ContainsRune(cmd, filepath.Separator) || strings.ContainsRune(cmd, '/'):
		if baseDir != "" {
			cmd = filepath.Join(baseDir, cmd)
		}
		abs, err := filepath.Abs(cmd)
		if err != nil {
			return "", nil, fmt.Errorf("failed to resolve %s: %w", d.Command, err)
		}
		cmd = abs
	default:
		path, err := exec.LookPath(cmd)
		if err != nil {
			return "", nil, fmt.Errorf("command %s not found: %w", cmd, err)
		}
		cmd = path
	}
	return cmd, args, nil
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(d.Command) == "" {
		return fmt.Errorf("job %s: command is required", d.Name)
	}
	c := d.Cadence
	switch c.Kind {
	case Frequent:
		if c.IntervalMinutes < 1 {
			return fmt.Errorf("job %s: every must be >= 1 (got %d)", d.Name, c.IntervalMinutes)
		}
		if c.PhaseOffset < 0 || c.PhaseOffset >= c.IntervalMinutes {
			return fmt.Errorf("job %s: offset must be in [0, %d) (got %d)", d.Name, c.IntervalMinutes, c.PhaseOffset)
		}
	case DailyAt:
		if c.Hour < 0 || c.Hour > 23 {
			return fmt.Errorf("job %s: hour must be between 0 and 23 (got %d)", d.Name, c.Hour)
		}
		if c.Minute < 0 || c.Minute > 59 {
			return fmt.Errorf("job %s: minute must be between 0 and 59 (got %d)", d.Name, c.Minute)
		}
	default:
		return fmt.Errorf("job %s: unknown cadence kind %q (expected: frequent, daily)", d.Name, c.Kind)
	}
	return nil
}
