package jobs

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Table is the ordered job table. Order matters: daily jobs due at the same
// time run one after another in table order.
type Table struct {
	Jobs []Descriptor `yaml:"jobs"`
}

// LoadTable reads and validates a YAML job table.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read job table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML job table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("failed to parse job table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks every descriptor and name uniqueness. All problems are
// reported together.
func (t Table) Validate() error {
	var errs []error
	seen := make(map[string]int, len(t.Jobs))
	for i, d := range t.Jobs {
		if err := d.validate(); err != nil {
			errs = append(errs, fmt.Errorf("jobs[%d]: %w", i, err))
			continue
		}
		if prev, dup := seen[d.Name]; dup {
			errs = append(errs, fmt.Errorf("jobs[%d]: duplicate name %q (first at jobs[%d])", i, d.Name, prev))
			continue
		}
		seen[d.Name] = i
	}
	return errors.Join(errs...)
}

// Frequent returns the frequent descriptors in table order.
func (t Table) Frequent() []Descriptor {
	return t.filter(Frequent)
}

// Daily returns the daily descriptors in table order.
func (t Table) Daily() []Descriptor {
	return t.filter(DailyAt)
}

// Lookup finds a descriptor by name.
func (t Table) Lookup(name string) (Descriptor, bool) {
	for _, d := range t.Jobs {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}

func (t Table) filter(kind CadenceKind) []Descriptor {
	var out []Descriptor
	for _, d := range t.Jobs {
		if d.Cadence.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
