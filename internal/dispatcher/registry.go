package dispatcher

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunHandle marks one live execution of a frequent job.
type RunHandle struct {
	ID        string
	JobName   string
	StartedAt time.Time
}

// Registry tracks running frequent jobs. At most one handle per job name is
// live at any time.
type Registry struct {
	mu      sync.Mutex
	running map[string]RunHandle
}

func NewRegistry() *Registry {
	return &Registry{running: make(map[string]RunHandle)}
}

// TryAcquire registers a run of name unless one is already live.
func (r *Registry) TryAcquire(name string, now time.Time) (RunHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.running[name]; busy {
		return RunHandle{}, false
	}
	h := RunHandle{ID: uuid.NewString(), JobName: name, StartedAt: now}
	r.running[name] = h
	return h, true
}

// Release removes h. A stale handle (already released or replaced) is
// ignored.
func (r *Registry) Release(h RunHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.running[h.JobName]; ok && cur.ID == h.ID {
		delete(r.running, h.JobName)
	}
}

func (r *Registry) IsRunning(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[name]
	return ok
}

// Snapshot returns live handles sorted by job name.
func (r *Registry) Snapshot() []RunHandle {
	r.mu.Lock()
	out := make([]RunHandle, 0, len(r.running))
	for _, h := range r.running {
		out = append(out, h)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
