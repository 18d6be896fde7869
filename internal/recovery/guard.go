package recovery

import "sync"

// lineageGuard keeps two tasks of one delivery lineage from being planned at
// the same time.
type lineageGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newLineageGuard() *lineageGuard {
	return &lineageGuard{busy: make(map[string]struct{})}
}

func (g *lineageGuard) tryLock(lineage string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.busy[lineage]; ok {
		return false
	}
	g.busy[lineage] = struct{}{}
	return true
}

func (g *lineageGuard) unlock(lineage string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, lineage)
}
