package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/simcron/internal/logger"
)

type fakePruner struct {
	before  time.Time
	calls   int
	deleted int64
	err     error
}

func (f *fakePruner) PruneJobRuns(ctx context.Context, before time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.deleted, f.err
}

func TestRunner_PrunesBeforeRetention(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	p := &fakePruner{deleted: 7}
	r := NewRunner(p, 48*time.Hour, logger.Discard())
	r.now = func() time.Time { return now }

	stats, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, p.calls)
	assert.Equal(t, now.Add(-48*time.Hour), p.before)
	assert.Equal(t, int64(7), stats.RunsDeleted)

	last, lastStats := r.LastRun()
	assert.Equal(t, now, last)
	assert.Equal(t, stats, lastStats)
}

func TestRunner_DisabledRetention(t *testing.T) {
	p := &fakePruner{}
	r := NewRunner(p, 0, logger.Discard())

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, p.calls)
	assert.Zero(t, stats.RunsDeleted)
}

func TestRunner_Error(t *testing.T) {
	p := &fakePruner{err: errors.New("database is locked")}
	r := NewRunner(p, time.Hour, logger.Discard())

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	last, _ := r.LastRun()
	assert.True(t, last.IsZero())
}
