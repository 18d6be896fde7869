package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/transfer"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{
		Path:        filepath.Join(t.TempDir(), "data", "simcron.db"),
		BusyTimeout: config.Duration{Duration: time.Second},
	}
	s, err := Open(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{}, logger.Discard())
	assert.Error(t, err)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simcron.db")
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Path: path}, logger.Discard())
	require.NoError(t, err)
	created, err := s.Create(ctx, transfer.Task{Origin: "a", Destination: "b", PayloadAmount: 1, ResourceKind: "grain"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, config.StoreConfig{Path: path}, logger.Discard())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, transfer.Task{
		Status:         transfer.StatusFailed,
		Origin:         "farm",
		Destination:    "mill",
		PayloadAmount:  12.5,
		ResourceKind:   "grain",
		AssignedWorker: "w1",
		Retry:          transfer.RetryHistory{Count: 1, Workers: []string{"w0"}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, created.ID, created.LineageID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusFailed, got.Status)
	assert.Equal(t, "farm", got.Origin)
	assert.Equal(t, "mill", got.Destination)
	assert.Equal(t, 12.5, got.PayloadAmount)
	assert.Equal(t, "w1", got.AssignedWorker)
	assert.Equal(t, 1, got.Retry.Count)
	assert.Equal(t, []string{"w0"}, got.Retry.Workers)
	assert.Empty(t, got.SuccessorIDs)
	assert.False(t, got.Escalated)
	assert.WithinDuration(t, created.ScheduledAt, got.ScheduledAt, time.Millisecond)
}

func TestCreate_DefaultsAndLineage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, transfer.Task{LineageID: "lin-1", Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusPending, created.Status)
	assert.Equal(t, "lin-1", created.LineageID)

	_, err = s.Create(ctx, transfer.Task{Status: "lost"})
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, transfer.Task{Status: transfer.StatusFailed, Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)

	superseded := transfer.StatusSuperseded
	note := "replaced by direct retry"
	require.NoError(t, s.Update(ctx, created.ID, transfer.TaskUpdate{
		Status:       &superseded,
		SuccessorIDs: []string{"s1", "s2"},
		Notes:        &note,
	}))

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusSuperseded, got.Status)
	assert.Equal(t, []string{"s1", "s2"}, got.SuccessorIDs)
	assert.Equal(t, note, got.Notes)
	assert.False(t, got.Escalated)

	escalated := true
	require.NoError(t, s.Update(ctx, created.ID, transfer.TaskUpdate{Escalated: &escalated}))
	got, err = s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.Escalated)
	assert.Equal(t, transfer.StatusSuperseded, got.Status)
	assert.Equal(t, []string{"s1", "s2"}, got.SuccessorIDs)

	assert.ErrorIs(t, s.Update(ctx, "missing", transfer.TaskUpdate{Escalated: &escalated}), ErrTaskNotFound)

	bad := transfer.Status("lost")
	assert.Error(t, s.Update(ctx, created.ID, transfer.TaskUpdate{Status: &bad}))
}

func TestListByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return old }
	_, err := s.Create(ctx, transfer.Task{Status: transfer.StatusFailed, Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)

	recent := old.Add(48 * time.Hour)
	s.now = func() time.Time { return recent }
	f1, err := s.Create(ctx, transfer.Task{Status: transfer.StatusFailed, Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)
	_, err = s.Create(ctx, transfer.Task{Status: transfer.StatusPending, Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)

	failed, err := s.ListByStatus(ctx, transfer.StatusFailed, recent.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, f1.ID, failed[0].ID)

	all, err := s.ListByStatus(ctx, transfer.StatusFailed, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMoveResource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetQuantity(ctx, "farm", "grain", 10))

	require.NoError(t, s.MoveResource(ctx, "farm", "mill", "grain", 3))

	farm, err := s.ResourceQuantity(ctx, "farm", "grain")
	require.NoError(t, err)
	mill, err := s.ResourceQuantity(ctx, "mill", "grain")
	require.NoError(t, err)
	assert.Equal(t, 7.0, farm)
	assert.Equal(t, 3.0, mill)

	err = s.MoveResource(ctx, "farm", "mill", "grain", 8)
	assert.ErrorIs(t, err, ErrInsufficientQuantity)

	farm, err = s.ResourceQuantity(ctx, "farm", "grain")
	require.NoError(t, err)
	assert.Equal(t, 7.0, farm, "failed move must not debit the origin")

	assert.ErrorIs(t, s.MoveResource(ctx, "nowhere", "mill", "grain", 1), ErrInsufficientQuantity)
	assert.Error(t, s.MoveResource(ctx, "farm", "mill", "grain", 0))
}

func TestResourceQuantity_Missing(t *testing.T) {
	s := openTestStore(t)
	q, err := s.ResourceQuantity(context.Background(), "empty", "grain")
	require.NoError(t, err)
	assert.Zero(t, q)
}

func TestChargeFee(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ChargeFee(ctx, "guild", 1.5, "automated completion", "t1"))
	require.NoError(t, s.ChargeFee(ctx, "guild", 1, "automated completion", "t2"))
	require.NoError(t, s.ChargeFee(ctx, "other", 4, "automated completion", "t3"))

	total, err := s.FeesCharged(ctx, "guild")
	require.NoError(t, err)
	assert.Equal(t, 2.5, total)
}

func TestLocationAndRelayStations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertLocation(ctx, transfer.Location{ID: "mill", Name: "Mill", Position: transfer.Position{X: 3, Y: 4}, OwnerID: "guild"}))
	require.NoError(t, s.UpsertLocation(ctx, transfer.Location{ID: "mill", Name: "Old Mill", Position: transfer.Position{X: 3, Y: 4}, OwnerID: "guild"}))

	l, err := s.Location(ctx, "mill")
	require.NoError(t, err)
	assert.Equal(t, "Old Mill", l.Name)
	assert.Equal(t, transfer.Position{X: 3, Y: 4}, l.Position)
	assert.Equal(t, "guild", l.OwnerID)

	_, err = s.Location(ctx, "missing")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	require.NoError(t, s.UpsertRelayStation(ctx, transfer.RelayStation{ID: "r2", Position: transfer.Position{X: 1}}))
	require.NoError(t, s.UpsertRelayStation(ctx, transfer.RelayStation{ID: "r1", Position: transfer.Position{X: 2}}))
	stations, err := s.RelayStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "r1", stations[0].ID)
	assert.Equal(t, "r2", stations[1].ID)
}

func TestFindAvailableWorker(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, w := range []transfer.Worker{
		{ID: "w-far", Position: transfer.Position{X: 100}},
		{ID: "w-busy", Position: transfer.Position{X: 1}},
		{ID: "w-b", Position: transfer.Position{X: 5}},
		{ID: "w-a", Position: transfer.Position{X: -5}},
	} {
		require.NoError(t, s.UpsertWorker(ctx, w))
	}
	_, err := s.Create(ctx, transfer.Task{Status: transfer.StatusInProgress, AssignedWorker: "w-busy", Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)
	// завершённая задача не занимает работника
	_, err = s.Create(ctx, transfer.Task{Status: transfer.StatusFailed, AssignedWorker: "w-a", Origin: "a", Destination: "b", ResourceKind: "ore"})
	require.NoError(t, err)

	w, ok, err := s.FindAvailableWorker(ctx, transfer.Position{}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w-a", w.ID, "equal distance ties break by id")

	w, ok, err = s.FindAvailableWorker(ctx, transfer.Position{}, map[string]struct{}{"w-a": {}, "w-b": {}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "w-far", w.ID)

	_, ok, err = s.FindAvailableWorker(ctx, transfer.Position{}, map[string]struct{}{"w-a": {}, "w-b": {}, "w-far": {}})
	require.NoError(t, err)
	assert.False(t, ok)

	workers, err := s.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 4)
	for _, w := range workers {
		if w.ID == "w-busy" {
			assert.NotEmpty(t, w.CurrentTask)
		} else {
			assert.Empty(t, w.CurrentTask)
		}
	}
}

func TestJobRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)
	hour := 6

	require.NoError(t, s.RecordJobRun(ctx, jobs.RunRecord{
		ID: "r1", Job: "market", Status: jobs.RunSuccess,
		StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.RecordJobRun(ctx, jobs.RunRecord{
		ID: "r2", Job: "payroll", Status: jobs.RunFailed, ExitCode: 2, Error: "exit code 2",
		Tail: []string{"boom"}, ForcedHour: &hour,
		StartedAt: base.Add(time.Minute), FinishedAt: base.Add(2 * time.Minute),
	}))

	runs, err := s.RecentJobRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, jobs.RunFailed, runs[0].Status)
	assert.Equal(t, 2, runs[0].ExitCode)
	assert.Equal(t, []string{"boom"}, runs[0].Tail)
	require.NotNil(t, runs[0].ForcedHour)
	assert.Equal(t, 6, *runs[0].ForcedHour)
	assert.Equal(t, time.Minute, runs[0].Duration())

	assert.Equal(t, "r1", runs[1].ID)
	assert.Nil(t, runs[1].ForcedHour)
	assert.Empty(t, runs[1].Tail)

	limited, err := s.RecentJobRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestPruneJobRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 6, 0, 0, 0, time.UTC)

	for i, id := range []string{"old1", "old2", "new"} {
		start := base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, s.RecordJobRun(ctx, jobs.RunRecord{
			ID: id, Job: "market", Status: jobs.RunSuccess,
			StartedAt: start, FinishedAt: start.Add(time.Second),
		}))
	}

	n, err := s.PruneJobRuns(ctx, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err := s.RecentJobRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}
