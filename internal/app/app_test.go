package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/simcron/internal/config"
	"github.com/aatumaykin/simcron/internal/jobs"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/transfer"
)

func testLogger() *logger.Logger {
	return logger.Discard()
}

// testConfig writes a job table with one frequent job that appends to a
// marker file, and returns a config ticking every second.
func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	marker := filepath.Join(dir, "ticks.log")

	script := filepath.Join(dir, "mark.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"tick $*\" >> "+marker+"\n"), 0755))

	jobsFile := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(jobsFile, []byte(`jobs:
  - name: marker
    command: ./mark.sh
    clock_aware: true
    cadence:
      kind: frequent
      every: 1
`), 0644))

	cfg := config.Default()
	cfg.Dispatcher.JobsFile = jobsFile
	cfg.Dispatcher.TickSchedule = "* * * * * *"
	cfg.Store.Path = filepath.Join(dir, "simcron.db")
	hour := 5
	cfg.Clock.ForcedHour = &hour
	return cfg, marker
}

func TestApp_InitializeAndShutdown(t *testing.T) {
	cfg, _ := testConfig(t)
	a := New(cfg, testLogger())

	require.NoError(t, a.Initialize(context.Background()))
	assert.Len(t, a.Table().Jobs, 1)
	assert.NotNil(t, a.Runner())
	assert.NotNil(t, a.Dispatcher())
	assert.NotNil(t, a.Store())

	// повторная инициализация ничего не делает
	require.NoError(t, a.Initialize(context.Background()))

	require.NoError(t, a.Shutdown())
	require.NoError(t, a.Shutdown())
}

func TestApp_InitializeMissingJobsFile(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Dispatcher.JobsFile = filepath.Join(t.TempDir(), "missing.yaml")

	err := New(cfg, testLogger()).Initialize(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job table")
}

func TestApp_StartRequiresInitialize(t *testing.T) {
	cfg, _ := testConfig(t)
	assert.Error(t, New(cfg, testLogger()).Start())
}

func TestApp_InvalidTickSchedule(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Dispatcher.TickSchedule = "not a schedule"

	err := New(cfg, testLogger()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick schedule")
}

func TestApp_RunDispatchesJobs(t *testing.T) {
	cfg, marker := testConfig(t)
	a := New(cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && strings.Contains(string(data), "tick --hour=5")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not stop")
	}

	// store is closed after shutdown; reopen to check recorded runs
	reopened := New(cfg, testLogger())
	require.NoError(t, reopened.Initialize(context.Background()))
	defer reopened.Shutdown()
	runs, err := reopened.Store().RecentJobRuns(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, "marker", runs[0].Job)
}

func TestApp_MetricsEndpoint(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Dispatcher.TickSchedule = "@every 1h"
	a := New(cfg, testLogger())

	require.NoError(t, a.Initialize(context.Background()))
	require.NoError(t, a.Start())
	defer a.Shutdown()

	addr := a.MetricsAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "simcron_jobs_running")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestApp_RecoverOnce(t *testing.T) {
	cfg, _ := testConfig(t)
	a := New(cfg, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx))
	defer a.Shutdown()

	st := a.Store()
	require.NoError(t, st.UpsertLocation(ctx, transfer.Location{ID: "farm"}))
	require.NoError(t, st.UpsertLocation(ctx, transfer.Location{ID: "mill", Position: transfer.Position{X: 10}, OwnerID: "guild"}))
	require.NoError(t, st.SetQuantity(ctx, "farm", "grain", 10))
	task, err := st.Create(ctx, transfer.Task{Status: transfer.StatusFailed, Origin: "farm", Destination: "mill", PayloadAmount: 3, ResourceKind: "grain"})
	require.NoError(t, err)

	stats, err := a.RecoverOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	got, err := st.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, transfer.StatusCompleted, got.Status)
}

func TestApp_CleanupPrunesOldRuns(t *testing.T) {
	cfg, _ := testConfig(t)
	a := New(cfg, testLogger())
	ctx := context.Background()

	require.NoError(t, a.Initialize(ctx))
	defer a.Shutdown()

	old := time.Now().Add(-2 * config.DefaultRunRetention)
	require.NoError(t, a.Store().RecordJobRun(ctx, jobs.RunRecord{
		ID: "ancient", Job: "marker", Status: jobs.RunSuccess,
		StartedAt: old, FinishedAt: old.Add(time.Second),
	}))
	recent := time.Now().Add(-time.Minute)
	require.NoError(t, a.Store().RecordJobRun(ctx, jobs.RunRecord{
		ID: "recent", Job: "marker", Status: jobs.RunSuccess,
		StartedAt: recent, FinishedAt: recent.Add(time.Second),
	}))

	a.cleanupPass()

	runs, err := a.Store().RecentJobRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "recent", runs[0].ID)
}
