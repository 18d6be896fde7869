package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aatumaykin/simcron/internal/jobs"
)

// RecordJobRun stores one finished job run.
func (s *Store) RecordJobRun(ctx context.Context, run jobs.RunRecord) error {
	tail, err := encodeList(run.Tail)
	if err != nil {
		return err
	}
	var hour sql.NullInt64
	if run.ForcedHour != nil {
		hour = sql.NullInt64{Int64: int64(*run.ForcedHour), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_runs(id, job, status, exit_code, error, tail, forced_hour, started_at, finished_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Job, string(run.Status), run.ExitCode, run.Error, tail, hour,
		toMillis(run.StartedAt), toMillis(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to record run of %s: %w", run.Job, err)
	}
	return nil
}

// RecentJobRuns returns up to limit runs, newest first.
func (s *Store) RecentJobRuns(ctx context.Context, limit int) ([]jobs.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, status, exit_code, error, tail, forced_hour, started_at, finished_at
		 FROM job_runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var out []jobs.RunRecord
	for rows.Next() {
		var (
			r               jobs.RunRecord
			status, tail    string
			hour            sql.NullInt64
			started, finish int64
		)
		if err := rows.Scan(&r.ID, &r.Job, &status, &r.ExitCode, &r.Error, &tail, &hour, &started, &finish); err != nil {
			return nil, err
		}
		r.Status = jobs.RunStatus(status)
		if err := json.Unmarshal([]byte(tail), &r.Tail); err != nil {
			return nil, fmt.Errorf("run %s: decode tail: %w", r.ID, err)
		}
		if hour.Valid {
			h := int(hour.Int64)
			r.ForcedHour = &h
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finish)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneJobRuns deletes runs that started before the cutoff and returns how
// many were removed.
func (s *Store) PruneJobRuns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE started_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune job runs: %w", err)
	}
	return res.RowsAffected()
}
