package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/simcron/internal/transfer"
)

const taskColumns = `id, lineage_id, status, origin, destination, payload_amount, resource_kind,
	assigned_worker, retry_count, retry_workers, escalated, successor_ids, notes,
	scheduled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (transfer.Task, error) {
	var (
		t                        transfer.Task
		status                   string
		retryWorkers, successors string
		escalated                int
		scheduled, created, upd  int64
	)
	err := row.Scan(&t.ID, &t.LineageID, &status, &t.Origin, &t.Destination, &t.PayloadAmount,
		&t.ResourceKind, &t.AssignedWorker, &t.Retry.Count, &retryWorkers, &escalated,
		&successors, &t.Notes, &scheduled, &created, &upd)
	if err != nil {
		return transfer.Task{}, err
	}

	if t.Status, err = transfer.ParseStatus(status); err != nil {
		return transfer.Task{}, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(retryWorkers), &t.Retry.Workers); err != nil {
		return transfer.Task{}, fmt.Errorf("task %s: decode retry workers: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(successors), &t.SuccessorIDs); err != nil {
		return transfer.Task{}, fmt.Errorf("task %s: decode successors: %w", t.ID, err)
	}
	t.Escalated = escalated != 0
	t.ScheduledAt = fromMillis(scheduled)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(upd)
	return t, nil
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ListByStatus returns tasks in status last updated at or after since,
// oldest first.
func (s *Store) ListByStatus(ctx context.Context, status transfer.Status, since time.Time) ([]transfer.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM transfer_tasks
		 WHERE status = ? AND updated_at >= ?
		 ORDER BY updated_at, id`,
		string(status), toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tasks: %w", status, err)
	}
	defer rows.Close()

	var tasks []transfer.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Get returns one task or ErrTaskNotFound.
func (s *Store) Get(ctx context.Context, id string) (transfer.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM transfer_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return transfer.Task{}, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts t and returns it with ID, lineage and timestamps filled in.
// An empty status means pending.
func (s *Store) Create(ctx context.Context, t transfer.Task) (transfer.Task, error) {
	t, err := s.prepareTask(t)
	if err != nil {
		return transfer.Task{}, err
	}
	if err := insertTask(ctx, s.db, t); err != nil {
		return transfer.Task{}, err
	}
	return t, nil
}

func (s *Store) prepareTask(t transfer.Task) (transfer.Task, error) {
	now := s.now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.LineageID == "" {
		t.LineageID = t.ID
	}
	if t.Status == "" {
		t.Status = transfer.StatusPending
	}
	if !t.Status.Valid() {
		return transfer.Task{}, fmt.Errorf("invalid task status: %q", t.Status)
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	return t, nil
}

func insertTask(ctx context.Context, db execer, t transfer.Task) error {
	workers, err := encodeList(t.Retry.Workers)
	if err != nil {
		return err
	}
	successors, err := encodeList(t.SuccessorIDs)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO transfer_tasks(`+taskColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.LineageID, string(t.Status), t.Origin, t.Destination, t.PayloadAmount, t.ResourceKind,
		t.AssignedWorker, t.Retry.Count, workers, boolToInt(t.Escalated), successors, t.Notes,
		toMillis(t.ScheduledAt), toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Update applies a partial update to the task id.
func (s *Store) Update(ctx context.Context, id string, u transfer.TaskUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(s.now())}

	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("invalid task status: %q", *u.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*u.Status))
	}
	if u.Escalated != nil {
		sets = append(sets, "escalated = ?")
		args = append(args, boolToInt(*u.Escalated))
	}
	if u.SuccessorIDs != nil {
		enc, err := encodeList(u.SuccessorIDs)
		if err != nil {
			return err
		}
		sets = append(sets, "successor_ids = ?")
		args = append(args, enc)
	}
	if u.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *u.Notes)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE transfer_tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
