package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aatumaykin/simcron/internal/transfer"
)

// Completion describes how a failed task is settled by CompleteTransfer.
type Completion struct {
	From, To string
	Kind     string
	Amount   float64 // 0 completes without moving anything

	FeePayer  string
	Fee       float64
	FeeReason string

	Note string
}

// CompleteTransfer moves the resource, records the fee and marks the task
// completed in one transaction. The task must still be failed, otherwise
// ErrTaskNotFailed is returned and nothing changes.
func (s *Store) CompleteTransfer(ctx context.Context, taskID string, c Completion) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin completion: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := toMillis(s.now())
	if err = claimFailed(ctx, tx, taskID,
		`UPDATE transfer_tasks SET status = ?, notes = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(transfer.StatusCompleted), c.Note, now, taskID, string(transfer.StatusFailed)); err != nil {
		return err
	}

	if c.Amount > 0 {
		if err = moveTx(ctx, tx, c.From, c.To, c.Kind, c.Amount); err != nil {
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO fees(party_id, amount, reason, task_id, charged_at) VALUES(?,?,?,?,?)`,
		c.FeePayer, c.Fee, c.FeeReason, taskID, now); err != nil {
		return fmt.Errorf("failed to charge fee to %s: %w", c.FeePayer, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}

// SupersedeWith inserts the successors and marks the failed task superseded
// by them in one transaction. Returns the successors as stored.
func (s *Store) SupersedeWith(ctx context.Context, taskID string, successors []transfer.Task, note string) (out []transfer.Task, err error) {
	if len(successors) == 0 {
		return nil, errors.New("supersede needs at least one successor")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin supersede: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ids := make([]string, 0, len(successors))
	out = make([]transfer.Task, 0, len(successors))
	for _, succ := range successors {
		var t transfer.Task
		if t, err = s.prepareTask(succ); err != nil {
			return nil, err
		}
		if err = insertTask(ctx, tx, t); err != nil {
			return nil, err
		}
		ids = append(ids, t.ID)
		out = append(out, t)
	}

	enc, err := encodeList(ids)
	if err != nil {
		return nil, err
	}
	if err = claimFailed(ctx, tx, taskID,
		`UPDATE transfer_tasks SET status = ?, successor_ids = ?, notes = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(transfer.StatusSuperseded), enc, note, toMillis(s.now()), taskID, string(transfer.StatusFailed)); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit supersede: %w", err)
	}
	return out, nil
}

// claimFailed runs a conditional update on a failed task and tells apart a
// missing task from one that has moved on.
func claimFailed(ctx context.Context, tx *sql.Tx, taskID, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM transfer_tasks WHERE id = ?`, taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	return fmt.Errorf("%w: %s is %s", ErrTaskNotFailed, taskID, status)
}
