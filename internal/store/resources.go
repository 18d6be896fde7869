package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/aatumaykin/simcron/internal/transfer"
)

// ResourceQuantity returns how much of kind is stored at location. A missing
// inventory row counts as zero.
func (s *Store) ResourceQuantity(ctx context.Context, locationID, kind string) (float64, error) {
	var amount float64
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM inventory WHERE location_id = ? AND resource_kind = ?`,
		locationID, kind).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read quantity of %s at %s: %w", kind, locationID, err)
	}
	return amount, nil
}

// SetQuantity overwrites the stored amount of kind at location.
func (s *Store) SetQuantity(ctx context.Context, locationID, kind string, amount float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory(location_id, resource_kind, amount) VALUES(?,?,?)
		 ON CONFLICT(location_id, resource_kind) DO UPDATE SET amount = excluded.amount`,
		locationID, kind, amount)
	if err != nil {
		return fmt.Errorf("failed to set quantity of %s at %s: %w", kind, locationID, err)
	}
	return nil
}

// MoveResource transfers amount of kind from one location to another in a
// single transaction. It fails with ErrInsufficientQuantity if the origin
// holds less than amount.
func (s *Store) MoveResource(ctx context.Context, from, to, kind string, amount float64) (err error) {
	if amount <= 0 {
		return fmt.Errorf("move amount must be positive (got %v)", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin move: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = moveTx(ctx, tx, from, to, kind, amount); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}
	return nil
}

func moveTx(ctx context.Context, tx *sql.Tx, from, to, kind string, amount float64) error {
	var available float64
	err := tx.QueryRowContext(ctx,
		`SELECT amount FROM inventory WHERE location_id = ? AND resource_kind = ?`,
		from, kind).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		available, err = 0, nil
	}
	if err != nil {
		return fmt.Errorf("failed to read quantity at %s: %w", from, err)
	}
	if available < amount {
		return fmt.Errorf("%w: %s holds %v %s, need %v", ErrInsufficientQuantity, from, available, kind, amount)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE inventory SET amount = amount - ? WHERE location_id = ? AND resource_kind = ?`,
		amount, from, kind); err != nil {
		return fmt.Errorf("failed to debit %s: %w", from, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO inventory(location_id, resource_kind, amount) VALUES(?,?,?)
		 ON CONFLICT(location_id, resource_kind) DO UPDATE SET amount = amount + excluded.amount`,
		to, kind, amount); err != nil {
		return fmt.Errorf("failed to credit %s: %w", to, err)
	}
	return nil
}

// ChargeFee records a service fee against partyID.
func (s *Store) ChargeFee(ctx context.Context, partyID string, amount float64, reason, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fees(party_id, amount, reason, task_id, charged_at) VALUES(?,?,?,?,?)`,
		partyID, amount, reason, taskID, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to charge fee to %s: %w", partyID, err)
	}
	return nil
}

// FeesCharged returns the total fees recorded against partyID.
func (s *Store) FeesCharged(ctx context.Context, partyID string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM fees WHERE party_id = ?`, partyID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum fees of %s: %w", partyID, err)
	}
	return total, nil
}

// Location returns one location or ErrLocationNotFound.
func (s *Store) Location(ctx context.Context, id string) (transfer.Location, error) {
	var l transfer.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, x, y, owner_id FROM locations WHERE id = ?`, id).
		Scan(&l.ID, &l.Name, &l.Position.X, &l.Position.Y, &l.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return transfer.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, id)
	}
	if err != nil {
		return transfer.Location{}, fmt.Errorf("failed to get location %s: %w", id, err)
	}
	return l, nil
}

func (s *Store) UpsertLocation(ctx context.Context, l transfer.Location) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations(id, name, x, y, owner_id) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, x = excluded.x, y = excluded.y, owner_id = excluded.owner_id`,
		l.ID, l.Name, l.Position.X, l.Position.Y, l.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to upsert location %s: %w", l.ID, err)
	}
	return nil
}

// RelayStations returns every relay station ordered by id.
func (s *Store) RelayStations(ctx context.Context) ([]transfer.RelayStation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, x, y FROM relay_stations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list relay stations: %w", err)
	}
	defer rows.Close()

	var out []transfer.RelayStation
	for rows.Next() {
		var r transfer.RelayStation
		if err := rows.Scan(&r.ID, &r.Name, &r.Position.X, &r.Position.Y); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRelayStation(ctx context.Context, r transfer.RelayStation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_stations(id, name, x, y) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, x = excluded.x, y = excluded.y`,
		r.ID, r.Name, r.Position.X, r.Position.Y)
	if err != nil {
		return fmt.Errorf("failed to upsert relay station %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) UpsertWorker(ctx context.Context, w transfer.Worker) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workers(id, x, y) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET x = excluded.x, y = excluded.y`,
		w.ID, w.Position.X, w.Position.Y)
	if err != nil {
		return fmt.Errorf("failed to upsert worker %s: %w", w.ID, err)
	}
	return nil
}

// Workers lists every worker with the task it is currently busy with.
func (s *Store) Workers(ctx context.Context) ([]transfer.Worker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.x, w.y,
		        COALESCE((SELECT t.id FROM transfer_tasks t
		                  WHERE t.assigned_worker = w.id AND t.status IN (?, ?)
		                  ORDER BY t.scheduled_at LIMIT 1), '')
		 FROM workers w ORDER BY w.id`,
		string(transfer.StatusPending), string(transfer.StatusInProgress))
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var out []transfer.Worker
	for rows.Next() {
		var w transfer.Worker
		if err := rows.Scan(&w.ID, &w.Position.X, &w.Position.Y, &w.CurrentTask); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// FindAvailableWorker returns the idle worker nearest to near, skipping ids in
// excluding. Ties are broken by id. ok is false when nobody is available.
func (s *Store) FindAvailableWorker(ctx context.Context, near transfer.Position, excluding map[string]struct{}) (transfer.Worker, bool, error) {
	workers, err := s.Workers(ctx)
	if err != nil {
		return transfer.Worker{}, false, err
	}

	candidates := workers[:0]
	for _, w := range workers {
		if w.CurrentTask != "" {
			continue
		}
		if _, skip := excluding[w.ID]; skip {
			continue
		}
		candidates = append(candidates, w)
	}
	if len(candidates) == 0 {
		return transfer.Worker{}, false, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di := transfer.Distance(near, candidates[i].Position)
		dj := transfer.Distance(near, candidates[j].Position)
		if di != dj {
			return di < dj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true, nil
}
