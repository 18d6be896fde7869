package recovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/simcron/internal/alert"
	"github.com/aatumaykin/simcron/internal/logger"
	"github.com/aatumaykin/simcron/internal/metrics"
	"github.com/aatumaykin/simcron/internal/store"
	"github.com/aatumaykin/simcron/internal/transfer"
)

// Strategy names, also used as metric labels.
const (
	StrategyEscalation   = "escalation"
	StrategyAutoComplete = "auto_complete"
	StrategyRelay        = "relay"
	StrategyDirectRetry  = "direct_retry"
	StrategyNone         = "none"
)

// Route is a failed task with its endpoints resolved.
type Route struct {
	Task        transfer.Task
	Origin      transfer.Location
	Destination transfer.Location
	Distance    float64
}

// Outcome describes what a strategy did.
type Outcome struct {
	Strategy   string
	Successors []transfer.Task
	Moved      float64
}

// Strategy is one recovery action.
type Strategy interface {
	Name() string
	Execute(ctx context.Context, r Route) (Outcome, error)
}

// deps is shared by all strategies of one planner.
type deps struct {
	cfg     Config
	store   TaskStore
	sink    alert.Sink
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	// assignMu serializes "find idle worker, create task for it" so parallel
	// tasks never pick the same worker.
	assignMu sync.Mutex
}

// supersede stores the successors and retires task in one step. A task that
// changed under us is reported as ErrStaleTask.
func (d *deps) supersede(ctx context.Context, task transfer.Task, successors []transfer.Task, note string) ([]transfer.Task, error) {
	created, err := d.store.SupersedeWith(ctx, task.ID, successors, note)
	if err != nil {
		return nil, stale(err)
	}
	return created, nil
}

func stale(err error) error {
	if errors.Is(err, store.ErrTaskNotFailed) {
		return fmt.Errorf("%w: %v", ErrStaleTask, err)
	}
	return err
}

// Escalation hands the task to a human: it marks it escalated and sends one
// alert. The task stays Failed.
type Escalation struct{ *deps }

func (Escalation) Name() string { return StrategyEscalation }

func (s Escalation) Execute(ctx context.Context, r Route) (Outcome, error) {
	t := r.Task
	escalated := true
	note := fmt.Sprintf("escalated after %d retries", t.Retry.Count)
	if err := s.store.Update(ctx, t.ID, transfer.TaskUpdate{Escalated: &escalated, Notes: &note}); err != nil {
		return Outcome{}, fmt.Errorf("failed to mark task escalated: %w", err)
	}
	s.metrics.Escalated()
	s.metrics.RecoveryOutcome(StrategyEscalation)

	if s.sink != nil {
		s.sink.Send(ctx, fmt.Sprintf("🚨 Transfer task %s escalated: %d retries exhausted\n%s → %s, %g %s",
			t.ID, t.Retry.Count, t.Origin, t.Destination, t.PayloadAmount, t.ResourceKind))
	}
	return Outcome{Strategy: StrategyEscalation}, nil
}

// AutoComplete settles a small payload by moving it directly and charging a
// fee to the destination owner.
type AutoComplete struct{ *deps }

func (AutoComplete) Name() string { return StrategyAutoComplete }

func (s AutoComplete) Execute(ctx context.Context, r Route) (Outcome, error) {
	t := r.Task
	if t.PayloadAmount > s.cfg.SmallThreshold {
		return Outcome{}, ErrNotApplicable
	}

	available, err := s.store.ResourceQuantity(ctx, t.Origin, t.ResourceKind)
	if err != nil {
		return Outcome{}, err
	}
	if available <= 0 {
		return Outcome{}, fmt.Errorf("%w: nothing at origin %s", ErrNotApplicable, t.Origin)
	}

	amount := math.Min(t.PayloadAmount, available)
	payer := r.Destination.OwnerID
	if payer == "" {
		payer = t.Destination
	}

	err = s.store.CompleteTransfer(ctx, t.ID, store.Completion{
		From:      t.Origin,
		To:        t.Destination,
		Kind:      t.ResourceKind,
		Amount:    amount,
		FeePayer:  payer,
		Fee:       s.cfg.CompletionFee,
		FeeReason: "automated completion",
		Note:      fmt.Sprintf("auto-completed: moved %g of %g", amount, t.PayloadAmount),
	})
	if errors.Is(err, store.ErrInsufficientQuantity) {
		return Outcome{}, fmt.Errorf("%w: %v", ErrNotApplicable, err)
	}
	if err != nil {
		return Outcome{}, stale(err)
	}
	s.metrics.RecoveryOutcome(StrategyAutoComplete)
	return Outcome{Strategy: StrategyAutoComplete, Moved: amount}, nil
}

// RelayRouting splits a long delivery into two legs through a relay station.
type RelayRouting struct{ *deps }

func (RelayRouting) Name() string { return StrategyRelay }

// bestStation picks the station with the shortest two-leg route within the
// detour limit. Ties go to the lower id.
func (s RelayRouting) bestStation(stations []transfer.RelayStation, r Route) (transfer.RelayStation, float64, bool) {
	var (
		best     transfer.RelayStation
		bestLen  = math.Inf(1)
		bestLeg1 float64
		found    bool
	)
	limit := s.cfg.DetourFactor * r.Distance
	for _, st := range stations {
		leg1 := transfer.Distance(r.Origin.Position, st.Position)
		leg2 := transfer.Distance(st.Position, r.Destination.Position)
		if leg1 == 0 || leg2 == 0 {
			continue
		}
		total := leg1 + leg2
		if total > limit {
			continue
		}
		if total < bestLen || (total == bestLen && st.ID < best.ID) {
			best, bestLen, bestLeg1, found = st, total, leg1, true
		}
	}
	return best, bestLeg1, found
}

func (s RelayRouting) Execute(ctx context.Context, r Route) (Outcome, error) {
	t := r.Task
	if r.Distance <= s.cfg.RelayThreshold {
		return Outcome{}, ErrNotApplicable
	}

	stations, err := s.store.RelayStations(ctx)
	if err != nil {
		return Outcome{}, err
	}
	station, leg1Dist, ok := s.bestStation(stations, r)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no relay station within detour limit", ErrNotApplicable)
	}

	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	// relay workers are independent of whoever failed the task
	w1, ok, err := s.store.FindAvailableWorker(ctx, r.Origin.Position, nil)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no worker for first leg", ErrNotApplicable)
	}
	w2, ok, err := s.store.FindAvailableWorker(ctx, station.Position, map[string]struct{}{w1.ID: {}})
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		return Outcome{}, fmt.Errorf("%w: no worker for second leg", ErrNotApplicable)
	}

	now := s.now()
	legs := []transfer.Task{
		{
			LineageID:      t.LineageID,
			Origin:         t.Origin,
			Destination:    station.ID,
			PayloadAmount:  t.PayloadAmount,
			ResourceKind:   t.ResourceKind,
			AssignedWorker: w1.ID,
			Retry:          t.Retry,
			ScheduledAt:    now,
			Notes:          "relay leg 1 of " + t.ID,
		},
		{
			LineageID:      t.LineageID,
			Origin:         station.ID,
			Destination:    t.Destination,
			PayloadAmount:  t.PayloadAmount,
			ResourceKind:   t.ResourceKind,
			AssignedWorker: w2.ID,
			Retry:          t.Retry,
			ScheduledAt:    now.Add(legDuration(leg1Dist, s.cfg.WorkerSpeed)),
			Notes:          "relay leg 2 of " + t.ID,
		},
	}

	successors, err := s.supersede(ctx, t, legs, "relayed via "+station.ID)
	if err != nil {
		return Outcome{}, err
	}
	s.metrics.RecoveryOutcome(StrategyRelay)
	return Outcome{Strategy: StrategyRelay, Successors: successors}, nil
}

// legDuration estimates travel time at speed distance units per minute.
func legDuration(distance, speed float64) time.Duration {
	if speed <= 0 {
		return 0
	}
	return time.Duration(distance / speed * float64(time.Minute))
}

// DirectRetry reassigns the same delivery to another worker after a backoff.
type DirectRetry struct{ *deps }

func (DirectRetry) Name() string { return StrategyDirectRetry }

func (s DirectRetry) Execute(ctx context.Context, r Route) (Outcome, error) {
	t := r.Task
	if t.Retry.Count >= s.cfg.MaxRetries {
		return Outcome{}, ErrRetriesExhausted
	}

	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	w, ok, err := s.store.FindAvailableWorker(ctx, r.Origin.Position, failedWorkers(t))
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		s.metrics.NoWorker()
		return Outcome{}, ErrNoWorkerAvailable
	}

	retry := transfer.Task{
		ID:             uuid.NewString(),
		LineageID:      t.LineageID,
		Origin:         t.Origin,
		Destination:    t.Destination,
		PayloadAmount:  t.PayloadAmount,
		ResourceKind:   t.ResourceKind,
		AssignedWorker: w.ID,
		Retry:          t.Retry.Next(t.AssignedWorker),
		ScheduledAt:    s.now().Add(s.backoff(t.Retry.Count)),
		Notes:          "direct retry of " + t.ID,
	}
	successors, err := s.supersede(ctx, t, []transfer.Task{retry}, "retried as "+retry.ID)
	if err != nil {
		return Outcome{}, err
	}
	s.metrics.RecoveryOutcome(StrategyDirectRetry)
	return Outcome{Strategy: StrategyDirectRetry, Successors: successors}, nil
}

func (s DirectRetry) backoff(count int) time.Duration {
	b := s.cfg.Backoff
	if len(b) == 0 {
		return 0
	}
	if count >= len(b) {
		count = len(b) - 1
	}
	if count < 0 {
		count = 0
	}
	return b[count]
}

// failedWorkers is the exclusion set for a task: its own worker plus everyone
// who already failed the lineage.
func failedWorkers(t transfer.Task) map[string]struct{} {
	out := make(map[string]struct{}, len(t.Retry.Workers)+1)
	if t.AssignedWorker != "" {
		out[t.AssignedWorker] = struct{}{}
	}
	for _, w := range t.Retry.Workers {
		out[w] = struct{}{}
	}
	return out
}
