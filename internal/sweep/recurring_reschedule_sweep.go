package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/sched"
	"github.com/flowkit/journey/internal/store"
)

// RecurringRescheduleSweep ensures every fired schedule_recurring node
// still has a pending not_set computation to produce its next moment —
// the steady-state path already re-enqueues this in
// applyScheduleRecurring, but a worker that dies between writing the
// fired value and that insert would otherwise leave the timer dry
// forever. Grounded on
// spec §4.10's third sweep type; no direct teacher analogue (the job
// scheduler's recurring schedules live entirely in ScheduleRepository,
// not as graph nodes), so this reuses the catalog/store shape the rest
// of internal/sched already established.
type RecurringRescheduleSweep struct {
	Runs      store.SweepRunStore
	Scheduler *sched.Scheduler
	BatchSize int
	Logger    *slog.Logger
}

func (r *RecurringRescheduleSweep) Type() string { return "recurring_reschedule" }

func (r *RecurringRescheduleSweep) Run(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := r.Runs.ExecutionsUpdatedSince(ctx, cutoff, r.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, id := range ids {
		touched, err := r.reschedule(ctx, id)
		if err != nil {
			r.Logger.Error("recurring reschedule failed", "execution_id", id, "error", err)
			continue
		}
		if touched {
			processed++
		}
	}

	return processed, nil
}

func (r *RecurringRescheduleSweep) reschedule(ctx context.Context, executionID string) (bool, error) {
	e, err := r.Scheduler.Execs.GetByID(ctx, executionID)
	if err != nil {
		return false, err
	}
	g, err := r.Scheduler.Catalog.Current(e.GraphName)
	if err != nil {
		return false, err
	}

	snapshot, err := r.Scheduler.Values.Snapshot(ctx, executionID)
	if err != nil {
		return false, err
	}

	touched := false
	for _, node := range g.Nodes() {
		if node.Type != domain.NodeTypeScheduleRecurring {
			continue
		}

		v, ok := snapshot[node.Name]
		if !ok || !v.Provided() {
			continue
		}

		active, err := r.Scheduler.Comps.HasActiveAtOrAbove(ctx, executionID, node.Name, 0)
		if err != nil {
			return touched, err
		}
		if active {
			continue
		}

		if _, err := r.Scheduler.Comps.InsertNoTx(ctx, &domain.Computation{
			ExecutionID:     executionID,
			NodeName:        node.Name,
			ComputationType: node.Type,
			State:           domain.ComputationNotSet,
		}); err != nil {
			return touched, err
		}
		touched = true
	}

	return touched, nil
}
