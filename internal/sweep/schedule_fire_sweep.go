package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowkit/journey/internal/sched"
	"github.com/flowkit/journey/internal/store"
)

// ScheduleFireSweep re-runs Advance over every execution touched since
// the watermark, catching schedule nodes whose stored moment has already
// arrived but whose downstream never got kicked — typically because the
// process that should have called reAdvance crashed mid-cycle. Grounded
// on the teacher's Dispatcher.dispatch: one repo scan, one action per
// candidate, logged in aggregate.
type ScheduleFireSweep struct {
	Runs      store.SweepRunStore
	Scheduler *sched.Scheduler
	BatchSize int
	Logger    *slog.Logger
}

func (s *ScheduleFireSweep) Type() string { return "schedule_fire" }

func (s *ScheduleFireSweep) Run(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.Runs.ExecutionsUpdatedSince(ctx, cutoff, s.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.Scheduler.Advance(ctx, id); err != nil {
			s.Logger.Error("schedule-fire advance failed", "execution_id", id, "error", err)
		}
	}

	return len(ids), nil
}
