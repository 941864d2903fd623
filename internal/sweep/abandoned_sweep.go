package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/flowkit/journey/internal/metrics"
	"github.com/flowkit/journey/internal/sched"
	"github.com/flowkit/journey/internal/store"
)

// AbandonedSweep finds computing rows whose heartbeat deadline has
// already passed, flips them to abandoned, and requeues them per retry
// policy. Grounded on the teacher's Reaper.reap, which does the same two
// steps (RescheduleStale, FailStale) as one repository call each; here
// both steps live behind AbandonStale + ReconcileAbandoned since the
// grab/retry decision needs the catalog, which the store layer doesn't
// have access to.
type AbandonedSweep struct {
	Comps      store.ComputationStore
	Reconciler *sched.Scheduler
	BatchSize  int
	Logger     *slog.Logger
}

func (a *AbandonedSweep) Type() string { return "abandoned" }

func (a *AbandonedSweep) Run(ctx context.Context, cutoff time.Time) (int, error) {
	abandoned, err := a.Comps.AbandonStale(ctx, cutoff, a.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, c := range abandoned {
		retried, err := a.Reconciler.ReconcileAbandoned(ctx, c)
		if err != nil {
			a.Logger.Error("reconcile abandoned computation", "computation_id", c.ID, "error", err)
			continue
		}
		action := "exhausted"
		if retried {
			action = "retried"
		}
		metrics.AbandonedComputationsTotal.WithLabelValues(action).Inc()
	}

	return len(abandoned), nil
}
