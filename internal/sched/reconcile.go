package sched

import (
	"context"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/metrics"
)

// ReconcileAbandoned applies the retry policy to a computation the
// abandoned sweep (internal/sweep) just flipped from computing to
// abandoned. Mirrors handleFailure's retry-insert half exactly — spec
// §4.8 treats an abandoned row as another worker.handleFailure outcome,
// just one the watchdog or abandoned sweep observed instead of the
// worker goroutine itself. Retry counting stays scoped to failed rows
// only (spec §3's "Retry counter is derived by counting failed rows"),
// so abandonment alone never exhausts the retry budget.
func (s *Scheduler) ReconcileAbandoned(ctx context.Context, c *domain.Computation) (retried bool, err error) {
	e, err := s.Execs.GetByID(ctx, c.ExecutionID)
	if err != nil {
		return false, err
	}
	g, err := s.graphFor(e)
	if err != nil {
		return false, err
	}
	node, err := nodeOrErr(g, c.NodeName)
	if err != nil {
		return false, err
	}

	metrics.ComputationsCompletedTotal.WithLabelValues(node.Name, "abandoned").Inc()

	failedCount, err := s.Comps.CountFailedAtOrAbove(ctx, e.ID, node.Name, c.ExRevisionAtStart)
	if err != nil {
		return false, err
	}
	if !shouldRetry(node.MaxRetries, failedCount) {
		s.Logger.Info("abandoned computation exhausted retries", "execution_id", e.ID, "node", node.Name)
		return false, nil
	}

	if _, err := s.Comps.InsertNoTx(ctx, &domain.Computation{
		ExecutionID:       e.ID,
		NodeName:          node.Name,
		ComputationType:   node.Type,
		State:             domain.ComputationNotSet,
		ExRevisionAtStart: c.ExRevisionAtStart,
	}); err != nil {
		return false, err
	}
	return true, nil
}
