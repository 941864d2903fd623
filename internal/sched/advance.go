package sched

import (
	"context"
	"errors"
	"time"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/metrics"
)

// Advance is the pipeline from spec §4.5: schema-evolution check →
// recompute detector → grab ready computations under FOR UPDATE SKIP
// LOCKED → launch a detached worker per grabbed row → return the
// refreshed snapshot.
func (s *Scheduler) Advance(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	start := time.Now()
	defer func() {
		metrics.AdvanceCyclesTotal.Inc()
		metrics.AdvanceCycleDuration.Observe(time.Since(start).Seconds())
	}()

	e, err := s.Execs.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if e.Archived() {
		return s.snapshot(ctx, executionID)
	}

	g, err := s.evolveIfStale(ctx, e)
	if err != nil {
		return nil, err
	}

	if err := s.detect(ctx, e, g); err != nil {
		return nil, err
	}

	grabbed, err := s.Comps.GrabReady(ctx, executionID, s.buildReadyFunc(ctx, g))
	if err != nil {
		return nil, err
	}

	for _, c := range grabbed {
		node, err := nodeOrErr(g, c.NodeName)
		if err != nil {
			s.Logger.Error("advance: grabbed computation for undeclared node", "node", c.NodeName, "error", err)
			continue
		}
		s.launch(ctx, e, g, node, c)
	}

	return s.snapshot(ctx, executionID)
}
