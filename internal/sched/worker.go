package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/metrics"
	"github.com/flowkit/journey/internal/runid"
)

// launch starts a detached goroutine that runs one grabbed computation
// to completion. Grounded on the teacher's Worker.runJob: independent of
// the caller's lifetime, heartbeating in the background while the user
// function runs.
func (s *Scheduler) launch(_ context.Context, e *domain.Execution, g *catalog.Graph, node catalog.NodeDef, c *domain.Computation) {
	ctx := runid.WithRunID(context.Background(), runid.New())
	logger := s.Logger.With("run_id", runid.FromContext(ctx), "execution_id", e.ID, "node", node.Name)

	metrics.ComputationsInFlight.Inc()
	go func() {
		defer metrics.ComputationsInFlight.Dec()

		watchdogCtx, cancelWatchdog := context.WithCancel(ctx)
		defer cancelWatchdog()
		go s.watchdog(watchdogCtx, c, node, logger)

		start := time.Now()
		result, err := s.invoke(ctx, e, node, c)
		metrics.ComputationDuration.WithLabelValues(node.Name).Observe(time.Since(start).Seconds())
		cancelWatchdog()

		if err != nil {
			s.handleFailure(ctx, e, g, node, c, err, logger)
			return
		}
		s.handleSuccess(ctx, e, g, node, c, result, logger)
	}()
}

// invoke calls the user function, recovering a panic into
// domain.ErrUserFunctionException the same way the teacher's executor
// treats transport failures as retryable rather than crashing the worker
// goroutine.
func (s *Scheduler) invoke(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", domain.ErrUserFunctionException, r, debug.Stack())
		}
	}()

	if node.Compute == nil {
		return nil, nil
	}

	snapshot, err := s.Values.Snapshot(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	values := make(map[string]any, len(snapshot))
	for name, v := range snapshot {
		if !v.Provided() {
			continue
		}
		values[name] = v.NodeValue
	}

	nodes := make(map[string]domain.ValueNode, len(c.ComputedWith))
	for name, rev := range c.ComputedWith {
		if row, ok := snapshot[name]; ok {
			vn := row.AsValueNode()
			vn.Revision = rev
			nodes[name] = vn
		}
	}

	return node.Compute(values, nodes)
}

func (s *Scheduler) handleSuccess(ctx context.Context, e *domain.Execution, g *catalog.Graph, node catalog.NodeDef, c *domain.Computation, result any, logger *slog.Logger) {
	if err := domain.ValidateShape(result); err != nil {
		s.handleFailure(ctx, e, g, node, c, err, logger)
		return
	}

	var applyErr error
	var changed []string
	switch node.Type {
	case domain.NodeTypeMutate:
		applyErr = s.applyMutate(ctx, e, node, c, result)
		if applyErr == nil && node.UpdateRevision {
			changed = []string{node.Mutates}
		}
	case domain.NodeTypeScheduleOnce:
		applyErr = s.applyScheduleOnce(ctx, e, node, c, result)
	case domain.NodeTypeScheduleRecurring:
		applyErr = s.applyScheduleRecurring(ctx, e, node, c, result)
	case domain.NodeTypeHistorian:
		applyErr = s.applyHistorian(ctx, e, node, c)
	case domain.NodeTypeArchive:
		applyErr = s.applyArchive(ctx, e, c)
	default:
		applyErr = s.applyCompute(ctx, e, node, c, result)
		if applyErr == nil {
			changed = []string{node.Name}
		}
	}

	if applyErr != nil {
		logger.Error("apply success failed", "error", applyErr)
		_ = s.Comps.MarkFailed(ctx, c.ID, applyErr.Error())
		metrics.ComputationsCompletedTotal.WithLabelValues(node.Name, "failed").Inc()
		s.fireOnSave(g, node, e.ID, nil)
		s.reAdvance(ctx, e.ID, logger)
		return
	}

	encoded, _ := json.Marshal(result)
	if err := s.Comps.MarkSuccess(ctx, c.ID, encoded, c.ComputedWith); err != nil {
		logger.Error("mark success failed", "error", err)
	}
	metrics.ComputationsCompletedTotal.WithLabelValues(node.Name, "success").Inc()

	// Re-check invalidation for whatever this computation just wrote
	// (spec §4.6): a downstream node gated on the new value may no
	// longer be satisfied and must be cleared before the next advance.
	if len(changed) > 0 {
		if err := s.invalidate(ctx, e, g, changed); err != nil {
			logger.Error("post-success invalidate failed", "error", err)
		}
	}

	s.fireOnSave(g, node, e.ID, result)
	s.reAdvance(ctx, e.ID, logger)
}

func (s *Scheduler) applyCompute(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation, result any) error {
	return s.writeDerived(ctx, e, node.Name, node.Type, result)
}

// applyMutate writes the mutated target slot and records a fixed marker
// on the mutate node's own slot, per spec §4.6's table. update_revision
// controls whether the mutation bumps the execution revision and
// propagates like a normal value change.
func (s *Scheduler) applyMutate(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation, result any) error {
	tx, err := s.Execs.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rev := e.Revision
	if node.UpdateRevision {
		rev, err = s.Execs.BumpRevision(ctx, tx, e.ID)
		if err != nil {
			return err
		}
	}

	now := time.Now()
	if err := s.Values.Upsert(ctx, tx, &domain.Value{
		ExecutionID: e.ID,
		NodeName:    node.Mutates,
		NodeType:    domain.NodeTypeInput,
		NodeValue:   result,
		SetTime:     &now,
		ExRevision:  rev,
	}); err != nil {
		return err
	}

	if err := s.Values.Upsert(ctx, tx, &domain.Value{
		ExecutionID: e.ID,
		NodeName:    node.Name,
		NodeType:    domain.NodeTypeMutate,
		NodeValue:   fmt.Sprintf("updated :%s", node.Mutates),
		SetTime:     &now,
		ExRevision:  rev,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// applyScheduleOnce stores the fired moment; 0 is a skipped tick, stored
// verbatim but never treated as an invalidation signal (spec §4.3/§4.6).
func (s *Scheduler) applyScheduleOnce(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation, result any) error {
	return s.writeDerived(ctx, e, node.Name, node.Type, result)
}

// applyScheduleRecurring behaves like applyScheduleOnce for the fired
// value, then enqueues a fresh not_set computation so the next moment can
// be produced — the schedule node never runs dry.
func (s *Scheduler) applyScheduleRecurring(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation, result any) error {
	if err := s.writeDerived(ctx, e, node.Name, node.Type, result); err != nil {
		return err
	}
	_, err := s.Comps.InsertNoTx(ctx, &domain.Computation{
		ExecutionID:     e.ID,
		NodeName:        node.Name,
		ComputationType: node.Type,
		State:           domain.ComputationNotSet,
	})
	return err
}

// applyHistorian has no user function of its own (catalog.Historian's
// Compute stub always returns nil) — it records one entry per upstream
// leaf that satisfied its gate this cycle, verbatim, schema-agnostic.
func (s *Scheduler) applyHistorian(ctx context.Context, e *domain.Execution, node catalog.NodeDef, c *domain.Computation) error {
	snapshot, err := s.Values.Snapshot(ctx, e.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	for upstreamName := range c.ComputedWith {
		row, ok := snapshot[upstreamName]
		if !ok {
			continue
		}
		entry := domain.HistoryEntry{
			Node:      upstreamName,
			Value:     row.NodeValue,
			Timestamp: now,
			Revision:  row.ExRevision,
			Metadata:  row.Metadata,
		}
		if err := s.Values.AppendHistory(ctx, e.ID, node.Name, entry, node.MaxEntries); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) applyArchive(ctx context.Context, e *domain.Execution, c *domain.Computation) error {
	return s.Execs.SetArchived(ctx, e.ID, true)
}

func (s *Scheduler) writeDerived(ctx context.Context, e *domain.Execution, name string, nodeType domain.NodeType, value any) error {
	tx, err := s.Execs.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rev, err := s.Execs.BumpRevision(ctx, tx, e.ID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := s.Values.Upsert(ctx, tx, &domain.Value{
		ExecutionID: e.ID,
		NodeName:    name,
		NodeType:    nodeType,
		NodeValue:   value,
		SetTime:     &now,
		ExRevision:  rev,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *Scheduler) handleFailure(ctx context.Context, e *domain.Execution, g *catalog.Graph, node catalog.NodeDef, c *domain.Computation, cause error, logger *slog.Logger) {
	logger.Info("computation failed", "error", cause)
	if err := s.Comps.MarkFailed(ctx, c.ID, cause.Error()); err != nil {
		logger.Error("mark failed failed", "error", err)
	}
	metrics.ComputationsCompletedTotal.WithLabelValues(node.Name, "failed").Inc()

	failedCount, err := s.Comps.CountFailedAtOrAbove(ctx, e.ID, node.Name, c.ExRevisionAtStart)
	if err != nil {
		logger.Error("count failed computations", "error", err)
		return
	}

	if shouldRetry(node.MaxRetries, failedCount) {
		time.Sleep(retryDelay(failedCount))
		if _, err := s.Comps.InsertNoTx(ctx, &domain.Computation{
			ExecutionID:       e.ID,
			NodeName:          node.Name,
			ComputationType:   node.Type,
			State:             domain.ComputationNotSet,
			ExRevisionAtStart: c.ExRevisionAtStart,
		}); err != nil {
			logger.Error("insert retry computation", "error", err)
		}
	} else {
		logger.Info("computation permanently failed", "max_retries", node.MaxRetries)
	}

	s.fireOnSave(g, node, e.ID, nil)
	s.reAdvance(ctx, e.ID, logger)
}

func (s *Scheduler) fireOnSave(g *catalog.Graph, node catalog.NodeDef, executionID string, result any) {
	if node.OnSave != nil {
		go func() {
			defer func() { _ = recover() }()
			node.OnSave(executionID, node.Name, result)
		}()
	}
	if g.OnSave != nil {
		go func() {
			defer func() { _ = recover() }()
			g.OnSave(executionID, node.Name, result)
		}()
	}
}

func (s *Scheduler) reAdvance(ctx context.Context, executionID string, logger *slog.Logger) {
	if _, err := s.Advance(context.WithoutCancel(ctx), executionID); err != nil {
		logger.Error("re-advance failed", "error", err)
	}
}
