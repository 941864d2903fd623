// Package engine is the public facade over the scheduler core: the one
// import an embedding application needs. Grounded on the teacher's
// internal/usecase package being the "one exported type per capability,
// concrete methods, interfaces injected via constructor" shape used
// throughout internal/usecase/job.go and internal/usecase/schedule.go —
// generalized from a job-queue usecase to a dataflow-graph usecase.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/sched"
	"github.com/flowkit/journey/internal/store"
)

// Engine bundles the scheduler core behind the operations spec.md §6
// names as the library's external interface.
type Engine struct {
	sched *sched.Scheduler
}

// New wires an Engine from the three store interfaces, a populated
// catalog, and a logger — the same dependency set sched.New takes,
// since the facade does nothing sched.Scheduler doesn't already do.
func New(execs store.ExecutionStore, values store.ValueStore, comps store.ComputationStore, cat *catalog.Catalog, logger *slog.Logger) *Engine {
	return &Engine{sched: sched.New(execs, values, comps, cat, logger)}
}

// StartExecution creates a new execution of the named graph's latest (or
// explicitly pinned) version and populates its initial value/computation
// rows via the same path schema evolution uses, since a brand-new
// execution's row set is just the degenerate case of "every node is
// missing."
func (e *Engine) StartExecution(ctx context.Context, graphName string, version int) (*domain.ExecutionSnapshot, error) {
	var (
		g   *catalog.Graph
		err error
	)
	if version > 0 {
		g, err = e.sched.Catalog.Get(graphName, version)
	} else {
		g, err = e.sched.Catalog.Current(graphName)
	}
	if err != nil {
		return nil, err
	}

	id := newExecutionID(g.ExecutionIDPrefix)
	created, err := e.sched.Execs.Create(ctx, &domain.Execution{
		ID:           id,
		GraphName:    g.Name,
		GraphVersion: g.Version,
		GraphHash:    "",
		Revision:     0,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	if _, err := e.sched.EvolveIfStale(ctx, created); err != nil {
		return nil, fmt.Errorf("populate execution %s: %w", id, err)
	}

	return e.Load(ctx, id)
}

func newExecutionID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Set writes one input slot and advances.
func (e *Engine) Set(ctx context.Context, executionID, nodeName string, value any, metadata map[string]any) (*domain.ExecutionSnapshot, error) {
	return e.sched.Set(ctx, executionID, nodeName, value, metadata)
}

// SetMany writes several input slots in one transaction, sharing
// metadata across all of them — spec.md §6's bulk-set entry point.
func (e *Engine) SetMany(ctx context.Context, executionID string, values map[string]any, metadata map[string]any) (*domain.ExecutionSnapshot, error) {
	inputs := make(map[string]domain.InputValue, len(values))
	for name, v := range values {
		inputs[name] = domain.InputValue{Value: v, Metadata: metadata}
	}
	return e.sched.SetMany(ctx, executionID, inputs)
}

// Unset clears one or more input slots.
func (e *Engine) Unset(ctx context.Context, executionID string, nodeNames ...string) (*domain.ExecutionSnapshot, error) {
	return e.sched.UnsetMany(ctx, executionID, nodeNames)
}

// Load returns a full snapshot of an execution's current state.
func (e *Engine) Load(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	exec, err := e.sched.Execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	values, err := e.sched.Values.Snapshot(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &domain.ExecutionSnapshot{Execution: exec, Values: values}, nil
}

// History returns the recorded entries for a historian node.
func (e *Engine) History(ctx context.Context, executionID, nodeName string) ([]domain.HistoryEntry, error) {
	return e.sched.Values.History(ctx, executionID, nodeName)
}

// Archive marks an execution archived; Advance becomes a read-only
// snapshot refresh for it thereafter (spec.md §4.1).
func (e *Engine) Archive(ctx context.Context, executionID string) error {
	return e.sched.Execs.SetArchived(ctx, executionID, true)
}

// Unarchive reverses Archive, letting the execution resume advancing.
func (e *Engine) Unarchive(ctx context.Context, executionID string) error {
	return e.sched.Execs.SetArchived(ctx, executionID, false)
}

// Advance runs one pipeline pass (schema-evolution check, recompute
// detect, grab-ready, launch) and returns the refreshed snapshot.
func (e *Engine) Advance(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	return e.sched.Advance(ctx, executionID)
}
