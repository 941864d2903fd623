// Package sched is the scheduler core: the value setter, invalidator,
// recompute detector, advance pipeline, worker launch path, and
// heartbeat watchdog. Grounded on the teacher's internal/scheduler
// package, split the same way
// (dispatcher.go/executor.go/reaper.go/worker.go maps to
// setter.go/invalidate.go/recompute.go/advance.go/worker.go/watchdog.go
// here), generalized from an HTTP job queue to a dataflow graph.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/gating"
	"github.com/flowkit/journey/internal/store"
)

// OnSaveFunc fires after a node's computation (or, via Graph.OnSave, any
// node's) is recorded as succeeded or failed, with a nil result on
// failure — wired from catalog.NodeDef.OnSave / catalog.Graph.OnSave.
type OnSaveFunc = catalog.OnSaveFunc

// Scheduler bundles every store the scheduler core touches plus the
// catalog it reads graph definitions from.
type Scheduler struct {
	Execs   store.ExecutionStore
	Values  store.ValueStore
	Comps   store.ComputationStore
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

func New(execs store.ExecutionStore, values store.ValueStore, comps store.ComputationStore, cat *catalog.Catalog, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Execs:   execs,
		Values:  values,
		Comps:   comps,
		Catalog: cat,
		Logger:  logger.With("component", "sched"),
	}
}

// graphFor resolves the graph definition an execution's values should be
// evaluated against — always the catalog's current graph for the
// execution's name, per spec §4.11 (schema evolution always targets the
// newest registered graph).
func (s *Scheduler) graphFor(e *domain.Execution) (*catalog.Graph, error) {
	return s.Catalog.Current(e.GraphName)
}

// nodeOrErr wraps Graph.Node's (NodeDef, bool) result with a domain error
// so callers can propagate a normal Go error chain.
func nodeOrErr(g *catalog.Graph, name string) (catalog.NodeDef, error) {
	n, ok := g.Node(name)
	if !ok {
		return catalog.NodeDef{}, fmt.Errorf("%w: %s", domain.ErrNodeNotFound, name)
	}
	return n, nil
}

// readiness evaluates one node's gating expression against a snapshot,
// returning the witness map the grabber and recompute detector both need.
func readiness(g *catalog.Graph, nodeName string, snapshot map[string]domain.Value) (bool, map[string]domain.ValueNode, error) {
	node, err := nodeOrErr(g, nodeName)
	if err != nil {
		return false, nil, err
	}
	if node.Gate == nil {
		return true, nil, nil
	}

	result, err := gating.Evaluate(node.Gate, snapshot)
	if err != nil {
		return false, nil, fmt.Errorf("evaluate gate for %q: %w", nodeName, err)
	}

	witness := make(map[string]domain.ValueNode, len(result.ConditionsMet))
	for _, m := range result.ConditionsMet {
		witness[m.Name] = m.Row.AsValueNode()
	}
	return result.Ready, witness, nil
}

// buildReadyFunc adapts readiness to store.ReadyFunc, reloading a fresh
// snapshot for each candidate — GrabReady runs under its own transaction
// so the snapshot it evaluates against must be read live, not cached.
// Also resolves the candidate's declared heartbeat timeout so the store
// can stamp heartbeat_deadline from the node's own config rather than a
// fixed constant.
func (s *Scheduler) buildReadyFunc(ctx context.Context, g *catalog.Graph) store.ReadyFunc {
	return func(executionID, nodeName string) (bool, map[string]domain.ValueNode, time.Duration, error) {
		node, err := nodeOrErr(g, nodeName)
		if err != nil {
			return false, nil, 0, err
		}
		snapshot, err := s.Values.Snapshot(ctx, executionID)
		if err != nil {
			return false, nil, 0, fmt.Errorf("snapshot for readiness: %w", err)
		}
		ready, witness, err := readiness(g, nodeName, snapshot)
		return ready, witness, node.HeartbeatTimeout(), err
	}
}
