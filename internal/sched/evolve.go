package sched

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

// EvolveIfStale is the exported form of evolveIfStale, for callers
// outside package sched that need to force a schema sync immediately —
// the engine facade's StartExecution uses it to populate a freshly
// created execution's value/computation rows, by creating the row with
// an empty GraphHash so the very first evolveIfStale call always treats
// every node as missing.
func (s *Scheduler) EvolveIfStale(ctx context.Context, e *domain.Execution) (*catalog.Graph, error) {
	return s.evolveIfStale(ctx, e)
}

// evolveIfStale compares execution.GraphHash against the catalog's
// current graph hash for the execution's name and, on mismatch, upgrades
// the execution under an advisory lock before returning the graph the
// caller should evaluate against. Unchanged from spec §4.11.
func (s *Scheduler) evolveIfStale(ctx context.Context, e *domain.Execution) (*catalog.Graph, error) {
	g, err := s.graphFor(e)
	if err != nil {
		return nil, err
	}
	if e.GraphHash == g.Hash() {
		return g, nil
	}

	key := advisoryLockKey(e.ID)
	err = s.Execs.WithAdvisoryLock(ctx, key, func(tx store.Tx) error {
		fresh, err := s.Execs.GetByID(ctx, e.ID)
		if err != nil {
			return err
		}
		if fresh.GraphHash == g.Hash() {
			*e = *fresh
			return nil
		}

		missing, err := s.Values.MissingNodeNames(ctx, e.ID, g.NodeNames())
		if err != nil {
			return err
		}
		for _, name := range missing {
			node, err := nodeOrErr(g, name)
			if err != nil {
				return err
			}
			if err := s.Values.InsertMissing(ctx, tx, e.ID, &domain.Value{
				ExecutionID: e.ID,
				NodeName:    name,
				NodeType:    node.Type,
			}); err != nil {
				return err
			}
			if node.Type.Runnable() {
				if _, err := s.Comps.Insert(ctx, tx, &domain.Computation{
					ExecutionID:     e.ID,
					NodeName:        name,
					ComputationType: node.Type,
					State:           domain.ComputationNotSet,
				}); err != nil {
					return err
				}
			}
		}

		if err := s.Execs.UpdateGraphHash(ctx, tx, e.ID, g.Hash()); err != nil {
			return err
		}
		e.GraphHash = g.Hash()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evolve execution %s: %w", e.ID, err)
	}
	return g, nil
}

// advisoryLockKey hashes the execution id into the int64 key space
// pg_advisory_xact_lock expects, namespaced so it never collides with a
// lock acquired for an unrelated purpose.
func advisoryLockKey(executionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("engine:schema-evolution:"))
	_, _ = h.Write([]byte(executionID))
	return int64(h.Sum64())
}
