package sched

import (
	"context"
	"time"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
)

// invalidate walks the dependency graph backward from changed, clearing
// any set downstream slot whose gate now evaluates to false, and treats
// each clearing as another change — iterating to a fixed point. Grounded
// on spec §4.3; timer node types are exempt (a schedule tick returning 0
// is not an invalidation signal).
func (s *Scheduler) invalidate(ctx context.Context, e *domain.Execution, g *catalog.Graph, changed []string) error {
	frontier := changed
	for len(frontier) > 0 {
		snapshot, err := s.Values.Snapshot(ctx, e.ID)
		if err != nil {
			return err
		}

		candidates := make(map[string]bool)
		for _, name := range frontier {
			for _, dep := range g.Dependents(name) {
				candidates[dep] = true
			}
		}
		if len(candidates) == 0 {
			break
		}

		var cleared []string
		for name := range candidates {
			node, err := nodeOrErr(g, name)
			if err != nil {
				return err
			}
			if node.Type.Timer() {
				continue
			}
			row, ok := snapshot[name]
			if !ok || !row.Provided() {
				continue
			}

			ready, _, err := readiness(g, name, snapshot)
			if err != nil {
				return err
			}
			if ready {
				continue
			}

			if err := s.clearSlot(ctx, e, name); err != nil {
				return err
			}
			cleared = append(cleared, name)
		}

		frontier = cleared
	}
	return nil
}

func (s *Scheduler) clearSlot(ctx context.Context, e *domain.Execution, nodeName string) error {
	tx, err := s.Execs.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rev, err := s.Execs.BumpRevision(ctx, tx, e.ID)
	if err != nil {
		return err
	}

	if err := s.Values.Upsert(ctx, tx, &domain.Value{
		ExecutionID: e.ID,
		NodeName:    nodeName,
		NodeType:    domain.NodeTypeCompute,
		ExRevision:  rev,
	}); err != nil {
		return err
	}

	now := time.Now()
	if err := s.Values.Upsert(ctx, tx, &domain.Value{
		ExecutionID: e.ID,
		NodeName:    domain.NodeLastUpdatedAt,
		NodeType:    domain.NodeTypeInput,
		NodeValue:   now.Unix(),
		SetTime:     &now,
		ExRevision:  rev,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
