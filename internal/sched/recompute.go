package sched

import (
	"context"

	"github.com/flowkit/journey/internal/catalog"
	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/gating"
)

// detect inserts a fresh not_set computation row for every derived node
// whose upstream revisions have advanced past what's already covered by
// an active or the latest successful computation. Grounded on spec §4.4.
func (s *Scheduler) detect(ctx context.Context, e *domain.Execution, g *catalog.Graph) error {
	snapshot, err := s.Values.Snapshot(ctx, e.ID)
	if err != nil {
		return err
	}

	for _, name := range g.NodeNames() {
		node, err := nodeOrErr(g, name)
		if err != nil {
			return err
		}
		if !node.Type.Runnable() {
			continue
		}

		maxUpstreamRev := maxUpstreamRevision(node, snapshot)

		active, err := s.Comps.HasActiveAtOrAbove(ctx, e.ID, name, maxUpstreamRev)
		if err != nil {
			return err
		}
		if active {
			continue
		}

		latest, err := s.Comps.LatestSuccess(ctx, e.ID, name)
		if err != nil {
			return err
		}
		if latest != nil && computedWithMatches(latest.ComputedWith, node, snapshot) {
			continue
		}

		if _, err := s.Comps.InsertNoTx(ctx, &domain.Computation{
			ExecutionID:       e.ID,
			NodeName:          name,
			ComputationType:   node.Type,
			State:             domain.ComputationNotSet,
			ExRevisionAtStart: maxUpstreamRev,
		}); err != nil {
			return err
		}
	}
	return nil
}

// maxUpstreamRevision is the maximum ex_revision among every leaf
// reachable from node's gate, including names inside :not/:or — exactly
// what spec §4.4 scopes current-cycle retry accounting against.
func maxUpstreamRevision(node catalog.NodeDef, snapshot map[string]domain.Value) int64 {
	if node.Gate == nil {
		return 0
	}
	var max int64
	for _, name := range gating.LeafNames(node.Gate) {
		if row, ok := snapshot[name]; ok && row.ExRevision > max {
			max = row.ExRevision
		}
	}
	return max
}

// computedWithMatches reports whether the latest success was computed
// against exactly the current revision snapshot of every leaf the node's
// gate references — if so, nothing has changed and no recompute is due.
func computedWithMatches(computedWith map[string]int64, node catalog.NodeDef, snapshot map[string]domain.Value) bool {
	if node.Gate == nil {
		return true
	}
	for _, name := range gating.LeafNames(node.Gate) {
		row, ok := snapshot[name]
		if !ok {
			continue
		}
		if computedWith[name] != row.ExRevision {
			return false
		}
	}
	return true
}
