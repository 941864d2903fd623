package sched

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/flowkit/journey/internal/domain"
)

// Set writes one input slot, then invalidates and advances. Grounded on
// the teacher's ScheduleRepository.ClaimAndFire's single-transaction,
// multi-step shape: bump revision, write rows, re-stamp the
// last-updated-at slot, commit, then run side effects outside the
// transaction.
func (s *Scheduler) Set(ctx context.Context, executionID, nodeName string, value any, metadata map[string]any) (*domain.ExecutionSnapshot, error) {
	return s.SetMany(ctx, executionID, map[string]domain.InputValue{nodeName: {Value: value, Metadata: metadata}})
}

// Unset clears one input slot; a no-op if it was already unset.
func (s *Scheduler) Unset(ctx context.Context, executionID, nodeName string) (*domain.ExecutionSnapshot, error) {
	return s.unsetMany(ctx, executionID, []string{nodeName})
}

// UnsetMany clears several input slots in one transaction, a no-op for
// any that are already unset.
func (s *Scheduler) UnsetMany(ctx context.Context, executionID string, nodeNames []string) (*domain.ExecutionSnapshot, error) {
	return s.unsetMany(ctx, executionID, nodeNames)
}

func (s *Scheduler) SetMany(ctx context.Context, executionID string, inputs map[string]domain.InputValue) (*domain.ExecutionSnapshot, error) {
	e, err := s.Execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	g, err := s.evolveIfStale(ctx, e)
	if err != nil {
		return nil, err
	}

	for name := range inputs {
		node, err := nodeOrErr(g, name)
		if err != nil {
			return nil, err
		}
		if node.Type != domain.NodeTypeInput {
			return nil, fmt.Errorf("%w: %q is not an input node (valid inputs: %v)", domain.ErrInvalidInputNode, name, g.InputNames())
		}
	}
	for _, in := range inputs {
		if err := domain.ValidateShape(in.Value); err != nil {
			return nil, err
		}
		if err := domain.ValidateShape(in.Metadata); err != nil {
			return nil, err
		}
	}

	changed, err := s.writeValues(ctx, e, inputs)
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		if err := s.invalidate(ctx, e, g, changed); err != nil {
			return nil, err
		}
		if _, err := s.Advance(ctx, executionID); err != nil {
			return nil, err
		}
	}

	return s.snapshot(ctx, executionID)
}

// writeValues performs step 2 of spec §4.2 in one transaction: bump
// revision, filter no-op writes, write the remaining rows, re-stamp
// :last_updated_at. Returns the names actually changed.
func (s *Scheduler) writeValues(ctx context.Context, e *domain.Execution, inputs map[string]domain.InputValue) ([]string, error) {
	current, err := s.Values.Snapshot(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	toWrite := make(map[string]domain.InputValue)
	for name, in := range inputs {
		existing, ok := current[name]
		if ok && existing.Provided() && reflect.DeepEqual(existing.NodeValue, in.Value) && reflect.DeepEqual(existing.Metadata, in.Metadata) {
			continue
		}
		toWrite[name] = in
	}
	if len(toWrite) == 0 {
		return nil, nil
	}

	tx, err := s.Execs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rev, err := s.Execs.BumpRevision(ctx, tx, e.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var changed []string
	for name, in := range toWrite {
		nodeType := domain.NodeTypeInput
		if existing, ok := current[name]; ok {
			nodeType = existing.NodeType
		}
		v := &domain.Value{
			ExecutionID: e.ID,
			NodeName:    name,
			NodeType:    nodeType,
			NodeValue:   in.Value,
			Metadata:    in.Metadata,
			SetTime:     &now,
			ExRevision:  rev,
		}
		if err := s.Values.Upsert(ctx, tx, v); err != nil {
			return nil, err
		}
		changed = append(changed, name)
	}

	lastUpdated := &domain.Value{
		ExecutionID: e.ID,
		NodeName:    domain.NodeLastUpdatedAt,
		NodeType:    domain.NodeTypeInput,
		NodeValue:   now.Unix(),
		SetTime:     &now,
		ExRevision:  rev,
	}
	if err := s.Values.Upsert(ctx, tx, lastUpdated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set: %w", err)
	}
	return changed, nil
}

func (s *Scheduler) unsetMany(ctx context.Context, executionID string, names []string) (*domain.ExecutionSnapshot, error) {
	e, err := s.Execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	g, err := s.evolveIfStale(ctx, e)
	if err != nil {
		return nil, err
	}

	current, err := s.Values.Snapshot(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	var toClear []string
	for _, name := range names {
		node, err := nodeOrErr(g, name)
		if err != nil {
			return nil, err
		}
		if node.Type != domain.NodeTypeInput {
			return nil, fmt.Errorf("%w: %q is not an input node (valid inputs: %v)", domain.ErrInvalidInputNode, name, g.InputNames())
		}
		if existing, ok := current[name]; ok && existing.Provided() {
			toClear = append(toClear, name)
		}
	}
	if len(toClear) == 0 {
		return s.snapshot(ctx, executionID)
	}

	tx, err := s.Execs.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rev, err := s.Execs.BumpRevision(ctx, tx, e.ID)
	if err != nil {
		return nil, err
	}

	for _, name := range toClear {
		v := &domain.Value{
			ExecutionID: e.ID,
			NodeName:    name,
			NodeType:    domain.NodeTypeInput,
			ExRevision:  rev,
		}
		if err := s.Values.Upsert(ctx, tx, v); err != nil {
			return nil, err
		}
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
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit unset: %w", err)
	}

	if err := s.invalidate(ctx, e, g, toClear); err != nil {
		return nil, err
	}
	if _, err := s.Advance(ctx, executionID); err != nil {
		return nil, err
	}
	return s.snapshot(ctx, executionID)
}

func (s *Scheduler) snapshot(ctx context.Context, executionID string) (*domain.ExecutionSnapshot, error) {
	e, err := s.Execs.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	values, err := s.Values.Snapshot(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &domain.ExecutionSnapshot{Execution: e, Values: values}, nil
}
