package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

// In-memory fakes for the store interfaces, used to exercise the
// scheduler core without a database — mirroring the teacher's preference
// for hand-rolled fakes over a mocking library in its own tests.

type fakeTx struct{}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeExecStore struct {
	mu    sync.Mutex
	execs map[string]*domain.Execution
	seq   int
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{execs: make(map[string]*domain.Execution)}
}

func (f *fakeExecStore) Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == "" {
		f.seq++
		e.ID = fmt.Sprintf("exec-%d", f.seq)
	}
	now := time.Now()
	e.InsertedAt = now
	e.UpdatedAt = now
	cp := *e
	f.execs[e.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeExecStore) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExecStore) SetArchived(ctx context.Context, id string, archived bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	if archived {
		now := time.Now()
		e.ArchivedAt = &now
	} else {
		e.ArchivedAt = nil
	}
	return nil
}

func (f *fakeExecStore) Begin(ctx context.Context) (store.Tx, error) { return fakeTx{}, nil }

func (f *fakeExecStore) BumpRevision(ctx context.Context, tx store.Tx, executionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[executionID]
	if !ok {
		return 0, domain.ErrExecutionNotFound
	}
	e.Revision++
	e.UpdatedAt = time.Now()
	return e.Revision, nil
}

func (f *fakeExecStore) UpdateGraphHash(ctx context.Context, tx store.Tx, executionID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[executionID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	e.GraphHash = hash
	return nil
}

func (f *fakeExecStore) WithAdvisoryLock(ctx context.Context, key int64, fn func(store.Tx) error) error {
	return fn(fakeTx{})
}

type fakeValueStore struct {
	mu     sync.Mutex
	values map[string]map[string]domain.Value
}

func newFakeValueStore() *fakeValueStore {
	return &fakeValueStore{values: make(map[string]map[string]domain.Value)}
}

func (f *fakeValueStore) Get(ctx context.Context, executionID, nodeName string) (*domain.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.values[executionID]
	if !ok {
		return nil, domain.ErrValueNotFound
	}
	v, ok := rows[nodeName]
	if !ok {
		return nil, domain.ErrValueNotFound
	}
	cp := v
	return &cp, nil
}

func (f *fakeValueStore) Snapshot(ctx context.Context, executionID string) (map[string]domain.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]domain.Value)
	for name, v := range f.values[executionID] {
		out[name] = v
	}
	return out, nil
}

func (f *fakeValueStore) Upsert(ctx context.Context, tx store.Tx, v *domain.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.values[v.ExecutionID]
	if !ok {
		rows = make(map[string]domain.Value)
		f.values[v.ExecutionID] = rows
	}
	rows[v.NodeName] = *v
	return nil
}

func (f *fakeValueStore) MissingNodeNames(ctx context.Context, executionID string, allNames []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.values[executionID]
	var missing []string
	for _, name := range allNames {
		if _, ok := rows[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func (f *fakeValueStore) InsertMissing(ctx context.Context, tx store.Tx, executionID string, v *domain.Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.values[executionID]
	if !ok {
		rows = make(map[string]domain.Value)
		f.values[executionID] = rows
	}
	if _, exists := rows[v.NodeName]; exists {
		return nil
	}
	rows[v.NodeName] = *v
	return nil
}

func (f *fakeValueStore) AppendHistory(ctx context.Context, executionID, nodeName string, entry domain.HistoryEntry, maxEntries *int) error {
	return nil
}

func (f *fakeValueStore) History(ctx context.Context, executionID, nodeName string) ([]domain.HistoryEntry, error) {
	return nil, nil
}

type fakeComputationStore struct {
	mu   sync.Mutex
	rows map[string]*domain.Computation
	seq  int
}

func newFakeComputationStore() *fakeComputationStore {
	return &fakeComputationStore{rows: make(map[string]*domain.Computation)}
}

func (f *fakeComputationStore) nextID() string {
	f.seq++
	return fmt.Sprintf("comp-%d", f.seq)
}

func (f *fakeComputationStore) Insert(ctx context.Context, tx store.Tx, c *domain.Computation) (*domain.Computation, error) {
	return f.InsertNoTx(ctx, c)
}

func (f *fakeComputationStore) InsertNoTx(ctx context.Context, c *domain.Computation) (*domain.Computation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	cp.ID = f.nextID()
	f.rows[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeComputationStore) HasActiveAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ExecutionID == executionID && c.NodeName == nodeName && c.State.Active() && c.ExRevisionAtStart >= rev {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeComputationStore) LatestSuccess(ctx context.Context, executionID, nodeName string) (*domain.Computation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *domain.Computation
	for _, c := range f.rows {
		if c.ExecutionID != executionID || c.NodeName != nodeName || c.State != domain.ComputationSuccess {
			continue
		}
		if best == nil || c.ExRevisionAtCompletion > best.ExRevisionAtCompletion {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeComputationStore) CountFailedAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.rows {
		if c.ExecutionID == executionID && c.NodeName == nodeName && c.State == domain.ComputationFailed && c.ExRevisionAtStart >= rev {
			count++
		}
	}
	return count, nil
}

func (f *fakeComputationStore) GrabReady(ctx context.Context, executionID string, ready store.ReadyFunc) ([]*domain.Computation, error) {
	f.mu.Lock()
	var candidates []*domain.Computation
	for _, c := range f.rows {
		if c.ExecutionID == executionID && c.State == domain.ComputationNotSet {
			candidates = append(candidates, c)
		}
	}
	f.mu.Unlock()

	var grabbed []*domain.Computation
	for _, c := range candidates {
		ok, _, heartbeatTimeout, err := ready(executionID, c.NodeName)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		f.mu.Lock()
		c.State = domain.ComputationComputing
		now := time.Now()
		c.StartTime = &now
		deadline := now.Add(heartbeatTimeout)
		c.HeartbeatDeadline = &deadline
		cp := *c
		f.mu.Unlock()
		grabbed = append(grabbed, &cp)
	}
	return grabbed, nil
}

func (f *fakeComputationStore) MarkSuccess(ctx context.Context, id string, value json.RawMessage, computedWith map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return domain.ErrComputationNotFound
	}
	c.State = domain.ComputationSuccess
	c.ComputedWith = computedWith
	return nil
}

func (f *fakeComputationStore) MarkFailed(ctx context.Context, id string, errDetails string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return domain.ErrComputationNotFound
	}
	c.State = domain.ComputationFailed
	c.ErrorDetails = &errDetails
	return nil
}

func (f *fakeComputationStore) Heartbeat(ctx context.Context, id string, interval time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeComputationStore) AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Computation, error) {
	return nil, nil
}

func (f *fakeComputationStore) Get(ctx context.Context, id string) (*domain.Computation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrComputationNotFound
	}
	cp := *c
	return &cp, nil
}
