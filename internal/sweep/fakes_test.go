package sweep

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

// In-memory fakes for the store interfaces, scoped to what the sweep
// package's own Run methods touch.

type fakeTx struct{}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeExecStore struct {
	mu    sync.Mutex
	execs map[string]*domain.Execution
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{execs: make(map[string]*domain.Execution)}
}

func (f *fakeExecStore) put(e *domain.Execution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.execs[e.ID] = &cp
}

func (f *fakeExecStore) Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error) {
	f.put(e)
	return e, nil
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

func (f *fakeExecStore) SetArchived(ctx context.Context, id string, archived bool) error { return nil }
func (f *fakeExecStore) Begin(ctx context.Context) (store.Tx, error)                     { return fakeTx{}, nil }

func (f *fakeExecStore) BumpRevision(ctx context.Context, tx store.Tx, executionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.execs[executionID]
	e.Revision++
	return e.Revision, nil
}

func (f *fakeExecStore) UpdateGraphHash(ctx context.Context, tx store.Tx, executionID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs[executionID].GraphHash = hash
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
	v, ok := f.values[executionID][nodeName]
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
	for k, v := range f.values[executionID] {
		out[k] = v
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
	return nil, nil
}

func (f *fakeValueStore) InsertMissing(ctx context.Context, tx store.Tx, executionID string, v *domain.Value) error {
	return f.Upsert(ctx, tx, v)
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

func (f *fakeComputationStore) seed(c *domain.Computation) *domain.Computation {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c.ID = fmt.Sprintf("comp-%d", f.seq)
	cp := *c
	f.rows[c.ID] = &cp
	return &cp
}

func (f *fakeComputationStore) Insert(ctx context.Context, tx store.Tx, c *domain.Computation) (*domain.Computation, error) {
	return f.InsertNoTx(ctx, c)
}

func (f *fakeComputationStore) InsertNoTx(ctx context.Context, c *domain.Computation) (*domain.Computation, error) {
	return f.seed(c), nil
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
	return nil, nil
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
	return nil, nil
}

func (f *fakeComputationStore) MarkSuccess(ctx context.Context, id string, value json.RawMessage, computedWith map[string]int64) error {
	return nil
}

func (f *fakeComputationStore) MarkFailed(ctx context.Context, id string, errDetails string) error {
	return nil
}

func (f *fakeComputationStore) Heartbeat(ctx context.Context, id string, interval time.Duration) (bool, error) {
	return true, nil
}

// AbandonStale flips every computing row whose StartTime is before cutoff
// to abandoned and returns them — standing in for the real store's
// heartbeat-deadline comparison, which this fake doesn't need to
// replicate exactly to exercise the sweep's reconciliation logic.
func (f *fakeComputationStore) AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Computation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Computation
	for _, c := range f.rows {
		if c.State != domain.ComputationComputing {
			continue
		}
		if c.StartTime == nil || !c.StartTime.Before(cutoff) {
			continue
		}
		c.State = domain.ComputationAbandoned
		cp := *c
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
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

type fakeSweepRunStore struct {
	mu        sync.Mutex
	last      map[string]*domain.SweepRun
	open      map[string]*domain.SweepRun
	seq       int
	touchedIDs []string
}

func newFakeSweepRunStore() *fakeSweepRunStore {
	return &fakeSweepRunStore{last: make(map[string]*domain.SweepRun), open: make(map[string]*domain.SweepRun)}
}

func (f *fakeSweepRunStore) LastCompleted(ctx context.Context, sweepType string) (*domain.SweepRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last[sweepType], nil
}

func (f *fakeSweepRunStore) Start(ctx context.Context, sweepType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("run-%d", f.seq)
	f.open[id] = &domain.SweepRun{ID: id, SweepType: sweepType, StartedAt: time.Now()}
	return id, nil
}

func (f *fakeSweepRunStore) Complete(ctx context.Context, id string, processed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.open[id]
	if !ok {
		return fmt.Errorf("no open run %s", id)
	}
	now := time.Now()
	run.CompletedAt = &now
	run.ExecutionsProcessed = processed
	f.last[run.SweepType] = run
	delete(f.open, id)
	return nil
}

func (f *fakeSweepRunStore) ExecutionsUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.touchedIDs, nil
}
