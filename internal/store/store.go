// Package store declares the persistence interfaces the scheduler depends
// on, mirroring the teacher's internal/repository split: the engine talks
// to interfaces here, never to the concrete postgres implementation, so a
// test can swap in a fake without touching engine/internal/sched code.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowkit/journey/internal/domain"
)

// Tx is an open transaction handle. Concrete stores accept it so callers
// can compose several writes (bump revision, write rows, re-stamp
// last_updated_at) into one commit, the same shape as the teacher's
// ScheduleRepository.ClaimAndFire.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReadyFunc evaluates whether a candidate computation's node is ready to
// run given the current value snapshot for its execution; returns the
// matched-leaf witness alongside the verdict, plus the node's configured
// heartbeat timeout so GrabReady can stamp an accurate initial
// heartbeat_deadline instead of a guessed constant (spec §4.5 step 4).
type ReadyFunc func(executionID, nodeName string) (ready bool, witness map[string]domain.ValueNode, heartbeatTimeout time.Duration, err error)

type ExecutionStore interface {
	Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error)
	GetByID(ctx context.Context, id string) (*domain.Execution, error)
	SetArchived(ctx context.Context, id string, archived bool) error

	Begin(ctx context.Context) (Tx, error)
	// BumpRevision increments and returns the execution's new revision,
	// inside tx, stamping updated_at — the sole source of ordering truth
	// (spec §3/§5).
	BumpRevision(ctx context.Context, tx Tx, executionID string) (int64, error)
	UpdateGraphHash(ctx context.Context, tx Tx, executionID, hash string) error

	// WithAdvisoryLock runs fn with a transaction-scoped
	// pg_advisory_xact_lock held on key, serializing concurrent schema
	// evolutions or singleton-execution creation for the same key.
	WithAdvisoryLock(ctx context.Context, key int64, fn func(Tx) error) error
}

type ValueStore interface {
	Get(ctx context.Context, executionID, nodeName string) (*domain.Value, error)
	Snapshot(ctx context.Context, executionID string) (map[string]domain.Value, error)
	// Upsert writes node_value/metadata/set_time/ex_revision for one slot
	// inside tx, creating the row if it doesn't exist yet.
	Upsert(ctx context.Context, tx Tx, v *domain.Value) error
	MissingNodeNames(ctx context.Context, executionID string, allNames []string) ([]string, error)
	// InsertMissing adds a never-before-seen slot at ex_revision 0,
	// unset — used only by schema evolution (§4.11).
	InsertMissing(ctx context.Context, tx Tx, executionID string, v *domain.Value) error
	AppendHistory(ctx context.Context, executionID, nodeName string, entry domain.HistoryEntry, maxEntries *int) error
	History(ctx context.Context, executionID, nodeName string) ([]domain.HistoryEntry, error)
}

type ComputationStore interface {
	Insert(ctx context.Context, tx Tx, c *domain.Computation) (*domain.Computation, error)
	InsertNoTx(ctx context.Context, c *domain.Computation) (*domain.Computation, error)
	HasActiveAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (bool, error)
	LatestSuccess(ctx context.Context, executionID, nodeName string) (*domain.Computation, error)
	CountFailedAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (int, error)

	// GrabReady opens its own transaction, selects not_set/runnable rows
	// with SELECT ... FOR UPDATE SKIP LOCKED, evaluates readiness via
	// ready, promotes every ready row to computing, and commits.
	GrabReady(ctx context.Context, executionID string, ready ReadyFunc) ([]*domain.Computation, error)

	MarkSuccess(ctx context.Context, id string, value json.RawMessage, computedWith map[string]int64) error
	MarkFailed(ctx context.Context, id string, errDetails string) error
	// Heartbeat extends heartbeat_deadline after comparing the current
	// time with the stored deadline; ok is false if the deadline had
	// already passed (the watchdog then stops heartbeating).
	Heartbeat(ctx context.Context, id string, interval time.Duration) (ok bool, err error)
	AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Computation, error)

	Get(ctx context.Context, id string) (*domain.Computation, error)
}

type SweepRunStore interface {
	LastCompleted(ctx context.Context, sweepType string) (*domain.SweepRun, error)
	Start(ctx context.Context, sweepType string) (string, error)
	Complete(ctx context.Context, id string, processed int) error
	// ExecutionsUpdatedSince supports the incremental-scan optimization
	// (spec §4.10): only executions touched since cutoff are candidates.
	ExecutionsUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}
