package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

type ComputationStore struct {
	pool *pgxpool.Pool
}

func NewComputationStore(pool *pgxpool.Pool) *ComputationStore {
	return &ComputationStore{pool: pool}
}

func (s *ComputationStore) Insert(ctx context.Context, t store.Tx, c *domain.Computation) (*domain.Computation, error) {
	return s.insert(ctx, asTx(t), c)
}

func (s *ComputationStore) InsertNoTx(ctx context.Context, c *domain.Computation) (*domain.Computation, error) {
	return s.insert(ctx, s.pool, c)
}

func (s *ComputationStore) insert(ctx context.Context, q queryer, c *domain.Computation) (*domain.Computation, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	computedWith, err := json.Marshal(c.ComputedWith)
	if err != nil {
		return nil, fmt.Errorf("marshal computed_with: %w", err)
	}

	row := q.QueryRow(ctx, `
		INSERT INTO execution_computation (
			id, execution_id, node_name, computation_type, state,
			start_time, ex_revision_at_start, ex_revision_at_completion,
			computed_with, error_details, last_heartbeat_at, heartbeat_deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, execution_id, node_name, computation_type, state,
		          start_time, ex_revision_at_start, ex_revision_at_completion,
		          computed_with, error_details, last_heartbeat_at, heartbeat_deadline`,
		c.ID, c.ExecutionID, c.NodeName, string(c.ComputationType), string(c.State),
		unixPtr(c.StartTime), c.ExRevisionAtStart, c.ExRevisionAtCompletion,
		computedWith, c.ErrorDetails, unixPtr(c.LastHeartbeatAt), unixPtr(c.HeartbeatDeadline),
	)
	return scanComputation(row)
}

func (s *ComputationStore) Get(ctx context.Context, id string) (*domain.Computation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, node_name, computation_type, state,
		       start_time, ex_revision_at_start, ex_revision_at_completion,
		       computed_with, error_details, last_heartbeat_at, heartbeat_deadline
		FROM execution_computation WHERE id = $1`, id)
	return scanComputation(row)
}

// HasActiveAtOrAbove enforces the "no duplicate pending work" rule (spec
// §4.4): a node can have at most one not_set/computing row per execution
// revision window.
func (s *ComputationStore) HasActiveAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM execution_computation
			WHERE execution_id = $1 AND node_name = $2
			  AND ex_revision_at_start >= $3
			  AND state IN ('not_set', 'computing')
		)`, executionID, nodeName, rev,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query active computation: %w", err)
	}
	return exists, nil
}

func (s *ComputationStore) LatestSuccess(ctx context.Context, executionID, nodeName string) (*domain.Computation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, execution_id, node_name, computation_type, state,
		       start_time, ex_revision_at_start, ex_revision_at_completion,
		       computed_with, error_details, last_heartbeat_at, heartbeat_deadline
		FROM execution_computation
		WHERE execution_id = $1 AND node_name = $2 AND state = 'success'
		ORDER BY ex_revision_at_completion DESC
		LIMIT 1`, executionID, nodeName,
	)
	return scanComputation(row)
}

func (s *ComputationStore) CountFailedAtOrAbove(ctx context.Context, executionID, nodeName string, rev int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM execution_computation
		WHERE execution_id = $1 AND node_name = $2
		  AND ex_revision_at_start >= $3 AND state = 'failed'`,
		executionID, nodeName, rev,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed computations: %w", err)
	}
	return n, nil
}

// GrabReady opens its own transaction, selects not_set/runnable rows with
// SELECT ... FOR UPDATE SKIP LOCKED so concurrent sweepers never grab the
// same row twice, evaluates readiness via ready for each candidate, and
// promotes every ready row to computing before committing — the same
// shape as the teacher's JobRepository.Claim.
func (s *ComputationStore) GrabReady(ctx context.Context, executionID string, ready store.ReadyFunc) ([]*domain.Computation, error) {
	t, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = t.Rollback(ctx) }()

	rows, err := t.Query(ctx, `
		SELECT id, execution_id, node_name, computation_type, state,
		       start_time, ex_revision_at_start, ex_revision_at_completion,
		       computed_with, error_details, last_heartbeat_at, heartbeat_deadline
		FROM execution_computation
		WHERE execution_id = $1 AND state = 'not_set'
		ORDER BY ex_revision_at_start ASC
		FOR UPDATE SKIP LOCKED`, executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}

	var candidates []*domain.Computation
	for rows.Next() {
		c, err := scanComputation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	var grabbed []*domain.Computation
	now := time.Now()
	for _, c := range candidates {
		readyNow, witness, heartbeatTimeout, err := ready(c.ExecutionID, c.NodeName)
		if err != nil {
			return nil, fmt.Errorf("evaluate readiness for %s: %w", c.NodeName, err)
		}
		if !readyNow {
			continue
		}

		computedWith := make(map[string]int64, len(witness))
		for name, vn := range witness {
			computedWith[name] = vn.Revision
		}
		encoded, err := json.Marshal(computedWith)
		if err != nil {
			return nil, fmt.Errorf("marshal computed_with: %w", err)
		}

		if _, err := t.Exec(ctx, `
			UPDATE execution_computation
			SET state = 'computing', start_time = $2, computed_with = $3,
			    last_heartbeat_at = $2, heartbeat_deadline = $4
			WHERE id = $1`,
			c.ID, now.Unix(), encoded, now.Add(heartbeatTimeout).Unix(),
		); err != nil {
			return nil, fmt.Errorf("promote computation %s: %w", c.ID, err)
		}

		c.State = domain.ComputationComputing
		c.StartTime = &now
		c.ComputedWith = computedWith
		grabbed = append(grabbed, c)
	}

	if err := t.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return grabbed, nil
}

func (s *ComputationStore) MarkSuccess(ctx context.Context, id string, value json.RawMessage, computedWith map[string]int64) error {
	encoded, err := json.Marshal(computedWith)
	if err != nil {
		return fmt.Errorf("marshal computed_with: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE execution_computation
		SET state = 'success', computed_with = $2
		WHERE id = $1 AND state = 'computing'`,
		id, encoded,
	)
	if err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrComputationNotFound
	}
	_ = value // result payload is not stored here; the worker writes it via ValueStore.Upsert in its own, earlier transaction
	return nil
}

func (s *ComputationStore) MarkFailed(ctx context.Context, id string, errDetails string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE execution_computation
		SET state = 'failed', error_details = $2
		WHERE id = $1 AND state = 'computing'`,
		id, errDetails,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrComputationNotFound
	}
	return nil
}

// Heartbeat extends heartbeat_deadline to now + interval, first reading
// the stored deadline and comparing it with this process's clock: ok is
// false if the deadline had already passed, in which case the row is left
// unchanged and the caller's watchdog stops rather than keep racing a
// sweep that may have already reassigned the row.
func (s *ComputationStore) Heartbeat(ctx context.Context, id string, interval time.Duration) (bool, error) {
	now := time.Now()
	var deadline *int64
	err := s.pool.QueryRow(ctx, `
		SELECT heartbeat_deadline FROM execution_computation
		WHERE id = $1 AND state = 'computing'
		FOR UPDATE`, id,
	).Scan(&deadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrComputationNotFound
		}
		return false, fmt.Errorf("lock computation: %w", err)
	}
	if deadline != nil && now.Unix() > *deadline {
		return false, nil
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE execution_computation
		SET last_heartbeat_at = $2, heartbeat_deadline = $3
		WHERE id = $1`,
		id, now.Unix(), now.Add(interval).Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("heartbeat: %w", err)
	}
	return true, nil
}

// AbandonStale finds computing rows whose heartbeat_deadline has passed
// cutoff and flips them to abandoned, mirroring the teacher's
// JobRepository.RescheduleStale/FailStale split (retry policy decides
// which stale rows get retried elsewhere; this just surfaces them).
func (s *ComputationStore) AbandonStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Computation, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE execution_computation
		SET state = 'abandoned'
		WHERE id IN (
			SELECT id FROM execution_computation
			WHERE state = 'computing' AND heartbeat_deadline < $1
			ORDER BY heartbeat_deadline ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, execution_id, node_name, computation_type, state,
		          start_time, ex_revision_at_start, ex_revision_at_completion,
		          computed_with, error_details, last_heartbeat_at, heartbeat_deadline`,
		cutoff.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("abandon stale computations: %w", err)
	}
	defer rows.Close()

	var abandoned []*domain.Computation
	for rows.Next() {
		c, err := scanComputation(rows)
		if err != nil {
			return nil, err
		}
		abandoned = append(abandoned, c)
	}
	return abandoned, rows.Err()
}

func scanComputation(row rowScanner) (*domain.Computation, error) {
	var c domain.Computation
	var computationType, state string
	var startTime, lastHeartbeatAt, heartbeatDeadline *int64
	var computedWith []byte

	err := row.Scan(
		&c.ID, &c.ExecutionID, &c.NodeName, &computationType, &state,
		&startTime, &c.ExRevisionAtStart, &c.ExRevisionAtCompletion,
		&computedWith, &c.ErrorDetails, &lastHeartbeatAt, &heartbeatDeadline,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrComputationNotFound
		}
		return nil, fmt.Errorf("scan computation: %w", err)
	}

	c.ComputationType = domain.NodeType(computationType)
	c.State = domain.ComputationState(state)
	c.StartTime = fromUnixPtr(startTime)
	c.LastHeartbeatAt = fromUnixPtr(lastHeartbeatAt)
	c.HeartbeatDeadline = fromUnixPtr(heartbeatDeadline)

	if computedWith != nil {
		if err := json.Unmarshal(computedWith, &c.ComputedWith); err != nil {
			return nil, fmt.Errorf("unmarshal computed_with: %w", err)
		}
	}
	return &c, nil
}
