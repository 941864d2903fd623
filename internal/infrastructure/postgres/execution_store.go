package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

type ExecutionStore struct {
	pool *pgxpool.Pool
}

func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

func (s *ExecutionStore) Create(ctx context.Context, e *domain.Execution) (*domain.Execution, error) {
	query := `
		INSERT INTO execution (id, graph_name, graph_version, graph_hash, revision, archived_at, inserted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, graph_name, graph_version, graph_hash, revision, archived_at, inserted_at, updated_at`

	now := time.Now().Unix()
	row := s.pool.QueryRow(ctx, query,
		e.ID, e.GraphName, e.GraphVersion, e.GraphHash, e.Revision, unixPtr(e.ArchivedAt), now, now,
	)

	created, err := scanExecution(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrDuplicateGraphVersion
		}
		return nil, err
	}
	return created, nil
}

func (s *ExecutionStore) GetByID(ctx context.Context, id string) (*domain.Execution, error) {
	query := `
		SELECT id, graph_name, graph_version, graph_hash, revision, archived_at, inserted_at, updated_at
		FROM execution WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	return scanExecution(row)
}

func (s *ExecutionStore) SetArchived(ctx context.Context, id string, archived bool) error {
	var archivedAt any
	if archived {
		archivedAt = time.Now().Unix()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution SET archived_at = $2, updated_at = $3 WHERE id = $1`,
		id, archivedAt, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

func (s *ExecutionStore) Begin(ctx context.Context) (store.Tx, error) {
	return beginTx(ctx, s.pool)
}

// BumpRevision is the sole source of ordering truth (spec §3/§5): every
// mutation that can change downstream gating state increments this
// counter inside the same transaction as the write that caused it.
func (s *ExecutionStore) BumpRevision(ctx context.Context, t store.Tx, executionID string) (int64, error) {
	var rev int64
	err := asTx(t).QueryRow(ctx, `
		UPDATE execution SET revision = revision + 1, updated_at = $2
		WHERE id = $1
		RETURNING revision`,
		executionID, time.Now().Unix(),
	).Scan(&rev)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrExecutionNotFound
		}
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	return rev, nil
}

func (s *ExecutionStore) UpdateGraphHash(ctx context.Context, t store.Tx, executionID, hash string) error {
	tag, err := asTx(t).Exec(ctx,
		`UPDATE execution SET graph_hash = $2, updated_at = $3 WHERE id = $1`,
		executionID, hash, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update graph hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}

// WithAdvisoryLock serializes concurrent schema evolutions or singleton
// creation for the same key, the same begin/defer-rollback/commit shape
// the teacher's ScheduleRepository.ClaimAndFire uses for its own
// multi-step transaction.
func (s *ExecutionStore) WithAdvisoryLock(ctx context.Context, key int64, fn func(store.Tx) error) (err error) {
	t, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = t.Rollback(ctx)
		}
	}()

	if _, err = t.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err = fn(tx{t}); err != nil {
		return err
	}

	if err = t.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var e domain.Execution
	var archivedAt *int64
	var insertedAt, updatedAt int64

	err := row.Scan(
		&e.ID, &e.GraphName, &e.GraphVersion, &e.GraphHash, &e.Revision,
		&archivedAt, &insertedAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.ArchivedAt = fromUnixPtr(archivedAt)
	e.InsertedAt = time.Unix(insertedAt, 0).UTC()
	e.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &e, nil
}
