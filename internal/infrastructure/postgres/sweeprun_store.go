package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/journey/internal/domain"
)

type SweepRunStore struct {
	pool *pgxpool.Pool
}

func NewSweepRunStore(pool *pgxpool.Pool) *SweepRunStore {
	return &SweepRunStore{pool: pool}
}

func (s *SweepRunStore) LastCompleted(ctx context.Context, sweepType string) (*domain.SweepRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sweep_type, started_at, completed_at, executions_processed
		FROM sweep_run
		WHERE sweep_type = $1 AND completed_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1`, sweepType,
	)
	return scanSweepRun(row)
}

func (s *SweepRunStore) Start(ctx context.Context, sweepType string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sweep_run (id, sweep_type, started_at, executions_processed)
		VALUES ($1, $2, $3, 0)`,
		id, sweepType, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("start sweep run: %w", err)
	}
	return id, nil
}

func (s *SweepRunStore) Complete(ctx context.Context, id string, processed int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sweep_run SET completed_at = $2, executions_processed = $3
		WHERE id = $1`,
		id, time.Now().Unix(), processed,
	)
	if err != nil {
		return fmt.Errorf("complete sweep run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sweep run %s not found", id)
	}
	return nil
}

// ExecutionsUpdatedSince supports the incremental-scan optimization (spec
// §4.10): only executions touched since cutoff are candidates for the
// next sweep pass, avoiding a full table scan every tick.
func (s *SweepRunStore) ExecutionsUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM execution
		WHERE updated_at >= $1 AND archived_at IS NULL
		ORDER BY updated_at ASC
		LIMIT $2`,
		cutoff.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query executions updated since: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanSweepRun(row rowScanner) (*domain.SweepRun, error) {
	var sr domain.SweepRun
	var startedAt int64
	var completedAt *int64

	err := row.Scan(&sr.ID, &sr.SweepType, &startedAt, &completedAt, &sr.ExecutionsProcessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan sweep run: %w", err)
	}

	sr.StartedAt = time.Unix(startedAt, 0).UTC()
	sr.CompletedAt = fromUnixPtr(completedAt)
	return &sr, nil
}
