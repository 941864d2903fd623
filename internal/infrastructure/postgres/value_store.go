package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/journey/internal/domain"
	"github.com/flowkit/journey/internal/store"
)

type ValueStore struct {
	pool *pgxpool.Pool
}

func NewValueStore(pool *pgxpool.Pool) *ValueStore {
	return &ValueStore{pool: pool}
}

func (s *ValueStore) Get(ctx context.Context, executionID, nodeName string) (*domain.Value, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT execution_id, node_name, node_type, node_value, metadata, set_time, ex_revision
		FROM execution_value WHERE execution_id = $1 AND node_name = $2`,
		executionID, nodeName,
	)
	return scanValue(row)
}

func (s *ValueStore) Snapshot(ctx context.Context, executionID string) (map[string]domain.Value, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT execution_id, node_name, node_type, node_value, metadata, set_time, ex_revision
		FROM execution_value WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Value)
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		out[v.NodeName] = *v
	}
	return out, rows.Err()
}

// Upsert writes node_value/metadata/set_time/ex_revision for one slot
// inside tx, creating the row if it doesn't exist yet — every value write
// happens alongside the execution's revision bump in the same commit.
func (s *ValueStore) Upsert(ctx context.Context, t store.Tx, v *domain.Value) error {
	metadata, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	value, err := json.Marshal(v.NodeValue)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	_, err = asTx(t).Exec(ctx, `
		INSERT INTO execution_value (execution_id, node_name, node_type, node_value, metadata, set_time, ex_revision)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, node_name) DO UPDATE
		SET node_value = $4, metadata = $5, set_time = $6, ex_revision = $7`,
		v.ExecutionID, v.NodeName, string(v.NodeType), value, metadata, unixPtr(v.SetTime), v.ExRevision,
	)
	if err != nil {
		return fmt.Errorf("upsert value: %w", err)
	}
	return nil
}

func (s *ValueStore) MissingNodeNames(ctx context.Context, executionID string, allNames []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_name FROM execution_value WHERE execution_id = $1`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query present names: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan node name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range allNames {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// InsertMissing adds a never-before-seen slot at ex_revision 0, unset —
// used only by schema evolution (§4.11) when a newer graph hash adds
// nodes that an older, already-running execution never saw.
func (s *ValueStore) InsertMissing(ctx context.Context, t store.Tx, executionID string, v *domain.Value) error {
	_, err := asTx(t).Exec(ctx, `
		INSERT INTO execution_value (execution_id, node_name, node_type, node_value, metadata, set_time, ex_revision)
		VALUES ($1, $2, $3, NULL, NULL, NULL, 0)
		ON CONFLICT (execution_id, node_name) DO NOTHING`,
		executionID, v.NodeName, string(v.NodeType),
	)
	if err != nil {
		return fmt.Errorf("insert missing value: %w", err)
	}
	return nil
}

func (s *ValueStore) AppendHistory(ctx context.Context, executionID, nodeName string, entry domain.HistoryEntry, maxEntries *int) error {
	history, err := s.History(ctx, executionID, nodeName)
	if err != nil && !errors.Is(err, domain.ErrValueNotFound) {
		return err
	}
	history = append(history, entry)
	if maxEntries != nil && len(history) > *maxEntries {
		history = history[len(history)-*maxEntries:]
	}

	encoded, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	now := time.Now()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO execution_value (execution_id, node_name, node_type, node_value, metadata, set_time, ex_revision)
		VALUES ($1, $2, $3, $4, NULL, $5, 0)
		ON CONFLICT (execution_id, node_name) DO UPDATE
		SET node_value = $4, set_time = $5`,
		executionID, nodeName, string(domain.NodeTypeHistorian), encoded, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *ValueStore) History(ctx context.Context, executionID, nodeName string) ([]domain.HistoryEntry, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT node_value FROM execution_value WHERE execution_id = $1 AND node_name = $2`,
		executionID, nodeName,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrValueNotFound
		}
		return nil, fmt.Errorf("query history: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var entries []domain.HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return entries, nil
}

func scanValue(row rowScanner) (*domain.Value, error) {
	var v domain.Value
	var nodeType string
	var rawValue, rawMetadata []byte
	var setTime *int64

	err := row.Scan(&v.ExecutionID, &v.NodeName, &nodeType, &rawValue, &rawMetadata, &setTime, &v.ExRevision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrValueNotFound
		}
		return nil, fmt.Errorf("scan value: %w", err)
	}

	v.NodeType = domain.NodeType(nodeType)
	v.SetTime = fromUnixPtr(setTime)

	if rawValue != nil {
		if err := json.Unmarshal(rawValue, &v.NodeValue); err != nil {
			return nil, fmt.Errorf("unmarshal node value: %w", err)
		}
	}
	if rawMetadata != nil {
		if err := json.Unmarshal(rawMetadata, &v.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &v, nil
}
