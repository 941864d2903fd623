package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowkit/journey/internal/store"
)

// rowScanner is implemented by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting a store
// method run the same query either directly against the pool or inside a
// caller-supplied transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tx adapts a pgx.Tx to store.Tx. Store methods that accept a store.Tx
// type-assert back to tx to reach the underlying pgx.Tx.
type tx struct {
	pgx.Tx
}

func (t tx) Commit(ctx context.Context) error   { return t.Tx.Commit(ctx) }
func (t tx) Rollback(ctx context.Context) error { return t.Tx.Rollback(ctx) }

func asTx(t store.Tx) pgx.Tx {
	return t.(tx).Tx
}

func beginTx(ctx context.Context, pool *pgxpool.Pool) (store.Tx, error) {
	pt, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx{pt}, nil
}

// unixPtr converts an optional time to its nullable unix-seconds column
// representation.
func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func fromUnixPtr(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}
