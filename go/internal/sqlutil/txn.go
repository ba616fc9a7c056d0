package sqlutil

import (
	"context"
	"database/sql"
	"fmt"
)

// Run executes fn inside a *sql.Tx bound to the queries newQueries builds.
// If fn returns an error the tx rolls back, else it commits.
func Run[T any](
	ctx context.Context,
	db *sql.DB,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) error,
) error {
	_, err := Get(ctx, db, nil, newQueries, func(q *T) (struct{}, error) {
		return struct{}{}, fn(q)
	})
	return err
}

// Get is Run for transactions that produce a value. opts may be nil.
func Get[T, R any](
	ctx context.Context,
	db *sql.DB,
	opts *sql.TxOptions,
	newQueries func(*sql.Tx) *T,
	fn func(q *T) (R, error),
) (R, error) {
	var zero R
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return zero, fmt.Errorf("failed to begin tx: %w", err)
	}
	out, err := fn(newQueries(tx))
	if err != nil {
		_ = tx.Rollback()
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit tx: %w", err)
	}
	return out, nil
}
