package database

import (
	"context"
	"database/sql"
)

// Dialect names the SQL engine behind a DB.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB is the storage handle shared by repositories. Implementations exist for
// pgxpool (networked) and modernc sqlite (embedded file).
type DB interface {
	Ping(ctx context.Context) error
	Close() error

	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row

	Begin(ctx context.Context) (Tx, error)

	Dialect() Dialect
	SQLDB() *sql.DB
}

type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Rows interface {
	Close()
	Next() bool
	Scan(dest ...any) error
	Err() error
}

type Row interface {
	Scan(dest ...any) error
}

// BatchExecer is implemented by adapters that can run one statement for many
// argument sets more efficiently than a loop of Exec calls.
type BatchExecer interface {
	ExecBatch(ctx context.Context, query string, argSets [][]any) (int64, error)
}

// ExecBatch runs query once per argument set, inside a single transaction
// when the adapter has no native batch support.
func ExecBatch(ctx context.Context, db DB, query string, argSets [][]any) (int64, error) {
	if len(argSets) == 0 {
		return 0, nil
	}
	if be, ok := db.(BatchExecer); ok {
		return be.ExecBatch(ctx, query, argSets)
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var total int64
	for _, args := range argSets {
		n, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}
