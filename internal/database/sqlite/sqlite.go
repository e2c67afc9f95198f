package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/progprogect/steamids-parser/internal/database"

	_ "modernc.org/sqlite"
)

const (
	driverName         = "sqlite"
	defaultBusyTimeout = 10_000
)

// DB adapts a modernc.org/sqlite handle to database.DB.
type DB struct {
	sqlDB *sql.DB
}

// Open opens (creating if needed) a single-file database with WAL,
// busy_timeout, synchronous=NORMAL and foreign keys applied to every
// pooled connection.
func Open(ctx context.Context, path string) (database.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	sqlDB, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	return &DB{sqlDB: sqlDB}, nil
}

// OpenMemory opens a private in-memory database.
func OpenMemory(ctx context.Context) (database.DB, error) {
	return Open(ctx, ":memory:")
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", defaultBusyTimeout))
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	return "file:" + path + "?" + q.Encode()
}

func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.sqlDB == nil {
		return fmt.Errorf("nil db")
	}
	return d.sqlDB.PingContext(ctx)
}

func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if d == nil || d.sqlDB == nil {
		return 0, fmt.Errorf("nil db")
	}
	res, err := d.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	if d == nil || d.sqlDB == nil {
		return nil, fmt.Errorf("nil db")
	}
	r, err := d.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: r}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	if d == nil || d.sqlDB == nil {
		return nilRow{}
	}
	return d.sqlDB.QueryRowContext(ctx, query, args...)
}

func (d *DB) Begin(ctx context.Context) (database.Tx, error) {
	if d == nil || d.sqlDB == nil {
		return nil, fmt.Errorf("nil db")
	}
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return sqlTx{tx: tx}, nil
}

func (d *DB) Dialect() database.Dialect {
	return database.DialectSQLite
}

func (d *DB) SQLDB() *sql.DB {
	if d == nil {
		return nil
	}
	return d.sqlDB
}

// ExecBatch runs query for every argument set through one prepared statement
// inside a single transaction.
func (d *DB) ExecBatch(ctx context.Context, query string, argSets [][]any) (int64, error) {
	if d == nil || d.sqlDB == nil {
		return 0, fmt.Errorf("nil db")
	}
	if len(argSets) == 0 {
		return 0, nil
	}
	tx, err := d.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var total int64
	for _, args := range argSets {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, err
		}
		total += rowsAffected(res)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

type sqlTx struct {
	tx *sql.Tx
}

func (t sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func (t sqlTx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	r, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: r}, nil
}

func (t sqlTx) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t sqlTx) Commit(_ context.Context) error {
	return t.tx.Commit()
}

func (t sqlTx) Rollback(_ context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Close() {
	_ = r.rows.Close()
}

func (r sqlRows) Next() bool {
	return r.rows.Next()
}

func (r sqlRows) Scan(dest ...any) error {
	return r.rows.Scan(dest...)
}

func (r sqlRows) Err() error {
	return r.rows.Err()
}

type nilRow struct{}

func (nilRow) Scan(_ ...any) error {
	return fmt.Errorf("nil db")
}

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
