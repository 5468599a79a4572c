// Package sqlite implements db.Store on modernc.org/sqlite.
//
// Vectors are stored as little-endian float32 BLOBs and compared with the
// cosine_distance SQL function registered by this package.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/dialect"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds connection parameters.
type Config struct {
	// Path is a file path or ":memory:".
	Path            string
	MaxConns        int
	MaxConnIdleTime time.Duration
}

// Store is a SQLite catalog.
type Store struct {
	db *sql.DB
}

// NewStore opens the database and registers vector functions.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}

	dsn := cfg.Path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &db.Error{Op: db.OpConnect, Err: err}
	}

	// Every connection to ":memory:" is a separate database, so it gets
	// exactly one that is never evicted.
	if strings.HasPrefix(cfg.Path, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
		}
		if cfg.MaxConnIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(cfg.MaxConnIdleTime)
		}
	}

	return &Store{db: sqlDB}, nil
}

// Dialect returns dialect.SQLite.
func (s *Store) Dialect() dialect.Dialect { return dialect.SQLite }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// WaitForReady polls Ping until the database responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return db.WaitForReady(ctx, s, timeout)
}

// Exec runs a statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, s.db, query, args)
}

// Query runs a statement returning rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	return queryOn(ctx, s.db, query, args)
}

// QueryRow runs a statement returning at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return row{s.db.QueryRowContext(ctx, query, args...)}
}

// WithTx runs fn in one transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx db.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpBegin, Err: err}
	}
	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return fmt.Errorf("transaction: %w", err)
	}
	if err := sqlTx.Commit(); err != nil {
		return &db.Error{Op: db.OpCommit, Err: err}
	}
	return nil
}

// VectorArg encodes v as a BLOB.
func (s *Store) VectorArg(v []float32) any {
	return db.EncodeVector(v)
}

// VectorDest returns a scan target for a nullable vector column.
func (s *Store) VectorDest() db.VectorDest { return &vectorDest{} }

// DB exposes the underlying handle for schema setup in tests and tools.
func (s *Store) DB() *sql.DB { return s.db }

type vectorDest struct {
	b []byte
}

func (d *vectorDest) Target() any { return &d.b }

func (d *vectorDest) Vector() ([]float32, error) {
	if d.b == nil {
		return nil, nil
	}
	return db.DecodeVector(d.b)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, query, args)
}

func (t *tx) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	return queryOn(ctx, t.tx, query, args)
}

func (t *tx) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return row{t.tx.QueryRowContext(ctx, query, args...)}
}

// ExecBatch runs the statements one by one inside the transaction.
func (t *tx) ExecBatch(ctx context.Context, stmts []db.Statement) error {
	for i, st := range stmts {
		if _, err := t.tx.ExecContext(ctx, st.SQL, st.Args...); err != nil {
			return &db.Error{Op: db.OpBatch, Err: fmt.Errorf("statement %d: %w", i, err)}
		}
	}
	return nil
}

func execOn(ctx context.Context, e execer, query string, args []any) (int64, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &db.Error{Op: db.OpExec, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &db.Error{Op: db.OpExec, Err: err}
	}
	return n, nil
}

func queryOn(ctx context.Context, e execer, query string, args []any) (db.Rows, error) {
	r, err := e.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return rows{r}, nil
}

type rows struct {
	*sql.Rows
}

func (r rows) Close() { _ = r.Rows.Close() }

type row struct {
	r *sql.Row
}

func (r row) Scan(dest ...any) error {
	if err := r.r.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return db.ErrNotFound
		}
		return &db.Error{Op: db.OpQuery, Err: err}
	}
	return nil
}
