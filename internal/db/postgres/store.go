// Package postgres implements db.Store on a pgx connection pool with pgvector.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/dialect"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Config holds pool parameters.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
}

// Store is a pooled Postgres catalog.
type Store struct {
	pool *pgxpool.Pool
	exec executor
}

// executor is satisfied by both *pgxpool.Pool and pgx.Tx.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore creates the pool. It does not wait for the server; use WaitForReady.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &db.Error{Op: db.OpConnect, Err: err}
	}
	return &Store{pool: pool, exec: pool}, nil
}

// Dialect returns dialect.Postgres.
func (s *Store) Dialect() dialect.Dialect { return dialect.Postgres }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// WaitForReady polls Ping until the server responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	return db.WaitForReady(ctx, s, timeout)
}

// Exec runs a statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, s.exec, query, args)
}

// Query runs a statement returning rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	return queryOn(ctx, s.exec, query, args)
}

// QueryRow runs a statement returning at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return row{s.exec.QueryRow(ctx, dialect.Postgres.Rebind(query), args...)}
}

// WithTx runs fn in one transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx db.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(t pgx.Tx) error {
		return fn(&tx{tx: t})
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

// VectorArg encodes v for a vector column.
func (s *Store) VectorArg(v []float32) any {
	return pgvector.NewVector(v)
}

// VectorDest returns a scan target for a nullable vector column.
func (s *Store) VectorDest() db.VectorDest { return &vectorDest{} }

type vectorDest struct {
	v *pgvector.Vector
}

func (d *vectorDest) Target() any { return &d.v }

func (d *vectorDest) Vector() ([]float32, error) {
	if d.v == nil {
		return nil, nil
	}
	return d.v.Slice(), nil
}

type tx struct {
	tx pgx.Tx
}

func (t *tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return execOn(ctx, t.tx, query, args)
}

func (t *tx) Query(ctx context.Context, query string, args ...any) (db.Rows, error) {
	return queryOn(ctx, t.tx, query, args)
}

func (t *tx) QueryRow(ctx context.Context, query string, args ...any) db.Row {
	return row{t.tx.QueryRow(ctx, dialect.Postgres.Rebind(query), args...)}
}

// ExecBatch sends all statements in one round trip.
func (t *tx) ExecBatch(ctx context.Context, stmts []db.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, st := range stmts {
		b.Queue(dialect.Postgres.Rebind(st.SQL), st.Args...)
	}
	br := t.tx.SendBatch(ctx, b)
	for i := range stmts {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return &db.Error{Op: db.OpBatch, Err: fmt.Errorf("statement %d: %w", i, err)}
		}
	}
	if err := br.Close(); err != nil {
		return &db.Error{Op: db.OpBatch, Err: err}
	}
	return nil
}

func execOn(ctx context.Context, e executor, query string, args []any) (int64, error) {
	tag, err := e.Exec(ctx, dialect.Postgres.Rebind(query), args...)
	if err != nil {
		return 0, &db.Error{Op: db.OpExec, Err: err}
	}
	return tag.RowsAffected(), nil
}

func queryOn(ctx context.Context, e executor, query string, args []any) (db.Rows, error) {
	rows, err := e.Query(ctx, dialect.Postgres.Rebind(query), args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return rows, nil
}

type row struct {
	r pgx.Row
}

func (r row) Scan(dest ...any) error {
	if err := r.r.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.ErrNotFound
		}
		return &db.Error{Op: db.OpQuery, Err: err}
	}
	return nil
}
