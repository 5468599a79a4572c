package db

import (
	"context"
	"time"

	"github.com/kailas-cloud/imgdex/internal/dialect"
)

// Store is the relational catalog facade. Consumers depend on the narrow
// sub-interfaces (ISP).
//
//nolint:interfacebloat // facade by design
type Store interface {
	Pinger
	Querier
	VectorCodec
	Transactor
	Dialect() dialect.Dialect
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Querier runs statements written with `?` placeholders.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
}

// Rows iterates a result set. Close is safe to call more than once.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row is a single-row result. Scan returns ErrNotFound when the query matched nothing.
type Row interface {
	Scan(dest ...any) error
}

// Statement is one SQL statement with its bindings.
type Statement struct {
	SQL  string
	Args []any
}

// Tx is a transaction scope.
type Tx interface {
	Querier
	// ExecBatch runs statements in order, stopping at the first failure.
	ExecBatch(ctx context.Context, stmts []Statement) error
}

// Transactor runs fn inside one transaction. fn must only use the Tx it is given;
// any error from fn rolls the transaction back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// VectorCodec converts vectors to and from the engine's column representation.
type VectorCodec interface {
	VectorArg(v []float32) any
	VectorDest() VectorDest
}

// VectorDest is a scan target for a nullable vector column.
type VectorDest interface {
	Target() any
	// Vector returns nil when the scanned value was NULL.
	Vector() ([]float32, error)
}
