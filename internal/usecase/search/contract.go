package search

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/compiler"
	"github.com/kailas-cloud/imgdex/internal/dialect"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/query"
)

// Compiler turns a query spec into one id-set statement.
type Compiler interface {
	Compile(spec query.Spec) (compiler.Statement, error)
	Dialect() dialect.Dialect
}

// Catalog executes compiled id statements.
type Catalog interface {
	SelectIDs(ctx context.Context, sql string, args []any) []int64
}

// VectorSearcher ranks images against a query vector.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, vector []float32, q domain.SimilarityQuery) ([]domain.SimilarImage, error)
}
