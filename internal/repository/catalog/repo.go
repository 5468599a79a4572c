// Package catalog executes compiled id queries against the image catalog.
package catalog

import (
	"context"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
)

// Repo runs id-set statements.
type Repo struct {
	store  db.Querier
	logger *zap.Logger
}

// New creates a catalog repository.
func New(s db.Querier, logger *zap.Logger) *Repo {
	return &Repo{store: s, logger: logger}
}

// SelectIDs runs a statement whose single column is an image id. Store
// failures are logged and reported as no matches.
func (r *Repo) SelectIDs(ctx context.Context, sql string, args []any) []int64 {
	rows, err := r.store.Query(ctx, sql, args...)
	if err != nil {
		r.logger.Warn("Failed to run id query", zap.Int("args", len(args)), zap.Error(err))
		return []int64{}
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			r.logger.Warn("Failed to scan image id", zap.Error(err))
			return []int64{}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		r.logger.Warn("Failed to read id rows", zap.Error(err))
		return []int64{}
	}
	return ids
}
