package cache

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Repository defines the storage contract for the embedding cache.
type Repository interface {
	FindByContentHash(ctx context.Context, hash string) (*domain.CacheEntry, bool)
	Insert(ctx context.Context, e domain.CacheEntry) (int64, error)
	IncrementReference(ctx context.Context, id int64) error
	DecrementReference(ctx context.Context, id int64) error
	AssignReference(ctx context.Context, imageID int64, role domain.Role, entryID *int64) error
	ImageRefs(ctx context.Context, imageID int64) (domain.ImageRefs, error)
	ReferenceStatements(changes []domain.ReferenceChange) []db.Statement
	CountApplied(changes []domain.ReferenceChange)
	ReclaimUnused(ctx context.Context) (int64, error)
	UsageStatistics(ctx context.Context) domain.CacheStats
}

// Binder returns a Repository that runs on q, typically an open transaction.
type Binder func(q db.Querier) Repository
