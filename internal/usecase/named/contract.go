package named

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Repository defines the storage contract for named embeddings.
type Repository interface {
	UpsertRegistry(ctx context.Context, entries []domain.RegistryEntry) error
	GetRegistry(ctx context.Context, name string) (*domain.RegistryEntry, error)
	LoadRegistry(ctx context.Context) ([]domain.RegistryEntry, error)
	ListRegistry(ctx context.Context) []domain.RegistryEntry
	ReplaceUsage(ctx context.Context, imageID int64, usages []domain.ImageEmbeddingUsage) error
	ListUsage(ctx context.Context, imageID int64) []domain.ImageEmbeddingUsage
}
