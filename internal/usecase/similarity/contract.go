package similarity

import (
	"context"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Repository defines the storage contract for vector similarity.
type Repository interface {
	SearchByVector(
		ctx context.Context, vector []float32, column domain.Column, threshold float64, limit int,
	) ([]domain.SimilarImage, error)
	SearchSimilarImages(
		ctx context.Context, imageID int64, column domain.Column, threshold float64, limit int,
	) ([]domain.SimilarImage, error)
	BatchSimilaritySearch(
		ctx context.Context, imageIDs []int64, column domain.Column, threshold float64, topK int,
	) ([]domain.SimilarPair, error)
	AutoTagBySimilarity(
		ctx context.Context, imageID int64, column domain.Column, threshold float64, topK int,
	) ([]domain.TagSuggestion, error)
	CoverageStatistics(ctx context.Context) domain.Coverage
	UpdateEmbeddings(ctx context.Context, u domain.EmbeddingUpdate) error
	UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) error
}
