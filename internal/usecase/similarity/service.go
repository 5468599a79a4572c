package similarity

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Defaults fill the unset parts of a SimilarityQuery.
type Defaults struct {
	Column    domain.Column
	Threshold float64
	Limit     int
	// MaxLimit caps every requested limit. Zero disables the cap.
	MaxLimit int
	// MaxBatch caps the number of source images in one batch search.
	MaxBatch int
}

// DefaultDefaults returns the built-in search defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Column:    domain.ColumnImageEmbedding,
		Threshold: 0.8,
		Limit:     20,
		MaxLimit:  200,
		MaxBatch:  500,
	}
}

// Service resolves request defaults and runs similarity operations.
type Service struct {
	repo Repository
	def  Defaults
}

// New creates a similarity service.
func New(repo Repository, def Defaults) *Service {
	if def.Column == "" {
		def.Column = domain.ColumnImageEmbedding
	}
	return &Service{repo: repo, def: def}
}

func (s *Service) resolve(q domain.SimilarityQuery) (domain.Column, float64, int) {
	col := q.Column
	if col == "" {
		col = s.def.Column
	}
	threshold := s.def.Threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.def.Limit
	}
	if s.def.MaxLimit > 0 && limit > s.def.MaxLimit {
		limit = s.def.MaxLimit
	}
	return col, threshold, limit
}

// SearchByVector ranks images against a query vector.
func (s *Service) SearchByVector(
	ctx context.Context, vector []float32, q domain.SimilarityQuery,
) ([]domain.SimilarImage, error) {
	if len(vector) == 0 {
		return nil, domain.NewInvalidArgument("vector", "must not be empty")
	}
	col, threshold, limit := s.resolve(q)
	return s.repo.SearchByVector(ctx, vector, col, threshold, limit)
}

// SimilarTo ranks images against the stored vector of imageID.
func (s *Service) SimilarTo(
	ctx context.Context, imageID int64, q domain.SimilarityQuery,
) ([]domain.SimilarImage, error) {
	col, threshold, limit := s.resolve(q)
	return s.repo.SearchSimilarImages(ctx, imageID, col, threshold, limit)
}

// Batch finds up to the query limit of neighbors for each source image.
// Repeated source ids are searched once.
func (s *Service) Batch(
	ctx context.Context, imageIDs []int64, q domain.SimilarityQuery,
) ([]domain.SimilarPair, error) {
	ids := dedupe(imageIDs)
	if s.def.MaxBatch > 0 && len(ids) > s.def.MaxBatch {
		return nil, domain.NewInvalidArgument("image_ids",
			fmt.Sprintf("at most %d source images per batch", s.def.MaxBatch))
	}
	col, threshold, limit := s.resolve(q)
	return s.repo.BatchSimilaritySearch(ctx, ids, col, threshold, limit)
}

// SuggestTags returns tag values of the nearest tagged neighbors.
func (s *Service) SuggestTags(
	ctx context.Context, imageID int64, q domain.SimilarityQuery,
) ([]domain.TagSuggestion, error) {
	col, threshold, limit := s.resolve(q)
	return s.repo.AutoTagBySimilarity(ctx, imageID, col, threshold, limit)
}

// Coverage reports the share of images carrying each vector.
func (s *Service) Coverage(ctx context.Context) domain.Coverage {
	return s.repo.CoverageStatistics(ctx)
}

// UpdateEmbeddings writes the direct vector columns of one image.
func (s *Service) UpdateEmbeddings(ctx context.Context, u domain.EmbeddingUpdate) error {
	return s.repo.UpdateEmbeddings(ctx, u)
}

// UpdateEmbeddingsBatch writes vectors for many images atomically.
func (s *Service) UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return s.repo.UpdateEmbeddingsBatch(ctx, updates)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
