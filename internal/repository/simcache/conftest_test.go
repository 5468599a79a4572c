package simcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

type mockInner struct {
	hits        []domain.SimilarImage
	err         error
	searchCalls int
	updateErr   error
	updates     int
}

func (m *mockInner) SearchByVector(
	_ context.Context, _ []float32, _ domain.Column, _ float64, _ int,
) ([]domain.SimilarImage, error) {
	m.searchCalls++
	return m.hits, m.err
}

func (m *mockInner) SearchSimilarImages(
	_ context.Context, _ int64, _ domain.Column, _ float64, _ int,
) ([]domain.SimilarImage, error) {
	return m.hits, m.err
}

func (m *mockInner) BatchSimilaritySearch(
	_ context.Context, _ []int64, _ domain.Column, _ float64, _ int,
) ([]domain.SimilarPair, error) {
	return nil, m.err
}

func (m *mockInner) AutoTagBySimilarity(
	_ context.Context, _ int64, _ domain.Column, _ float64, _ int,
) ([]domain.TagSuggestion, error) {
	return nil, m.err
}

func (m *mockInner) CoverageStatistics(_ context.Context) domain.Coverage {
	return domain.Coverage{TotalImages: 3}
}

func (m *mockInner) UpdateEmbeddings(_ context.Context, _ domain.EmbeddingUpdate) error {
	m.updates++
	return m.updateErr
}

func (m *mockInner) UpdateEmbeddingsBatch(_ context.Context, _ []domain.EmbeddingUpdate) error {
	m.updates++
	return m.updateErr
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn       func(ctx context.Context, key string) ([]byte, error)
	setFn       func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	delPrefixFn func(ctx context.Context, prefix string) (int, error)
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func (m *mockKVStore) DelPrefix(ctx context.Context, prefix string) (int, error) {
	if m.delPrefixFn != nil {
		return m.delPrefixFn(ctx, prefix)
	}
	return 0, nil
}

func newTestCache(t *testing.T, in *mockInner) (*Cache, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	return New(in, ms, time.Minute, nil, zap.NewNop()), ms
}
