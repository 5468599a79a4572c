package similarity

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// --- Mocks ---

type call struct {
	column    domain.Column
	threshold float64
	limit     int
	ids       []int64
	id        int64
}

type mockRepo struct {
	last     call
	calls    int
	hits     []domain.SimilarImage
	err      error
	coverage domain.Coverage
	updates  []domain.EmbeddingUpdate
}

func (m *mockRepo) SearchByVector(
	_ context.Context, _ []float32, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	m.calls++
	m.last = call{column: column, threshold: threshold, limit: limit}
	return m.hits, m.err
}

func (m *mockRepo) SearchSimilarImages(
	_ context.Context, imageID int64, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	m.calls++
	m.last = call{id: imageID, column: column, threshold: threshold, limit: limit}
	return m.hits, m.err
}

func (m *mockRepo) BatchSimilaritySearch(
	_ context.Context, imageIDs []int64, column domain.Column, threshold float64, topK int,
) ([]domain.SimilarPair, error) {
	m.calls++
	m.last = call{ids: imageIDs, column: column, threshold: threshold, limit: topK}
	return nil, m.err
}

func (m *mockRepo) AutoTagBySimilarity(
	_ context.Context, imageID int64, column domain.Column, threshold float64, topK int,
) ([]domain.TagSuggestion, error) {
	m.calls++
	m.last = call{id: imageID, column: column, threshold: threshold, limit: topK}
	return nil, m.err
}

func (m *mockRepo) CoverageStatistics(context.Context) domain.Coverage { return m.coverage }

func (m *mockRepo) UpdateEmbeddings(_ context.Context, u domain.EmbeddingUpdate) error {
	m.updates = append(m.updates, u)
	return m.err
}

func (m *mockRepo) UpdateEmbeddingsBatch(_ context.Context, updates []domain.EmbeddingUpdate) error {
	m.calls++
	m.updates = append(m.updates, updates...)
	return m.err
}

func ptr(f float64) *float64 { return &f }

// --- Tests ---

func TestResolveDefaults(t *testing.T) {
	def := Defaults{Threshold: 0.7, Limit: 10, MaxLimit: 50}
	tests := []struct {
		name string
		q    domain.SimilarityQuery
		want call
	}{
		{"all defaults", domain.SimilarityQuery{}, call{column: domain.ColumnImageEmbedding, threshold: 0.7, limit: 10}},
		{"explicit values", domain.SimilarityQuery{Column: domain.ColumnPromptEmbedding, Threshold: ptr(0.9), Limit: 5},
			call{column: domain.ColumnPromptEmbedding, threshold: 0.9, limit: 5}},
		{"zero threshold is explicit", domain.SimilarityQuery{Threshold: ptr(0)},
			call{column: domain.ColumnImageEmbedding, threshold: 0, limit: 10}},
		{"limit capped", domain.SimilarityQuery{Limit: 500}, call{column: domain.ColumnImageEmbedding, threshold: 0.7, limit: 50}},
		{"negative limit defaults", domain.SimilarityQuery{Limit: -1}, call{column: domain.ColumnImageEmbedding, threshold: 0.7, limit: 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := New(repo, def)
			if _, err := svc.SearchByVector(context.Background(), []float32{1}, tc.q); err != nil {
				t.Fatal(err)
			}
			if repo.last.column != tc.want.column || repo.last.threshold != tc.want.threshold ||
				repo.last.limit != tc.want.limit {
				t.Errorf("got %+v, want %+v", repo.last, tc.want)
			}
		})
	}
}

func TestSearchByVector_EmptyVector(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, DefaultDefaults())
	_, err := svc.SearchByVector(context.Background(), nil, domain.SimilarityQuery{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if repo.calls != 0 {
		t.Error("repository must not be called")
	}
}

func TestSimilarTo(t *testing.T) {
	repo := &mockRepo{hits: []domain.SimilarImage{{ID: 3, Similarity: 0.9}}}
	svc := New(repo, DefaultDefaults())
	hits, err := svc.SimilarTo(context.Background(), 7, domain.SimilarityQuery{Column: domain.ColumnPromptEmbedding})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || repo.last.id != 7 || repo.last.column != domain.ColumnPromptEmbedding {
		t.Errorf("hits = %+v, call = %+v", hits, repo.last)
	}
}

func TestBatch_DedupesSources(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, DefaultDefaults())
	if _, err := svc.Batch(context.Background(), []int64{5, 9, 5}, domain.SimilarityQuery{Limit: 3}); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(repo.last.ids, []int64{5, 9}) || repo.last.limit != 3 {
		t.Errorf("call = %+v", repo.last)
	}
}

func TestBatch_TooManySources(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, Defaults{MaxBatch: 2})
	_, err := svc.Batch(context.Background(), []int64{1, 2, 3}, domain.SimilarityQuery{})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if repo.calls != 0 {
		t.Error("repository must not be called")
	}
}

func TestSuggestTags_PropagatesError(t *testing.T) {
	repo := &mockRepo{err: domain.ErrInvalidArgument}
	svc := New(repo, DefaultDefaults())
	if _, err := svc.SuggestTags(context.Background(), 1, domain.SimilarityQuery{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCoverage(t *testing.T) {
	repo := &mockRepo{coverage: domain.NewCoverage(4, 2, 1, 4)}
	svc := New(repo, DefaultDefaults())
	if c := svc.Coverage(context.Background()); c.TotalImages != 4 || c.PromptCoverage != 0.5 {
		t.Errorf("coverage = %+v", c)
	}
}

func TestUpdateEmbeddingsBatch_EmptyIsNoop(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, DefaultDefaults())
	if err := svc.UpdateEmbeddingsBatch(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if repo.calls != 0 {
		t.Error("repository must not be called")
	}
}

func TestUpdateEmbeddings(t *testing.T) {
	repo := &mockRepo{}
	svc := New(repo, DefaultDefaults())
	u := domain.EmbeddingUpdate{ImageID: 2, Vectors: map[domain.Column][]float32{domain.ColumnImageEmbedding: {1}}}
	if err := svc.UpdateEmbeddings(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	if len(repo.updates) != 1 || repo.updates[0].ImageID != 2 {
		t.Errorf("updates = %+v", repo.updates)
	}
}
