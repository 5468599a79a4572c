package search

import (
	"context"
	"fmt"
	"slices"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/query"
)

// Request is a hybrid query: a structured spec and an optional vector stage.
type Request struct {
	Spec       query.Spec
	Vector     []float32
	Similarity domain.SimilarityQuery
}

// Result holds the candidate ids in ascending order. Ranked is set only for
// requests with a vector stage and lists the ranked hits that are also
// candidates, best first.
type Result struct {
	IDs      []int64
	Ranked   []domain.SimilarImage
	Branches int
}

// Service runs catalog queries.
type Service struct {
	compiler Compiler
	catalog  Catalog
	vectors  VectorSearcher
	branches *prometheus.HistogramVec
}

// New creates a search service. vectors can be nil when no vector stage is served;
// branches is a histogram vec with label "dialect" and may be nil.
func New(c Compiler, cat Catalog, vectors VectorSearcher, branches *prometheus.HistogramVec) *Service {
	return &Service{compiler: c, catalog: cat, vectors: vectors, branches: branches}
}

// Search compiles the spec, runs it and, when a vector is given, keeps the
// ranked similarity hits that fall inside the candidate set.
func (s *Service) Search(ctx context.Context, req Request) (Result, error) {
	if len(req.Vector) > 0 && s.vectors == nil {
		return Result{}, domain.NewInvalidArgument("vector", "vector stage is not available")
	}

	st, err := s.compiler.Compile(req.Spec)
	if err != nil {
		return Result{}, fmt.Errorf("compile query: %w", err)
	}
	if s.branches != nil {
		s.branches.WithLabelValues(string(s.compiler.Dialect())).Observe(float64(st.Branches))
	}

	ids := s.catalog.SelectIDs(ctx, st.SQL, st.Args)
	slices.Sort(ids)
	out := Result{IDs: ids, Branches: st.Branches}

	if len(req.Vector) == 0 {
		return out, nil
	}
	out.Ranked = []domain.SimilarImage{}
	if len(ids) == 0 {
		return out, nil
	}
	hits, err := s.vectors.SearchByVector(ctx, req.Vector, req.Similarity)
	if err != nil {
		return Result{}, fmt.Errorf("vector stage: %w", err)
	}
	for _, h := range hits {
		if _, found := slices.BinarySearch(ids, h.ID); found {
			out.Ranked = append(out.Ranked, h)
		}
	}
	return out, nil
}
