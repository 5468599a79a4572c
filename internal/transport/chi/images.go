package chi

import (
	"net/http"

	gochi "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/imgdex/internal/domain"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
)

// QueryImages handles POST /v1/images/query.
func (s *Server) QueryImages(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sq, err := req.toDomain()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res, err := s.svc.Search.Search(r.Context(), searchuc.Request{
		Spec:       req.spec(),
		Vector:     req.Vector,
		Similarity: sq,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := queryResponse{IDs: res.IDs, Total: len(res.IDs), Branches: res.Branches}
	if res.Ranked != nil {
		ranked := similarItems(res.Ranked)
		resp.Ranked = &ranked
	}
	writeJSON(w, http.StatusOK, resp)
}

// SearchByVector handles POST /v1/images/similar.
func (s *Server) SearchByVector(w http.ResponseWriter, r *http.Request) {
	var req vectorSearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sq, err := req.toDomain()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	hits, err := s.svc.Similarity.SearchByVector(r.Context(), req.Vector, sq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[similarItem]{Items: similarItems(hits)})
}

// SimilarTo handles GET /v1/images/{id}/similar.
func (s *Server) SimilarTo(w http.ResponseWriter, r *http.Request) {
	id, sq, ok := s.imageQuery(w, r)
	if !ok {
		return
	}
	hits, err := s.svc.Similarity.SimilarTo(r.Context(), id, sq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[similarItem]{Items: similarItems(hits)})
}

// SuggestTags handles GET /v1/images/{id}/tags/suggest.
func (s *Server) SuggestTags(w http.ResponseWriter, r *http.Request) {
	id, sq, ok := s.imageQuery(w, r)
	if !ok {
		return
	}
	tags, err := s.svc.Similarity.SuggestTags(r.Context(), id, sq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items := make([]tagItem, len(tags))
	for i, t := range tags {
		items[i] = tagItem{ImageID: t.ImageID, Tags: t.Tags, Similarity: t.Similarity}
	}
	writeJSON(w, http.StatusOK, listResponse[tagItem]{Items: items})
}

func (s *Server) imageQuery(w http.ResponseWriter, r *http.Request) (int64, domain.SimilarityQuery, bool) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return 0, domain.SimilarityQuery{}, false
	}
	p, err := similarityParamsFromQuery(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return 0, domain.SimilarityQuery{}, false
	}
	sq, err := p.toDomain()
	if err != nil {
		s.handleDomainError(w, r, err)
		return 0, domain.SimilarityQuery{}, false
	}
	return id, sq, true
}

// BatchSimilar handles POST /v1/images/similar/batch.
func (s *Server) BatchSimilar(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TopK > 0 {
		req.Limit = req.TopK
	}
	sq, err := req.toDomain()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	pairs, err := s.svc.Similarity.Batch(r.Context(), req.ImageIDs, sq)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	items := make([]pairItem, len(pairs))
	for i, p := range pairs {
		items[i] = pairItem{SourceID: p.SourceID, SimilarID: p.SimilarID, Similarity: p.Similarity}
	}
	writeJSON(w, http.StatusOK, listResponse[pairItem]{Items: items})
}

// UpdateVectors handles PUT /v1/images/{id}/vectors.
func (s *Server) UpdateVectors(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	var req vectorsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := req.update(id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.svc.Similarity.UpdateEmbeddings(r.Context(), u); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateVectorsBatch handles POST /v1/images/vectors/batch.
func (s *Server) UpdateVectorsBatch(w http.ResponseWriter, r *http.Request) {
	var req vectorsBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updates := make([]domain.EmbeddingUpdate, 0, len(req.Updates))
	for _, item := range req.Updates {
		u, err := item.update(item.ImageID)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		updates = append(updates, u)
	}
	if err := s.svc.Similarity.UpdateEmbeddingsBatch(r.Context(), updates); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetEmbeddings handles GET /v1/images/{id}/embeddings.
func (s *Server) GetEmbeddings(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	refs, err := s.svc.Cache.Refs(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	out := embeddingsResponse{ImageID: id, Refs: make(map[string]int64, len(refs.Refs))}
	for role, entry := range refs.Refs {
		out.Refs[string(role)] = entry
	}
	out.Named = usageItems(s.svc.Named.ListUsage(r.Context(), id))
	writeJSON(w, http.StatusOK, out)
}

// AdoptEmbedding handles PUT /v1/images/{id}/embeddings/{role}.
func (s *Server) AdoptEmbedding(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	role, err := roleParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	var req adoptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	vectors, err := req.vectors()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	a, err := s.svc.Cache.Adopt(r.Context(), id, role, req.Content, vectors)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if a.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, adoptResponse{EntryID: a.EntryID, Reused: a.Reused})
}

// ReleaseEmbeddings handles DELETE /v1/images/{id}/embeddings.
func (s *Server) ReleaseEmbeddings(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	n, err := s.svc.Cache.Release(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{Released: n})
}

// RecomputeNamed handles POST /v1/images/{id}/named.
func (s *Server) RecomputeNamed(w http.ResponseWriter, r *http.Request) {
	id, err := imageIDParam(r)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	var req recomputeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	usages, err := s.svc.Named.Recompute(r.Context(), id, req.Prompt)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[usageItem]{Items: usageItems(usages)})
}

// Coverage handles GET /v1/stats/coverage.
func (s *Server) Coverage(w http.ResponseWriter, r *http.Request) {
	c := s.svc.Similarity.Coverage(r.Context())
	writeJSON(w, http.StatusOK, coverageResponse{
		TotalImages:            c.TotalImages,
		PromptCoverage:         c.PromptCoverage,
		NegativePromptCoverage: c.NegativePromptCoverage,
		ImageCoverage:          c.ImageCoverage,
	})
}

// CacheStats handles GET /v1/stats/cache.
func (s *Server) CacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsToResponse(s.svc.Cache.Stats(r.Context())))
}

// Reclaim handles POST /v1/cache/reclaim.
func (s *Server) Reclaim(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Cache.Reclaim(r.Context())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reclaimResponse{Reclaimed: n})
}

// SyncRegistry handles PUT /v1/registry.
func (s *Server) SyncRegistry(w http.ResponseWriter, r *http.Request) {
	var req registryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	entries := req.entries()
	if err := s.svc.Named.SyncRegistry(r.Context(), entries); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Synced: len(entries)})
}

// ListRegistry handles GET /v1/registry.
func (s *Server) ListRegistry(w http.ResponseWriter, r *http.Request) {
	entries := s.svc.Named.ListRegistry(r.Context())
	items := make([]registryItem, len(entries))
	for i, e := range entries {
		items[i] = registryToItem(e)
	}
	writeJSON(w, http.StatusOK, listResponse[registryItem]{Items: items})
}

// GetRegistry handles GET /v1/registry/{name}.
func (s *Server) GetRegistry(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.Named.GetRegistry(r.Context(), gochi.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registryToItem(*e))
}
