package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/compiler"
	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/db/dbtest"
	"github.com/kailas-cloud/imgdex/internal/db/sqlite"
	"github.com/kailas-cloud/imgdex/internal/dialect"
	"github.com/kailas-cloud/imgdex/internal/repository/catalog"
	"github.com/kailas-cloud/imgdex/internal/repository/embcache"
	namedrepo "github.com/kailas-cloud/imgdex/internal/repository/named"
	simrepo "github.com/kailas-cloud/imgdex/internal/repository/similarity"
	cacheuc "github.com/kailas-cloud/imgdex/internal/usecase/cache"
	healthuc "github.com/kailas-cloud/imgdex/internal/usecase/health"
	nameduc "github.com/kailas-cloud/imgdex/internal/usecase/named"
	searchuc "github.com/kailas-cloud/imgdex/internal/usecase/search"
	simuc "github.com/kailas-cloud/imgdex/internal/usecase/similarity"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T, apiKeys ...string) (http.Handler, *sqlite.Store) {
	t.Helper()
	s := dbtest.New(t)
	dbtest.InsertImages(t, s,
		dbtest.Image{ID: 1, Prompt: "a cat", ImageVec: []float32{1, 0}, Tags: dbtest.Str("cat,indoor")},
		dbtest.Image{ID: 2, Prompt: "a cat", ImageVec: []float32{0.8, 0.6}, ForDeletion: true},
		dbtest.Image{ID: 3, Prompt: "a dog", ImageVec: []float32{0.6, 0.8}, Tags: dbtest.Str("dog")},
	)
	log := zap.NewNop()

	cacheRepo := embcache.New(s, nil, log)
	sim := simuc.New(simrepo.New(s, 0, nil, log), simuc.DefaultDefaults())
	svc := Services{
		Search: searchuc.New(
			compiler.New(compiler.Options{Dialect: dialect.SQLite}),
			catalog.New(s, log), sim, nil,
		),
		Similarity: sim,
		Cache: cacheuc.New(s, cacheRepo,
			func(q db.Querier) cacheuc.Repository { return cacheRepo.WithQuerier(q) }, log),
		Named:  nameduc.New(namedrepo.New(s, log)),
		Health: healthuc.New(s, nil),
	}
	return NewRouter(NewServer(svc), apiKeys, log), s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestServer(t)
	rr := do(t, h, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[healthResponse](t, rr)
	if resp.Status != "ok" || resp.Checks["database"] != "ok" {
		t.Errorf("resp = %+v", resp)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestHealthCheck_Degraded(t *testing.T) {
	s := dbtest.New(t)
	srv := NewServer(Services{Health: healthuc.New(s, failingPinger{})})
	rr := do(t, NewRouter(srv, nil, zap.NewNop()), "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[healthResponse](t, rr); resp.Status != "degraded" || resp.Checks["cache"] != "error" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	srv := NewServer(Services{Health: healthuc.New(failingPinger{}, nil)})
	rr := do(t, NewRouter(srv, nil, zap.NewNop()), "GET", "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[healthResponse](t, rr); resp.Status != "error" || resp.Checks["database"] != "error" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestQueryImages(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "POST", "/v1/images/query", map[string]any{"text": "cat", "hide_deleted": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[queryResponse](t, rr)
	if !slices.Equal(resp.IDs, []int64{1}) || resp.Total != 1 || resp.Ranked != nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestQueryImages_VectorStage(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "POST", "/v1/images/query", map[string]any{
		"vector":    []float32{1, 0},
		"threshold": 0.5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[queryResponse](t, rr)
	if resp.Ranked == nil || len(*resp.Ranked) != 3 || (*resp.Ranked)[0].ID != 1 {
		t.Errorf("ranked = %+v", resp.Ranked)
	}
}

func TestQueryImages_NodeSearchUnavailable(t *testing.T) {
	h, _ := newTestServer(t)
	rr := do(t, h, "POST", "/v1/images/query", map[string]any{"text": "cat", "node_search": true})
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeNotImplemented {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestQueryImages_BadBody(t *testing.T) {
	h, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/v1/images/query", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeBadRequest {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestSearchByVector(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "POST", "/v1/images/similar", map[string]any{
		"vector": []float32{1, 0}, "column": "image", "threshold": 0.7, "limit": 5,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[listResponse[similarItem]](t, rr)
	if len(resp.Items) != 2 || resp.Items[0].ID != 1 || resp.Items[1].ID != 2 {
		t.Errorf("items = %+v", resp.Items)
	}
}

func TestSearchByVector_Validation(t *testing.T) {
	h, _ := newTestServer(t)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty vector", map[string]any{"vector": []float32{}}},
		{"unknown column", map[string]any{"vector": []float32{1}, "column": "thumbnail"}},
		{"threshold out of range", map[string]any{"vector": []float32{1}, "threshold": 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, "POST", "/v1/images/similar", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
			}
			if resp := decode[ErrorResponse](t, rr); resp.Code != CodeValidationFailed {
				t.Errorf("code = %s", resp.Code)
			}
		})
	}
}

func TestSimilarTo(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "GET", "/v1/images/1/similar?threshold=0.7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[listResponse[similarItem]](t, rr)
	if len(resp.Items) != 1 || resp.Items[0].ID != 2 {
		t.Errorf("items = %+v", resp.Items)
	}

	if rr := do(t, h, "GET", "/v1/images/abc/similar", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", rr.Code)
	}
	if rr := do(t, h, "GET", "/v1/images/1/similar?limit=x", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
}

func TestSuggestTags(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "GET", "/v1/images/2/tags/suggest?threshold=0.5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[listResponse[tagItem]](t, rr)
	if len(resp.Items) != 2 {
		t.Fatalf("items = %+v", resp.Items)
	}
	for _, it := range resp.Items {
		if it.ImageID == 2 || it.Tags == "" {
			t.Errorf("unexpected suggestion %+v", it)
		}
	}
}

func TestBatchSimilar(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "POST", "/v1/images/similar/batch", map[string]any{
		"image_ids": []int64{1, 3}, "threshold": 0.7, "top_k": 1,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	resp := decode[listResponse[pairItem]](t, rr)
	want := []pairItem{{SourceID: 1, SimilarID: 2}, {SourceID: 3, SimilarID: 2}}
	if len(resp.Items) != len(want) {
		t.Fatalf("items = %+v", resp.Items)
	}
	for i, w := range want {
		if resp.Items[i].SourceID != w.SourceID || resp.Items[i].SimilarID != w.SimilarID {
			t.Errorf("items[%d] = %+v, want %+v", i, resp.Items[i], w)
		}
	}
}

func TestCoverage(t *testing.T) {
	h, _ := newTestServer(t)
	rr := do(t, h, "GET", "/v1/stats/coverage", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[coverageResponse](t, rr)
	if resp.TotalImages != 3 || resp.ImageCoverage != 1 || resp.PromptCoverage != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUpdateVectors(t *testing.T) {
	h, s := newTestServer(t)

	rr := do(t, h, "PUT", "/v1/images/3/vectors", map[string]any{
		"vectors": map[string][]float32{"prompt_embedding": {0, 1}},
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if n := dbtest.Count(t, s, "SELECT COUNT(*) FROM image WHERE prompt_embedding IS NOT NULL"); n != 1 {
		t.Errorf("prompt vectors = %d", n)
	}

	rr = do(t, h, "PUT", "/v1/images/99/vectors", map[string]any{
		"vectors": map[string][]float32{"prompt_embedding": {0, 1}},
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d", rr.Code)
	}
}

func TestUpdateVectorsBatch(t *testing.T) {
	h, s := newTestServer(t)

	rr := do(t, h, "POST", "/v1/images/vectors/batch", map[string]any{
		"updates": []map[string]any{
			{"image_id": 1, "vectors": map[string][]float32{"negative_prompt": {1}}},
			{"image_id": 2, "vectors": map[string][]float32{"negative_prompt": {1}}},
		},
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body)
	}
	if n := dbtest.Count(t, s, "SELECT COUNT(*) FROM image WHERE negative_prompt_embedding IS NOT NULL"); n != 2 {
		t.Errorf("negative vectors = %d", n)
	}
}

func TestEmbeddingLifecycle(t *testing.T) {
	h, _ := newTestServer(t)
	body := map[string]any{"content": "a cat", "vectors": map[string][]float32{"text": {1, 2}}}

	rr := do(t, h, "PUT", "/v1/images/1/embeddings/prompt", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("first adopt status = %d body = %s", rr.Code, rr.Body)
	}
	first := decode[adoptResponse](t, rr)

	rr = do(t, h, "PUT", "/v1/images/2/embeddings/prompt", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("second adopt status = %d", rr.Code)
	}
	if second := decode[adoptResponse](t, rr); !second.Reused || second.EntryID != first.EntryID {
		t.Errorf("second = %+v", second)
	}

	rr = do(t, h, "GET", "/v1/images/1/embeddings", nil)
	emb := decode[embeddingsResponse](t, rr)
	if emb.Refs["prompt"] != first.EntryID {
		t.Errorf("refs = %+v", emb.Refs)
	}

	stats := decode[cacheStatsResponse](t, do(t, h, "GET", "/v1/stats/cache", nil))
	if stats.TotalEntries != 1 || stats.TotalReferences != 2 || len(stats.TopReused) != 1 {
		t.Errorf("stats = %+v", stats)
	}

	for _, id := range []string{"1", "2"} {
		rr = do(t, h, "DELETE", "/v1/images/"+id+"/embeddings", nil)
		if rel := decode[releaseResponse](t, rr); rel.Released != 1 {
			t.Errorf("release %s = %+v", id, rel)
		}
	}
	if rec := decode[reclaimResponse](t, do(t, h, "POST", "/v1/cache/reclaim", nil)); rec.Reclaimed != 1 {
		t.Errorf("reclaimed = %d", rec.Reclaimed)
	}
}

func TestAdoptEmbedding_Validation(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "PUT", "/v1/images/1/embeddings/thumbnail", map[string]any{"content": "x"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d", rr.Code)
	}
	rr = do(t, h, "PUT", "/v1/images/1/embeddings/prompt", map[string]any{
		"content": "x", "vectors": map[string][]float32{"clip_h": {1}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad space status = %d", rr.Code)
	}
	rr = do(t, h, "PUT", "/v1/images/42/embeddings/prompt", map[string]any{
		"content": "x", "vectors": map[string][]float32{"text": {1}},
	})
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d", rr.Code)
	}
}

func TestNamedEmbeddings(t *testing.T) {
	h, _ := newTestServer(t)

	rr := do(t, h, "PUT", "/v1/registry", map[string]any{
		"entries": []map[string]any{{"name": "watercolor", "trigger_phrase": "wc style"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("sync status = %d body = %s", rr.Code, rr.Body)
	}

	rr = do(t, h, "GET", "/v1/registry/watercolor", nil)
	if item := decode[registryItem](t, rr); item.TriggerPhrase != "wc style" || item.UpdatedAt == nil {
		t.Errorf("registry item = %+v", item)
	}
	if rr := do(t, h, "GET", "/v1/registry/missing", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing registry status = %d", rr.Code)
	}

	rr = do(t, h, "POST", "/v1/images/1/named", map[string]any{"prompt": "embedding:foo:0.5, wc style"})
	if rr.Code != http.StatusOK {
		t.Fatalf("recompute status = %d body = %s", rr.Code, rr.Body)
	}
	if list := decode[listResponse[usageItem]](t, rr); len(list.Items) != 2 {
		t.Errorf("usages = %+v", list.Items)
	}

	emb := decode[embeddingsResponse](t, do(t, h, "GET", "/v1/images/1/embeddings", nil))
	if len(emb.Named) != 2 {
		t.Errorf("named = %+v", emb.Named)
	}
	if list := decode[listResponse[registryItem]](t, do(t, h, "GET", "/v1/registry", nil)); len(list.Items) != 1 {
		t.Errorf("registry = %+v", list.Items)
	}
}

func TestRecomputeNamed_UnreadableRegistryKeepsUsage(t *testing.T) {
	h, s := newTestServer(t)
	do(t, h, "PUT", "/v1/registry", map[string]any{
		"entries": []map[string]any{
			{"name": "watercolor", "trigger_phrase": "wc style"},
			{"name": "pixel", "trained_words": []string{"8bit"}},
		},
	})
	if rr := do(t, h, "POST", "/v1/images/1/named", map[string]any{"prompt": "wc style portrait"}); rr.Code != http.StatusOK {
		t.Fatalf("recompute status = %d body = %s", rr.Code, rr.Body)
	}
	if _, err := s.Exec(context.Background(),
		"UPDATE embedding_registry SET trained_words = '{not json' WHERE name = 'pixel'"); err != nil {
		t.Fatal(err)
	}

	if rr := do(t, h, "POST", "/v1/images/1/named", map[string]any{"prompt": "wc style portrait"}); rr.Code != http.StatusInternalServerError {
		t.Errorf("recompute status = %d, want 500", rr.Code)
	}
	emb := decode[embeddingsResponse](t, do(t, h, "GET", "/v1/images/1/embeddings", nil))
	if len(emb.Named) != 1 || emb.Named[0].EmbeddingName != "watercolor" {
		t.Errorf("named = %+v", emb.Named)
	}
}

func TestRouter_AuthAndNotFound(t *testing.T) {
	h, _ := newTestServer(t, "secret")

	if rr := do(t, h, "GET", "/v1/stats/coverage", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", rr.Code)
	}
	if rr := do(t, h, "GET", "/health", nil); rr.Code != http.StatusOK {
		t.Errorf("health status = %d", rr.Code)
	}

	req := httptest.NewRequest("GET", "/v1/nope", http.NoBody)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d", rr.Code)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", http.NoBody))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != CodeInternalError {
		t.Errorf("code = %s", resp.Code)
	}
}
