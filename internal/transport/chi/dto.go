package chi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	gochi "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/query"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// similarityParams are the shared knobs of every similarity request.
type similarityParams struct {
	Column    string   `json:"column,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

func (p similarityParams) toDomain() (domain.SimilarityQuery, error) {
	q := domain.SimilarityQuery{Threshold: p.Threshold, Limit: p.Limit}
	if p.Column != "" {
		col, err := domain.ParseColumn(p.Column)
		if err != nil {
			return domain.SimilarityQuery{}, err
		}
		q.Column = col
	}
	return q, nil
}

// similarityParamsFromQuery reads column, threshold and limit from the URL query.
func similarityParamsFromQuery(r *http.Request) (similarityParams, error) {
	v := r.URL.Query()
	p := similarityParams{Column: v.Get("column")}
	if raw := v.Get("threshold"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return p, domain.NewInvalidArgument("threshold", "must be a number")
		}
		p.Threshold = &f
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, domain.NewInvalidArgument("limit", "must be an integer")
		}
		p.Limit = n
	}
	return p, nil
}

func imageIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(gochi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewInvalidArgument("id", "must be a positive integer")
	}
	return id, nil
}

type modelsRequest struct {
	IDs    []int64  `json:"ids,omitempty"`
	Hashes []string `json:"hashes,omitempty"`
	Names  []string `json:"names,omitempty"`
}

type viewRequest struct {
	FavoritesOnly bool          `json:"favorites_only"`
	DeletedOnly   bool          `json:"deleted_only"`
	AlbumIDs      []int64       `json:"album_ids,omitempty"`
	Models        modelsRequest `json:"models"`
	Folder        string        `json:"folder,omitempty"`
}

type queryRequest struct {
	Text            string      `json:"text"`
	NodeSearch      bool        `json:"node_search"`
	HideNSFW        bool        `json:"hide_nsfw"`
	HideDeleted     bool        `json:"hide_deleted"`
	HideUnavailable bool        `json:"hide_unavailable"`
	View            viewRequest `json:"view"`
	Vector          []float32   `json:"vector,omitempty"`
	similarityParams
}

func (q queryRequest) spec() query.Spec {
	text, tokens := query.SimpleText(q.Text)
	return query.Spec{
		Filter: query.Visibility{
			HideNSFW:        q.HideNSFW,
			HideDeleted:     q.HideDeleted,
			HideUnavailable: q.HideUnavailable,
		}.Fragment(),
		Text:       text,
		Tokens:     tokens,
		NodeSearch: q.NodeSearch,
		View: query.View{
			FavoritesOnly: q.View.FavoritesOnly,
			DeletedOnly:   q.View.DeletedOnly,
			AlbumIDs:      q.View.AlbumIDs,
			Models: query.Models{
				IDs:    q.View.Models.IDs,
				Hashes: q.View.Models.Hashes,
				Names:  q.View.Models.Names,
			},
			Folder: q.View.Folder,
		},
	}
}

type similarItem struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"similarity"`
}

func similarItems(hits []domain.SimilarImage) []similarItem {
	out := make([]similarItem, len(hits))
	for i, h := range hits {
		out[i] = similarItem{ID: h.ID, Similarity: h.Similarity}
	}
	return out
}

type queryResponse struct {
	IDs      []int64        `json:"ids"`
	Total    int            `json:"total"`
	Ranked   *[]similarItem `json:"ranked,omitempty"`
	Branches int            `json:"branches"`
}

type vectorSearchRequest struct {
	Vector []float32 `json:"vector"`
	similarityParams
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type batchRequest struct {
	ImageIDs []int64 `json:"image_ids"`
	TopK     int     `json:"top_k,omitempty"`
	similarityParams
}

type pairItem struct {
	SourceID   int64   `json:"source_id"`
	SimilarID  int64   `json:"similar_id"`
	Similarity float64 `json:"similarity"`
}

type tagItem struct {
	ImageID    int64   `json:"image_id"`
	Tags       string  `json:"tags"`
	Similarity float64 `json:"similarity"`
}

type coverageResponse struct {
	TotalImages            int64   `json:"total_images"`
	PromptCoverage         float64 `json:"prompt_coverage"`
	NegativePromptCoverage float64 `json:"negative_prompt_coverage"`
	ImageCoverage          float64 `json:"image_coverage"`
}

type entrySummary struct {
	ID             int64  `json:"id"`
	ContentHash    string `json:"content_hash"`
	ContentType    string `json:"content_type"`
	ReferenceCount int64  `json:"reference_count"`
}

type cacheStatsResponse struct {
	TotalEntries      int64          `json:"total_entries"`
	TotalReferences   int64          `json:"total_references"`
	TotalStorageBytes int64          `json:"total_storage_bytes"`
	ReuseRate         float64        `json:"reuse_rate"`
	StorageSavedBytes int64          `json:"storage_saved_bytes"`
	TopReused         []entrySummary `json:"top_reused"`
}

func cacheStatsToResponse(s domain.CacheStats) cacheStatsResponse {
	top := make([]entrySummary, len(s.TopReused))
	for i, e := range s.TopReused {
		top[i] = entrySummary{
			ID:             e.ID,
			ContentHash:    e.ContentHash,
			ContentType:    string(e.ContentType),
			ReferenceCount: e.ReferenceCount,
		}
	}
	return cacheStatsResponse{
		TotalEntries:      s.TotalEntries,
		TotalReferences:   s.TotalReferences,
		TotalStorageBytes: s.TotalStorageBytes,
		ReuseRate:         s.ReuseRate,
		StorageSavedBytes: s.StorageSavedBytes,
		TopReused:         top,
	}
}

type reclaimResponse struct {
	Reclaimed int64 `json:"reclaimed"`
}

type adoptRequest struct {
	Content string               `json:"content"`
	Vectors map[string][]float32 `json:"vectors"`
}

func (a adoptRequest) vectors() (domain.Vectors, error) {
	out := make(domain.Vectors, len(a.Vectors))
	for name, v := range a.Vectors {
		space, err := domain.ParseVectorSpace(name)
		if err != nil {
			return nil, err
		}
		out[space] = v
	}
	return out, nil
}

type adoptResponse struct {
	EntryID int64 `json:"entry_id"`
	Reused  bool  `json:"reused"`
}

type releaseResponse struct {
	Released int `json:"released"`
}

type vectorsRequest struct {
	ImageID int64                `json:"image_id,omitempty"`
	Vectors map[string][]float32 `json:"vectors"`
}

func (v vectorsRequest) update(imageID int64) (domain.EmbeddingUpdate, error) {
	u := domain.EmbeddingUpdate{ImageID: imageID, Vectors: make(map[domain.Column][]float32, len(v.Vectors))}
	for name, vec := range v.Vectors {
		col, err := domain.ParseColumn(name)
		if err != nil {
			return domain.EmbeddingUpdate{}, err
		}
		u.Vectors[col] = vec
	}
	return u, nil
}

type vectorsBatchRequest struct {
	Updates []vectorsRequest `json:"updates"`
}

type usageItem struct {
	EmbeddingName string  `json:"embedding_name"`
	Weight        float64 `json:"weight"`
	IsImplicit    bool    `json:"is_implicit"`
}

func usageItems(us []domain.ImageEmbeddingUsage) []usageItem {
	out := make([]usageItem, len(us))
	for i, u := range us {
		out[i] = usageItem{EmbeddingName: u.EmbeddingName, Weight: u.Weight, IsImplicit: u.IsImplicit}
	}
	return out
}

type embeddingsResponse struct {
	ImageID int64            `json:"image_id"`
	Refs    map[string]int64 `json:"refs"`
	Named   []usageItem      `json:"named"`
}

type recomputeRequest struct {
	Prompt string `json:"prompt"`
}

type registryItem struct {
	Name          string     `json:"name"`
	Author        string     `json:"author,omitempty"`
	BaseModel     string     `json:"base_model,omitempty"`
	TriggerPhrase string     `json:"trigger_phrase,omitempty"`
	TrainedWords  []string   `json:"trained_words,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func registryToItem(e domain.RegistryEntry) registryItem {
	item := registryItem{
		Name:          e.Name,
		Author:        e.Author,
		BaseModel:     e.BaseModel,
		TriggerPhrase: e.TriggerPhrase,
		TrainedWords:  e.TrainedWords,
	}
	if !e.UpdatedAt.IsZero() {
		t := e.UpdatedAt.UTC()
		item.UpdatedAt = &t
	}
	return item
}

type registryRequest struct {
	Entries []registryItem `json:"entries"`
}

func (r registryRequest) entries() []domain.RegistryEntry {
	out := make([]domain.RegistryEntry, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = domain.RegistryEntry{
			Name:          e.Name,
			Author:        e.Author,
			BaseModel:     e.BaseModel,
			TriggerPhrase: e.TriggerPhrase,
			TrainedWords:  e.TrainedWords,
		}
	}
	return out
}

type syncResponse struct {
	Synced int `json:"synced"`
}

func roleParam(r *http.Request) (domain.Role, error) {
	role, err := domain.ParseRole(gochi.URLParam(r, "role"))
	if err != nil {
		return "", fmt.Errorf("role: %w", err)
	}
	return role, nil
}
