// Package simcache caches vector similarity results in a key-value store.
package simcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// KeyPrefix namespaces every cached result.
const KeyPrefix = "sim:"

// store is the consumer interface for the result cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DelPrefix(ctx context.Context, prefix string) (int, error)
}

// inner is the similarity layer being decorated.
type inner interface {
	SearchByVector(ctx context.Context, vector []float32, column domain.Column, threshold float64, limit int) ([]domain.SimilarImage, error)
	SearchSimilarImages(ctx context.Context, imageID int64, column domain.Column, threshold float64, limit int) ([]domain.SimilarImage, error)
	BatchSimilaritySearch(ctx context.Context, imageIDs []int64, column domain.Column, threshold float64, topK int) ([]domain.SimilarPair, error)
	AutoTagBySimilarity(ctx context.Context, imageID int64, column domain.Column, threshold float64, topK int) ([]domain.TagSuggestion, error)
	CoverageStatistics(ctx context.Context) domain.Coverage
	UpdateEmbeddings(ctx context.Context, u domain.EmbeddingUpdate) error
	UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) error
}

// Cache caches SearchByVector results and drops them all after any embedding write.
type Cache struct {
	inner      inner
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(in inner, s store, ttl time.Duration, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{
		inner:      in,
		store:      s,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// SearchByVector returns a cached ranking or runs the inner search.
// Empty rankings are not cached.
func (c *Cache) SearchByVector(
	ctx context.Context, vector []float32, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	key := cacheKey(vector, column, threshold, limit)

	if hits, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return hits, nil
	}
	c.incCache("miss")

	hits, err := c.inner.SearchByVector(ctx, vector, column, threshold, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		c.putToCache(ctx, key, hits)
	}
	return hits, nil
}

// SearchSimilarImages delegates to the inner layer.
func (c *Cache) SearchSimilarImages(
	ctx context.Context, imageID int64, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	return c.inner.SearchSimilarImages(ctx, imageID, column, threshold, limit)
}

// BatchSimilaritySearch delegates to the inner layer.
func (c *Cache) BatchSimilaritySearch(
	ctx context.Context, imageIDs []int64, column domain.Column, threshold float64, topK int,
) ([]domain.SimilarPair, error) {
	return c.inner.BatchSimilaritySearch(ctx, imageIDs, column, threshold, topK)
}

// AutoTagBySimilarity delegates to the inner layer.
func (c *Cache) AutoTagBySimilarity(
	ctx context.Context, imageID int64, column domain.Column, threshold float64, topK int,
) ([]domain.TagSuggestion, error) {
	return c.inner.AutoTagBySimilarity(ctx, imageID, column, threshold, topK)
}

// CoverageStatistics delegates to the inner layer.
func (c *Cache) CoverageStatistics(ctx context.Context) domain.Coverage {
	return c.inner.CoverageStatistics(ctx)
}

// UpdateEmbeddings writes through and invalidates cached rankings.
func (c *Cache) UpdateEmbeddings(ctx context.Context, u domain.EmbeddingUpdate) error {
	if err := c.inner.UpdateEmbeddings(ctx, u); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// UpdateEmbeddingsBatch writes through and invalidates cached rankings.
func (c *Cache) UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) error {
	if err := c.inner.UpdateEmbeddingsBatch(ctx, updates); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate drops every cached ranking. Failures are logged; entries then
// expire through their TTL.
func (c *Cache) Invalidate(ctx context.Context) {
	if _, err := c.store.DelPrefix(ctx, KeyPrefix); err != nil {
		c.logger.Warn("Failed to invalidate similarity cache", zap.Error(err))
	}
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func cacheKey(vector []float32, column domain.Column, threshold float64, limit int) string {
	h := sha256.New()
	h.Write([]byte(column))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(threshold, 'g', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(limit)))
	h.Write([]byte{0})
	buf := make([]byte, 4)
	for _, f := range vector {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		h.Write(buf)
	}
	return KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

type cachedHit struct {
	ID         int64   `json:"id"`
	Similarity float64 `json:"s"`
}

func (c *Cache) getFromCache(ctx context.Context, key string) ([]domain.SimilarImage, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached ranking", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var cached []cachedHit
	if err := json.Unmarshal(data, &cached); err != nil {
		c.logger.Warn("Failed to parse cached ranking", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if len(cached) == 0 {
		return nil, false
	}
	hits := make([]domain.SimilarImage, len(cached))
	for i, h := range cached {
		hits[i] = domain.SimilarImage{ID: h.ID, Similarity: h.Similarity}
	}
	return hits, true
}

func (c *Cache) putToCache(ctx context.Context, key string, hits []domain.SimilarImage) {
	cached := make([]cachedHit, len(hits))
	for i, h := range hits {
		cached[i] = cachedHit{ID: h.ID, Similarity: h.Similarity}
	}
	data, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn("Failed to encode ranking", zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache ranking", zap.String("key", key), zap.Error(err))
	}
}
