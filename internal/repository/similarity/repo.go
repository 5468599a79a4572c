// Package similarity ranks catalog images by cosine similarity of their direct vector columns.
//
// Similarity is 1 - cosine distance. Thresholds are inclusive and results are
// ordered by ascending distance; equal distances come back in store order.
package similarity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/dialect"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// DefaultBatchSize is the number of updates written per batch round trip.
const DefaultBatchSize = 100

// store is the consumer interface for similarity operations (ISP).
type store interface {
	db.Querier
	db.VectorCodec
	db.Transactor
	Dialect() dialect.Dialect
}

// Repo runs similarity queries against the catalog.
type Repo struct {
	store     store
	dialect   dialect.Dialect
	batchSize int
	duration  *prometheus.HistogramVec
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a similarity repository.
// duration is a histogram vec with label "op", passed explicitly; batchSize <= 0 selects DefaultBatchSize.
func New(s store, batchSize int, duration *prometheus.HistogramVec, logger *zap.Logger) *Repo {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Repo{
		store:     s,
		dialect:   s.Dialect(),
		batchSize: batchSize,
		duration:  duration,
		now:       time.Now,
		logger:    logger,
	}
}

// WithClock returns a copy using now for embeddings_updated_at.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	c := *r
	c.now = now
	return &c
}

func (r *Repo) observe(op string, start time.Time) {
	if r.duration != nil {
		r.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func validateRange(column domain.Column, threshold float64, limit int) error {
	if !column.Valid() {
		return domain.NewInvalidArgument("column", fmt.Sprintf("unknown vector column %q", column))
	}
	if threshold < -1 || threshold > 1 {
		return domain.NewInvalidArgument("threshold", "must be within [-1, 1]")
	}
	if limit <= 0 {
		return domain.NewInvalidArgument("limit", "must be positive")
	}
	return nil
}

// maxDistance converts an inclusive similarity threshold to a distance bound.
func maxDistance(threshold float64) float64 { return 1 - threshold }

// SearchByVector ranks images whose column vector is within threshold of vector.
func (r *Repo) SearchByVector(
	ctx context.Context, vector []float32, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	if len(vector) == 0 {
		return nil, domain.NewInvalidArgument("vector", "must not be empty")
	}
	if err := validateRange(column, threshold, limit); err != nil {
		return nil, err
	}
	defer r.observe("search_by_vector", time.Now())

	col := string(column)
	q := "SELECT id, dist FROM (SELECT id, " + r.dialect.CosineDistance(col, "?") + " AS dist " +
		"FROM image WHERE " + col + " IS NOT NULL) AS scored " +
		"WHERE dist <= ? ORDER BY dist LIMIT ?"

	out, err := r.scanSimilar(ctx, q, r.store.VectorArg(vector), maxDistance(threshold), limit)
	if err != nil {
		r.logger.Warn("Failed to search by vector", zap.String("column", col), zap.Error(err))
		return []domain.SimilarImage{}, nil
	}
	return out, nil
}

// SearchSimilarImages ranks images similar to imageID on column, excluding imageID itself.
func (r *Repo) SearchSimilarImages(
	ctx context.Context, imageID int64, column domain.Column, threshold float64, limit int,
) ([]domain.SimilarImage, error) {
	if err := validateRange(column, threshold, limit); err != nil {
		return nil, err
	}
	defer r.observe("search_similar_images", time.Now())

	q := r.neighborQuery(column, false)
	out, err := r.scanSimilar(ctx, q, imageID, maxDistance(threshold), limit)
	if err != nil {
		r.logger.Warn("Failed to search similar images", zap.Int64("image_id", imageID), zap.Error(err))
		return []domain.SimilarImage{}, nil
	}
	return out, nil
}

// AutoTagBySimilarity returns the tags of the closest tagged neighbors of imageID.
// Repeated tag text across neighbors is kept.
func (r *Repo) AutoTagBySimilarity(
	ctx context.Context, imageID int64, column domain.Column, threshold float64, topK int,
) ([]domain.TagSuggestion, error) {
	if err := validateRange(column, threshold, topK); err != nil {
		return nil, err
	}
	defer r.observe("auto_tag", time.Now())

	out, err := r.scanTags(ctx, r.neighborQuery(column, true), imageID, maxDistance(threshold), topK)
	if err != nil {
		r.logger.Warn("Failed to suggest tags", zap.Int64("image_id", imageID), zap.Error(err))
		return []domain.TagSuggestion{}, nil
	}
	return out, nil
}

// neighborQuery ranks other images against one source image. Bindings: source id, max distance, limit.
func (r *Repo) neighborQuery(column domain.Column, withTags bool) string {
	col := string(column)
	dist := r.dialect.CosineDistance("cand."+col, "src."+col)
	sel, outer := "cand.id AS id", "id"
	where := ""
	if withTags {
		sel += ", cand.tags AS tags"
		outer += ", tags"
		where = " AND cand.tags IS NOT NULL"
	}
	return "SELECT " + outer + ", dist FROM (" +
		"SELECT " + sel + ", " + dist + " AS dist " +
		"FROM image AS src JOIN image AS cand ON cand.id <> src.id " +
		"WHERE src.id = ? AND src." + col + " IS NOT NULL AND cand." + col + " IS NOT NULL" + where +
		") AS scored WHERE dist <= ? ORDER BY dist LIMIT ?"
}

func (r *Repo) scanSimilar(ctx context.Context, q string, args ...any) ([]domain.SimilarImage, error) {
	rows, err := r.store.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.SimilarImage{}
	for rows.Next() {
		var (
			id   int64
			dist float64
		)
		if err := rows.Scan(&id, &dist); err != nil {
			return nil, err
		}
		out = append(out, domain.SimilarImage{ID: id, Similarity: 1 - dist})
	}
	return out, rows.Err()
}

func (r *Repo) scanTags(ctx context.Context, q string, args ...any) ([]domain.TagSuggestion, error) {
	rows, err := r.store.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.TagSuggestion{}
	for rows.Next() {
		var (
			s    domain.TagSuggestion
			dist float64
		)
		if err := rows.Scan(&s.ImageID, &s.Tags, &dist); err != nil {
			return nil, err
		}
		s.Similarity = 1 - dist
		out = append(out, s)
	}
	return out, rows.Err()
}

// BatchSimilaritySearch returns, per source image, up to topK other images at
// or above threshold in one query. Rows are grouped by source id and ordered by
// descending similarity within a group.
func (r *Repo) BatchSimilaritySearch(
	ctx context.Context, imageIDs []int64, column domain.Column, threshold float64, topK int,
) ([]domain.SimilarPair, error) {
	if err := validateRange(column, threshold, topK); err != nil {
		return nil, err
	}
	if len(imageIDs) == 0 {
		return []domain.SimilarPair{}, nil
	}
	defer r.observe("batch_similarity", time.Now())

	q, args := r.batchQuery(imageIDs, column, maxDistance(threshold), topK)
	rows, err := r.store.Query(ctx, q, args...)
	if err != nil {
		r.logger.Warn("Failed to run batch similarity", zap.Int("sources", len(imageIDs)), zap.Error(err))
		return []domain.SimilarPair{}, nil
	}
	defer rows.Close()

	out := []domain.SimilarPair{}
	for rows.Next() {
		var (
			p    domain.SimilarPair
			dist float64
		)
		if err := rows.Scan(&p.SourceID, &p.SimilarID, &dist); err != nil {
			r.logger.Warn("Failed to scan batch similarity row", zap.Error(err))
			return []domain.SimilarPair{}, nil
		}
		p.Similarity = 1 - dist
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		r.logger.Warn("Failed to read batch similarity rows", zap.Error(err))
		return []domain.SimilarPair{}, nil
	}
	return out, nil
}

// batchQuery expands every source into its top-K neighbors. Postgres uses a
// LATERAL subquery per source; engines without LATERAL rank with ROW_NUMBER.
func (r *Repo) batchQuery(ids []int64, column domain.Column, maxDist float64, topK int) (string, []any) {
	col := string(column)
	dist := r.dialect.CosineDistance("cand."+col, "src."+col)
	inSQL, inArgs := r.dialect.InInt64("src.id", ids)

	if r.dialect.SupportsLateral() {
		q := "SELECT src.id, nb.id, nb.dist FROM image AS src CROSS JOIN LATERAL (" +
			"SELECT cand.id AS id, " + dist + " AS dist FROM image AS cand " +
			"WHERE cand.id <> src.id AND cand." + col + " IS NOT NULL AND " + dist + " <= ? " +
			"ORDER BY dist LIMIT ?) AS nb " +
			"WHERE " + inSQL + " AND src." + col + " IS NOT NULL " +
			"ORDER BY src.id, nb.dist"
		args := append([]any{maxDist, topK}, inArgs...)
		return q, args
	}

	q := "SELECT source_id, similar_id, dist FROM (" +
		"SELECT src.id AS source_id, cand.id AS similar_id, " + dist + " AS dist, " +
		"ROW_NUMBER() OVER (PARTITION BY src.id ORDER BY " + dist + ") AS rn " +
		"FROM image AS src JOIN image AS cand ON cand.id <> src.id AND cand." + col + " IS NOT NULL " +
		"WHERE " + inSQL + " AND src." + col + " IS NOT NULL AND " + dist + " <= ?" +
		") AS ranked WHERE rn <= ? ORDER BY source_id, dist"
	args := append(inArgs, maxDist, topK)
	return q, args
}

// CoverageStatistics reports the share of images with each vector populated.
func (r *Repo) CoverageStatistics(ctx context.Context) domain.Coverage {
	defer r.observe("coverage", time.Now())

	var total, prompt, negative, image int64
	err := r.store.QueryRow(ctx,
		"SELECT COUNT(*), COUNT(prompt_embedding), COUNT(negative_prompt_embedding), COUNT(image_embedding) FROM image",
	).Scan(&total, &prompt, &negative, &image)
	if err != nil {
		r.logger.Warn("Failed to compute coverage", zap.Error(err))
		return domain.NewCoverage(0, 0, 0, 0)
	}
	return domain.NewCoverage(total, prompt, negative, image)
}

// UpdateEmbeddings writes the given vector columns of one image and stamps embeddings_updated_at.
func (r *Repo) UpdateEmbeddings(ctx context.Context, u domain.EmbeddingUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}
	st := r.updateStatement(u, r.now().UTC())
	n, err := r.store.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		r.logger.Error("Failed to update embeddings", zap.Int64("image_id", u.ImageID), zap.Error(err))
		return fmt.Errorf("update embeddings: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: image %d", domain.ErrNotFound, u.ImageID)
	}
	return nil
}

// UpdateEmbeddingsBatch applies every update in one transaction, sent in
// chunks of the configured batch size. Any failure rolls back all of them.
// Updates for unknown image ids change nothing.
func (r *Repo) UpdateEmbeddingsBatch(ctx context.Context, updates []domain.EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	for i, u := range updates {
		if err := u.Validate(); err != nil {
			return fmt.Errorf("update %d: %w", i, err)
		}
	}
	defer r.observe("update_embeddings_batch", time.Now())

	now := r.now().UTC()
	err := r.store.WithTx(ctx, func(tx db.Tx) error {
		for start := 0; start < len(updates); start += r.batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(start+r.batchSize, len(updates))
			stmts := make([]db.Statement, 0, end-start)
			for _, u := range updates[start:end] {
				stmts = append(stmts, r.updateStatement(u, now))
			}
			if err := tx.ExecBatch(ctx, stmts); err != nil {
				return fmt.Errorf("chunk at %d: %w", start, err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to update embeddings batch", zap.Int("updates", len(updates)), zap.Error(err))
		return fmt.Errorf("update embeddings batch: %w", err)
	}
	return nil
}

func (r *Repo) updateStatement(u domain.EmbeddingUpdate, now time.Time) db.Statement {
	cols := u.Columns()
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, string(c)+" = ?")
		args = append(args, r.store.VectorArg(u.Vectors[c]))
	}
	sets = append(sets, "embeddings_updated_at = ?")
	args = append(args, now, u.ImageID)
	return db.Statement{
		SQL:  "UPDATE image SET " + strings.Join(sets, ", ") + " WHERE id = ?",
		Args: args,
	}
}
