// Package embcache persists the content-addressed, reference-counted embedding cache.
package embcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/dialect"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// store is the consumer interface for the cache repository (ISP).
type store interface {
	db.Querier
	db.VectorCodec
	Dialect() dialect.Dialect
}

// Repo implements the embedding cache on the relational catalog.
type Repo struct {
	q       db.Querier
	codec   db.VectorCodec
	dialect dialect.Dialect
	ops     *prometheus.CounterVec
	now     func() time.Time
	logger  *zap.Logger
}

// New creates a cache repository.
// ops is a counter vec with label "op" ("insert"/"increment"/"decrement"/"reclaim"), passed explicitly.
func New(s store, ops *prometheus.CounterVec, logger *zap.Logger) *Repo {
	return &Repo{
		q:       s,
		codec:   s,
		dialect: s.Dialect(),
		ops:     ops,
		now:     time.Now,
		logger:  logger,
	}
}

// WithQuerier returns a copy bound to q, typically a transaction.
func (r *Repo) WithQuerier(q db.Querier) *Repo {
	c := *r
	c.q = q
	return &c
}

// WithClock returns a copy using now for timestamps.
func (r *Repo) WithClock(now func() time.Time) *Repo {
	c := *r
	c.now = now
	return &c
}

func (r *Repo) count(op string, n int) {
	if r.ops != nil && n > 0 {
		r.ops.WithLabelValues(op).Add(float64(n))
	}
}

var entryColumns = "id, content_hash, content_type, " +
	strings.Join(spaceColumns(), ", ") +
	", reference_count, created_at, last_used_at"

func spaceColumns() []string {
	cols := make([]string, len(domain.VectorSpaces))
	for i, s := range domain.VectorSpaces {
		cols[i] = s.Column()
	}
	return cols
}

// FindByContentHash returns the oldest entry with hash. Store failures are
// logged and reported as absent.
func (r *Repo) FindByContentHash(ctx context.Context, hash string) (*domain.CacheEntry, bool) {
	q := "SELECT " + entryColumns + " FROM embedding_cache WHERE content_hash = ? ORDER BY id LIMIT 1"

	var (
		e           domain.CacheEntry
		contentType string
		created     db.Time
		lastUsed    db.Time
	)
	dests := make([]db.VectorDest, len(domain.VectorSpaces))
	targets := []any{&e.ID, &e.ContentHash, &contentType}
	for i := range dests {
		dests[i] = r.codec.VectorDest()
		targets = append(targets, dests[i].Target())
	}
	targets = append(targets, &e.ReferenceCount, &created, &lastUsed)

	if err := r.q.QueryRow(ctx, q, hash).Scan(targets...); err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			r.logger.Warn("Failed to look up cache entry", zap.String("content_hash", hash), zap.Error(err))
		}
		return nil, false
	}

	e.ContentType = domain.Role(contentType)
	e.CreatedAt = created.Time
	e.LastUsedAt = lastUsed.Time
	e.Vectors = domain.Vectors{}
	for i, space := range domain.VectorSpaces {
		vec, err := dests[i].Vector()
		if err != nil {
			r.logger.Warn("Failed to decode cached vector",
				zap.Int64("entry_id", e.ID), zap.String("space", string(space)), zap.Error(err))
			return nil, false
		}
		if vec != nil {
			e.Vectors[space] = vec
		}
	}
	return &e, true
}

// Insert stores a new entry and returns its id. ReferenceCount is taken from
// the entry as given. Callers probe with FindByContentHash first; concurrent
// inserts of the same content may both succeed.
func (r *Repo) Insert(ctx context.Context, e domain.CacheEntry) (int64, error) {
	if e.ContentHash == "" {
		return 0, domain.NewInvalidArgument("content_hash", "must not be empty")
	}
	if !e.ContentType.Valid() {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidRole, e.ContentType)
	}
	if e.ReferenceCount < 0 {
		return 0, domain.NewInvalidArgument("reference_count", "must not be negative")
	}
	if err := e.Vectors.Validate(); err != nil {
		return 0, fmt.Errorf("insert cache entry: %w", err)
	}

	now := r.now().UTC()
	cols := append([]string{"content_hash", "content_type"}, spaceColumns()...)
	cols = append(cols, "reference_count", "created_at", "last_used_at")
	args := []any{e.ContentHash, string(e.ContentType)}
	for _, space := range domain.VectorSpaces {
		if vec, ok := e.Vectors[space]; ok {
			args = append(args, r.codec.VectorArg(vec))
		} else {
			args = append(args, nil)
		}
	}
	args = append(args, e.ReferenceCount, now, now)

	q := "INSERT INTO embedding_cache (" + strings.Join(cols, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ") RETURNING id"

	var id int64
	if err := r.q.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		r.logger.Error("Failed to insert cache entry", zap.String("content_hash", e.ContentHash), zap.Error(err))
		return 0, fmt.Errorf("insert cache entry: %w", err)
	}
	r.count("insert", 1)
	return id, nil
}

// IncrementReference atomically adds one reference and refreshes last_used_at.
func (r *Repo) IncrementReference(ctx context.Context, id int64) error {
	st := r.incrementStatement(id, 1)
	n, err := r.q.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		r.logger.Error("Failed to increment reference", zap.Int64("entry_id", id), zap.Error(err))
		return fmt.Errorf("increment reference: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrCacheEntryNotFound, id)
	}
	r.count("increment", 1)
	return nil
}

// DecrementReference atomically removes one reference. The count never goes below zero.
func (r *Repo) DecrementReference(ctx context.Context, id int64) error {
	st := r.decrementStatement(id, 1)
	n, err := r.q.Exec(ctx, st.SQL, st.Args...)
	if err != nil {
		r.logger.Error("Failed to decrement reference", zap.Int64("entry_id", id), zap.Error(err))
		return fmt.Errorf("decrement reference: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", domain.ErrCacheEntryNotFound, id)
	}
	r.count("decrement", 1)
	return nil
}

// ReferenceStatements renders count adjustments as single-statement atomic
// updates, for execution in one batch. Zero deltas are dropped.
func (r *Repo) ReferenceStatements(changes []domain.ReferenceChange) []db.Statement {
	stmts := make([]db.Statement, 0, len(changes))
	for _, c := range changes {
		switch {
		case c.Delta > 0:
			stmts = append(stmts, r.incrementStatement(c.EntryID, c.Delta))
		case c.Delta < 0:
			stmts = append(stmts, r.decrementStatement(c.EntryID, -c.Delta))
		}
	}
	return stmts
}

// CountApplied records reference changes applied through ReferenceStatements.
func (r *Repo) CountApplied(changes []domain.ReferenceChange) {
	for _, c := range changes {
		switch {
		case c.Delta > 0:
			r.count("increment", c.Delta)
		case c.Delta < 0:
			r.count("decrement", -c.Delta)
		}
	}
}

func (r *Repo) incrementStatement(id int64, n int) db.Statement {
	return db.Statement{
		SQL:  "UPDATE embedding_cache SET reference_count = reference_count + ?, last_used_at = ? WHERE id = ?",
		Args: []any{n, r.now().UTC(), id},
	}
}

func (r *Repo) decrementStatement(id int64, n int) db.Statement {
	return db.Statement{
		SQL: "UPDATE embedding_cache SET reference_count = " +
			"CASE WHEN reference_count > ? THEN reference_count - ? ELSE 0 END WHERE id = ?",
		Args: []any{n, n, id},
	}
}

// ReclaimUnused deletes every entry without references and returns how many were removed.
func (r *Repo) ReclaimUnused(ctx context.Context) (int64, error) {
	n, err := r.q.Exec(ctx, "DELETE FROM embedding_cache WHERE reference_count = 0")
	if err != nil {
		r.logger.Error("Failed to reclaim cache entries", zap.Error(err))
		return 0, fmt.Errorf("reclaim unused: %w", err)
	}
	r.count("reclaim", int(n))
	return n, nil
}

// UsageStatistics aggregates cache usage. Store failures are logged and
// reported as empty statistics.
func (r *Repo) UsageStatistics(ctx context.Context) domain.CacheStats {
	sizes := make([]string, len(domain.VectorSpaces))
	for i, s := range domain.VectorSpaces {
		sizes[i] = r.dialect.VectorBytes(s.Column())
	}
	q := "SELECT COUNT(*), " +
		"CAST(COALESCE(SUM(reference_count), 0) AS BIGINT), " +
		"CAST(COALESCE(SUM(" + strings.Join(sizes, " + ") + "), 0) AS BIGINT) " +
		"FROM embedding_cache"

	var entries, refs, bytes int64
	if err := r.q.QueryRow(ctx, q).Scan(&entries, &refs, &bytes); err != nil {
		r.logger.Warn("Failed to aggregate cache statistics", zap.Error(err))
		return domain.NewCacheStats(0, 0, 0, nil)
	}

	top, err := r.topReused(ctx)
	if err != nil {
		r.logger.Warn("Failed to list reused cache entries", zap.Error(err))
	}
	return domain.NewCacheStats(entries, refs, bytes, top)
}

func (r *Repo) topReused(ctx context.Context) ([]domain.CacheEntrySummary, error) {
	rows, err := r.q.Query(ctx,
		"SELECT id, content_hash, content_type, reference_count FROM embedding_cache "+
			"WHERE reference_count > 1 ORDER BY reference_count DESC, id LIMIT ?",
		domain.TopReusedLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CacheEntrySummary
	for rows.Next() {
		var (
			s           domain.CacheEntrySummary
			contentType string
		)
		if err := rows.Scan(&s.ID, &s.ContentHash, &contentType, &s.ReferenceCount); err != nil {
			return nil, err
		}
		s.ContentType = domain.Role(contentType)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AssignReference points an image's role reference at entryID, or clears it
// when entryID is nil. Reference counts are not touched.
func (r *Repo) AssignReference(ctx context.Context, imageID int64, role domain.Role, entryID *int64) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	var arg any
	if entryID != nil {
		arg = *entryID
	}
	q := "UPDATE image SET " + role.RefColumn() + " = ? WHERE id = ?"
	n, err := r.q.Exec(ctx, q, arg, imageID)
	if err != nil {
		r.logger.Error("Failed to assign reference",
			zap.Int64("image_id", imageID), zap.String("role", string(role)), zap.Error(err))
		return fmt.Errorf("assign reference: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: image %d", domain.ErrNotFound, imageID)
	}
	return nil
}

// ImageRefs returns the cache references currently held by an image.
func (r *Repo) ImageRefs(ctx context.Context, imageID int64) (domain.ImageRefs, error) {
	cols := make([]string, len(domain.Roles))
	refs := make([]*int64, len(domain.Roles))
	targets := make([]any, len(domain.Roles))
	for i, role := range domain.Roles {
		cols[i] = role.RefColumn()
		targets[i] = &refs[i]
	}
	q := "SELECT " + strings.Join(cols, ", ") + " FROM image WHERE id = ?"
	if err := r.q.QueryRow(ctx, q, imageID).Scan(targets...); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return domain.ImageRefs{}, fmt.Errorf("%w: image %d", domain.ErrNotFound, imageID)
		}
		r.logger.Error("Failed to load image references", zap.Int64("image_id", imageID), zap.Error(err))
		return domain.ImageRefs{}, fmt.Errorf("load image refs: %w", err)
	}

	out := domain.ImageRefs{ImageID: imageID, Refs: map[domain.Role]int64{}}
	for i, role := range domain.Roles {
		if refs[i] != nil {
			out.Refs[role] = *refs[i]
		}
	}
	return out, nil
}
