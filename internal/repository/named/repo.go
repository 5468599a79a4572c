// Package named stores the named-embedding registry and per-image usage records.
package named

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// store is the consumer interface for named embeddings (ISP).
type store interface {
	db.Querier
	db.Transactor
}

// Repo implements registry and usage persistence.
type Repo struct {
	store  store
	now    func() time.Time
	logger *zap.Logger
}

// New creates a named embedding repository.
func New(s store, logger *zap.Logger) *Repo {
	return &Repo{store: s, now: time.Now, logger: logger}
}

const registryColumns = "name, author, base_model, trigger_phrase, trained_words, updated_at"

const upsertRegistrySQL = "INSERT INTO embedding_registry (" + registryColumns + ") VALUES (?, ?, ?, ?, ?, ?) " +
	"ON CONFLICT (name) DO UPDATE SET author = excluded.author, base_model = excluded.base_model, " +
	"trigger_phrase = excluded.trigger_phrase, trained_words = excluded.trained_words, " +
	"updated_at = excluded.updated_at"

// UpsertRegistry inserts or replaces registry entries in one transaction.
func (r *Repo) UpsertRegistry(ctx context.Context, entries []domain.RegistryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.now().UTC()
	stmts := make([]db.Statement, 0, len(entries))
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return domain.NewInvalidArgument(fmt.Sprintf("entries[%d].name", i), "must not be empty")
		}
		words := e.TrainedWords
		if words == nil {
			words = []string{}
		}
		encoded, err := json.Marshal(words)
		if err != nil {
			return fmt.Errorf("encode trained words: %w", err)
		}
		stmts = append(stmts, db.Statement{
			SQL:  upsertRegistrySQL,
			Args: []any{name, e.Author, e.BaseModel, e.TriggerPhrase, string(encoded), now},
		})
	}

	err := r.store.WithTx(ctx, func(tx db.Tx) error {
		return tx.ExecBatch(ctx, stmts)
	})
	if err != nil {
		r.logger.Error("Failed to upsert registry", zap.Int("entries", len(entries)), zap.Error(err))
		return fmt.Errorf("upsert registry: %w", err)
	}
	return nil
}

// GetRegistry returns one registry entry by name.
func (r *Repo) GetRegistry(ctx context.Context, name string) (*domain.RegistryEntry, error) {
	row := r.store.QueryRow(ctx, "SELECT "+registryColumns+" FROM embedding_registry WHERE name = ?", name)
	e, err := scanRegistry(row)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: embedding %q", domain.ErrNotFound, name)
		}
		r.logger.Warn("Failed to load registry entry", zap.String("name", name), zap.Error(err))
		return nil, fmt.Errorf("get registry: %w", err)
	}
	return &e, nil
}

// LoadRegistry returns every registry entry ordered by name.
func (r *Repo) LoadRegistry(ctx context.Context) ([]domain.RegistryEntry, error) {
	rows, err := r.store.Query(ctx, "SELECT "+registryColumns+" FROM embedding_registry ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	defer rows.Close()

	out := []domain.RegistryEntry{}
	for rows.Next() {
		e, err := scanRegistry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return out, nil
}

// ListRegistry is LoadRegistry for read-only callers: failures are logged
// and reported as an empty registry.
func (r *Repo) ListRegistry(ctx context.Context) []domain.RegistryEntry {
	out, err := r.LoadRegistry(ctx)
	if err != nil {
		r.logger.Warn("Failed to list registry", zap.Error(err))
		return []domain.RegistryEntry{}
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistry(s scanner) (domain.RegistryEntry, error) {
	var (
		e       domain.RegistryEntry
		words   string
		updated db.Time
	)
	if err := s.Scan(&e.Name, &e.Author, &e.BaseModel, &e.TriggerPhrase, &words, &updated); err != nil {
		return e, err
	}
	if words != "" {
		if err := json.Unmarshal([]byte(words), &e.TrainedWords); err != nil {
			return e, fmt.Errorf("decode trained words of %q: %w", e.Name, err)
		}
	}
	e.UpdatedAt = updated.Time
	return e, nil
}

const upsertUsageSQL = "INSERT INTO image_embedding_usage (image_id, embedding_name, weight, is_implicit) " +
	"VALUES (?, ?, ?, ?) ON CONFLICT (image_id, embedding_name) DO UPDATE SET " +
	"weight = excluded.weight, is_implicit = excluded.is_implicit"

// ReplaceUsage deletes every usage row of imageID and writes usages, atomically.
func (r *Repo) ReplaceUsage(ctx context.Context, imageID int64, usages []domain.ImageEmbeddingUsage) error {
	stmts := make([]db.Statement, 0, len(usages)+1)
	stmts = append(stmts, db.Statement{
		SQL:  "DELETE FROM image_embedding_usage WHERE image_id = ?",
		Args: []any{imageID},
	})
	for _, u := range usages {
		stmts = append(stmts, db.Statement{
			SQL:  upsertUsageSQL,
			Args: []any{imageID, u.EmbeddingName, u.Weight, u.IsImplicit},
		})
	}

	err := r.store.WithTx(ctx, func(tx db.Tx) error {
		return tx.ExecBatch(ctx, stmts)
	})
	if err != nil {
		r.logger.Error("Failed to replace embedding usage", zap.Int64("image_id", imageID), zap.Error(err))
		return fmt.Errorf("replace usage: %w", err)
	}
	return nil
}

// ListUsage returns the usage rows of imageID ordered by name. Store failures
// are logged and reported as no usage.
func (r *Repo) ListUsage(ctx context.Context, imageID int64) []domain.ImageEmbeddingUsage {
	rows, err := r.store.Query(ctx,
		"SELECT image_id, embedding_name, weight, is_implicit FROM image_embedding_usage "+
			"WHERE image_id = ? ORDER BY embedding_name", imageID)
	if err != nil {
		r.logger.Warn("Failed to list embedding usage", zap.Int64("image_id", imageID), zap.Error(err))
		return []domain.ImageEmbeddingUsage{}
	}
	defer rows.Close()

	out := []domain.ImageEmbeddingUsage{}
	for rows.Next() {
		var u domain.ImageEmbeddingUsage
		if err := rows.Scan(&u.ImageID, &u.EmbeddingName, &u.Weight, &u.IsImplicit); err != nil {
			r.logger.Warn("Failed to scan embedding usage", zap.Error(err))
			return []domain.ImageEmbeddingUsage{}
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		r.logger.Warn("Failed to read embedding usage", zap.Error(err))
		return []domain.ImageEmbeddingUsage{}
	}
	return out
}
