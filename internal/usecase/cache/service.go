package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Adoption is the outcome of linking an image role to cached vectors.
type Adoption struct {
	EntryID int64
	// Reused is true when an existing entry was shared instead of inserted.
	Reused bool
}

// Service manages cache entry lifecycles and image references.
type Service struct {
	tx     db.Transactor
	repo   Repository
	bind   Binder
	logger *zap.Logger
}

// New creates a cache service. bind must return repositories that only use
// the querier they are given.
func New(tx db.Transactor, repo Repository, bind Binder, logger *zap.Logger) *Service {
	return &Service{tx: tx, repo: repo, bind: bind, logger: logger}
}

// Adopt points imageID's role reference at the entry for content, inserting
// the entry with vectors when no entry with the same content hash exists.
// A previously referenced entry loses one reference. Everything happens in
// one transaction.
func (s *Service) Adopt(
	ctx context.Context, imageID int64, role domain.Role, content string, vectors domain.Vectors,
) (Adoption, error) {
	if !role.Valid() {
		return Adoption{}, fmt.Errorf("%w: %q", domain.ErrInvalidRole, role)
	}
	hash := domain.ContentHash(role, content)

	var out Adoption
	err := s.tx.WithTx(ctx, func(tx db.Tx) error {
		r := s.bind(tx)

		refs, err := r.ImageRefs(ctx, imageID)
		if err != nil {
			return fmt.Errorf("load refs: %w", err)
		}
		prev, hadPrev := refs.Refs[role]

		if e, ok := r.FindByContentHash(ctx, hash); ok {
			out = Adoption{EntryID: e.ID, Reused: true}
			if hadPrev && prev == e.ID {
				return nil
			}
			if err := r.IncrementReference(ctx, e.ID); err != nil {
				return err
			}
		} else {
			id, err := r.Insert(ctx, domain.CacheEntry{
				ContentHash:    hash,
				ContentType:    role,
				Vectors:        vectors,
				ReferenceCount: 1,
			})
			if err != nil {
				return err
			}
			out = Adoption{EntryID: id}
		}

		if err := r.AssignReference(ctx, imageID, role, &out.EntryID); err != nil {
			return err
		}
		if hadPrev {
			return s.release(ctx, r, prev)
		}
		return nil
	})
	if err != nil {
		return Adoption{}, fmt.Errorf("adopt %s for image %d: %w", role, imageID, err)
	}
	return out, nil
}

// Release clears every cache reference held by imageID and returns how many
// were dropped.
func (s *Service) Release(ctx context.Context, imageID int64) (int, error) {
	var released int
	err := s.tx.WithTx(ctx, func(tx db.Tx) error {
		r := s.bind(tx)
		refs, err := r.ImageRefs(ctx, imageID)
		if err != nil {
			return fmt.Errorf("load refs: %w", err)
		}
		released = 0
		for _, role := range domain.Roles {
			id, ok := refs.Refs[role]
			if !ok {
				continue
			}
			if err := r.AssignReference(ctx, imageID, role, nil); err != nil {
				return err
			}
			if err := s.release(ctx, r, id); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("release image %d: %w", imageID, err)
	}
	return released, nil
}

// release drops one reference. An entry that no longer exists is logged and skipped.
func (s *Service) release(ctx context.Context, r Repository, entryID int64) error {
	err := r.DecrementReference(ctx, entryID)
	if errors.Is(err, domain.ErrCacheEntryNotFound) {
		s.logger.Warn("Referenced cache entry is missing", zap.Int64("entry_id", entryID))
		return nil
	}
	return err
}

// ApplyReferenceChanges applies count adjustments in one transaction. Changes
// for unknown entries match no rows and are ignored.
func (s *Service) ApplyReferenceChanges(ctx context.Context, changes []domain.ReferenceChange) error {
	stmts := s.repo.ReferenceStatements(changes)
	if len(stmts) == 0 {
		return nil
	}
	err := s.tx.WithTx(ctx, func(tx db.Tx) error {
		return tx.ExecBatch(ctx, stmts)
	})
	if err != nil {
		return fmt.Errorf("apply reference changes: %w", err)
	}
	s.repo.CountApplied(changes)
	return nil
}

// Reclaim deletes entries nobody references.
func (s *Service) Reclaim(ctx context.Context) (int64, error) {
	n, err := s.repo.ReclaimUnused(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Reclaimed cache entries", zap.Int64("count", n))
	return n, nil
}

// Stats reports cache usage.
func (s *Service) Stats(ctx context.Context) domain.CacheStats {
	return s.repo.UsageStatistics(ctx)
}

// Refs returns the cache references held by imageID.
func (s *Service) Refs(ctx context.Context, imageID int64) (domain.ImageRefs, error) {
	return s.repo.ImageRefs(ctx, imageID)
}
