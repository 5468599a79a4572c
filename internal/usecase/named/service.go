package named

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

// Service keeps per-image named embedding usage in sync with prompts.
type Service struct {
	repo Repository
}

// New creates a named embedding service.
func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// Recompute replaces the usage records of imageID with the explicit
// references in prompt plus registry entries the prompt triggers implicitly.
// Explicit names take the registry's spelling when registered. Existing
// records are left untouched when the registry cannot be read.
func (s *Service) Recompute(ctx context.Context, imageID int64, prompt string) ([]domain.ImageEmbeddingUsage, error) {
	registry, err := s.repo.LoadRegistry(ctx)
	if err != nil {
		return nil, fmt.Errorf("recompute usage for image %d: %w", imageID, err)
	}
	canonical := make(map[string]string, len(registry))
	for _, e := range registry {
		canonical[strings.ToLower(e.Name)] = e.Name
	}

	explicit := domain.ParseNamedReferences(prompt)
	exclude := make(map[string]struct{}, len(explicit))
	usages := make([]domain.ImageEmbeddingUsage, 0, len(explicit))
	for _, ref := range explicit {
		key := strings.ToLower(ref.Name)
		exclude[key] = struct{}{}
		name := ref.Name
		if c, ok := canonical[key]; ok {
			name = c
		}
		usages = append(usages, domain.ImageEmbeddingUsage{
			ImageID:       imageID,
			EmbeddingName: name,
			Weight:        ref.Weight,
		})
	}
	for _, e := range domain.MatchImplicit(prompt, registry, exclude) {
		usages = append(usages, domain.ImageEmbeddingUsage{
			ImageID:       imageID,
			EmbeddingName: e.Name,
			Weight:        domain.DefaultEmbeddingWeight,
			IsImplicit:    true,
		})
	}

	if err := s.repo.ReplaceUsage(ctx, imageID, usages); err != nil {
		return nil, fmt.Errorf("recompute usage for image %d: %w", imageID, err)
	}
	return usages, nil
}

// ListRegistry returns every registry entry, or none when the store fails.
func (s *Service) ListRegistry(ctx context.Context) []domain.RegistryEntry {
	return s.repo.ListRegistry(ctx)
}

// SyncRegistry upserts registry entries.
func (s *Service) SyncRegistry(ctx context.Context, entries []domain.RegistryEntry) error {
	return s.repo.UpsertRegistry(ctx, entries)
}

// GetRegistry returns one registry entry.
func (s *Service) GetRegistry(ctx context.Context, name string) (*domain.RegistryEntry, error) {
	return s.repo.GetRegistry(ctx, name)
}

// ListUsage returns the named embeddings used by imageID.
func (s *Service) ListUsage(ctx context.Context, imageID int64) []domain.ImageEmbeddingUsage {
	return s.repo.ListUsage(ctx, imageID)
}
