package named

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/imgdex/internal/db/dbtest"
	"github.com/kailas-cloud/imgdex/internal/db/sqlite"
	"github.com/kailas-cloud/imgdex/internal/domain"
)

func newTestRepo(t *testing.T) (*Repo, *sqlite.Store) {
	t.Helper()
	s := dbtest.New(t)
	r := New(s, zap.NewNop())
	r.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }
	return r, s
}

func TestUpsertRegistry_InsertThenUpdate(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	err := r.UpsertRegistry(ctx, []domain.RegistryEntry{
		{Name: "easynegative", Author: "a", TrainedWords: []string{"easynegative"}},
		{Name: "badhands", TriggerPhrase: "bad hands"},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = r.UpsertRegistry(ctx, []domain.RegistryEntry{
		{Name: "easynegative", Author: "b", BaseModel: "SD1.5"},
	})
	if err != nil {
		t.Fatal(err)
	}

	e, err := r.GetRegistry(ctx, "easynegative")
	if err != nil {
		t.Fatal(err)
	}
	if e.Author != "b" || e.BaseModel != "SD1.5" || len(e.TrainedWords) != 0 {
		t.Errorf("entry not replaced: %+v", e)
	}
	if e.UpdatedAt.IsZero() {
		t.Error("updated_at not set")
	}

	all := r.ListRegistry(ctx)
	if len(all) != 2 || all[0].Name != "badhands" || all[0].TriggerPhrase != "bad hands" {
		t.Errorf("registry = %+v", all)
	}
}

func TestUpsertRegistry_TrainedWordsRoundTrip(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	if err := r.UpsertRegistry(ctx, []domain.RegistryEntry{
		{Name: "style", TrainedWords: []string{"ink wash", "sumi-e"}},
	}); err != nil {
		t.Fatal(err)
	}
	e, err := r.GetRegistry(ctx, "style")
	if err != nil {
		t.Fatal(err)
	}
	if len(e.TrainedWords) != 2 || e.TrainedWords[1] != "sumi-e" {
		t.Errorf("trained words = %v", e.TrainedWords)
	}
}

func TestUpsertRegistry_RejectsEmptyName(t *testing.T) {
	r, s := newTestRepo(t)
	err := r.UpsertRegistry(context.Background(), []domain.RegistryEntry{{Name: "ok"}, {Name: "  "}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if n := dbtest.Count(t, s, "SELECT COUNT(*) FROM embedding_registry"); n != 0 {
		t.Errorf("rejected batch wrote %d rows", n)
	}
}

func TestGetRegistry_NotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	if _, err := r.GetRegistry(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRegistry_StoreErrorIsEmpty(t *testing.T) {
	r, s := newTestRepo(t)
	if _, err := s.Exec(context.Background(), "DROP TABLE embedding_registry"); err != nil {
		t.Fatal(err)
	}
	if got := r.ListRegistry(context.Background()); len(got) != 0 {
		t.Errorf("expected empty registry, got %+v", got)
	}
}

func TestLoadRegistry_CorruptRowFails(t *testing.T) {
	r, s := newTestRepo(t)
	ctx := context.Background()
	if err := r.UpsertRegistry(ctx, []domain.RegistryEntry{
		{Name: "watercolor", TriggerPhrase: "wc style"},
		{Name: "pixel", TrainedWords: []string{"8bit"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Exec(ctx, "UPDATE embedding_registry SET trained_words = '{not json' WHERE name = 'pixel'"); err != nil {
		t.Fatal(err)
	}

	if _, err := r.LoadRegistry(ctx); err == nil {
		t.Fatal("expected decode error")
	}
	if got := r.ListRegistry(ctx); len(got) != 0 {
		t.Errorf("ListRegistry = %+v, want empty", got)
	}
}

func TestReplaceUsage(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	err := r.ReplaceUsage(ctx, 1, []domain.ImageEmbeddingUsage{
		{EmbeddingName: "old", Weight: 1},
		{EmbeddingName: "kept", Weight: 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.ReplaceUsage(ctx, 2, []domain.ImageEmbeddingUsage{{EmbeddingName: "other", Weight: 1}}); err != nil {
		t.Fatal(err)
	}

	err = r.ReplaceUsage(ctx, 1, []domain.ImageEmbeddingUsage{
		{EmbeddingName: "kept", Weight: 1.2},
		{EmbeddingName: "trigger", Weight: 1, IsImplicit: true},
		{EmbeddingName: "kept", Weight: 0.7},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := r.ListUsage(ctx, 1)
	if len(got) != 2 {
		t.Fatalf("usage = %+v", got)
	}
	if got[0].EmbeddingName != "kept" || got[0].Weight != 0.7 || got[0].IsImplicit {
		t.Errorf("kept = %+v", got[0])
	}
	if got[1].EmbeddingName != "trigger" || !got[1].IsImplicit || got[1].ImageID != 1 {
		t.Errorf("trigger = %+v", got[1])
	}
	if other := r.ListUsage(ctx, 2); len(other) != 1 {
		t.Errorf("other image's usage touched: %+v", other)
	}
}

func TestReplaceUsage_EmptyClears(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	if err := r.ReplaceUsage(ctx, 1, []domain.ImageEmbeddingUsage{{EmbeddingName: "x", Weight: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := r.ReplaceUsage(ctx, 1, nil); err != nil {
		t.Fatal(err)
	}
	if got := r.ListUsage(ctx, 1); len(got) != 0 {
		t.Errorf("expected no usage, got %+v", got)
	}
}

func TestReplaceUsage_StoreErrorPropagates(t *testing.T) {
	r, s := newTestRepo(t)
	if _, err := s.Exec(context.Background(), "DROP TABLE image_embedding_usage"); err != nil {
		t.Fatal(err)
	}
	if err := r.ReplaceUsage(context.Background(), 1, nil); err == nil {
		t.Fatal("expected error")
	}
	if got := r.ListUsage(context.Background(), 1); len(got) != 0 {
		t.Errorf("expected empty on read failure, got %+v", got)
	}
}
