// Package dbtest builds in-memory SQLite catalogs for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/kailas-cloud/imgdex/internal/db/sqlite"
)

// Schema is the catalog layout the engine reads and writes.
const Schema = `
CREATE TABLE embedding_cache (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	content_hash     TEXT NOT NULL,
	content_type     TEXT NOT NULL,
	text_embedding   BLOB,
	clip_l_embedding BLOB,
	clip_g_embedding BLOB,
	reference_count  INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	last_used_at     TIMESTAMP NOT NULL
);
CREATE INDEX embedding_cache_hash_idx ON embedding_cache (content_hash);

CREATE TABLE image (
	id                            INTEGER PRIMARY KEY,
	path                          TEXT NOT NULL DEFAULT '',
	prompt                        TEXT NOT NULL DEFAULT '',
	negative_prompt               TEXT NOT NULL DEFAULT '',
	workflow                      TEXT NOT NULL DEFAULT '',
	tags                          TEXT,
	model_id                      INTEGER,
	model_hash                    TEXT,
	model_name                    TEXT,
	for_deletion                  INTEGER NOT NULL DEFAULT 0,
	nsfw                          INTEGER NOT NULL DEFAULT 0,
	unavailable                   INTEGER NOT NULL DEFAULT 0,
	favorite                      INTEGER NOT NULL DEFAULT 0,
	prompt_embedding_ref          INTEGER,
	negative_prompt_embedding_ref INTEGER,
	image_embedding_ref           INTEGER,
	prompt_embedding              BLOB,
	negative_prompt_embedding     BLOB,
	image_embedding               BLOB,
	embeddings_updated_at         TIMESTAMP
);

CREATE TABLE album (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE album_image (
	album_id INTEGER NOT NULL,
	image_id INTEGER NOT NULL,
	PRIMARY KEY (album_id, image_id)
);

CREATE TABLE embedding_registry (
	name           TEXT PRIMARY KEY,
	author         TEXT NOT NULL DEFAULT '',
	base_model     TEXT NOT NULL DEFAULT '',
	trigger_phrase TEXT NOT NULL DEFAULT '',
	trained_words  TEXT NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMP NOT NULL
);

CREATE TABLE image_embedding_usage (
	image_id       INTEGER NOT NULL,
	embedding_name TEXT NOT NULL,
	weight         REAL NOT NULL DEFAULT 1.0,
	is_implicit    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (image_id, embedding_name)
);
`

// New opens an in-memory catalog with Schema applied.
func New(t testing.TB) *sqlite.Store {
	t.Helper()
	s, err := sqlite.NewStore(sqlite.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.Exec(context.Background(), Schema); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return s
}

// Image is a catalog row fixture. Nil vectors and tags are stored as NULL.
type Image struct {
	ID          int64
	Path        string
	Prompt      string
	Workflow    string
	Tags        *string
	ModelID     int64
	ModelHash   string
	ModelName   string
	ForDeletion bool
	NSFW        bool
	Unavailable bool
	Favorite    bool
	PromptVec   []float32
	NegativeVec []float32
	ImageVec    []float32
}

// InsertImages writes fixtures.
func InsertImages(t testing.TB, s *sqlite.Store, images ...Image) {
	t.Helper()
	const q = `INSERT INTO image (
		id, path, prompt, workflow, tags, model_id, model_hash, model_name,
		for_deletion, nsfw, unavailable, favorite,
		prompt_embedding, negative_prompt_embedding, image_embedding
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, img := range images {
		_, err := s.Exec(context.Background(), q,
			img.ID, img.Path, img.Prompt, img.Workflow, img.Tags,
			img.ModelID, img.ModelHash, img.ModelName,
			img.ForDeletion, img.NSFW, img.Unavailable, img.Favorite,
			vectorArg(s, img.PromptVec), vectorArg(s, img.NegativeVec), vectorArg(s, img.ImageVec),
		)
		if err != nil {
			t.Fatalf("insert image %d: %v", img.ID, err)
		}
	}
}

// AddToAlbum links images to an album.
func AddToAlbum(t testing.TB, s *sqlite.Store, albumID int64, imageIDs ...int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Exec(ctx, "INSERT OR IGNORE INTO album (id) VALUES (?)", albumID); err != nil {
		t.Fatalf("insert album: %v", err)
	}
	for _, id := range imageIDs {
		if _, err := s.Exec(ctx, "INSERT INTO album_image (album_id, image_id) VALUES (?, ?)", albumID, id); err != nil {
			t.Fatalf("insert album_image: %v", err)
		}
	}
}

// Count returns the row count of a query.
func Count(t testing.TB, s *sqlite.Store, query string, args ...any) int64 {
	t.Helper()
	var n int64
	if err := s.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// Str returns a pointer to v.
func Str(v string) *string { return &v }

func vectorArg(s *sqlite.Store, v []float32) any {
	if v == nil {
		return nil
	}
	return s.VectorArg(v)
}
