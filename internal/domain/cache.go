package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// VectorSpace names an embedding model space stored in a cache entry.
type VectorSpace string

// Known vector spaces.
const (
	SpaceText  VectorSpace = "text"
	SpaceClipL VectorSpace = "clip_l"
	SpaceClipG VectorSpace = "clip_g"
)

var spaceColumns = map[VectorSpace]string{
	SpaceText:  "text_embedding",
	SpaceClipL: "clip_l_embedding",
	SpaceClipG: "clip_g_embedding",
}

// VectorSpaces lists every space in column order.
var VectorSpaces = []VectorSpace{SpaceText, SpaceClipL, SpaceClipG}

// ParseVectorSpace validates a vector space name.
func ParseVectorSpace(s string) (VectorSpace, error) {
	v := VectorSpace(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := spaceColumns[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidVectorSpace, s)
	}
	return v, nil
}

// Column returns the embedding_cache column holding vectors of this space.
func (v VectorSpace) Column() string { return spaceColumns[v] }

// Vectors holds any subset of an entry's named vectors.
type Vectors map[VectorSpace][]float32

// Validate rejects unknown spaces and empty vectors.
func (v Vectors) Validate() error {
	if len(v) == 0 {
		return NewInvalidArgument("vectors", "must not be empty")
	}
	for space, vec := range v {
		if _, ok := spaceColumns[space]; !ok {
			return fmt.Errorf("%w: %q", ErrInvalidVectorSpace, space)
		}
		if len(vec) == 0 {
			return NewInvalidArgument("vectors."+string(space), "must not be empty")
		}
	}
	return nil
}

// Spaces returns the populated spaces in column order.
func (v Vectors) Spaces() []VectorSpace {
	out := make([]VectorSpace, 0, len(v))
	for _, s := range VectorSpaces {
		if _, ok := v[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// ContentHash returns the cache identity of content for role.
func ContentHash(role Role, content string) string {
	h := sha256.New()
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// CacheEntry is a content-addressed, reference-counted set of vectors.
type CacheEntry struct {
	ID             int64
	ContentHash    string
	ContentType    Role
	Vectors        Vectors
	ReferenceCount int64
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

// CacheEntrySummary is a cache entry without its vectors.
type CacheEntrySummary struct {
	ID             int64
	ContentHash    string
	ContentType    Role
	ReferenceCount int64
}

// TopReusedLimit caps CacheStats.TopReused.
const TopReusedLimit = 10

// CacheStats describes embedding cache usage.
type CacheStats struct {
	TotalEntries      int64
	TotalReferences   int64
	TotalStorageBytes int64
	TopReused         []CacheEntrySummary
	ReuseRate         float64
	StorageSavedBytes int64
}

// NewCacheStats derives reuse rate and saved storage from the raw totals.
// Saved storage assumes each reference beyond the first would have stored a
// full copy, and is never negative.
func NewCacheStats(entries, references, storageBytes int64, top []CacheEntrySummary) CacheStats {
	s := CacheStats{
		TotalEntries:      entries,
		TotalReferences:   references,
		TotalStorageBytes: storageBytes,
		TopReused:         top,
	}
	sort.SliceStable(s.TopReused, func(i, j int) bool {
		return s.TopReused[i].ReferenceCount > s.TopReused[j].ReferenceCount
	})
	if len(s.TopReused) > TopReusedLimit {
		s.TopReused = s.TopReused[:TopReusedLimit]
	}
	if entries > 0 {
		s.ReuseRate = float64(references) / float64(entries)
		avg := float64(storageBytes) / float64(entries)
		if saved := float64(references-entries) * avg; saved > 0 {
			s.StorageSavedBytes = int64(math.Round(saved))
		}
	}
	return s
}

// ReferenceChange is a requested reference count adjustment.
type ReferenceChange struct {
	EntryID int64
	Delta   int
}
