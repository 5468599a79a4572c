package domain

import "fmt"

// Column is a vector column on the image table.
type Column string

// Vector columns.
const (
	ColumnPromptEmbedding         Column = "prompt_embedding"
	ColumnNegativePromptEmbedding Column = "negative_prompt_embedding"
	ColumnImageEmbedding          Column = "image_embedding"
)

var vectorColumns = []Column{ColumnPromptEmbedding, ColumnNegativePromptEmbedding, ColumnImageEmbedding}

// Valid reports whether c is a known vector column.
func (c Column) Valid() bool {
	switch c {
	case ColumnPromptEmbedding, ColumnNegativePromptEmbedding, ColumnImageEmbedding:
		return true
	}
	return false
}

// ParseColumn accepts a column name or the role it belongs to.
func ParseColumn(s string) (Column, error) {
	if c := Column(s); c.Valid() {
		return c, nil
	}
	if r, err := ParseRole(s); err == nil {
		return r.VectorColumn(), nil
	}
	return "", NewInvalidArgument("column", fmt.Sprintf("unknown vector column %q", s))
}

// SimilarImage is a ranked similarity hit.
type SimilarImage struct {
	ID         int64
	Similarity float64
}

// SimilarPair is one row of a batch similarity search.
type SimilarPair struct {
	SourceID   int64
	SimilarID  int64
	Similarity float64
}

// TagSuggestion is a tag value copied from a similar image.
type TagSuggestion struct {
	ImageID    int64
	Tags       string
	Similarity float64
}

// Coverage reports the share of images with a vector per modality.
type Coverage struct {
	TotalImages            int64
	PromptCoverage         float64
	NegativePromptCoverage float64
	ImageCoverage          float64
}

// NewCoverage converts absolute counts into ratios.
func NewCoverage(total, prompt, negative, image int64) Coverage {
	c := Coverage{TotalImages: total}
	if total > 0 {
		c.PromptCoverage = float64(prompt) / float64(total)
		c.NegativePromptCoverage = float64(negative) / float64(total)
		c.ImageCoverage = float64(image) / float64(total)
	}
	return c
}

// EmbeddingUpdate sets one or more direct vector columns of an image.
type EmbeddingUpdate struct {
	ImageID int64
	Vectors map[Column][]float32
}

// Validate checks the update targets known columns with non-empty vectors.
func (u EmbeddingUpdate) Validate() error {
	if len(u.Vectors) == 0 {
		return NewInvalidArgument("vectors", "must not be empty")
	}
	for col, vec := range u.Vectors {
		if !col.Valid() {
			return NewInvalidArgument("vectors", fmt.Sprintf("unknown vector column %q", col))
		}
		if len(vec) == 0 {
			return NewInvalidArgument(string(col), "must not be empty")
		}
	}
	return nil
}

// Columns returns the populated columns in a stable order.
func (u EmbeddingUpdate) Columns() []Column {
	out := make([]Column, 0, len(u.Vectors))
	for _, c := range vectorColumns {
		if _, ok := u.Vectors[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ImageRefs are the cache references held by an image.
type ImageRefs struct {
	ImageID int64
	Refs    map[Role]int64
}

// SimilarityQuery selects the column, threshold and result size of a
// similarity search. Zero values take the configured defaults.
type SimilarityQuery struct {
	Column    Column
	Threshold *float64
	Limit     int
}
