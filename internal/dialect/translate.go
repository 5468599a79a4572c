package dialect

import (
	"regexp"
	"strings"
)

// Vocabulary is the fixed set of identifiers the translator knows how to rewrite.
// Keys are legacy spellings, values the canonical (lower snake case) names.
type Vocabulary struct {
	Tables   map[string]string
	Columns  map[string]string
	Booleans []string // canonical names of boolean columns
}

// DefaultVocabulary covers the catalog tables and the columns shared by the
// retrieval engine. Identifiers outside it pass through unchanged, so any new
// table or column must either be added here or be written canonically.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Tables: map[string]string{
			"Image":               "image",
			"Album":               "album",
			"AlbumImage":          "album_image",
			"Model":               "model",
			"EmbeddingCache":      "embedding_cache",
			"EmbeddingRegistry":   "embedding_registry",
			"ImageEmbeddingUsage": "image_embedding_usage",
			"Folder":              "folder",
		},
		Columns: map[string]string{
			"Id":                         "id",
			"ID":                         "id",
			"Path":                       "path",
			"Prompt":                     "prompt",
			"NegativePrompt":             "negative_prompt",
			"negativePrompt":             "negative_prompt",
			"Workflow":                   "workflow",
			"Tags":                       "tags",
			"ForDeletion":                "for_deletion",
			"forDeletion":                "for_deletion",
			"NSFW":                       "nsfw",
			"Nsfw":                       "nsfw",
			"Unavailable":                "unavailable",
			"Favorite":                   "favorite",
			"ModelId":                    "model_id",
			"modelId":                    "model_id",
			"ModelHash":                  "model_hash",
			"modelHash":                  "model_hash",
			"ModelName":                  "model_name",
			"modelName":                  "model_name",
			"AlbumId":                    "album_id",
			"albumId":                    "album_id",
			"ImageId":                    "image_id",
			"imageId":                    "image_id",
			"PromptEmbeddingRef":         "prompt_embedding_ref",
			"NegativePromptEmbeddingRef": "negative_prompt_embedding_ref",
			"ImageEmbeddingRef":          "image_embedding_ref",
			"EmbeddingName":              "embedding_name",
			"IsImplicit":                 "is_implicit",
			"isImplicit":                 "is_implicit",
		},
		Booleans: []string{"for_deletion", "nsfw", "unavailable", "favorite", "is_implicit"},
	}
}

var (
	tableRefRe  = regexp.MustCompile(`(?i)\b(FROM|JOIN)(\s+)([A-Za-z_][A-Za-z0-9_]*)\b`)
	dottedRefRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)\b`)
	// [01] must be followed by a non-numeric boundary so 10, 1.5 or 0x1 stay untouched.
	boolCmpRe = regexp.MustCompile(`\b((?:[A-Za-z_][A-Za-z0-9_]*\.)?)([A-Za-z_][A-Za-z0-9_]*)(\s*)(=|!=|<>)(\s*)([01])([^0-9A-Za-z_.]|$)`)
	likeRe    = regexp.MustCompile(`(?i)\bLIKE\b`)
)

// Translator rewrites dialect-neutral or legacy fragments for a target dialect.
// It is purely textual: no parsing, only the rewrite rules below, each of
// which touches disjoint syntax. Quoted literals and identifiers are copied
// verbatim.
type Translator struct {
	target   Dialect
	schema   string
	tables   map[string]string
	columns  map[string]string
	booleans map[string]struct{}
}

// NewTranslator creates a translator for target using vocab.
func NewTranslator(target Dialect, vocab Vocabulary) *Translator {
	t := &Translator{
		target:   target,
		tables:   make(map[string]string, len(vocab.Tables)*2),
		columns:  make(map[string]string, len(vocab.Columns)*2),
		booleans: make(map[string]struct{}, len(vocab.Booleans)),
	}
	for legacy, canonical := range vocab.Tables {
		t.tables[legacy] = canonical
		t.tables[canonical] = canonical
	}
	for legacy, canonical := range vocab.Columns {
		t.columns[legacy] = canonical
		t.columns[canonical] = canonical
	}
	for _, b := range vocab.Booleans {
		t.booleans[b] = struct{}{}
	}
	return t
}

// WithSchema returns a copy that qualifies known tables after FROM/JOIN with schema.
func (t *Translator) WithSchema(schema string) *Translator {
	cp := *t
	cp.schema = schema
	return &cp
}

// Target returns the dialect fragments are rewritten for.
func (t *Translator) Target() Dialect { return t.target }

// Translate applies the table, dotted-column, boolean-literal and LIKE rules
// outside quoted spans. Legacy LIKE ignores case, so it becomes the target's
// case-insensitive operator.
func (t *Translator) Translate(fragment string) string {
	if fragment == "" {
		return ""
	}
	return mapUnquoted(fragment, func(s string) string {
		out := t.rewriteTables(s)
		out = t.rewriteDotted(out)
		out = t.rewriteBooleans(out)
		return t.rewriteLike(out)
	})
}

func (t *Translator) rewriteTables(s string) string {
	return tableRefRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := tableRefRe.FindStringSubmatch(m)
		canonical, ok := t.tables[sub[3]]
		if !ok {
			return m
		}
		if t.schema != "" {
			canonical = t.schema + "." + canonical
		}
		return sub[1] + sub[2] + canonical
	})
}

func (t *Translator) rewriteDotted(s string) string {
	return dottedRefRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := dottedRefRe.FindStringSubmatch(m)
		alias, field := sub[1], sub[2]
		if strings.EqualFold(alias, t.schema) && t.schema != "" {
			return m
		}
		if canonical, ok := t.tables[alias]; ok {
			alias = canonical
		}
		if canonical, ok := t.columns[field]; ok {
			field = canonical
		}
		return alias + "." + field
	})
}

func (t *Translator) rewriteBooleans(s string) string {
	return boolCmpRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := boolCmpRe.FindStringSubmatch(m)
		name := sub[2]
		if canonical, ok := t.columns[name]; ok {
			name = canonical
		}
		if _, ok := t.booleans[name]; !ok {
			return m
		}
		return sub[1] + name + sub[3] + sub[4] + sub[5] + t.target.BoolLiteral(sub[6] == "1") + sub[7]
	})
}

func (t *Translator) rewriteLike(s string) string {
	op := t.target.LikeOperator()
	if op == "LIKE" {
		return s
	}
	return likeRe.ReplaceAllString(s, op)
}
