// Package query holds the query model consumed by the compiler.
package query

import (
	"strings"
	"unicode"

	"github.com/kailas-cloud/imgdex/internal/dialect"
)

// Fragment is a parsed predicate: a WHERE expression, JOIN clauses in order and
// bindings in placeholder order. The compiler treats it as opaque text.
type Fragment struct {
	Where string
	Joins []string
	Args  []any
}

// Empty reports whether the fragment constrains nothing.
func (f Fragment) Empty() bool {
	return strings.TrimSpace(f.Where) == "" && len(f.Joins) == 0
}

// And conjoins two fragments. Joins and bindings keep left-then-right order.
func (f Fragment) And(o Fragment) Fragment {
	switch {
	case f.Empty():
		return o
	case o.Empty():
		return f
	}
	out := Fragment{
		Joins: append(append([]string(nil), f.Joins...), o.Joins...),
		Args:  append(append([]any(nil), f.Args...), o.Args...),
	}
	switch {
	case f.Where == "":
		out.Where = o.Where
	case o.Where == "":
		out.Where = f.Where
	default:
		out.Where = "(" + f.Where + ") AND (" + o.Where + ")"
	}
	return out
}

// Models selects images by model id, hash or name. Any match qualifies.
type Models struct {
	IDs    []int64
	Hashes []string
	Names  []string
}

// Empty reports whether no model was selected.
func (m Models) Empty() bool {
	return len(m.IDs) == 0 && len(m.Hashes) == 0 && len(m.Names) == 0
}

// View narrows the result to a scope. Every set field adds one INTERSECT branch.
type View struct {
	FavoritesOnly bool
	DeletedOnly   bool
	AlbumIDs      []int64
	Models        Models
	Folder        string
}

// Spec is a complete query: structured filter, free text and view scope.
type Spec struct {
	Filter Fragment
	Text   Fragment
	// Tokens are the free text terms, used by raw workflow and node search.
	Tokens     []string
	NodeSearch bool
	View       View
}

// HasText reports whether the free text portion contributes a branch.
func (s Spec) HasText() bool {
	return !s.Text.Empty() || len(s.Tokens) > 0
}

// Visibility toggles hide whole classes of images.
type Visibility struct {
	HideNSFW        bool
	HideDeleted     bool
	HideUnavailable bool
}

// Fragment lowers the toggles to a legacy-dialect predicate.
func (v Visibility) Fragment() Fragment {
	var parts []string
	if v.HideNSFW {
		parts = append(parts, "Image.nsfw = 0")
	}
	if v.HideDeleted {
		parts = append(parts, "Image.forDeletion = 0")
	}
	if v.HideUnavailable {
		parts = append(parts, "Image.unavailable = 0")
	}
	return Fragment{Where: strings.Join(parts, " AND ")}
}

// SimpleText splits text into terms and matches each against the prompt.
// It stands in for the full text parser on HTTP requests.
func SimpleText(text string) (Fragment, []string) {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return Fragment{}, nil
	}
	parts := make([]string, len(tokens))
	args := make([]any, len(tokens))
	for i, tok := range tokens {
		parts[i] = `Image.prompt LIKE ? ESCAPE '\'`
		args[i] = "%" + dialect.EscapeLike(tok) + "%"
	}
	return Fragment{Where: strings.Join(parts, " AND "), Args: args}, tokens
}

// Tokenize splits on whitespace and commas, dropping empty and repeated terms.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
