// Package compiler turns a query.Spec into one set-algebra SQL
// statement over image ids.
//
// Branches are concatenated in a fixed order and every branch's bindings are
// appended in that same order:
//
//	base filter, free text, raw workflow tokens, node query,
//	favorites, deleted, albums, models, folder
//
// The statement has the shape
//
//	SELECT DISTINCT id FROM (<base> [INTERSECT SELECT id FROM (<text> UNION ...) AS text_matches]) AS combined
//	[INTERSECT <view>]...
package compiler

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/imgdex/internal/dialect"
	"github.com/kailas-cloud/imgdex/internal/domain"
	"github.com/kailas-cloud/imgdex/internal/domain/query"
)

const idColumn = "image.id AS id"

// NodeQueryBuilder renders a branch matching text tokens against properties
// of the embedded workflow graph.
type NodeQueryBuilder interface {
	BuildNodeQuery(tokens []string) (query.Fragment, error)
}

// Options configure a Compiler.
type Options struct {
	Dialect dialect.Dialect
	// Schema qualifies every known table when set.
	Schema string
	// Vocabulary defaults to dialect.DefaultVocabulary.
	Vocabulary *dialect.Vocabulary
	// NodeBuilder serves Spec.NodeSearch. Without it node search is rejected.
	NodeBuilder NodeQueryBuilder
	// RawDataSearch adds one raw workflow substring branch per text token.
	RawDataSearch bool
}

// Statement is a compiled query. Args are in placeholder order.
type Statement struct {
	SQL      string
	Args     []any
	Branches int
}

// Compiler is stateless and safe for concurrent use.
type Compiler struct {
	opts Options
	tr   *dialect.Translator
}

// New creates a compiler.
func New(opts Options) *Compiler {
	vocab := dialect.DefaultVocabulary()
	if opts.Vocabulary != nil {
		vocab = *opts.Vocabulary
	}
	tr := dialect.NewTranslator(opts.Dialect, vocab)
	if opts.Schema != "" {
		tr = tr.WithSchema(opts.Schema)
	}
	return &Compiler{opts: opts, tr: tr}
}

// Dialect returns the target dialect.
func (c *Compiler) Dialect() dialect.Dialect { return c.opts.Dialect }

type branch struct {
	sql  string
	args []any
}

// Compile renders spec. The result selects a single column named id.
func (c *Compiler) Compile(spec query.Spec) (Statement, error) {
	base := c.fragmentBranch(spec.Filter)

	text, err := c.textBranches(spec)
	if err != nil {
		return Statement{}, err
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT DISTINCT id FROM (")
	sb.WriteString(base.sql)
	args = append(args, base.args...)
	if len(text) > 0 {
		sb.WriteString(" INTERSECT SELECT id FROM (")
		for i, b := range text {
			if i > 0 {
				sb.WriteString(" UNION ")
			}
			sb.WriteString(b.sql)
			args = append(args, b.args...)
		}
		sb.WriteString(") AS text_matches")
	}
	sb.WriteString(") AS combined")

	views := c.viewBranches(spec.View)
	for _, b := range views {
		sb.WriteString(" INTERSECT ")
		sb.WriteString(b.sql)
		args = append(args, b.args...)
	}

	st := Statement{
		SQL:      sb.String(),
		Args:     args,
		Branches: 1 + len(text) + len(views),
	}
	if n := dialect.CountPlaceholders(st.SQL); n != len(st.Args) {
		return Statement{}, domain.NewInvalidArgument("query",
			fmt.Sprintf("%d placeholders but %d bindings", n, len(st.Args)))
	}
	return st, nil
}

// fragmentBranch selects ids matching an opaque parser fragment. An empty
// fragment selects every image.
func (c *Compiler) fragmentBranch(f query.Fragment) branch {
	b := c.opts.Dialect.Select(idColumn).From("image")
	for _, j := range f.Joins {
		b.RawJoin(j)
	}
	sql, _ := b.Build()
	if w := strings.TrimSpace(f.Where); w != "" {
		sql += " WHERE " + w
	}
	return branch{sql: c.tr.Translate(sql), args: f.Args}
}

func (c *Compiler) build(b *dialect.SelectBuilder) branch {
	sql, args := b.Build()
	return branch{sql: c.tr.Translate(sql), args: args}
}

func (c *Compiler) textBranches(spec query.Spec) ([]branch, error) {
	var out []branch
	if !spec.Text.Empty() {
		out = append(out, c.fragmentBranch(spec.Text))
	}
	if len(spec.Tokens) == 0 {
		return out, nil
	}

	if c.opts.RawDataSearch {
		for _, tok := range spec.Tokens {
			out = append(out, c.build(c.opts.Dialect.Select(idColumn).From("image").
				Where(dialect.Contains("image.workflow", tok))))
		}
	}

	if spec.NodeSearch {
		if c.opts.NodeBuilder == nil {
			return nil, domain.ErrNodeSearchUnavailable
		}
		f, err := c.opts.NodeBuilder.BuildNodeQuery(spec.Tokens)
		if err != nil {
			return nil, fmt.Errorf("build node query: %w", err)
		}
		if !f.Empty() {
			out = append(out, c.fragmentBranch(f))
		}
	}
	return out, nil
}

func (c *Compiler) viewBranches(v query.View) []branch {
	d := c.opts.Dialect
	var out []branch

	if v.FavoritesOnly {
		out = append(out, c.build(d.Select(idColumn).From("image").Where(dialect.IsTrue("image.favorite"))))
	}
	if v.DeletedOnly {
		out = append(out, c.build(d.Select(idColumn).From("image").Where(dialect.IsTrue("image.for_deletion"))))
	}
	if len(v.AlbumIDs) > 0 {
		out = append(out, c.build(d.Select(idColumn).From("image").
			Join("album_image", "album_image.image_id = image.id").
			Where(dialect.InInt64("album_image.album_id", v.AlbumIDs))))
	}
	if !v.Models.Empty() {
		var selectors []dialect.Cond
		if len(v.Models.IDs) > 0 {
			selectors = append(selectors, dialect.InInt64("image.model_id", v.Models.IDs))
		}
		if len(v.Models.Hashes) > 0 {
			selectors = append(selectors, dialect.InString("image.model_hash", v.Models.Hashes))
		}
		if len(v.Models.Names) > 0 {
			selectors = append(selectors, dialect.InString("image.model_name", v.Models.Names))
		}
		out = append(out, c.build(d.Select(idColumn).From("image").Where(dialect.Or(selectors...))))
	}
	if v.Folder != "" {
		folder := v.Folder
		if !strings.HasSuffix(folder, "/") {
			folder += "/"
		}
		out = append(out, c.build(d.Select(idColumn).From("image").Where(dialect.HasPrefix("image.path", folder))))
	}
	return out
}
