package dialect

import "strings"

// Cond is a WHERE predicate rendered for a dialect.
type Cond func(d Dialect) (string, []any)

// Raw wraps a pre-rendered predicate with its bindings.
func Raw(sql string, args ...any) Cond {
	return func(Dialect) (string, []any) { return sql, args }
}

// IsTrue matches rows where a boolean column is set.
func IsTrue(col string) Cond {
	return func(d Dialect) (string, []any) { return col + " = " + d.BoolLiteral(true), nil }
}

// IsFalse matches rows where a boolean column is not set.
func IsFalse(col string) Cond {
	return func(d Dialect) (string, []any) { return col + " = " + d.BoolLiteral(false), nil }
}

// Eq matches col = value.
func Eq(col string, value any) Cond {
	return func(Dialect) (string, []any) { return col + " = ?", []any{value} }
}

// IsNotNull matches rows where col has a value.
func IsNotNull(col string) Cond {
	return func(Dialect) (string, []any) { return col + " IS NOT NULL", nil }
}

// InInt64 matches col against an id list.
func InInt64(col string, ids []int64) Cond {
	return func(d Dialect) (string, []any) { return d.InInt64(col, ids) }
}

// InString matches col against a string list.
func InString(col string, vals []string) Cond {
	return func(d Dialect) (string, []any) { return d.InString(col, vals) }
}

// HasPrefix matches col starting with prefix, ignoring case on every dialect.
// LIKE wildcards in prefix are escaped.
func HasPrefix(col, prefix string) Cond {
	return func(d Dialect) (string, []any) {
		return col + " " + d.LikeOperator() + ` ? ESCAPE '\'`, []any{EscapeLike(prefix) + "%"}
	}
}

// Contains matches col containing substr, ignoring case on every dialect.
func Contains(col, substr string) Cond {
	return func(d Dialect) (string, []any) {
		return col + " " + d.LikeOperator() + ` ? ESCAPE '\'`, []any{"%" + EscapeLike(substr) + "%"}
	}
}

// Or joins predicates with OR. A single predicate is returned unwrapped.
func Or(conds ...Cond) Cond { return join(" OR ", conds) }

// And joins predicates with AND.
func And(conds ...Cond) Cond { return join(" AND ", conds) }

func join(sep string, conds []Cond) Cond {
	return func(d Dialect) (string, []any) {
		if len(conds) == 1 {
			return conds[0](d)
		}
		parts := make([]string, 0, len(conds))
		var args []any
		for _, c := range conds {
			s, a := c(d)
			parts = append(parts, s)
			args = append(args, a...)
		}
		return "(" + strings.Join(parts, sep) + ")", args
	}
}

// EscapeLike escapes LIKE metacharacters using backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type joinClause struct {
	table string
	on    string
	raw   string
}

// SelectBuilder assembles a single-table SELECT with optional joins.
type SelectBuilder struct {
	d      Dialect
	schema string
	cols   []string
	from   string
	joins  []joinClause
	where  []Cond
}

// Select starts a SELECT of cols.
func (d Dialect) Select(cols ...string) *SelectBuilder {
	return &SelectBuilder{d: d, cols: cols}
}

// From sets the source table. An alias may follow the table name.
func (b *SelectBuilder) From(table string) *SelectBuilder {
	b.from = table
	return b
}

// Join adds an inner join.
func (b *SelectBuilder) Join(table, on string) *SelectBuilder {
	b.joins = append(b.joins, joinClause{table: table, on: on})
	return b
}

// RawJoin appends a complete, pre-rendered JOIN clause.
func (b *SelectBuilder) RawJoin(clause string) *SelectBuilder {
	b.joins = append(b.joins, joinClause{raw: clause})
	return b
}

// Where adds a predicate. Multiple predicates are joined with AND.
func (b *SelectBuilder) Where(c Cond) *SelectBuilder {
	b.where = append(b.where, c)
	return b
}

// Schema qualifies every table reference with schema.
func (b *SelectBuilder) Schema(schema string) *SelectBuilder {
	b.schema = schema
	return b
}

// Build renders the statement and its bindings in emission order.
func (b *SelectBuilder) Build() (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.qualify(b.from))
	for _, j := range b.joins {
		if j.raw != "" {
			sb.WriteString(" ")
			sb.WriteString(strings.TrimSpace(j.raw))
			continue
		}
		sb.WriteString(" JOIN ")
		sb.WriteString(b.qualify(j.table))
		sb.WriteString(" ON ")
		sb.WriteString(j.on)
	}
	for i, c := range b.where {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		s, a := c(b.d)
		sb.WriteString(s)
		args = append(args, a...)
	}
	return sb.String(), args
}

func (b *SelectBuilder) qualify(table string) string {
	if b.schema == "" || table == "" {
		return table
	}
	return b.schema + "." + table
}
