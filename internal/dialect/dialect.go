// Package dialect renders and rewrites catalog SQL for the supported engines.
//
// All SQL produced inside imgdex uses `?` placeholders. Stores rebind them to the
// engine's native form right before execution, so placeholder order is always the
// order in which bindings were appended.
package dialect

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies a target SQL engine.
type Dialect string

// Supported dialects.
const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Parse resolves a dialect by config name.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown sql dialect %q", name)
	}
}

// BoolLiteral renders a boolean constant.
func (d Dialect) BoolLiteral(v bool) string {
	if d == Postgres {
		if v {
			return "true"
		}
		return "false"
	}
	if v {
		return "1"
	}
	return "0"
}

// CosineDistance renders the cosine distance between two vector expressions.
// SQLite relies on the cosine_distance function registered by the sqlite store.
func (d Dialect) CosineDistance(a, b string) string {
	if d == Postgres {
		return "(" + a + " <=> " + b + ")"
	}
	return "cosine_distance(" + a + ", " + b + ")"
}

// VectorBytes renders the payload size in bytes of a nullable vector column (0 when NULL).
func (d Dialect) VectorBytes(col string) string {
	if d == Postgres {
		return "COALESCE(vector_dims(" + col + "), 0) * 4"
	}
	return "COALESCE(length(" + col + "), 0)"
}

// SupportsLateral reports whether LATERAL joins are available.
func (d Dialect) SupportsLateral() bool {
	return d == Postgres
}

// InInt64 renders `col IN (...)` for an id list.
// Postgres binds the whole list as one array parameter.
func (d Dialect) InInt64(col string, ids []int64) (string, []any) {
	if d == Postgres {
		return col + " = ANY(?)", []any{ids}
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return col + " IN (" + placeholders(len(ids)) + ")", args
}

// InString renders `col IN (...)` for a string list.
func (d Dialect) InString(col string, vals []string) (string, []any) {
	if d == Postgres {
		return col + " = ANY(?)", []any{vals}
	}
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return col + " IN (" + placeholders(len(vals)) + ")", args
}

// Rebind converts `?` placeholders to the dialect's native form.
// Question marks inside quoted literals and identifiers are left alone.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// LikeOperator is the case-insensitive pattern match operator. SQLite's LIKE
// already ignores ASCII case.
func (d Dialect) LikeOperator() string {
	if d == Postgres {
		return "ILIKE"
	}
	return "LIKE"
}

// mapUnquoted applies fn to every span of s outside single or double quotes
// and copies quoted spans unchanged.
func mapUnquoted(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				b.WriteString(s[start : i+1])
				start = i + 1
			}
		case c == '\'' || c == '"':
			b.WriteString(fn(s[start:i]))
			quote = c
			start = i
		}
	}
	if quote != 0 {
		b.WriteString(s[start:])
	} else {
		b.WriteString(fn(s[start:]))
	}
	return b.String()
}

// CountPlaceholders counts `?` placeholders outside quoted text.
func CountPlaceholders(query string) int {
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
		}
	}
	return n
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
