package sql

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/syssam/loom/dialect"
)

// Builder accumulates SQL text for one dialect. It knows how to quote
// identifiers, emit bind placeholders and inline safe literals.
type Builder struct {
	sb      strings.Builder
	dialect string
	total   int // number of placeholders written
}

// NewBuilder returns a Builder for the given dialect.
func NewBuilder(dialect string) *Builder {
	return &Builder{dialect: dialect}
}

// Dialect returns the builder dialect.
func (b *Builder) Dialect() string { return b.dialect }

// WriteString appends s as is.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// WriteByte appends a single byte.
func (b *Builder) WriteByte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Pad appends a single space.
func (b *Builder) Pad() *Builder { return b.WriteByte(' ') }

// Comma appends ", ".
func (b *Builder) Comma() *Builder { return b.WriteString(", ") }

// Ident appends a quoted identifier. Qualified names ("t.c") are quoted per part.
func (b *Builder) Ident(name string) *Builder {
	if name == "*" {
		return b.WriteByte('*')
	}
	q := byte('"')
	if b.dialect == dialect.MySQL {
		q = '`'
	}
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			b.sb.WriteByte('.')
		}
		b.sb.WriteByte(q)
		b.sb.WriteString(strings.ReplaceAll(part, string(q), string(q)+string(q)))
		b.sb.WriteByte(q)
	}
	return b
}

// Column appends a column qualified by a table alias.
func (b *Builder) Column(qualifier, column string) *Builder {
	if qualifier != "" {
		b.Ident(qualifier).WriteByte('.')
	}
	return b.Ident(column)
}

// Arg appends the next bind placeholder: $n for Postgres, ? otherwise.
func (b *Builder) Arg() *Builder {
	b.total++
	if b.dialect == dialect.Postgres {
		return b.WriteByte('$').WriteString(strconv.Itoa(b.total))
	}
	return b.WriteByte('?')
}

// Args returns the number of placeholders written so far.
func (b *Builder) Args() int { return b.total }

// Inline reports whether v can be rendered as a literal instead of a bind value.
func Inline(v any) bool {
	switch v := v.(type) {
	case nil, bool, int, int8, int16, int32, int64, uint8, uint16, uint32, string:
		return true
	case float64:
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	return false
}

// Literal appends v as an inline SQL literal. Callers check Inline first.
func (b *Builder) Literal(v any) *Builder {
	switch v := v.(type) {
	case nil:
		return b.WriteString("NULL")
	case bool:
		switch {
		case b.dialect == dialect.Postgres && v:
			return b.WriteString("TRUE")
		case b.dialect == dialect.Postgres:
			return b.WriteString("FALSE")
		case v:
			return b.WriteByte('1')
		default:
			return b.WriteByte('0')
		}
	case string:
		return b.WriteByte('\'').WriteString(escapeStringValue(v, b.dialect)).WriteByte('\'')
	case float64:
		return b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	default:
		return b.WriteString(fmt.Sprint(v))
	}
}

// String returns the accumulated SQL text.
func (b *Builder) String() string { return b.sb.String() }

// escapeStringValue escapes a string value for safe use in SQL.
// Single quotes are doubled; backslashes are escaped for MySQL only.
func escapeStringValue(s, name string) string {
	// Fast path: if no escaping needed, return as-is
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	if name == dialect.MySQL {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return strings.ReplaceAll(s, "'", "''")
}
