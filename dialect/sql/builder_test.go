package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/loom/dialect"
)

func TestBuilderIdent(t *testing.T) {
	tests := []struct {
		dialect string
		name    string
		want    string
	}{
		{dialect.Postgres, "orders", `"orders"`},
		{dialect.SQLite, "o1.id", `"o1"."id"`},
		{dialect.MySQL, "orders", "`orders`"},
		{dialect.MySQL, "we`ird", "`we``ird`"},
		{dialect.Postgres, "*", "*"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewBuilder(tt.dialect).Ident(tt.name).String())
		})
	}
}

func TestBuilderArg(t *testing.T) {
	b := NewBuilder(dialect.Postgres)
	b.WriteString("a = ").Arg().WriteString(" AND b = ").Arg()
	assert.Equal(t, "a = $1 AND b = $2", b.String())
	assert.Equal(t, 2, b.Args())

	b = NewBuilder(dialect.SQLite)
	b.WriteString("a IN (").Arg().Comma().Arg().WriteByte(')')
	assert.Equal(t, "a IN (?, ?)", b.String())
}

func TestBuilderLiteral(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		value   any
		want    string
	}{
		{"null", dialect.SQLite, nil, "NULL"},
		{"int", dialect.SQLite, int64(42), "42"},
		{"float", dialect.SQLite, 2.5, "2.5"},
		{"bool_pg", dialect.Postgres, true, "TRUE"},
		{"bool_sqlite", dialect.SQLite, false, "0"},
		{"string", dialect.Postgres, "it's", "'it''s'"},
		{"backslash_mysql", dialect.MySQL, `a\b`, `'a\\b'`},
		{"backslash_pg", dialect.Postgres, `a\b`, `'a\b'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Inline(tt.value))
			assert.Equal(t, tt.want, NewBuilder(tt.dialect).Literal(tt.value).String())
		})
	}
	assert.False(t, Inline([]byte("x")))
}

func TestBuilderColumn(t *testing.T) {
	assert.Equal(t, `"o1"."customer_id"`, NewBuilder(dialect.Postgres).Column("o1", "customer_id").String())
	assert.Equal(t, "`id`", NewBuilder(dialect.MySQL).Column("", "id").String())
}
