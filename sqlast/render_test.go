package sqlast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

func orderSpec(t *testing.T) (*QuerySpec, *bind.Registry) {
	t.Helper()
	reg := bind.NewRegistry(1)
	customer := reg.Named("customer")
	customer.Type = metamodel.TypeInt64

	order := &TableGroup{Path: navpath.Root("o"), Alias: "o1", Primary: &NamedTable{Name: "orders", Alias: "o1"}}
	items := &TableGroup{Path: navpath.Root("o").Append("items"), Alias: "li2", Primary: &NamedTable{Name: "line_items", Alias: "li2"}}
	order.Join(items, true, Eq(Col("o1", "id", metamodel.TypeInt64), Col("li2", "order_id", metamodel.TypeInt64)))

	spec := &QuerySpec{From: []*TableGroup{order}}
	oid := Col("o1", "id", metamodel.TypeInt64)
	spec.Select.Register(oid)
	spec.Select.Register(Col("li2", "id", metamodel.TypeInt64))
	total := &Aggregate{Func: "sum", Arg: Col("li2", "qty", metamodel.TypeInt)}
	sel := spec.Select.Register(total)
	spec.Where = Eq(Col("o1", "customer_id", metamodel.TypeInt64), &JdbcParameter{Param: customer})
	spec.OrderBy = []SortSpec{{Expr: &SqlSelectionExpression{Selection: sel}, Desc: true}, {Expr: oid}}
	return spec, reg
}

func TestSelectClauseRegister(t *testing.T) {
	var c SelectClause
	a := Col("t", "a", metamodel.TypeInt)
	b := Col("t", "b", metamodel.TypeInt)
	sa := c.Register(a)
	sb := c.Register(b)
	assert.Same(t, sa, c.Register(a))
	// An equal but distinct expression object is a new selection.
	sc := c.Register(Col("t", "a", metamodel.TypeInt))
	require.Equal(t, 3, c.Len())
	for i, s := range c.Selections() {
		assert.Equal(t, i, s.ValuesPosition)
		assert.Equal(t, i+1, s.JdbcPosition)
	}
	assert.Equal(t, []*SqlSelection{sa, sb, sc}, c.Selections())
}

func TestRender(t *testing.T) {
	spec, reg := orderSpec(t)
	bound, err := bind.Resolve(reg, bind.NewValues().Set("customer", 7))
	require.NoError(t, err)

	text, bindings, err := Render(spec, dialect.Postgres, bound, 10, 5)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "o1"."id", "li2"."id", SUM("li2"."qty") FROM "orders" "o1" LEFT JOIN "line_items" "li2" ON "o1"."id" = "li2"."order_id" WHERE "o1"."customer_id" = $1 ORDER BY 3 DESC, "o1"."id" LIMIT 10 OFFSET 5`,
		text)
	assert.Equal(t, []any{int64(7)}, bind.Args(bindings))

	text, _, err = Render(spec, dialect.MySQL, bound, 0, 5)
	require.NoError(t, err)
	assert.Contains(t, text, "FROM `orders` `o1` LEFT JOIN")
	assert.Contains(t, text, "LIMIT 18446744073709551615 OFFSET 5")

	text, _, err = Render(spec, dialect.SQLite, bound, 0, 5)
	require.NoError(t, err)
	assert.Contains(t, text, "LIMIT -1 OFFSET 5")
}

func TestRenderMissingParameter(t *testing.T) {
	spec, reg := orderSpec(t)
	_, _, err := Render(spec, dialect.SQLite, nil, 0, 0)
	require.Error(t, err)
	assert.True(t, loom.IsParameterError(err))

	bound, err := bind.Resolve(reg, bind.NewValues().Set("customer", 1))
	require.NoError(t, err)
	other := bind.NewRegistry(1).Named("other")
	spec.Where = Eq(Col("o1", "x", metamodel.TypeInt), &JdbcParameter{Param: other})
	_, _, err = Render(spec, dialect.SQLite, bound, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":other")
}

func TestRenderLock(t *testing.T) {
	spec := &QuerySpec{From: []*TableGroup{{Alias: "t1", Primary: &NamedTable{Name: "t", Alias: "t1"}}}}
	spec.Select.Register(Col("t1", "id", metamodel.TypeInt))
	tests := []struct {
		dialect string
		mode    loom.LockMode
		want    string
	}{
		{dialect.Postgres, loom.LockWrite, ` FOR UPDATE`},
		{dialect.Postgres, loom.LockRead, ` FOR SHARE`},
		{dialect.MySQL, loom.LockRead, " LOCK IN SHARE MODE"},
		{dialect.MySQL, loom.LockWrite, " FOR UPDATE"},
		{dialect.SQLite, loom.LockWrite, `"t" "t1"`},
	}
	for _, tt := range tests {
		spec.Lock = tt.mode
		text, _, err := Render(spec, tt.dialect, nil, 0, 0)
		require.NoError(t, err)
		assert.Contains(t, text, tt.want)
		if tt.dialect == dialect.SQLite {
			assert.NotContains(t, text, "FOR")
		}
	}
}

func TestRenderInListExpansion(t *testing.T) {
	reg := bind.NewRegistry(1)
	ids := reg.Named("ids")
	ids.Multi = true
	in := &InList{Expr: Col("t", "id", metamodel.TypeInt64), Items: []Expression{&JdbcParameter{Param: ids}}}

	bound, err := bind.Resolve(reg, bind.NewValues().SetList("ids", []int64{4, 2, 9}))
	require.NoError(t, err)
	text, bindings, err := RenderPredicate(in, dialect.Postgres, bound)
	require.NoError(t, err)
	assert.Equal(t, `"t"."id" IN ($1, $2, $3)`, text)
	assert.Equal(t, []any{int64(4), int64(2), int64(9)}, bind.Args(bindings))

	bound, err = bind.Resolve(reg, bind.NewValues().SetList("ids", []int64{}))
	require.NoError(t, err)
	text, bindings, err = RenderPredicate(in, dialect.Postgres, bound)
	require.NoError(t, err)
	assert.Equal(t, "1=0", text)
	assert.Empty(t, bindings)

	in.Not = true
	text, _, err = RenderPredicate(in, dialect.Postgres, bound)
	require.NoError(t, err)
	assert.Equal(t, "1=1", text)
}

func TestRenderExpressions(t *testing.T) {
	name := Col("c", "name", metamodel.TypeString)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name     string
		dialect  string
		pred     Predicate
		want     string
		bindings []any
	}{
		{
			name:    "concat mysql",
			dialect: dialect.MySQL,
			pred:    Eq(&BinaryArithmetic{Op: "||", L: name, R: &Literal{Value: "x"}}, &Literal{Value: "ax"}),
			want:    "CONCAT(`c`.`name`, 'x') = 'ax'",
		},
		{
			name:    "concat sqlite",
			dialect: dialect.SQLite,
			pred:    Eq(&BinaryArithmetic{Op: "||", L: name, R: &Literal{Value: "x"}}, &Literal{Value: "ax"}),
			want:    `("c"."name" || 'x') = 'ax'`,
		},
		{
			name:     "bound literal",
			dialect:  dialect.SQLite,
			pred:     &Comparison{Op: ">", L: Col("c", "created", metamodel.TypeTime), R: &Literal{Value: ts}},
			want:     `"c"."created" > ?`,
			bindings: []any{ts},
		},
		{
			name:    "like",
			dialect: dialect.SQLite,
			pred:    &Like{Expr: name, Pattern: &Literal{Value: `a\_%`}, Not: true},
			want:    `"c"."name" NOT LIKE 'a\_%' ESCAPE '\'`,
		},
		{
			name:    "junction",
			dialect: dialect.Postgres,
			pred: &Junction{Or: true, Preds: []Predicate{
				&Nullness{Expr: name},
				&Negated{Pred: &Nullness{Expr: name, Not: true}},
			}},
			want: `("c"."name" IS NULL OR NOT ("c"."name" IS NOT NULL))`,
		},
		{
			name:    "empty conjunction",
			dialect: dialect.Postgres,
			pred:    &Junction{},
			want:    "1=1",
		},
		{
			name:    "case",
			dialect: dialect.Postgres,
			pred: Eq(&CaseSearched{
				Whens: []When{{Cond: &Nullness{Expr: Col("s", "id", metamodel.TypeInt64), Not: true}, Result: &Literal{Value: "Sub"}}},
				Else:  &Literal{Value: "Base"},
			}, &Literal{Value: "Sub"}),
			want: `CASE WHEN "s"."id" IS NOT NULL THEN 'Sub' ELSE 'Base' END = 'Sub'`,
		},
		{
			name:    "aggregate",
			dialect: dialect.Postgres,
			pred:    &Comparison{Op: ">", L: &Aggregate{Func: "count", Distinct: true, Arg: name}, R: &Literal{Value: 1}},
			want:    `COUNT(DISTINCT "c"."name") > 1`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, bindings, err := RenderPredicate(tt.pred, tt.dialect, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, text)
			if tt.bindings != nil {
				assert.Equal(t, tt.bindings, bind.Args(bindings))
			}
		})
	}
}

func TestRenderFragmentAndSecondaries(t *testing.T) {
	reg := bind.NewRegistry(1)
	p := reg.Named("tenant.id")
	bound, err := bind.Resolve(reg, bind.NewValues().Set("tenant.id", "acme"))
	require.NoError(t, err)

	root := &TableGroup{
		Alias:   "p1",
		Primary: &NamedTable{Name: "payments", Alias: "p1"},
		Secondary: []*TableReferenceJoin{{
			Left:  true,
			Table: &NamedTable{Name: "card_payments", Alias: "p1_1"},
			On:    Eq(Col("p1", "id", metamodel.TypeInt64), Col("p1_1", "id", metamodel.TypeInt64)),
		}},
	}
	spec := &QuerySpec{From: []*TableGroup{root}}
	spec.Select.Register(Col("p1", "id", metamodel.TypeInt64))
	spec.Where = &FragmentPredicate{Parts: []string{`p1.tenant = `, ``}, Params: []*bind.Parameter{p}}
	text, bindings, err := Render(spec, dialect.SQLite, bound, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "p1"."id" FROM "payments" "p1" LEFT JOIN "card_payments" "p1_1" ON "p1"."id" = "p1_1"."id" WHERE (p1.tenant = ?)`, text)
	assert.Equal(t, []any{"acme"}, bind.Args(bindings))
	assert.Equal(t, "p1_1", root.Reference("card_payments"))
	assert.Equal(t, "p1", root.Reference("payments"))
}

func TestRenderUnion(t *testing.T) {
	u := &UnionTable{
		Alias:       "a1",
		Columns:     []string{"id", "number"},
		ClassColumn: "clazz_",
		Members: []UnionMember{
			{Table: "card_payments", ClassID: 1, Columns: map[string]bool{"id": true, "number": true}},
			{Table: "cash_payments", ClassID: 2, Columns: map[string]bool{"id": true}},
		},
	}
	spec := &QuerySpec{From: []*TableGroup{{Alias: "a1", Primary: u}}}
	spec.Select.Register(Col("a1", "clazz_", metamodel.TypeInt))
	text, _, err := Render(spec, dialect.Postgres, nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "a1"."clazz_" FROM (SELECT "id", "number", 1 AS "clazz_" FROM "card_payments" UNION ALL SELECT "id", NULL AS "number", 2 AS "clazz_" FROM "cash_payments") "a1"`, text)
}
