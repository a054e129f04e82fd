package compiler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/query"
)

type (
	order struct {
		ID       int64
		Version  int64
		Status   string
		Customer *customer
		Items    []*lineItem
	}
	customer struct {
		ID      int64
		Name    string
		Address address
	}
	address struct {
		City   string
		Street string
	}
	lineItem struct {
		ID    int64
		Qty   int
		Order *order
	}
	employee struct {
		ID      int64
		Name    string
		Manager *employee
	}
	cardPayment struct {
		ID     int64
		Amount float64
		Number string
	}
	dog struct {
		ID    int64
		Name  string
		Breed string
	}
	cat struct {
		ID    int64
		Name  string
		Lives int
	}
	car struct {
		ID     int64
		Wheels int
		Seats  int
	}
	truck struct {
		ID     int64
		Wheels int
		Load   float64
	}
	pair struct {
		ID   int64
		Name string
	}
	summary struct {
		ID    int64
		Label string
	}
)

func newPair(id int64, name string) pair { return pair{ID: id, Name: name} }

func testModel(t *testing.T) *metamodel.Model {
	t.Helper()
	addr := &metamodel.Embeddable{
		Name: "Address",
		Type: reflect.TypeOf(address{}),
		Attributes: []*metamodel.Attribute{
			{Name: "city", Type: metamodel.TypeString},
			{Name: "street", Type: metamodel.TypeString},
		},
	}
	m, err := metamodel.New([]*metamodel.Entity{
		{
			Name:    "Order",
			Type:    reflect.TypeOf(order{}),
			ID:      &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Version: &metamodel.Attribute{Name: "version", Type: metamodel.TypeInt64},
			Attributes: []*metamodel.Attribute{
				{Name: "status", Type: metamodel.TypeString},
				{Name: "customer", Kind: metamodel.ToOne, Target: "Customer", Fetch: metamodel.Lazy},
				{Name: "items", Kind: metamodel.ToMany, Target: "LineItem", JoinColumn: "order_id", IndexColumn: "position"},
			},
			Filters: []*metamodel.Filter{{Name: "byStatus", Condition: "{alias}.status = :status"}},
		},
		{
			Name: "Customer",
			Type: reflect.TypeOf(customer{}),
			ID:   &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes: []*metamodel.Attribute{
				{Name: "name", Type: metamodel.TypeString},
				{Name: "address", Kind: metamodel.Embedded, Embeddable: addr},
			},
		},
		{
			Name: "LineItem",
			Type: reflect.TypeOf(lineItem{}),
			ID:   &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes: []*metamodel.Attribute{
				{Name: "qty", Type: metamodel.TypeInt},
				{Name: "order", Kind: metamodel.ToOne, Target: "Order", Fetch: metamodel.Lazy},
			},
		},
		{
			Name: "Employee",
			Type: reflect.TypeOf(employee{}),
			ID:   &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes: []*metamodel.Attribute{
				{Name: "name", Type: metamodel.TypeString},
				{Name: "manager", Kind: metamodel.ToOne, Target: "Employee"},
			},
		},
		{
			Name:          "Payment",
			Abstract:      true,
			Inheritance:   metamodel.SingleTable,
			Discriminator: &metamodel.Discriminator{Column: "kind", Type: metamodel.TypeString},
			ID:            &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes:    []*metamodel.Attribute{{Name: "amount", Type: metamodel.TypeFloat64}},
		},
		{
			Name:               "CardPayment",
			Extends:            "Payment",
			Type:               reflect.TypeOf(cardPayment{}),
			DiscriminatorValue: "card",
			Attributes:         []*metamodel.Attribute{{Name: "number", Type: metamodel.TypeString}},
		},
		{
			Name:        "Animal",
			Abstract:    true,
			Inheritance: metamodel.Joined,
			ID:          &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes:  []*metamodel.Attribute{{Name: "name", Type: metamodel.TypeString}},
		},
		{
			Name:       "Dog",
			Extends:    "Animal",
			Type:       reflect.TypeOf(dog{}),
			Attributes: []*metamodel.Attribute{{Name: "breed", Type: metamodel.TypeString}},
		},
		{
			Name:       "Cat",
			Extends:    "Animal",
			Type:       reflect.TypeOf(cat{}),
			Attributes: []*metamodel.Attribute{{Name: "lives", Type: metamodel.TypeInt}},
		},
		{
			Name:        "Vehicle",
			Abstract:    true,
			Inheritance: metamodel.TablePerClass,
			ID:          &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes:  []*metamodel.Attribute{{Name: "wheels", Type: metamodel.TypeInt}},
		},
		{
			Name:       "Car",
			Extends:    "Vehicle",
			Type:       reflect.TypeOf(car{}),
			Attributes: []*metamodel.Attribute{{Name: "seats", Type: metamodel.TypeInt}},
		},
		{
			Name:       "Truck",
			Extends:    "Vehicle",
			Type:       reflect.TypeOf(truck{}),
			Attributes: []*metamodel.Attribute{{Name: "load", Type: metamodel.TypeFloat64}},
		},
	}, metamodel.WithTargets(
		&metamodel.Target{Name: "Pair", Type: reflect.TypeOf(pair{}), Constructors: []any{newPair}},
		&metamodel.Target{Name: "Summary", Type: reflect.TypeOf(summary{})},
	), metamodel.WithFetchProfiles(&metamodel.FetchProfile{
		Name:      "withItems",
		Overrides: []metamodel.Override{{Entity: "Order", Association: "items", Mode: metamodel.ModeJoin}},
	}))
	require.NoError(t, err)
	return m
}

func defaults() Influencers {
	return Influencers{MaxFetchDepth: 3, OrdinalBase: 1}
}

func compile(t *testing.T, q *query.Query, inf Influencers) *Compiled {
	t.Helper()
	c, err := New(testModel(t), dialect.SQLite).Compile(q, inf)
	require.NoError(t, err)
	return c
}

func render(t *testing.T, c *Compiled, vals *bind.Values) (string, []bind.Binding) {
	t.Helper()
	if vals == nil {
		vals = bind.NewValues()
	}
	bound, err := bind.Resolve(c.Registry, vals)
	require.NoError(t, err)
	text, bindings, err := c.Render(dialect.SQLite, bound, 0, 0)
	require.NoError(t, err)
	return text, bindings
}

func TestSelectionOrdering(t *testing.T) {
	c := compile(t, query.Select(query.P("o.id"), query.P("o")).From("Order", "o"), defaults())
	sels := c.Selections()
	require.Len(t, sels, 4)
	for i, s := range sels {
		assert.Equal(t, i, s.ValuesPosition)
		assert.Equal(t, i+1, s.JdbcPosition)
	}
	require.Len(t, c.Results.Items, 2)
	id := c.Results.Items[0].(*assemble.BasicPlan)
	o := c.Results.Items[1].(*assemble.EntityPlan)
	assert.Equal(t, 0, id.Position)
	assert.Equal(t, 0, o.ID, "the identifier is selected once")
	assert.Equal(t, 1, o.Version)

	text, _ := render(t, c, nil)
	assert.Equal(t, `SELECT "o1"."id", "o1"."version", "o1"."status", "o1"."customer_id" FROM "orders" "o1"`, text)
}

func TestCollectionFetchJoin(t *testing.T) {
	q := query.Select(query.P("o")).From("Order", "o").JoinFetch("o.items", "i")
	c := compile(t, q, defaults())
	assert.True(t, c.Results.HasCollectionFetch)
	assert.True(t, c.InMemoryWindow)
	assert.Equal(t, []int{0}, c.Results.RootKeys)

	bound, err := bind.Resolve(c.Registry, bind.NewValues())
	require.NoError(t, err)
	text, _, err := c.Render(dialect.SQLite, bound, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "o1"."id", "o1"."version", "o1"."status", "o1"."customer_id", "i1"."id", "i1"."qty", "i1"."order_id", "i1"."position"`+
		` FROM "orders" "o1" JOIN "line_items" "i1" ON "i1"."order_id" = "o1"."id"`+
		` ORDER BY "o1"."id", "i1"."position"`, text)

	o := c.Results.Items[0].(*assemble.EntityPlan)
	require.Len(t, o.Collections, 1)
	assert.Equal(t, 7, o.Collections[0].Index)
	assert.Equal(t, 4, o.Collections[0].Presence)
}

func TestUserOrderPrecedesRootKeys(t *testing.T) {
	q := query.Select(query.P("o")).From("Order", "o").
		JoinFetch("o.items", "i").
		OrderBy(query.Desc(query.P("o.status")))
	text, _ := render(t, compile(t, q, defaults()), nil)
	assert.True(t, strings.HasSuffix(text, `ORDER BY "o1"."status" DESC, "o1"."id", "i1"."position"`), text)

	q = query.Select(query.P("o")).From("Order", "o").
		JoinFetch("o.items", "i").
		OrderBy(query.Asc(query.P("i.qty")))
	text, _ = render(t, compile(t, q, defaults()), nil)
	assert.True(t, strings.HasSuffix(text, `ORDER BY "o1"."id", "i1"."qty", "i1"."position"`), text)
}

func TestFetchDepthAndCycles(t *testing.T) {
	tests := []struct {
		name     string
		depth    int
		wantJoin int
	}{
		{name: "cycle", depth: 3, wantJoin: 1},
		{name: "depth", depth: 0, wantJoin: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inf := defaults()
			inf.MaxFetchDepth = tt.depth
			c := compile(t, query.Select(query.P("e")).From("Employee", "e"), inf)
			assert.LessOrEqual(t, c.Fetch.MaxJoinDepth(), tt.depth)
			assert.Equal(t, tt.wantJoin, c.Fetch.MaxJoinDepth())
			var downgraded []*fetch.Node
			c.Fetch.Walk(func(n *fetch.Node) bool {
				if n.Downgraded {
					downgraded = append(downgraded, n)
				}
				return true
			})
			require.Len(t, downgraded, 1)
			assert.Equal(t, fetch.Join, downgraded[0].Declared)
			assert.Equal(t, fetch.Select, downgraded[0].Strategy)
			assert.Equal(t, []string{"manager_id"}, downgraded[0].KeyColumns)
		})
	}
}

func TestFetchDecisions(t *testing.T) {
	m := testModel(t)
	comp := New(m, dialect.SQLite)
	q := query.Select(query.P("o")).From("Order", "o")

	strategy := func(inf Influencers, role string) fetch.Strategy {
		c, err := comp.Compile(q, inf)
		require.NoError(t, err)
		var got fetch.Strategy
		found := false
		c.Fetch.Walk(func(n *fetch.Node) bool {
			if n.Attribute != nil && n.Attribute.Name == role {
				got, found = n.Strategy, true
			}
			return true
		})
		require.True(t, found, role)
		return got
	}
	assert.Equal(t, fetch.Select, strategy(defaults(), "items"))

	inf := defaults()
	inf.Profiles = []string{"withItems"}
	assert.Equal(t, fetch.Join, strategy(inf, "items"))

	inf = defaults()
	inf.Graph = &EntityGraph{Name: "g", Attributes: []string{"customer"}}
	assert.Equal(t, fetch.Join, strategy(inf, "customer"))
	assert.Equal(t, fetch.Select, strategy(inf, "items"))
}

func TestInstantiation(t *testing.T) {
	t.Run("Constructor", func(t *testing.T) {
		q := query.Select(query.Construct("Pair", query.P("c.id"), query.P("c.name"))).From("Customer", "c")
		c := compile(t, q, defaults())
		p := c.Results.Items[0].(*assemble.InstantiationPlan)
		require.Len(t, p.Args, 2)
		assert.Equal(t, reflect.TypeOf(int64(0)), p.Args[0].(*assemble.BasicPlan).GoType)
		assert.Equal(t, reflect.TypeOf(""), p.Args[1].(*assemble.BasicPlan).GoType)
		v, err := p.Build([]any{int64(1), "a"})
		require.NoError(t, err)
		assert.Equal(t, pair{ID: 1, Name: "a"}, v)
	})
	t.Run("Bean", func(t *testing.T) {
		q := query.Select(query.Construct("Summary", query.As(query.P("c.id"), "id"), query.As(query.P("c.name"), "label"))).From("Customer", "c")
		c := compile(t, q, defaults())
		p := c.Results.Items[0].(*assemble.InstantiationPlan)
		v, err := p.Build([]any{int64(2), "b"})
		require.NoError(t, err)
		assert.Equal(t, &summary{ID: 2, Label: "b"}, v)
	})
	t.Run("Unresolved", func(t *testing.T) {
		q := query.Select(query.Construct("Summary", query.P("c.id"), query.P("c.name"))).From("Customer", "c")
		_, err := New(testModel(t), dialect.SQLite).Compile(q, defaults())
		require.Error(t, err)
		assert.True(t, loom.IsCompileError(err))
	})
	t.Run("Map", func(t *testing.T) {
		q := query.Select(query.MapOf(query.As(query.P("c.name"), "name"), query.P("c.id"))).From("Customer", "c")
		c := compile(t, q, defaults())
		v, err := c.Results.Items[0].(*assemble.InstantiationPlan).Build([]any{"x", int64(3)})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "x", "1": int64(3)}, v)
	})
}

func TestInheritance(t *testing.T) {
	t.Run("SingleTableSubclass", func(t *testing.T) {
		c := compile(t, query.Select(query.P("p")).From("CardPayment", "p"), defaults())
		text, _ := render(t, c, nil)
		assert.Equal(t, `SELECT "cp1"."id", "cp1"."amount", "cp1"."number" FROM "payments" "cp1" WHERE "cp1"."kind" IN ('card')`, text)
	})
	t.Run("JoinedWithoutDiscriminator", func(t *testing.T) {
		c := compile(t, query.Select(query.P("a")).From("Animal", "a"), defaults())
		text, _ := render(t, c, nil)
		assert.Contains(t, text, `FROM "animals" "a1" LEFT JOIN "dogs" "a1_1" ON "a1_1"."id" = "a1"."id" LEFT JOIN "cats" "a1_2" ON "a1_2"."id" = "a1"."id"`)
		assert.Contains(t, text, `CASE WHEN "a1_1"."id" IS NOT NULL THEN 'Dog' WHEN "a1_2"."id" IS NOT NULL THEN 'Cat' END`)
		assert.Contains(t, text, `"a1_1"."breed"`)
		p := c.Results.Items[0].(*assemble.EntityPlan)
		assert.Equal(t, 1, p.Discriminator)
		assert.Nil(t, p.Classes)
	})
	t.Run("JoinedSubclass", func(t *testing.T) {
		c := compile(t, query.Select(query.P("d")).From("Dog", "d"), defaults())
		text, _ := render(t, c, nil)
		assert.Equal(t, `SELECT "d1"."id", "d1"."name", "d1_1"."breed" FROM "animals" "d1" JOIN "dogs" "d1_1" ON "d1_1"."id" = "d1"."id"`, text)
	})
	t.Run("TablePerClass", func(t *testing.T) {
		c := compile(t, query.Select(query.P("v")).From("Vehicle", "v"), defaults())
		text, _ := render(t, c, nil)
		assert.Contains(t, text, " UNION ALL ")
		assert.Contains(t, text, `AS "clazz_" FROM "cars"`)
		assert.Contains(t, text, `) "v1"`)
		p := c.Results.Items[0].(*assemble.EntityPlan)
		assert.Len(t, p.Classes, 2)
		assert.GreaterOrEqual(t, p.Discriminator, 0)
	})
}

func TestFilters(t *testing.T) {
	inf := defaults()
	inf.Filters = []EnabledFilter{{Name: "byStatus", Params: map[string]any{"status": "open"}}}
	c := compile(t, query.Select(query.P("o.id")).From("Order", "o"), inf)
	vals := bind.NewValues()
	inf.Filters[0].Bind(vals, c.Registry)
	text, bindings := render(t, c, vals)
	assert.Equal(t, `SELECT "o1"."id" FROM "orders" "o1" WHERE (o1.status = ?)`, text)
	assert.Equal(t, []any{"open"}, bind.Args(bindings))

	// Statements of entities without the filter declare no filter parameter.
	other := compile(t, query.Select(query.P("c.id")).From("Customer", "c"), inf)
	vals = bind.NewValues()
	inf.Filters[0].Bind(vals, other.Registry)
	assert.Empty(t, vals.Names())
}

func TestImplicitJoins(t *testing.T) {
	q := query.Select(query.P("o.id")).From("Order", "o").Where(
		query.EQ(query.P("o.customer.name"), query.Lit("a")),
		query.NEQ(query.P("o.customer.address.city"), query.Lit("b")),
		query.EQ(query.P("o.customer.id"), query.Lit(5)),
	)
	text, _ := render(t, compile(t, q, defaults()), nil)
	assert.Equal(t, 1, strings.Count(text, `JOIN "customers"`), text)
	assert.Contains(t, text, `"o1"."customer_id" = 5`)
	assert.Contains(t, text, `"c1"."city" <> 'b'`)
}

func TestPositionalReferences(t *testing.T) {
	q := query.Select(query.As(query.P("o.status"), "s"), query.As(query.Count(nil), "n")).
		From("Order", "o").
		GroupBy(query.P("s")).
		OrderBy(query.Desc(query.Count(nil)))
	text, _ := render(t, compile(t, q, defaults()), nil)
	assert.Equal(t, `SELECT "o1"."status", COUNT(*) FROM "orders" "o1" GROUP BY 1 ORDER BY 2 DESC`, text)
}

func TestParameterTypes(t *testing.T) {
	q := query.Select(query.P("o")).From("Order", "o").Where(
		query.EQ(query.P("o.version"), query.Named("v")),
		query.In(query.P("o.status"), query.Named("statuses")),
	)
	c := compile(t, q, defaults())
	params := c.Registry.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, metamodel.TypeInt64, params[0].Type)
	assert.Equal(t, metamodel.TypeString, params[1].Type)
	assert.True(t, params[1].Multi)

	text, bindings := render(t, c, bind.NewValues().Set("v", "3").SetList("statuses", []string{"a", "b"}))
	assert.Contains(t, text, `WHERE ("o1"."version" = ? AND "o1"."status" IN (?, ?))`)
	assert.Equal(t, []any{int64(3), "a", "b"}, bind.Args(bindings))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		q    *query.Query
	}{
		{"UnknownEntity", query.Select(query.P("x")).From("Nope", "x")},
		{"UnknownAttribute", query.Select(query.P("o.nope")).From("Order", "o")},
		{"Ambiguous", query.Select(query.P("name")).From("Customer", "c").From("Employee", "e")},
		{"ImplicitCollection", query.Select(query.P("o")).From("Order", "o").Where(query.EQ(query.P("o.items.qty"), query.Lit(1)))},
		{"DereferenceBasic", query.Select(query.P("o.status.x")).From("Order", "o")},
		{"UnattachedFetch", query.Select(query.P("o.id")).From("Order", "o").JoinFetch("o.items", "i")},
		{"OrdinalGap", query.Select(query.P("o")).From("Order", "o").Where(
			query.EQ(query.P("o.status"), query.Ordinal(1)),
			query.EQ(query.P("o.version"), query.Ordinal(3)),
		)},
	}
	comp := New(testModel(t), dialect.SQLite)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := comp.Compile(tt.q, defaults())
			require.Error(t, err)
			assert.True(t, loom.IsCompileError(err), err.Error())
		})
	}
}

func TestCompileKeyedAndAssociation(t *testing.T) {
	m := testModel(t)
	comp := New(m, dialect.SQLite)
	o, _ := m.Entity("Order")
	items, _ := o.Attribute("items")

	c, err := comp.CompileAssociation(items, defaults())
	require.NoError(t, err)
	text, bindings := render(t, c, bind.NewValues().SetList(KeysParam, []int64{1, 2}))
	assert.Equal(t, `SELECT "i1"."order_id", "i1"."position", "i1"."id", "i1"."qty" FROM "line_items" "i1"`+
		` WHERE "i1"."order_id" IN (?, ?) ORDER BY "i1"."order_id", "i1"."position"`, text)
	assert.Equal(t, []any{int64(1), int64(2)}, bind.Args(bindings))
	kp := c.Results.Items[0].(*assemble.KeyedPlan)
	assert.Equal(t, 0, kp.Key.Position)
	require.NotNil(t, kp.Index)
	assert.Equal(t, 1, kp.Index.Position)

	c, err = comp.CompileKeyed(o, defaults())
	require.NoError(t, err)
	text, _ = render(t, c, bind.NewValues().SetList(KeysParam, []int64{4}))
	assert.True(t, strings.HasSuffix(text, `WHERE "o1"."id" IN (?)`), text)
}

func TestNativeResults(t *testing.T) {
	m := testModel(t)
	o, _ := m.Entity("Order")
	c, err := New(m, dialect.Postgres).CompileNative("select id, status from orders where status = :s", o, 1)
	require.NoError(t, err)
	bound, err := bind.Resolve(c.Registry, bind.NewValues().Set("s", "open"))
	require.NoError(t, err)
	text, bindings, err := c.Render(dialect.Postgres, bound, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "select id, status from orders where status = $1", text)
	assert.Equal(t, []any{"open"}, bind.Args(bindings))

	res, err := c.ResultsFor([]string{"ID", "Status"})
	require.NoError(t, err)
	p := res.Items[0].(*assemble.EntityPlan)
	assert.Equal(t, 0, p.ID)
	assert.Equal(t, -1, p.Version)
	require.Len(t, p.Attributes, 1)
	assert.Equal(t, 1, p.Attributes[0].Position)
	assert.Empty(t, p.ToOne)
	assert.Len(t, p.Deferred, 1)

	_, err = c.ResultsFor([]string{"status"})
	assert.True(t, loom.IsCompileError(err))
}

func TestInfluencersKey(t *testing.T) {
	a := Influencers{Profiles: []string{"b", "a"}, Filters: []EnabledFilter{{Name: "y"}, {Name: "x"}}, MaxFetchDepth: 2, OrdinalBase: 1}
	b := Influencers{Profiles: []string{"a", "b"}, Filters: []EnabledFilter{{Name: "x"}, {Name: "y"}}, MaxFetchDepth: 2, OrdinalBase: 1}
	assert.Equal(t, a.Key(), b.Key())
	b.Lock = loom.LockWrite
	assert.NotEqual(t, a.Key(), b.Key())
}
