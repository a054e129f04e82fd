package assemble

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

type (
	order struct {
		ID         int64
		Version    int64
		CustomerID int64
		Items      []*lineItem
		loads      int
	}
	lineItem struct {
		ID       int64
		Qty      int
		Position int
		Order    *order
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
	pair struct {
		ID   int64
		Name string
	}
)

func (o *order) PostLoad(context.Context) error {
	o.loads++
	return nil
}

func testModel(t *testing.T) *metamodel.Model {
	t.Helper()
	m, err := metamodel.New([]*metamodel.Entity{
		{
			Name:      "Order",
			Type:      reflect.TypeOf(order{}),
			ID:        &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Version:   &metamodel.Attribute{Name: "version", Type: metamodel.TypeInt64},
			Cacheable: true,
			Attributes: []*metamodel.Attribute{
				{Name: "customerID", Column: "customer_id", Type: metamodel.TypeInt64},
				{Name: "items", Kind: metamodel.ToMany, Target: "LineItem", JoinColumn: "order_id", IndexColumn: "position"},
			},
		},
		{
			Name: "LineItem",
			Type: reflect.TypeOf(lineItem{}),
			ID:   &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
			Attributes: []*metamodel.Attribute{
				{Name: "qty", Type: metamodel.TypeInt},
				{Name: "position", Type: metamodel.TypeInt},
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
	})
	require.NoError(t, err)
	return m
}

func entity(t *testing.T, m *metamodel.Model, name string) *metamodel.Entity {
	t.Helper()
	e, ok := m.Entity(name)
	require.True(t, ok)
	return e
}

func attr(t *testing.T, e *metamodel.Entity, name string) *metamodel.Attribute {
	t.Helper()
	a, ok := e.Attribute(name)
	require.True(t, ok)
	return a
}

type fakePC struct {
	instances map[loom.EntityKey]any
	init      map[loom.EntityKey]bool
	states    map[loom.EntityKey][]any
	loaded    map[string]bool
	deferred  []string
}

func newPC() *fakePC {
	return &fakePC{
		instances: make(map[loom.EntityKey]any),
		init:      make(map[loom.EntityKey]bool),
		states:    make(map[loom.EntityKey][]any),
		loaded:    make(map[string]bool),
	}
}

func (pc *fakePC) Lookup(key loom.EntityKey) (any, bool) {
	v, ok := pc.instances[key]
	return v, ok
}

func (pc *fakePC) IsInitialized(key loom.EntityKey) bool { return pc.init[key] }

func (pc *fakePC) Reference(e *metamodel.Entity, key loom.EntityKey) (any, error) {
	if v, ok := pc.instances[key]; ok {
		return v, nil
	}
	v, err := NewInstance(e, key.ID)
	if err != nil {
		return nil, err
	}
	pc.instances[key] = v
	return v, nil
}

func (pc *fakePC) Managed(_ *metamodel.Entity, key loom.EntityKey, instance any, state []any) {
	pc.instances[key] = instance
	pc.init[key] = true
	pc.states[key] = state
}

func (pc *fakePC) CollectionLoaded(owner loom.EntityKey, a *metamodel.Attribute) bool {
	return pc.loaded[owner.String()+"."+a.Name]
}

func (pc *fakePC) MarkCollectionLoaded(owner loom.EntityKey, a *metamodel.Attribute) {
	pc.loaded[owner.String()+"."+a.Name] = true
}

func (pc *fakePC) Defer(owner loom.EntityKey, _ any, a *metamodel.Attribute, s fetch.Strategy, fk any) {
	pc.deferred = append(pc.deferred, fmt.Sprintf("%s.%s:%s:%v", owner, a.Name, s, fk))
}

type fakeEntityCache struct {
	puts map[loom.EntityKey]*loom.CachedEntity
}

func (c *fakeEntityCache) Get(_ context.Context, key loom.EntityKey) (*loom.CachedEntity, bool, error) {
	e, ok := c.puts[key]
	return e, ok, nil
}

func (c *fakeEntityCache) PutFromLoad(_ context.Context, key loom.EntityKey, e *loom.CachedEntity) (bool, error) {
	c.puts[key] = e
	return true, nil
}

func (c *fakeEntityCache) Evict(_ context.Context, key loom.EntityKey) error {
	delete(c.puts, key)
	return nil
}

// orderResults maps rows of (o.id, o.version, o.customer_id, li.id, li.qty, li.position, li.order_id).
func orderResults(t *testing.T, m *metamodel.Model, indexed bool) *Results {
	o, li := entity(t, m, "Order"), entity(t, m, "LineItem")
	root := navpath.Root("o")
	itemPlan := &EntityPlan{
		Path: root.Append("items"), Entity: li, ID: 3, Discriminator: -1, Version: -1,
		Attributes: []AttributePlan{{attr(t, li, "qty"), 4}, {attr(t, li, "position"), 5}},
		ToOne:      []ToOnePlan{{Attribute: attr(t, li, "order"), FK: 6, Strategy: fetch.Select}},
	}
	index := -1
	if indexed {
		index = 5
	}
	orderPlan := &EntityPlan{
		Path: root, Entity: o, ID: 0, Discriminator: -1, Version: 1,
		Attributes:  []AttributePlan{{attr(t, o, "customerID"), 2}},
		Collections: []*CollectionPlan{{Attribute: attr(t, o, "items"), Entity: itemPlan, Index: index, Presence: 3}},
	}
	return &Results{Items: []Plan{orderPlan}, HasCollectionFetch: true, RootKeys: []int{0}}
}

func run(t *testing.T, a *Assembler, rows [][]any) []any {
	t.Helper()
	ctx := context.Background()
	var (
		out  []any
		prev []any
	)
	for _, row := range rows {
		if prev != nil && !a.SameResult(prev, row) {
			v, err := a.End(ctx)
			require.NoError(t, err)
			out = append(out, v)
		}
		require.NoError(t, a.Apply(ctx, row))
		prev = row
	}
	if prev != nil {
		v, err := a.End(ctx)
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestCollectionFanOut(t *testing.T) {
	m := testModel(t)
	rows := [][]any{
		{int64(1), int64(3), int64(10), int64(101), int64(5), int64(1), int64(1)},
		{int64(1), int64(3), int64(10), int64(100), int64(2), int64(0), int64(1)},
		{int64(1), int64(3), int64(10), int64(101), int64(5), int64(1), int64(1)},
		{int64(2), int64(1), int64(11), nil, nil, nil, nil},
	}
	t.Run("indexed", func(t *testing.T) {
		pc := newPC()
		out := run(t, New(orderResults(t, m, true), Options{Context: pc}), rows)
		require.Len(t, out, 2)
		o := out[0].(*order)
		assert.Equal(t, int64(10), o.CustomerID)
		assert.Equal(t, int64(3), o.Version)
		require.Len(t, o.Items, 2)
		assert.Equal(t, 2, o.Items[0].Qty)
		assert.Equal(t, 5, o.Items[1].Qty)
		for _, it := range o.Items {
			assert.Same(t, o, it.Order)
		}
		assert.Equal(t, 1, o.loads)
		assert.True(t, pc.loaded["Order#1.items"])

		empty := out[1].(*order)
		assert.NotNil(t, empty.Items)
		assert.Empty(t, empty.Items)
		assert.True(t, pc.loaded["Order#2.items"])
		assert.Empty(t, pc.deferred)
	})
	t.Run("first seen", func(t *testing.T) {
		out := run(t, New(orderResults(t, m, false), Options{Context: newPC()}), rows)
		o := out[0].(*order)
		require.Len(t, o.Items, 2)
		assert.Equal(t, 5, o.Items[0].Qty)
		assert.Equal(t, 2, o.Items[1].Qty)
	})
}

func TestIdentityAcrossExecutions(t *testing.T) {
	m := testModel(t)
	pc := newPC()
	rows := [][]any{{int64(7), int64(1), int64(10), int64(70), int64(1), int64(0), int64(7)}}
	first := run(t, New(orderResults(t, m, true), Options{Context: pc}), rows)
	second := run(t, New(orderResults(t, m, true), Options{Context: pc}), rows)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Same(t, first[0].(*order), second[0].(*order))
	assert.Same(t, first[0].(*order).Items[0], second[0].(*order).Items[0])
	assert.Equal(t, 1, first[0].(*order).loads)
}

func TestUnknownDiscriminator(t *testing.T) {
	m := testModel(t)
	p := entity(t, m, "Payment")
	card := entity(t, m, "CardPayment")
	plan := &EntityPlan{
		Path: navpath.Root("p"), Entity: p, ID: 0, Discriminator: 1, Version: -1,
		Attributes: []AttributePlan{{attr(t, p, "amount"), 2}, {attr(t, card, "number"), 3}},
	}
	pc := newPC()
	a := New(&Results{Items: []Plan{plan}}, Options{Context: pc})

	out := run(t, a, [][]any{{int64(1), "card", 9.5, "4111"}})
	c := out[0].(*cardPayment)
	assert.Equal(t, 9.5, c.Amount)
	assert.Equal(t, "4111", c.Number)

	err := a.Apply(context.Background(), []any{int64(2), "bogus", 1.0, nil})
	require.Error(t, err)
	assert.True(t, loom.IsAssemblyError(err))
	assert.Contains(t, err.Error(), "bogus")
	a.Abort()
	_, ok := pc.Lookup(loom.EntityKey{Entity: "Payment", ID: int64(2)})
	assert.False(t, ok)
}

func TestSelfReferenceJoin(t *testing.T) {
	m := testModel(t)
	e := entity(t, m, "Employee")
	name, manager := attr(t, e, "name"), attr(t, e, "manager")
	root := navpath.Root("e")
	managerPlan := &EntityPlan{
		Path: root.Append("manager"), Entity: e, ID: 3, Discriminator: -1, Version: -1,
		Attributes: []AttributePlan{{name, 4}},
		ToOne:      []ToOnePlan{{Attribute: manager, FK: 5, Strategy: fetch.Select}},
	}
	plan := &EntityPlan{
		Path: root, Entity: e, ID: 0, Discriminator: -1, Version: -1,
		Attributes: []AttributePlan{{name, 1}},
		ToOne:      []ToOnePlan{{Attribute: manager, FK: 2, Join: managerPlan, Strategy: fetch.Select}},
	}
	pc := newPC()
	out := run(t, New(&Results{Items: []Plan{plan}}, Options{Context: pc}), [][]any{
		{int64(1), "boss", int64(1), int64(1), "boss", int64(1)},
		{int64(2), "worker", int64(1), int64(1), "boss", int64(1)},
		{int64(3), "other", int64(9), int64(9), "lead", int64(8)},
	})
	require.Len(t, out, 3)
	boss := out[0].(*employee)
	assert.Same(t, boss, boss.Manager)
	assert.Same(t, boss, out[1].(*employee).Manager)

	lead := out[2].(*employee).Manager
	assert.Equal(t, "lead", lead.Name)
	require.NotNil(t, lead.Manager)
	assert.Equal(t, int64(8), lead.Manager.ID)
	assert.False(t, pc.IsInitialized(loom.EntityKey{Entity: "Employee", ID: int64(8)}))
	assert.Equal(t, []string{"Employee#9.manager:select:8"}, pc.deferred)
}

func TestUnfetchedNeverWritten(t *testing.T) {
	m := testModel(t)
	o := entity(t, m, "Order")
	pc := newPC()
	key := loom.EntityKey{Entity: "Order", ID: int64(4)}
	ref, err := pc.Reference(o, key)
	require.NoError(t, err)
	ref.(*order).CustomerID = 99

	plan := &EntityPlan{
		Path: navpath.Root("o"), Entity: o, ID: 0, Discriminator: -1, Version: -1,
		Attributes: []AttributePlan{{attr(t, o, "customerID"), -1}},
		Deferred:   []DeferredPlan{{Attribute: attr(t, o, "items"), Strategy: fetch.Batch}},
	}
	out := run(t, New(&Results{Items: []Plan{plan}}, Options{Context: pc}), [][]any{{int64(4)}})
	assert.Same(t, ref, out[0])
	assert.Equal(t, int64(99), ref.(*order).CustomerID)
	assert.True(t, pc.IsInitialized(key))
	state := pc.states[key]
	require.Len(t, state, 2)
	assert.True(t, metamodel.IsUnfetched(state[0]))
	assert.True(t, metamodel.IsUnfetched(state[1]))
	assert.Equal(t, []string{"Order#4.items:batch:<nil>"}, pc.deferred)
}

func TestPostLoadListenersAndCachePut(t *testing.T) {
	m := testModel(t)
	pc := newPC()
	cache := &fakeEntityCache{puts: make(map[loom.EntityKey]*loom.CachedEntity)}
	var calls []string
	listener := func(_ context.Context, e *metamodel.Entity, instance any) error {
		if o, ok := instance.(*order); ok {
			calls = append(calls, fmt.Sprintf("%s loads=%d", e.Name, o.loads))
		}
		return nil
	}
	rows := [][]any{{int64(1), int64(3), int64(10), int64(100), int64(2), int64(0), int64(1)}}
	run(t, New(orderResults(t, m, true), Options{
		Context: pc, Listeners: []Listener{listener}, EntityCache: cache, CacheMode: loom.CacheNormal,
	}), rows)
	assert.Equal(t, []string{"Order loads=1"}, calls)

	entry, ok := cache.puts[loom.EntityKey{Entity: "Order", ID: int64(1)}]
	require.True(t, ok)
	assert.Equal(t, "Order", entry.Entity)
	assert.Equal(t, []any{int64(10), nil}, entry.State)
	assert.Equal(t, []int{1}, entry.Unfetched)
	assert.Equal(t, int64(3), entry.Version)
	// LineItem is not cacheable.
	assert.Len(t, cache.puts, 1)

	t.Run("mode without put", func(t *testing.T) {
		cache := &fakeEntityCache{puts: make(map[loom.EntityKey]*loom.CachedEntity)}
		run(t, New(orderResults(t, m, true), Options{Context: newPC(), EntityCache: cache, CacheMode: loom.CacheGet}), rows)
		assert.Empty(t, cache.puts)
	})
	t.Run("listener error", func(t *testing.T) {
		failing := func(context.Context, *metamodel.Entity, any) error { return errors.New("boom") }
		a := New(orderResults(t, m, true), Options{Context: newPC(), Listeners: []Listener{failing}})
		require.NoError(t, a.Apply(context.Background(), rows[0]))
		_, err := a.End(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestFromCache(t *testing.T) {
	m := testModel(t)
	o := entity(t, m, "Order")
	pc := newPC()
	key := loom.EntityKey{Entity: "Order", ID: int64(5)}
	cached := &loom.CachedEntity{Entity: "Order", State: []any{int64(12), nil}, Unfetched: []int{1}, Version: int64(4)}

	inst, err := FromCache(context.Background(), o, key, cached, Options{Context: pc})
	require.NoError(t, err)
	got := inst.(*order)
	assert.Equal(t, int64(5), got.ID)
	assert.Equal(t, int64(12), got.CustomerID)
	assert.Equal(t, int64(4), got.Version)
	assert.Equal(t, 1, got.loads)
	assert.True(t, pc.IsInitialized(key))
	assert.Equal(t, []string{"Order#5.items:select:<nil>"}, pc.deferred)

	again, err := FromCache(context.Background(), o, key, cached, Options{Context: pc})
	require.NoError(t, err)
	assert.Same(t, got, again)

	_, err = FromCache(context.Background(), o, key, &loom.CachedEntity{Entity: "Employee", State: []any{"x", nil}}, Options{Context: newPC()})
	require.Error(t, err)
	assert.True(t, loom.IsAssemblyError(err))
}

func TestScalarAndInstantiation(t *testing.T) {
	build := func(args []any) (any, error) {
		return pair{ID: args[0].(int64), Name: args[1].(string)}, nil
	}
	res := &Results{Items: []Plan{
		&InstantiationPlan{
			Args: []Plan{
				&BasicPlan{Position: 0, Type: metamodel.TypeInt64, GoType: reflect.TypeOf(int64(0))},
				&BasicPlan{Position: 1, Type: metamodel.TypeString, GoType: reflect.TypeOf("")},
			},
			Build: build,
		},
		&BasicPlan{Position: 2, Type: metamodel.TypeFloat64},
	}}
	out := run(t, New(res, Options{Context: newPC()}), [][]any{
		{int64(1), []byte("a"), "1.5"},
		{int32(2), "b", nil},
	})
	require.Len(t, out, 2)
	assert.Equal(t, []any{pair{ID: 1, Name: "a"}, 1.5}, out[0])
	assert.Equal(t, []any{pair{ID: 2, Name: "b"}, nil}, out[1])
}

func TestKeyedRows(t *testing.T) {
	m := testModel(t)
	li := entity(t, m, "LineItem")
	itemPlan := &EntityPlan{
		Path: navpath.Root("items"), Entity: li, ID: 1, Discriminator: -1, Version: -1,
		Attributes: []AttributePlan{{attr(t, li, "qty"), 2}},
	}
	res := &Results{Items: []Plan{&KeyedPlan{Key: &BasicPlan{Position: 0, Type: metamodel.TypeInt64}, Value: itemPlan}}}
	out := run(t, New(res, Options{Context: newPC()}), [][]any{
		{int64(1), int64(10), int64(3)},
		{int64(2), int64(11), int64(4)},
	})
	require.Len(t, out, 2)
	kr := out[1].(KeyedRow)
	assert.Equal(t, int64(2), kr.Key)
	assert.Equal(t, 4, kr.Value.(*lineItem).Qty)
}
