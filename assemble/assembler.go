// Package assemble reconstructs object graphs from result rows.
//
// An Assembler processes the rows of one execution. Every physical row goes
// through two phases: hydrate locates or creates the entity instances the
// row identifies and registers them as loading; resolve then converts the
// column values and links associations. Registering before resolving lets
// rows that reference each other, directly or through a cycle, resolve to
// the same instances. Entities are handed to the persistence context only
// when a logical row ends, so a failing row leaves nothing registered.
package assemble

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

// PersistenceContext is the session identity map consumed by the assembler.
type PersistenceContext interface {
	// Lookup returns the instance registered for key, initialized or not.
	Lookup(key loom.EntityKey) (any, bool)
	// IsInitialized reports whether the instance of key is fully loaded.
	IsInitialized(key loom.EntityKey) bool
	// Reference returns the instance registered for key, registering an
	// uninitialized instance of e when there is none.
	Reference(e *metamodel.Entity, key loom.EntityKey) (any, error)
	// Managed registers a fully loaded instance and its state snapshot.
	Managed(e *metamodel.Entity, key loom.EntityKey, instance any, state []any)
	// CollectionLoaded reports whether the collection attr of owner is initialized.
	CollectionLoaded(owner loom.EntityKey, attr *metamodel.Attribute) bool
	// MarkCollectionLoaded marks the collection attr of owner initialized.
	MarkCollectionLoaded(owner loom.EntityKey, attr *metamodel.Attribute)
	// Defer records an association left for a later query. fk is the foreign
	// key of a to-one association and nil for collections.
	Defer(owner loom.EntityKey, instance any, attr *metamodel.Attribute, strategy fetch.Strategy, fk any)
}

// PostLoader is implemented by entities that want to be notified once loaded.
type PostLoader interface {
	PostLoad(ctx context.Context) error
}

// Listener is notified after an entity is loaded, after its PostLoad method.
type Listener func(ctx context.Context, e *metamodel.Entity, instance any) error

// Options configures an Assembler.
type Options struct {
	Context     PersistenceContext
	Listeners   []Listener
	EntityCache loom.EntityCache
	CacheMode   loom.CacheMode
	Now         func() time.Time
}

// entry is the arena node of one entity instance within an execution.
type entry struct {
	key      loom.EntityKey
	entity   *metamodel.Entity
	instance any
	// claimed entries are loaded by this execution.
	claimed  bool
	resolved bool
	done     bool
	state    []any
	version  any
}

// Assembler turns the rows of one execution into results.
type Assembler struct {
	results *Results
	opts    Options

	loading map[loom.EntityKey]*entry
	order   []*entry
	current map[navpath.Path]*entry
	colls   map[collectionKey]*accumulator
	collSeq []*accumulator
	rows    int
	out     any
}

// New returns an assembler for one execution of a statement.
func New(results *Results, opts Options) *Assembler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	a := &Assembler{results: results, opts: opts}
	a.reset()
	return a
}

func (a *Assembler) reset() {
	a.loading = make(map[loom.EntityKey]*entry)
	a.order = a.order[:0]
	a.current = make(map[navpath.Path]*entry)
	a.colls = make(map[collectionKey]*accumulator)
	a.collSeq = a.collSeq[:0]
	a.rows = 0
	a.out = nil
}

// SameResult reports whether row continues the logical result of prev.
func (a *Assembler) SameResult(prev, row []any) bool {
	if !a.results.HasCollectionFetch || prev == nil || len(a.results.RootKeys) == 0 {
		return false
	}
	for _, pos := range a.results.RootKeys {
		if !sameValue(prev[pos], row[pos]) {
			return false
		}
	}
	return true
}

func sameValue(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	kx, err1 := metamodel.TypeInvalid.Key(x)
	ky, err2 := metamodel.TypeInvalid.Key(y)
	if err1 != nil || err2 != nil {
		return false
	}
	if reflect.TypeOf(kx).Comparable() && reflect.TypeOf(ky).Comparable() {
		return kx == ky
	}
	return fmt.Sprint(kx) == fmt.Sprint(ky)
}

// Apply processes one physical row of the current logical result.
func (a *Assembler) Apply(ctx context.Context, row []any) error {
	a.rows++
	clear(a.current)
	for _, item := range a.results.Items {
		if err := item.hydrate(a, row); err != nil {
			return err
		}
	}
	for _, item := range a.results.Items {
		if err := item.resolve(a, row); err != nil {
			return err
		}
	}
	if a.rows > 1 {
		return nil
	}
	if len(a.results.Items) == 1 {
		v, err := a.results.Items[0].value(a, row)
		if err != nil {
			return err
		}
		a.out = v
		return nil
	}
	tuple := make([]any, len(a.results.Items))
	for i, item := range a.results.Items {
		v, err := item.value(a, row)
		if err != nil {
			return err
		}
		tuple[i] = v
	}
	a.out = tuple
	return nil
}

// End completes the current logical result: collections are finalized,
// loaded entities are registered with the persistence context, post-load
// hooks run and cacheable entities are put into the entity cache.
func (a *Assembler) End(ctx context.Context) (any, error) {
	defer a.reset()
	if err := a.finalizeCollections(); err != nil {
		return nil, err
	}
	var loaded []*entry
	for _, e := range a.order {
		if !e.claimed || e.done {
			continue
		}
		e.done = true
		a.opts.Context.Managed(e.entity, e.key, e.instance, e.state)
		loaded = append(loaded, e)
	}
	for _, e := range loaded {
		if err := a.postLoad(ctx, e); err != nil {
			return nil, err
		}
	}
	return a.out, nil
}

// Abort drops the state of the current logical result without registering
// anything.
func (a *Assembler) Abort() { a.reset() }

func (a *Assembler) postLoad(ctx context.Context, e *entry) error {
	if pl, ok := e.instance.(PostLoader); ok {
		if err := pl.PostLoad(ctx); err != nil {
			return fmt.Errorf("post load %s: %w", e.key, err)
		}
	}
	for _, l := range a.opts.Listeners {
		if err := l(ctx, e.entity, e.instance); err != nil {
			return fmt.Errorf("listener %s: %w", e.key, err)
		}
	}
	if a.opts.EntityCache == nil || !a.opts.CacheMode.Puts() || !e.entity.IsCacheable() {
		return nil
	}
	cached, err := disassembleState(e.entity, e.state, e.version, a.opts.Now())
	if err != nil {
		return &loom.AssemblyError{Entity: e.entity.Name, Msg: "disassemble", Err: err}
	}
	_, err = a.opts.EntityCache.PutFromLoad(ctx, e.key, cached)
	return err
}

// Key returns the identity key of the entity e with the raw identifier id.
func Key(e *metamodel.Entity, id any) (loom.EntityKey, error) {
	root := e.Root()
	k, err := root.ID.Type.Key(id)
	if err != nil {
		return loom.EntityKey{}, err
	}
	return loom.EntityKey{Entity: root.Name, ID: k}, nil
}

// NewInstance allocates an instance of e with its identifier set.
func NewInstance(e *metamodel.Entity, id any) (any, error) {
	if e.Type == nil {
		return nil, &loom.AssemblyError{Entity: e.Name, Msg: "entity has no type"}
	}
	v := e.New()
	idAttr := e.Identifier()
	f := e.Field(v.Elem(), idAttr)
	conv, err := idAttr.Type.Convert(id, f.Type())
	if err != nil {
		return nil, &loom.AssemblyError{Entity: e.Name, Msg: "identifier", Err: err}
	}
	f.Set(conv)
	return v.Interface(), nil
}

func (a *Assembler) hydrateEntity(p *EntityPlan, row []any) error {
	raw := row[p.ID]
	if raw == nil {
		a.current[p.Path] = nil
		return nil
	}
	c, err := p.concrete(row)
	if err != nil {
		return err
	}
	key, err := Key(c, raw)
	if err != nil {
		return &loom.AssemblyError{Entity: c.Name, Path: p.Path.String(), Msg: "identifier", Err: err}
	}
	e, err := a.locate(p, c, key, raw)
	if err != nil {
		return err
	}
	a.current[p.Path] = e
	if p.Shallow {
		return nil
	}
	for _, to := range p.ToOne {
		if to.Join != nil {
			if err := a.hydrateEntity(to.Join, row); err != nil {
				return err
			}
		}
	}
	for _, cp := range p.Collections {
		if cp.Entity != nil {
			if err := a.hydrateEntity(cp.Entity, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// locate returns the arena entry of key, consulting the entities loading in
// this execution first and the persistence context second.
func (a *Assembler) locate(p *EntityPlan, c *metamodel.Entity, key loom.EntityKey, raw any) (*entry, error) {
	if e, ok := a.loading[key]; ok {
		return e, nil
	}
	pc := a.opts.Context
	e := &entry{key: key, entity: c}
	inst, found := pc.Lookup(key)
	switch {
	case found && pc.IsInitialized(key):
		e.instance = inst
	case p.Shallow:
		ref, err := pc.Reference(c, key)
		if err != nil {
			return nil, err
		}
		e.instance = ref
	case found:
		if reflect.TypeOf(inst) != reflect.PointerTo(c.Type) {
			return nil, &loom.AssemblyError{Entity: c.Name, Path: p.Path.String(), Msg: fmt.Sprintf("reference %s has type %T", key, inst)}
		}
		e.instance, e.claimed = inst, true
	default:
		inst, err := NewInstance(c, raw)
		if err != nil {
			return nil, err
		}
		e.instance, e.claimed = inst, true
	}
	a.loading[key] = e
	a.order = append(a.order, e)
	return e, nil
}

func (a *Assembler) resolveEntity(p *EntityPlan, row []any) error {
	e := a.current[p.Path]
	if e == nil || p.Shallow {
		return nil
	}
	if e.claimed && !e.resolved {
		e.resolved = true
		if err := a.populate(p, e, row); err != nil {
			return err
		}
	}
	for _, to := range p.ToOne {
		if to.Join != nil {
			if err := a.resolveEntity(to.Join, row); err != nil {
				return err
			}
		}
	}
	for _, cp := range p.Collections {
		if err := a.collect(e, cp, row); err != nil {
			return err
		}
	}
	return nil
}

// populate writes the row state into a claimed instance. Unfetched
// attributes keep their current value.
func (a *Assembler) populate(p *EntityPlan, e *entry, row []any) error {
	c := e.entity
	all := c.AllAttributes()
	e.state = make([]any, len(all))
	for i := range e.state {
		e.state[i] = metamodel.Unfetched
	}
	v := reflect.ValueOf(e.instance).Elem()
	fail := func(attr *metamodel.Attribute, err error) error {
		return &loom.AssemblyError{Entity: c.Name, Path: p.Path.Append(attr.Name).String(), Msg: "convert", Err: err}
	}
	for _, ap := range p.Attributes {
		idx := c.AttributeIndex(ap.Attribute)
		if idx < 0 || ap.Position < 0 {
			continue
		}
		raw := row[ap.Position]
		f := c.Field(v, ap.Attribute)
		conv, err := ap.Attribute.Type.Convert(raw, f.Type())
		if err != nil {
			return fail(ap.Attribute, err)
		}
		f.Set(conv)
		if e.state[idx], err = ap.Attribute.Type.Normalize(raw); err != nil {
			return fail(ap.Attribute, err)
		}
	}
	if p.Version >= 0 {
		va := c.VersionAttribute()
		raw := row[p.Version]
		f := c.Field(v, va)
		conv, err := va.Type.Convert(raw, f.Type())
		if err != nil {
			return fail(va, err)
		}
		f.Set(conv)
		e.version, _ = va.Type.Disassemble(raw)
	}
	for _, ep := range p.Embedded {
		idx := c.AttributeIndex(ep.Attribute)
		if idx < 0 {
			continue
		}
		ev, present, err := ep.Plan.build(row)
		if err != nil {
			return fail(ep.Attribute, err)
		}
		if err := setValue(c.Field(v, ep.Attribute), ev, present); err != nil {
			return fail(ep.Attribute, err)
		}
		if present {
			if e.state[idx], err = ep.Plan.disassemble(row); err != nil {
				return fail(ep.Attribute, err)
			}
		} else {
			e.state[idx] = nil
		}
	}
	for _, to := range p.ToOne {
		idx := c.AttributeIndex(to.Attribute)
		if idx < 0 {
			continue
		}
		if err := a.linkToOne(p, e, to, row, idx); err != nil {
			return err
		}
	}
	for _, d := range p.Deferred {
		if !c.HasAttribute(d.Attribute) {
			continue
		}
		if !a.opts.Context.CollectionLoaded(e.key, d.Attribute) {
			a.opts.Context.Defer(e.key, e.instance, d.Attribute, d.Strategy, nil)
		}
	}
	return nil
}

func (a *Assembler) linkToOne(p *EntityPlan, e *entry, to ToOnePlan, row []any, idx int) error {
	c := e.entity
	f := c.Field(reflect.ValueOf(e.instance).Elem(), to.Attribute)
	var fk any
	if to.FK >= 0 {
		fk = row[to.FK]
	}
	if to.Join != nil {
		if child := a.current[to.Join.Path]; child != nil {
			e.state[idx] = child.key.ID
			return assign(f, child.instance)
		}
	}
	if fk == nil {
		e.state[idx] = nil
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	id, err := reference(a.opts.Context, a.loading, e, f, to.Attribute, to.Strategy, fk)
	if err != nil {
		return &loom.AssemblyError{Entity: c.Name, Path: p.Path.Append(to.Attribute.Name).String(), Msg: "foreign key", Err: err}
	}
	e.state[idx] = id
	return nil
}

// reference links the target of a to-one association identified by the raw
// foreign key fk. Targets that are not loaded yet are linked through an
// uninitialized reference when their type is known, and deferred. Entities
// loading in the current execution are linked directly.
func reference(pc PersistenceContext, loading map[loom.EntityKey]*entry, owner *entry, f reflect.Value, attr *metamodel.Attribute, strategy fetch.Strategy, fk any) (any, error) {
	target := attr.TargetEntity()
	key, err := Key(target, fk)
	if err != nil {
		return nil, err
	}
	if le, ok := loading[key]; ok {
		return key.ID, assign(f, le.instance)
	}
	if inst, ok := pc.Lookup(key); ok {
		if err := assign(f, inst); err != nil {
			return nil, err
		}
	} else if target.Type != nil && len(target.Subclasses()) == 0 {
		ref, err := pc.Reference(target, key)
		if err != nil {
			return nil, err
		}
		if err := assign(f, ref); err != nil {
			return nil, err
		}
	}
	if !pc.IsInitialized(key) {
		pc.Defer(owner.key, owner.instance, attr, strategy, key.ID)
	}
	return key.ID, nil
}

// assign stores an entity instance pointer in a pointer or struct field.
func assign(f reflect.Value, instance any) error {
	v := reflect.ValueOf(instance)
	switch {
	case v.Type().AssignableTo(f.Type()):
		f.Set(v)
	case v.Kind() == reflect.Pointer && v.Elem().Type().AssignableTo(f.Type()):
		f.Set(v.Elem())
	default:
		return fmt.Errorf("assemble: cannot assign %s to field of type %s", v.Type(), f.Type())
	}
	return nil
}

// setValue stores an embeddable value in a struct or pointer field.
func setValue(f reflect.Value, v reflect.Value, present bool) error {
	if f.Kind() == reflect.Pointer {
		if !present {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return assign(f, p.Interface())
	}
	if !v.Type().AssignableTo(f.Type()) {
		return fmt.Errorf("assemble: cannot assign %s to field of type %s", v.Type(), f.Type())
	}
	f.Set(v)
	return nil
}
