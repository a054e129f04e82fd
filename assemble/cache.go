package assemble

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
)

// disassembleState converts the loaded state of e into its cache-safe form.
// Collections and unfetched attributes are recorded as unfetched.
func disassembleState(e *metamodel.Entity, state []any, version any, now time.Time) (*loom.CachedEntity, error) {
	out := &loom.CachedEntity{
		Entity:    e.Name,
		State:     make([]any, len(state)),
		Version:   version,
		Timestamp: now.UnixNano(),
	}
	for i, a := range e.AllAttributes() {
		v := state[i]
		if metamodel.IsUnfetched(v) || a.IsCollection() {
			out.Unfetched = append(out.Unfetched, i)
			continue
		}
		switch a.Kind {
		case metamodel.Basic:
			d, err := a.Type.Disassemble(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			out.State[i] = d
		case metamodel.ToOne:
			d, err := a.TargetEntity().Identifier().Type.Disassemble(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			out.State[i] = d
		default:
			out.State[i] = v
		}
	}
	return out, nil
}

// DeferredStrategy returns the strategy used to load attr later.
func DeferredStrategy(attr *metamodel.Attribute) fetch.Strategy {
	if s, ok := fetch.FromMode(attr.Mode); ok && s != fetch.Join {
		return s
	}
	return fetch.Select
}

// FromCache rebuilds an instance of the subtree of e from the entity cache
// and registers it with the persistence context. Associations are linked
// through references or deferred. An instance already initialized in the
// persistence context is returned unchanged.
func FromCache(ctx context.Context, e *metamodel.Entity, key loom.EntityKey, cached *loom.CachedEntity, opts Options) (any, error) {
	pc := opts.Context
	if inst, ok := pc.Lookup(key); ok && pc.IsInitialized(key) {
		return inst, nil
	}
	c, ok := e.Model().Entity(cached.Entity)
	if !ok || !c.IsA(e) {
		return nil, &loom.AssemblyError{Entity: e.Name, Msg: fmt.Sprintf("cached entry has entity %q", cached.Entity)}
	}
	all := c.AllAttributes()
	if len(cached.State) != len(all) {
		return nil, &loom.AssemblyError{Entity: c.Name, Msg: "cached state does not match the entity attributes"}
	}
	var (
		inst any
		err  error
	)
	if ref, ok := pc.Lookup(key); ok {
		inst = ref
	} else if inst, err = NewInstance(c, key.ID); err != nil {
		return nil, err
	}
	owner := &entry{key: key, entity: c, instance: inst, claimed: true, state: make([]any, len(all))}
	v := reflect.ValueOf(inst).Elem()
	fail := func(a *metamodel.Attribute, err error) error {
		return &loom.AssemblyError{Entity: c.Name, Path: a.Role(), Msg: "cached state", Err: err}
	}
	for i, a := range all {
		owner.state[i] = metamodel.Unfetched
		if slices.Contains(cached.Unfetched, i) {
			if a.IsCollection() && !pc.CollectionLoaded(key, a) {
				pc.Defer(key, inst, a, DeferredStrategy(a), nil)
			}
			continue
		}
		raw := cached.State[i]
		f := c.Field(v, a)
		switch a.Kind {
		case metamodel.Basic:
			conv, err := a.Type.Convert(raw, f.Type())
			if err != nil {
				return nil, fail(a, err)
			}
			f.Set(conv)
			if owner.state[i], err = a.Type.Normalize(raw); err != nil {
				return nil, fail(a, err)
			}
		case metamodel.Embedded:
			parts, _ := raw.([]any)
			ev, present, err := embeddedFromState(a.Embeddable, parts)
			if err != nil {
				return nil, fail(a, err)
			}
			if err := setValue(f, ev, present); err != nil {
				return nil, fail(a, err)
			}
			owner.state[i] = raw
		case metamodel.ToOne:
			if raw == nil {
				f.Set(reflect.Zero(f.Type()))
				owner.state[i] = nil
				continue
			}
			id, err := reference(pc, nil, owner, f, a, DeferredStrategy(a), raw)
			if err != nil {
				return nil, fail(a, err)
			}
			owner.state[i] = id
		}
	}
	if va := c.VersionAttribute(); va != nil && cached.Version != nil {
		f := c.Field(v, va)
		conv, err := va.Type.Convert(cached.Version, f.Type())
		if err != nil {
			return nil, fail(va, err)
		}
		f.Set(conv)
	}
	pc.Managed(c, key, inst, owner.state)
	a := &Assembler{opts: Options{Context: pc, Listeners: opts.Listeners}}
	if err := a.postLoad(ctx, owner); err != nil {
		return nil, err
	}
	return inst, nil
}

func embeddedFromState(em *metamodel.Embeddable, parts []any) (reflect.Value, bool, error) {
	v := reflect.New(em.Type).Elem()
	present := false
	for i, a := range em.Attributes {
		if i >= len(parts) || parts[i] == nil {
			continue
		}
		present = true
		f := em.Field(v, a)
		conv, err := a.Type.Convert(parts[i], f.Type())
		if err != nil {
			return reflect.Value{}, false, err
		}
		f.Set(conv)
	}
	return v, present, nil
}
