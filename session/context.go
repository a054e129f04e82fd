package session

import (
	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
)

type (
	// record is the identity map entry of one instance.
	record struct {
		entity      *metamodel.Entity
		instance    any
		initialized bool
		snapshot    []any
	}

	// role identifies the association attr of one owner instance.
	role struct {
		owner loom.EntityKey
		attr  *metamodel.Attribute
	}

	// pending is an association left for a later query.
	pending struct {
		role
		instance any
		strategy fetch.Strategy
		// fk is the normalized foreign key of a to-one association.
		fk any
	}
)

// PersistenceContext is the identity map of a session: one instance per
// entity key, whether fully loaded or a placeholder, along with the
// associations that remain to be loaded.
//
// A PersistenceContext is not safe for concurrent use.
type PersistenceContext struct {
	records   map[loom.EntityKey]*record
	keys      map[any]loom.EntityKey
	loaded    map[role]bool
	pendings  map[role]*pending
	deferrals []role
}

var _ assemble.PersistenceContext = (*PersistenceContext)(nil)

// NewPersistenceContext returns an empty persistence context.
func NewPersistenceContext() *PersistenceContext {
	pc := &PersistenceContext{}
	pc.Clear()
	return pc
}

// Lookup returns the instance registered for key, initialized or not.
func (pc *PersistenceContext) Lookup(key loom.EntityKey) (any, bool) {
	r, ok := pc.records[key]
	if !ok {
		return nil, false
	}
	return r.instance, true
}

// Get returns the instance registered for key when it is fully loaded.
func (pc *PersistenceContext) Get(key loom.EntityKey) (any, bool) {
	r, ok := pc.records[key]
	if !ok || !r.initialized {
		return nil, false
	}
	return r.instance, true
}

// IsInitialized reports whether the instance of key is fully loaded.
func (pc *PersistenceContext) IsInitialized(key loom.EntityKey) bool {
	r, ok := pc.records[key]
	return ok && r.initialized
}

// Reference returns the instance registered for key, registering an
// uninitialized placeholder of e when there is none.
func (pc *PersistenceContext) Reference(e *metamodel.Entity, key loom.EntityKey) (any, error) {
	if r, ok := pc.records[key]; ok {
		return r.instance, nil
	}
	inst, err := assemble.NewInstance(e, key.ID)
	if err != nil {
		return nil, err
	}
	pc.records[key] = &record{entity: e, instance: inst}
	pc.keys[inst] = key
	return inst, nil
}

// Managed registers a fully loaded instance and its state snapshot.
func (pc *PersistenceContext) Managed(e *metamodel.Entity, key loom.EntityKey, instance any, state []any) {
	pc.Register(e, key, instance, state)
}

// Register registers instance as the fully loaded instance of key.
func (pc *PersistenceContext) Register(e *metamodel.Entity, key loom.EntityKey, instance any, state []any) {
	if r, ok := pc.records[key]; ok && r.instance != instance {
		delete(pc.keys, r.instance)
	}
	pc.records[key] = &record{entity: e, instance: instance, initialized: true, snapshot: state}
	pc.keys[instance] = key
}

// CollectionLoaded reports whether the collection attr of owner is initialized.
func (pc *PersistenceContext) CollectionLoaded(owner loom.EntityKey, attr *metamodel.Attribute) bool {
	return pc.loaded[role{owner, attr}]
}

// MarkCollectionLoaded marks the collection attr of owner initialized.
func (pc *PersistenceContext) MarkCollectionLoaded(owner loom.EntityKey, attr *metamodel.Attribute) {
	r := role{owner, attr}
	pc.loaded[r] = true
	delete(pc.pendings, r)
}

// Defer records an association of owner left for a later query.
func (pc *PersistenceContext) Defer(owner loom.EntityKey, instance any, attr *metamodel.Attribute, strategy fetch.Strategy, fk any) {
	r := role{owner, attr}
	if p, ok := pc.pendings[r]; ok {
		p.instance, p.strategy, p.fk = instance, strategy, fk
		return
	}
	pc.pendings[r] = &pending{role: r, instance: instance, strategy: strategy, fk: fk}
	pc.deferrals = append(pc.deferrals, r)
}

// Contains reports whether instance is managed by the context.
func (pc *PersistenceContext) Contains(instance any) bool {
	_, ok := pc.keys[instance]
	return ok
}

// KeyOf returns the entity key of a managed instance.
func (pc *PersistenceContext) KeyOf(instance any) (loom.EntityKey, bool) {
	key, ok := pc.keys[instance]
	return key, ok
}

// Snapshot returns the state read when the instance of key was loaded, one
// value per attribute of its entity.
func (pc *PersistenceContext) Snapshot(key loom.EntityKey) ([]any, bool) {
	r, ok := pc.records[key]
	if !ok || !r.initialized {
		return nil, false
	}
	return r.snapshot, true
}

// Evict detaches instance from the context together with its pending
// associations.
func (pc *PersistenceContext) Evict(instance any) {
	key, ok := pc.keys[instance]
	if !ok {
		return
	}
	delete(pc.keys, instance)
	delete(pc.records, key)
	for r := range pc.pendings {
		if r.owner == key {
			delete(pc.pendings, r)
		}
	}
	for r := range pc.loaded {
		if r.owner == key {
			delete(pc.loaded, r)
		}
	}
}

// Clear detaches every instance.
func (pc *PersistenceContext) Clear() {
	pc.records = make(map[loom.EntityKey]*record)
	pc.keys = make(map[any]loom.EntityKey)
	pc.loaded = make(map[role]bool)
	pc.pendings = make(map[role]*pending)
	pc.deferrals = nil
}

// Len returns the number of registered instances.
func (pc *PersistenceContext) Len() int { return len(pc.records) }

func (pc *PersistenceContext) entity(key loom.EntityKey) *metamodel.Entity {
	if r, ok := pc.records[key]; ok {
		return r.entity
	}
	return nil
}

// pendingOf returns the pending association attr of owner.
func (pc *PersistenceContext) pendingOf(owner loom.EntityKey, attr *metamodel.Attribute) (*pending, bool) {
	p, ok := pc.pendings[role{owner, attr}]
	return p, ok
}

// pendingTarget returns a pending to-one association referencing key.
func (pc *PersistenceContext) pendingTarget(key loom.EntityKey) (*pending, bool) {
	for _, r := range pc.deferrals {
		p, ok := pc.pendings[r]
		if ok && r.attr.Kind == metamodel.ToOne && p.fk == key.ID && r.attr.TargetEntity().Root().Name == key.Entity {
			return p, true
		}
	}
	return nil, false
}

// peers returns p followed by the other pending associations of the same
// attribute, in deferral order, up to limit entries. A limit of zero
// returns all of them.
func (pc *PersistenceContext) peers(p *pending, limit int) []*pending {
	out := []*pending{p}
	seen := make(map[role]bool, len(pc.deferrals))
	live := pc.deferrals[:0]
	for _, r := range pc.deferrals {
		q, ok := pc.pendings[r]
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		live = append(live, r)
		if q == p || r.attr != p.attr || (limit > 0 && len(out) >= limit) {
			continue
		}
		out = append(out, q)
	}
	pc.deferrals = live
	return out
}

// resolve removes the pending association of p.
func (pc *PersistenceContext) resolve(p *pending) {
	delete(pc.pendings, p.role)
}
