package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/compiler"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
)

// Initialize loads the state of a placeholder instance. When the
// placeholder is the target of a deferred to-one association, the targets
// of the same association pending for other owners are loaded with it as
// its fetch strategy permits.
func (s *Session) Initialize(ctx context.Context, ref any) error {
	key, ok := s.pc.KeyOf(ref)
	if !ok {
		return fmt.Errorf("session: %T is not managed by the session", ref)
	}
	if s.pc.IsInitialized(key) {
		return nil
	}
	if p, ok := s.pc.pendingTarget(key); ok {
		if err := s.fetch(ctx, p); err != nil {
			return err
		}
		if s.pc.IsInitialized(key) {
			return nil
		}
	}
	e := s.pc.entity(key)
	_, err := s.load(ctx, e, key)
	return err
}

// Fetch loads the deferred association named attribute of owner. An
// association that is already loaded is left unchanged.
func (s *Session) Fetch(ctx context.Context, owner any, attribute string) error {
	key, ok := s.pc.KeyOf(owner)
	if !ok {
		return fmt.Errorf("session: %T is not managed by the session", owner)
	}
	e := s.pc.entity(key)
	attr, ok := e.Attribute(attribute)
	if !ok || !attr.IsAssociation() {
		return loom.NewCompileError(e.Name+"."+attribute, "not an association")
	}
	p, ok := s.pc.pendingOf(key, attr)
	if !ok {
		return nil
	}
	return s.fetch(ctx, p)
}

// fetch loads the association of p together with the peers its strategy
// selects: the batch of BatchSize pending owners, or every pending owner
// for a subselect.
func (s *Session) fetch(ctx context.Context, p *pending) error {
	batch := []*pending{p}
	switch p.strategy {
	case fetch.Batch:
		batch = s.pc.peers(p, s.factory.config.BatchSize)
	case fetch.Subselect:
		batch = s.pc.peers(p, 0)
	}
	s.factory.logger.DebugContext(ctx, "loom: fetch association", "role", p.attr.Role(), "strategy", p.strategy.String(), "owners", len(batch))
	if p.attr.Kind == metamodel.ToOne {
		return s.fetchTargets(ctx, p.attr, batch)
	}
	return s.fetchCollections(ctx, p.attr, batch)
}

// association returns the keyed statement loading attr for many owners.
func (s *Session) association(attr *metamodel.Attribute) (*compiler.Compiled, error) {
	return s.statement("assoc|"+attr.Role(), s.influencers(nil, loom.LockNone), func(inf compiler.Influencers) (*compiler.Compiled, error) {
		return s.factory.compiler.CompileAssociation(attr, inf)
	})
}

func (s *Session) keyedRows(ctx context.Context, attr *metamodel.Attribute, keys []any) ([]assemble.KeyedRow, error) {
	st, err := s.association(attr)
	if err != nil {
		return nil, err
	}
	out, err := s.list(ctx, st, bind.NewValues().SetList(compiler.KeysParam, keys), s.execOptions())
	if err != nil {
		return nil, err
	}
	rows := make([]assemble.KeyedRow, len(out))
	for i, v := range out {
		r, ok := v.(assemble.KeyedRow)
		if !ok {
			return nil, &loom.AssemblyError{Entity: attr.Owner().Name, Path: attr.Role(), Msg: fmt.Sprintf("unexpected keyed result %T", v)}
		}
		rows[i] = r
	}
	return rows, nil
}

// fetchCollections loads the collection attr of every owner in batch
// with one statement.
func (s *Session) fetchCollections(ctx context.Context, attr *metamodel.Attribute, batch []*pending) error {
	owners := make([]any, len(batch))
	for i, p := range batch {
		owners[i] = p.owner.ID
	}
	rows, err := s.keyedRows(ctx, attr, owners)
	if err != nil {
		return err
	}
	idType := attr.Owner().Identifier().Type
	groups := groupByKey(rows, func(r assemble.KeyedRow) any {
		if k, err := idType.Key(r.Key); err == nil {
			return k
		}
		return r.Key
	})
	for i, group := range orderGroupsByKeys(owners, groups) {
		p := batch[i]
		elements := make([]any, len(group))
		for j, r := range group {
			elements[j] = r.Value
		}
		if err := assemble.SetCollection(s.pc.entity(p.owner), p.instance, attr, elements); err != nil {
			return err
		}
		s.pc.MarkCollectionLoaded(p.owner, attr)
	}
	return nil
}

// fetchTargets loads the targets of the to-one association attr of every
// owner in batch. Targets found in the persistence context or the entity
// cache are not read again.
func (s *Session) fetchTargets(ctx context.Context, attr *metamodel.Attribute, batch []*pending) error {
	target := attr.TargetEntity()
	found := make(map[any]any)
	var keys []any
	for _, p := range batch {
		if _, ok := found[p.fk]; ok || p.fk == nil {
			continue
		}
		key := loom.EntityKey{Entity: target.Root().Name, ID: p.fk}
		if inst, ok := s.pc.Get(key); ok {
			found[p.fk] = inst
			continue
		}
		inst, ok, err := s.cached(ctx, target, key)
		if err != nil {
			return err
		}
		if ok {
			found[p.fk] = inst
			continue
		}
		found[p.fk] = nil
		keys = append(keys, p.fk)
	}
	if len(keys) > 0 {
		rows, err := s.keyedRows(ctx, attr, keys)
		if err != nil {
			return err
		}
		idType := target.Identifier().Type
		values, errs := orderByKeys(keys, rows, func(r assemble.KeyedRow) any {
			if k, err := idType.Key(r.Key); err == nil {
				return k
			}
			return r.Key
		})
		for i, k := range keys {
			if errs[i] == nil {
				found[k] = values[i].Value
			}
		}
	}
	var missing []error
	for _, p := range batch {
		inst := found[p.fk]
		if inst == nil && p.fk != nil {
			missing = append(missing, loom.NewNotFoundErrorWithID(target.Name, p.fk))
			continue
		}
		if err := assemble.Link(s.pc.entity(p.owner), p.instance, attr, inst); err != nil {
			return err
		}
		s.pc.resolve(p)
	}
	return errors.Join(missing...)
}
