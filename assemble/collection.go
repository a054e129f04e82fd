package assemble

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/syssam/loom"
	"github.com/syssam/loom/metamodel"
)

type collectionKey struct {
	owner loom.EntityKey
	attr  *metamodel.Attribute
}

type element struct {
	value   reflect.Value
	index   int64
	indexed bool
}

// accumulator gathers the elements of one collection across the rows of a
// logical result.
type accumulator struct {
	owner    *entry
	plan     *CollectionPlan
	seen     map[any]bool
	elements []element
}

func (a *Assembler) accumulator(owner *entry, cp *CollectionPlan) *accumulator {
	k := collectionKey{owner: owner.key, attr: cp.Attribute}
	acc, ok := a.colls[k]
	if !ok {
		acc = &accumulator{owner: owner, plan: cp, seen: make(map[any]bool)}
		a.colls[k] = acc
		a.collSeq = append(a.collSeq, acc)
	}
	return acc
}

// collect adds the element of row to the collection of owner. Collections
// already initialized by an earlier load are left untouched.
func (a *Assembler) collect(owner *entry, cp *CollectionPlan, row []any) error {
	if !owner.entity.HasAttribute(cp.Attribute) {
		return nil
	}
	if !owner.claimed && a.opts.Context.CollectionLoaded(owner.key, cp.Attribute) {
		if cp.Entity != nil {
			return a.resolveEntity(cp.Entity, row)
		}
		return nil
	}
	acc := a.accumulator(owner, cp)
	if row[cp.Presence] == nil {
		return nil
	}
	var (
		el  element
		key any
	)
	if cp.Index >= 0 && row[cp.Index] != nil {
		idx, err := metamodel.TypeInt64.Normalize(row[cp.Index])
		if err != nil {
			return &loom.AssemblyError{Entity: owner.entity.Name, Path: cp.Attribute.Role(), Msg: "index", Err: err}
		}
		el.index, el.indexed = idx.(int64), true
	}
	switch {
	case cp.Entity != nil:
		if err := a.resolveEntity(cp.Entity, row); err != nil {
			return err
		}
		child := a.current[cp.Entity.Path]
		if child == nil {
			return nil
		}
		key = child.key
		el.value = reflect.ValueOf(child.instance)
	case cp.Element != nil:
		raw := row[cp.Element.Position]
		k, err := cp.Element.Type.Key(raw)
		if err != nil {
			return &loom.AssemblyError{Entity: owner.entity.Name, Path: cp.Attribute.Role(), Msg: "element", Err: err}
		}
		key = k
		el.value = reflect.ValueOf(raw)
		if raw == nil {
			el.value = reflect.Value{}
		}
	case cp.Embedded != nil:
		v, _, err := cp.Embedded.build(row)
		if err != nil {
			return &loom.AssemblyError{Entity: owner.entity.Name, Path: cp.Attribute.Role(), Msg: "element", Err: err}
		}
		state, err := cp.Embedded.disassemble(row)
		if err != nil {
			return &loom.AssemblyError{Entity: owner.entity.Name, Path: cp.Attribute.Role(), Msg: "element", Err: err}
		}
		key = fmt.Sprint(state)
		el.value = v
	}
	if el.indexed {
		key = el.index
	}
	if acc.seen[key] {
		return nil
	}
	acc.seen[key] = true
	acc.elements = append(acc.elements, el)
	return nil
}

// finalizeCollections stores every accumulated collection in its owner.
// Indexed elements are ordered by index; others keep first-seen order.
func (a *Assembler) finalizeCollections() error {
	for _, acc := range a.collSeq {
		owner := acc.owner
		attr := acc.plan.Attribute
		f := owner.entity.Field(reflect.ValueOf(owner.instance).Elem(), attr)
		if f.Kind() != reflect.Slice {
			return &loom.AssemblyError{Entity: owner.entity.Name, Path: attr.Role(), Msg: fmt.Sprintf("collection field has type %s", f.Type())}
		}
		if acc.plan.Index >= 0 {
			slices.SortStableFunc(acc.elements, func(x, y element) int {
				switch {
				case x.indexed && y.indexed:
					return cmp.Compare(x.index, y.index)
				case x.indexed:
					return -1
				case y.indexed:
					return 1
				}
				return 0
			})
		}
		out := reflect.MakeSlice(f.Type(), len(acc.elements), len(acc.elements))
		for i, el := range acc.elements {
			if err := setElement(out.Index(i), el.value, acc.plan); err != nil {
				return &loom.AssemblyError{Entity: owner.entity.Name, Path: attr.Role(), Msg: "element", Err: err}
			}
		}
		f.Set(out)
		a.opts.Context.MarkCollectionLoaded(owner.key, attr)
	}
	return nil
}

func setElement(dst reflect.Value, v reflect.Value, cp *CollectionPlan) error {
	switch {
	case !v.IsValid():
		return nil
	case cp.Entity != nil:
		return assign(dst, v.Interface())
	case cp.Embedded != nil:
		return setValue(dst, v, true)
	}
	conv, err := cp.Element.Type.Convert(v.Interface(), dst.Type())
	if err != nil {
		return err
	}
	dst.Set(conv)
	return nil
}

// SetCollection stores the elements loaded by a later query in the
// collection attr of instance, an instance of e. Entity elements are
// instances, embeddable elements struct values and basic elements raw
// column values.
func SetCollection(e *metamodel.Entity, instance any, attr *metamodel.Attribute, elements []any) error {
	f := e.Field(reflect.ValueOf(instance).Elem(), attr)
	if f.Kind() != reflect.Slice {
		return &loom.AssemblyError{Entity: e.Name, Path: attr.Role(), Msg: fmt.Sprintf("collection field has type %s", f.Type())}
	}
	out := reflect.MakeSlice(f.Type(), len(elements), len(elements))
	for i, v := range elements {
		if v == nil {
			continue
		}
		dst := out.Index(i)
		var err error
		switch {
		case attr.Kind == metamodel.ToMany:
			err = assign(dst, v)
		case attr.Embeddable != nil:
			err = setValue(dst, reflect.ValueOf(v), true)
		default:
			var conv reflect.Value
			if conv, err = attr.Type.Convert(v, dst.Type()); err == nil {
				dst.Set(conv)
			}
		}
		if err != nil {
			return &loom.AssemblyError{Entity: e.Name, Path: attr.Role(), Msg: "element", Err: err}
		}
	}
	f.Set(out)
	return nil
}

// Link stores target in the to-one association attr of instance, an
// instance of e.
func Link(e *metamodel.Entity, instance any, attr *metamodel.Attribute, target any) error {
	f := e.Field(reflect.ValueOf(instance).Elem(), attr)
	if target == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	if err := assign(f, target); err != nil {
		return &loom.AssemblyError{Entity: e.Name, Path: attr.Role(), Msg: "link", Err: err}
	}
	return nil
}
