package assemble

import (
	"fmt"
	"reflect"

	"github.com/syssam/loom"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

// Plan turns the columns of a result row into one result value. Plans are
// built by the compiler and shared by every execution of a statement.
type Plan interface {
	hydrate(a *Assembler, row []any) error
	resolve(a *Assembler, row []any) error
	value(a *Assembler, row []any) (any, error)
}

// Results is the result plan of a statement.
type Results struct {
	// Items produce the values of one result. A single item yields its value
	// directly; several items yield a []any.
	Items []Plan
	// HasCollectionFetch groups consecutive rows with equal RootKeys into
	// one result.
	HasCollectionFetch bool
	RootKeys           []int
}

// BasicPlan reads one column. A nil GoType yields the normalized value.
type BasicPlan struct {
	Position int
	Type     metamodel.ValueType
	GoType   reflect.Type
}

func (p *BasicPlan) hydrate(*Assembler, []any) error { return nil }
func (p *BasicPlan) resolve(*Assembler, []any) error { return nil }

func (p *BasicPlan) value(_ *Assembler, row []any) (any, error) {
	raw := row[p.Position]
	if raw == nil {
		return nil, nil
	}
	if p.GoType == nil {
		return p.Type.Normalize(raw)
	}
	v, err := p.Type.Convert(raw, p.GoType)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// AttributePlan maps a basic attribute to its column. A negative Position
// marks an unfetched attribute.
type AttributePlan struct {
	Attribute *metamodel.Attribute
	Position  int
}

// EmbeddedPlan builds an embeddable value from its columns. A value whose
// columns are all NULL is absent.
type EmbeddedPlan struct {
	Embeddable *metamodel.Embeddable
	Attributes []AttributePlan
}

func (p *EmbeddedPlan) hydrate(*Assembler, []any) error { return nil }
func (p *EmbeddedPlan) resolve(*Assembler, []any) error { return nil }

func (p *EmbeddedPlan) value(_ *Assembler, row []any) (any, error) {
	v, ok, err := p.build(row)
	if err != nil || !ok {
		return nil, err
	}
	return v.Interface(), nil
}

// build returns the embeddable struct value and whether any column was set.
func (p *EmbeddedPlan) build(row []any) (reflect.Value, bool, error) {
	v := reflect.New(p.Embeddable.Type).Elem()
	present := false
	for _, ap := range p.Attributes {
		if ap.Position < 0 {
			continue
		}
		raw := row[ap.Position]
		if raw == nil {
			continue
		}
		present = true
		f := p.Embeddable.Field(v, ap.Attribute)
		conv, err := ap.Attribute.Type.Convert(raw, f.Type())
		if err != nil {
			return reflect.Value{}, false, fmt.Errorf("%s.%s: %w", p.Embeddable.Name, ap.Attribute.Name, err)
		}
		f.Set(conv)
	}
	return v, present, nil
}

// disassemble returns the cache-safe state of the embeddable columns.
func (p *EmbeddedPlan) disassemble(row []any) ([]any, error) {
	state := make([]any, len(p.Embeddable.Attributes))
	for i, a := range p.Embeddable.Attributes {
		for _, ap := range p.Attributes {
			if ap.Attribute != a || ap.Position < 0 {
				continue
			}
			d, err := a.Type.Disassemble(row[ap.Position])
			if err != nil {
				return nil, err
			}
			state[i] = d
		}
	}
	return state, nil
}

// EmbeddedAttributePlan maps an embedded attribute of an entity.
type EmbeddedAttributePlan struct {
	Attribute *metamodel.Attribute
	Plan      *EmbeddedPlan
}

// ToOnePlan maps a to-one association. Join is set when the target is
// fetched in the same row; otherwise FK holds the position of the foreign
// key column and the association is deferred with Strategy.
type ToOnePlan struct {
	Attribute *metamodel.Attribute
	FK        int
	Join      *EntityPlan
	Strategy  fetch.Strategy
}

// DeferredPlan records a collection loaded by a later query.
type DeferredPlan struct {
	Attribute *metamodel.Attribute
	Strategy  fetch.Strategy
}

// EntityPlan hydrates an entity of the subtree rooted at Entity.
type EntityPlan struct {
	Path   navpath.Path
	Entity *metamodel.Entity
	// ID is the position of the identifier column.
	ID int
	// Discriminator is the position of the column identifying the concrete
	// entity, or -1 when Entity has no subclasses.
	Discriminator int
	// Classes maps class ids of a union hierarchy to entities. When nil the
	// discriminator value is matched with ByDiscriminator.
	Classes map[any]*metamodel.Entity
	// Version is the position of the version column, or -1.
	Version     int
	Attributes  []AttributePlan
	Embedded    []EmbeddedAttributePlan
	ToOne       []ToOnePlan
	Collections []*CollectionPlan
	Deferred    []DeferredPlan
	// Shallow plans only identify the entity. Instances that are not yet
	// managed are returned as uninitialized references.
	Shallow bool
}

func (p *EntityPlan) concrete(row []any) (*metamodel.Entity, error) {
	if p.Discriminator < 0 {
		if p.Entity.Abstract || p.Entity.Type == nil {
			return nil, &loom.AssemblyError{Entity: p.Entity.Name, Path: p.Path.String(), Msg: "abstract entity selected without discriminator"}
		}
		return p.Entity, nil
	}
	raw := row[p.Discriminator]
	var (
		c  *metamodel.Entity
		ok bool
	)
	if p.Classes != nil {
		if k, err := metamodel.TypeInt64.Key(raw); err == nil {
			c, ok = p.Classes[k]
		}
	} else {
		c, ok = p.Entity.ByDiscriminator(raw)
	}
	if !ok {
		return nil, &loom.AssemblyError{Entity: p.Entity.Name, Path: p.Path.String(), Msg: fmt.Sprintf("unknown discriminator value %v", raw)}
	}
	return c, nil
}

func (p *EntityPlan) hydrate(a *Assembler, row []any) error { return a.hydrateEntity(p, row) }
func (p *EntityPlan) resolve(a *Assembler, row []any) error { return a.resolveEntity(p, row) }

func (p *EntityPlan) value(a *Assembler, _ []any) (any, error) {
	if e := a.current[p.Path]; e != nil {
		return e.instance, nil
	}
	return nil, nil
}

// CollectionPlan accumulates the elements of a join fetched collection.
// Exactly one of Entity, Element and Embedded is set.
type CollectionPlan struct {
	Attribute *metamodel.Attribute
	Entity    *EntityPlan
	Element   *BasicPlan
	Embedded  *EmbeddedPlan
	// Index is the position of the index column, or -1.
	Index int
	// Presence is the position of a column that is NULL when the row holds
	// no element.
	Presence int
}

// InstantiationPlan builds one object from its argument values.
type InstantiationPlan struct {
	Args  []Plan
	Build func(args []any) (any, error)
}

func (p *InstantiationPlan) hydrate(a *Assembler, row []any) error {
	for _, arg := range p.Args {
		if err := arg.hydrate(a, row); err != nil {
			return err
		}
	}
	return nil
}

func (p *InstantiationPlan) resolve(a *Assembler, row []any) error {
	for _, arg := range p.Args {
		if err := arg.resolve(a, row); err != nil {
			return err
		}
	}
	return nil
}

func (p *InstantiationPlan) value(a *Assembler, row []any) (any, error) {
	args := make([]any, len(p.Args))
	for i, arg := range p.Args {
		v, err := arg.value(a, row)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return p.Build(args)
}

// KeyedRow is a collection element read together with its owner key.
type KeyedRow struct {
	Key   any
	Index any
	Value any
}

// KeyedPlan reads collection elements of many owners at once, as done by
// deferred association loading.
type KeyedPlan struct {
	Key   *BasicPlan
	Index *BasicPlan
	Value Plan
}

func (p *KeyedPlan) hydrate(a *Assembler, row []any) error { return p.Value.hydrate(a, row) }
func (p *KeyedPlan) resolve(a *Assembler, row []any) error { return p.Value.resolve(a, row) }

func (p *KeyedPlan) value(a *Assembler, row []any) (any, error) {
	key, err := p.Key.value(a, row)
	if err != nil {
		return nil, err
	}
	out := KeyedRow{Key: key}
	if p.Index != nil {
		if out.Index, err = p.Index.value(a, row); err != nil {
			return nil, err
		}
	}
	if out.Value, err = p.Value.value(a, row); err != nil {
		return nil, err
	}
	return out, nil
}

// RawPlan returns every column of the row as read from the driver.
type RawPlan struct{}

func (RawPlan) hydrate(*Assembler, []any) error { return nil }
func (RawPlan) resolve(*Assembler, []any) error { return nil }

func (RawPlan) value(_ *Assembler, row []any) (any, error) {
	return append([]any(nil), row...), nil
}
