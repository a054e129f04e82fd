package metamodel

import (
	"reflect"
	"slices"
)

// Inheritance is the mapping strategy of an entity hierarchy.
type Inheritance uint8

// Inheritance strategies.
const (
	NoInheritance Inheritance = iota
	SingleTable
	Joined
	TablePerClass
)

var inheritanceNames = [...]string{
	NoInheritance: "none",
	SingleTable:   "single-table",
	Joined:        "joined",
	TablePerClass: "table-per-class",
}

// String returns the strategy name.
func (i Inheritance) String() string {
	if int(i) < len(inheritanceNames) {
		return inheritanceNames[i]
	}
	return "inheritance(?)"
}

// Discriminator is the column identifying the concrete class of a row.
type Discriminator struct {
	Column string
	Type   ValueType
}

// Filter is a named SQL restriction that sessions may enable. Condition is a
// SQL fragment where {alias} stands for the entity table alias and :name
// for a filter parameter.
type Filter struct {
	Name      string
	Condition string
}

// Entity describes a mapped entity type.
type Entity struct {
	Name       string
	Type       reflect.Type // struct type, nil for abstract entities without a Go type
	Table      string
	ID         *Attribute // declared on hierarchy roots only
	Version    *Attribute
	Attributes []*Attribute
	Extends    string

	// Inheritance, Discriminator and Cacheable are read from the hierarchy root.
	Inheritance        Inheritance
	Discriminator      *Discriminator
	DiscriminatorValue any
	// KeyColumn is the primary key column of a joined subclass table.
	// It defaults to the identifier column of the root.
	KeyColumn string
	Abstract  bool
	Cacheable bool
	Filters   []*Filter

	model     *Model
	super     *Entity
	subs      []*Entity
	all       []*Attribute
	index     map[string]int
	fields    map[*Attribute][]int
	discValue any
}

// Model returns the model the entity belongs to.
func (e *Entity) Model() *Model { return e.model }

// Super returns the parent entity, or nil for roots.
func (e *Entity) Super() *Entity { return e.super }

// Root returns the root of the hierarchy.
func (e *Entity) Root() *Entity {
	r := e
	for r.super != nil {
		r = r.super
	}
	return r
}

// Subclasses returns the direct subclasses.
func (e *Entity) Subclasses() []*Entity { return e.subs }

// Descendants returns every subclass of e in depth-first order.
func (e *Entity) Descendants() []*Entity {
	var out []*Entity
	for _, s := range e.subs {
		out = append(out, s)
		out = append(out, s.Descendants()...)
	}
	return out
}

// Concrete returns the non-abstract entities of the subtree rooted at e.
func (e *Entity) Concrete() []*Entity {
	var out []*Entity
	if !e.Abstract {
		out = append(out, e)
	}
	for _, s := range e.subs {
		out = append(out, s.Concrete()...)
	}
	return out
}

// IsA reports whether e is o or one of its subclasses.
func (e *Entity) IsA(o *Entity) bool {
	for c := e; c != nil; c = c.super {
		if c == o {
			return true
		}
	}
	return false
}

// Strategy returns the inheritance strategy of the hierarchy.
func (e *Entity) Strategy() Inheritance { return e.Root().Inheritance }

// Identifier returns the identifier attribute of the hierarchy.
func (e *Entity) Identifier() *Attribute { return e.Root().ID }

// VersionAttribute returns the version attribute of the hierarchy, if any.
func (e *Entity) VersionAttribute() *Attribute { return e.Root().Version }

// DiscriminatorColumn returns the declared discriminator of the hierarchy.
func (e *Entity) DiscriminatorColumn() *Discriminator { return e.Root().Discriminator }

// DiscriminatorKey returns the normalized discriminator value of e.
func (e *Entity) DiscriminatorKey() any { return e.discValue }

// IsCacheable reports whether instances may be stored in the entity cache.
func (e *Entity) IsCacheable() bool { return e.Root().Cacheable }

// AllAttributes returns inherited attributes first, then declared ones.
// Identifier and version are not included.
func (e *Entity) AllAttributes() []*Attribute { return e.all }

// Attribute looks up an attribute of e, including inherited ones.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.all[i], true
}

// SubtreeAttribute looks up an attribute of e or of any of its subclasses.
func (e *Entity) SubtreeAttribute(name string) (*Attribute, bool) {
	if a, ok := e.Attribute(name); ok {
		return a, true
	}
	for _, s := range e.Descendants() {
		if a, ok := s.Attribute(name); ok {
			return a, true
		}
	}
	return nil, false
}

// SubtreeAttributes returns the attributes of e followed by the attributes
// declared by its subclasses, each once.
func (e *Entity) SubtreeAttributes() []*Attribute {
	out := slices.Clone(e.all)
	for _, s := range e.Descendants() {
		out = append(out, s.Attributes...)
	}
	return out
}

// AttributeIndex returns the position of a in AllAttributes, or -1.
func (e *Entity) AttributeIndex(a *Attribute) int {
	i, ok := e.index[a.Name]
	if !ok || e.all[i] != a {
		return -1
	}
	return i
}

// HasAttribute reports whether a belongs to e or to one of its supers.
func (e *Entity) HasAttribute(a *Attribute) bool { return e.AttributeIndex(a) >= 0 }

// PrimaryKeyColumn returns the key column of the entity's own table.
func (e *Entity) PrimaryKeyColumn() string {
	if e.super != nil && e.KeyColumn != "" {
		return e.KeyColumn
	}
	return e.Root().ID.Column
}

// TableOf returns the table holding the columns of attribute a.
func (e *Entity) TableOf(a *Attribute) string {
	switch e.Strategy() {
	case SingleTable:
		return e.Root().Table
	case Joined:
		if a.owner != nil {
			return a.owner.Table
		}
		return e.Root().Table
	}
	return e.Table
}

// ByDiscriminator returns the concrete entity of the subtree whose
// discriminator value equals v.
func (e *Entity) ByDiscriminator(v any) (*Entity, bool) {
	d := e.DiscriminatorColumn()
	typ := TypeString
	if d != nil {
		typ = d.Type
	}
	key, err := typ.Key(v)
	if err != nil {
		return nil, false
	}
	for _, c := range e.Concrete() {
		if c.discValue == key {
			return c, true
		}
	}
	return nil, false
}

// Filter returns the named filter declared on e or inherited from its supers.
func (e *Entity) Filter(name string) (*Filter, bool) {
	for c := e; c != nil; c = c.super {
		for _, f := range c.Filters {
			if f.Name == name {
				return f, true
			}
		}
	}
	return nil, false
}

// New allocates a new instance and returns the pointer.
func (e *Entity) New() reflect.Value { return reflect.New(e.Type) }

// Field returns the field of the struct value v that holds a.
func (e *Entity) Field(v reflect.Value, a *Attribute) reflect.Value {
	return v.FieldByIndex(e.fields[a])
}

// String returns the entity name.
func (e *Entity) String() string { return e.Name }
