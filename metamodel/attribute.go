package metamodel

import "reflect"

// AttributeKind tags the closed set of attribute variants.
type AttributeKind uint8

// Attribute kinds.
const (
	Basic AttributeKind = iota
	Embedded
	ToOne
	ToMany
	ElementCollection
)

var kindNames = [...]string{
	Basic:             "basic",
	Embedded:          "embedded",
	ToOne:             "to-one",
	ToMany:            "to-many",
	ElementCollection: "element-collection",
}

// String returns the kind name.
func (k AttributeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(?)"
}

// FetchType is the declared loading time of an association.
type FetchType uint8

// Fetch types. The default resolves to Eager for to-one associations and
// Lazy for collections.
const (
	FetchDefault FetchType = iota
	Eager
	Lazy
)

// FetchMode is the declared loading technique of an association.
type FetchMode uint8

// Fetch modes.
const (
	ModeDefault FetchMode = iota
	ModeJoin
	ModeSelect
	ModeSubselect
	ModeBatch
)

var modeNames = [...]string{
	ModeDefault:   "default",
	ModeJoin:      "join",
	ModeSelect:    "select",
	ModeSubselect: "subselect",
	ModeBatch:     "batch",
}

// String returns the mode name.
func (m FetchMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return "mode(?)"
}

// ElementKind tags the element variants of a collection.
type ElementKind uint8

// Collection element kinds.
const (
	ElementEntity ElementKind = iota
	ElementBasic
	ElementEmbedded
)

// Attribute describes one mapped attribute of an entity or embeddable.
//
//   - Basic: Column holds the value, Type its relational type.
//   - Embedded: the columns of Embeddable are stored in the owner table.
//   - ToOne: JoinColumn is the foreign key column in the owner table.
//   - ToMany: JoinColumn is the foreign key column in the Target table.
//   - ElementCollection: rows of CollectionTable, keyed by JoinColumn, hold
//     either a basic value in Column or the columns of Embeddable.
//
// IndexColumn orders collection elements when set.
type Attribute struct {
	Name            string
	Kind            AttributeKind
	Field           string // Go struct field; defaults to FieldName(Name)
	Column          string
	Type            ValueType
	Nullable        bool
	Embeddable      *Embeddable
	Target          string
	JoinColumn      string
	IndexColumn     string
	CollectionTable string
	Fetch           FetchType
	Mode            FetchMode

	owner  *Entity
	target *Entity
}

// Owner returns the entity that declares the attribute.
func (a *Attribute) Owner() *Entity { return a.owner }

// TargetEntity returns the associated entity of ToOne and ToMany attributes.
func (a *Attribute) TargetEntity() *Entity { return a.target }

// IsAssociation reports whether the attribute is an association or a collection.
func (a *Attribute) IsAssociation() bool {
	return a.Kind == ToOne || a.Kind == ToMany || a.Kind == ElementCollection
}

// IsCollection reports whether the attribute holds many values.
func (a *Attribute) IsCollection() bool {
	return a.Kind == ToMany || a.Kind == ElementCollection
}

// Element returns the element kind of a collection attribute.
func (a *Attribute) Element() ElementKind {
	switch {
	case a.Kind == ToMany:
		return ElementEntity
	case a.Embeddable != nil:
		return ElementEmbedded
	}
	return ElementBasic
}

// Role returns the qualified role name, e.g. "Order.items".
func (a *Attribute) Role() string {
	if a.owner == nil {
		return a.Name
	}
	return a.owner.Name + "." + a.Name
}

// Eager reports whether the attribute is declared to be loaded eagerly.
func (a *Attribute) Eager() bool { return a.Fetch == Eager }

// Embeddable is a composite value type stored in its owner's columns.
type Embeddable struct {
	Name       string
	Type       reflect.Type
	Attributes []*Attribute

	fields map[*Attribute][]int
}

// Field returns the field of the embeddable value v that holds a.
func (e *Embeddable) Field(v reflect.Value, a *Attribute) reflect.Value {
	return v.FieldByIndex(e.fields[a])
}
