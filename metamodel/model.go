package metamodel

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-openapi/inflect"
)

// Model is the read-only, fully linked set of entity descriptors.
type Model struct {
	entities []*Entity
	byName   map[string]*Entity
	byType   map[reflect.Type]*Entity
	profiles map[string]*FetchProfile
	targets  map[string]*Target
}

// FetchProfile overrides the fetch mode of selected associations while active.
type FetchProfile struct {
	Name      string
	Overrides []Override
}

// Override changes the fetch mode of one association.
type Override struct {
	Entity      string
	Association string
	Mode        FetchMode
}

// Mode returns the override for the given association, if any.
func (p *FetchProfile) Mode(a *Attribute) (FetchMode, bool) {
	for _, o := range p.Overrides {
		if o.Association == a.Name && a.owner != nil && o.Entity == a.owner.Name {
			return o.Mode, true
		}
	}
	return ModeDefault, false
}

// Target is a dynamic instantiation target. Constructors are Go funcs
// returning the target type, optionally with an error, tried in order.
type Target struct {
	Name         string
	Type         reflect.Type
	Constructors []any
}

// Option configures a Model.
type Option func(*Model)

// WithFetchProfiles registers fetch profiles.
func WithFetchProfiles(profiles ...*FetchProfile) Option {
	return func(m *Model) {
		for _, p := range profiles {
			m.profiles[p.Name] = p
		}
	}
}

// WithTargets registers dynamic instantiation targets.
func WithTargets(targets ...*Target) Option {
	return func(m *Model) {
		for _, t := range targets {
			m.targets[t.Name] = t
		}
	}
}

// New links and validates the given entity descriptors. Descriptors must
// not be modified afterwards.
func New(entities []*Entity, opts ...Option) (*Model, error) {
	m := &Model{
		entities: entities,
		byName:   make(map[string]*Entity, len(entities)),
		byType:   make(map[reflect.Type]*Entity, len(entities)),
		profiles: make(map[string]*FetchProfile),
		targets:  make(map[string]*Target),
	}
	for _, opt := range opts {
		opt(m)
	}
	var errs []error
	for _, e := range entities {
		if e.Name == "" {
			errs = append(errs, errors.New("entity without name"))
			continue
		}
		if _, ok := m.byName[e.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate entity %q", e.Name))
			continue
		}
		e.model = m
		e.super, e.subs, e.all = nil, nil, nil
		m.byName[e.Name] = e
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	for _, e := range entities {
		if e.Extends == "" {
			continue
		}
		s, ok := m.byName[e.Extends]
		if !ok {
			errs = append(errs, fmt.Errorf("entity %q extends unknown entity %q", e.Name, e.Extends))
			continue
		}
		e.super = s
		s.subs = append(s.subs, e)
	}
	for _, e := range entities {
		seen := map[*Entity]bool{}
		for c := e; c != nil; c = c.super {
			if seen[c] {
				errs = append(errs, fmt.Errorf("entity %q has an inheritance cycle", e.Name))
				break
			}
			seen[c] = true
		}
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	for _, e := range entities {
		errs = append(errs, m.defaults(e)...)
	}
	for _, e := range m.ordered() {
		errs = append(errs, m.link(e)...)
	}
	for _, p := range m.profiles {
		for _, o := range p.Overrides {
			e, ok := m.byName[o.Entity]
			if !ok {
				errs = append(errs, fmt.Errorf("fetch profile %q: unknown entity %q", p.Name, o.Entity))
				continue
			}
			if a, ok := e.Attribute(o.Association); !ok || !a.IsAssociation() {
				errs = append(errs, fmt.Errorf("fetch profile %q: %s.%s is not an association", p.Name, o.Entity, o.Association))
			}
		}
	}
	for _, t := range m.targets {
		if t.Type == nil {
			errs = append(errs, fmt.Errorf("target %q has no type", t.Name))
		}
		for i, c := range t.Constructors {
			if reflect.TypeOf(c).Kind() != reflect.Func {
				errs = append(errs, fmt.Errorf("target %q: constructor %d is not a func", t.Name, i))
			}
		}
	}
	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	return m, nil
}

func joinErrors(errs []error) error {
	return fmt.Errorf("metamodel: %w", errors.Join(errs...))
}

// ordered returns supers before subclasses.
func (m *Model) ordered() []*Entity {
	out := make([]*Entity, 0, len(m.entities))
	var visit func(*Entity)
	visit = func(e *Entity) {
		out = append(out, e)
		for _, s := range e.subs {
			visit(s)
		}
	}
	for _, e := range m.entities {
		if e.super == nil {
			visit(e)
		}
	}
	return out
}

// defaults fills derived names and checks per-entity declarations.
func (m *Model) defaults(e *Entity) []error {
	var errs []error
	if e.Table == "" {
		e.Table = inflect.Pluralize(inflect.Underscore(e.Name))
	}
	if e.super == nil {
		if e.ID == nil {
			errs = append(errs, fmt.Errorf("entity %q has no identifier", e.Name))
		} else {
			attrDefaults(e, e.ID)
			if e.ID.Kind != Basic {
				errs = append(errs, fmt.Errorf("entity %q: identifier must be basic", e.Name))
			}
		}
		if e.Version != nil {
			attrDefaults(e, e.Version)
		}
		if e.Inheritance == SingleTable && e.Discriminator == nil {
			errs = append(errs, fmt.Errorf("entity %q: single-table hierarchy requires a discriminator", e.Name))
		}
	} else if e.ID != nil {
		errs = append(errs, fmt.Errorf("entity %q: identifier must be declared on the hierarchy root", e.Name))
	}
	if e.Type != nil && e.Type.Kind() != reflect.Struct {
		errs = append(errs, fmt.Errorf("entity %q: type %s is not a struct", e.Name, e.Type))
	}
	if e.Type == nil && !e.Abstract {
		errs = append(errs, fmt.Errorf("entity %q: concrete entity requires a type", e.Name))
	}
	for _, a := range e.Attributes {
		attrDefaults(e, a)
		switch a.Kind {
		case ToOne, ToMany:
			t, ok := m.byName[a.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("attribute %s: unknown target %q", a.Role(), a.Target))
				continue
			}
			a.target = t
		case ElementCollection:
			if a.CollectionTable == "" {
				errs = append(errs, fmt.Errorf("attribute %s: element collection requires a collection table", a.Role()))
			}
			if a.Embeddable == nil && a.Type == TypeInvalid {
				errs = append(errs, fmt.Errorf("attribute %s: element collection requires an element type", a.Role()))
			}
		case Embedded:
			if a.Embeddable == nil {
				errs = append(errs, fmt.Errorf("attribute %s: embedded attribute requires an embeddable", a.Role()))
			}
		}
		if a.Embeddable != nil {
			errs = append(errs, embeddableDefaults(a.Embeddable)...)
		}
	}
	return errs
}

func attrDefaults(e *Entity, a *Attribute) {
	a.owner = e
	if a.Field == "" {
		a.Field = FieldName(a.Name)
	}
	switch a.Kind {
	case Basic:
		if a.Column == "" {
			a.Column = inflect.Underscore(a.Name)
		}
	case ToOne:
		if a.JoinColumn == "" {
			a.JoinColumn = inflect.Underscore(a.Name) + "_id"
		}
		if a.Fetch == FetchDefault {
			a.Fetch = Eager
		}
	case ToMany, ElementCollection:
		if a.JoinColumn == "" {
			a.JoinColumn = inflect.Underscore(e.Root().Name) + "_id"
		}
		if a.Kind == ElementCollection && a.Embeddable == nil && a.Column == "" {
			a.Column = inflect.Underscore(inflect.Singularize(a.Name))
		}
		if a.Fetch == FetchDefault {
			a.Fetch = Lazy
		}
	}
}

// structField finds the field named name in t, falling back to a unique
// case-insensitive match so "ID" also finds a field spelled "Id".
func structField(t reflect.Type, name string) (reflect.StructField, bool) {
	if f, ok := t.FieldByName(name); ok {
		return f, true
	}
	return t.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
}

func embeddableDefaults(em *Embeddable) []error {
	if em.fields != nil {
		return nil
	}
	em.fields = make(map[*Attribute][]int, len(em.Attributes))
	var errs []error
	for _, a := range em.Attributes {
		if a.Field == "" {
			a.Field = FieldName(a.Name)
		}
		if a.Column == "" {
			a.Column = inflect.Underscore(a.Name)
		}
		if a.Kind != Basic {
			errs = append(errs, fmt.Errorf("embeddable %q: attribute %q must be basic", em.Name, a.Name))
			continue
		}
		if em.Type == nil {
			errs = append(errs, fmt.Errorf("embeddable %q has no type", em.Name))
			break
		}
		f, ok := structField(em.Type, a.Field)
		if !ok {
			errs = append(errs, fmt.Errorf("embeddable %q: type %s has no field %s", em.Name, em.Type, a.Field))
			continue
		}
		em.fields[a] = f.Index
	}
	return errs
}

// link resolves inherited state. Supers are linked before their subclasses.
func (m *Model) link(e *Entity) []error {
	var errs []error
	if e.super != nil {
		e.all = append(e.all, e.super.all...)
	}
	e.all = append(e.all, e.Attributes...)
	e.index = make(map[string]int, len(e.all))
	for i, a := range e.all {
		if _, ok := e.index[a.Name]; ok {
			errs = append(errs, fmt.Errorf("entity %q: duplicate attribute %q", e.Name, a.Name))
			continue
		}
		e.index[a.Name] = i
	}
	root := e.Root()
	if root.Discriminator != nil {
		v := e.DiscriminatorValue
		if v == nil {
			v = e.Name
		}
		key, err := root.Discriminator.Type.Key(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("entity %q: discriminator value: %w", e.Name, err))
		}
		e.discValue = key
	} else {
		e.discValue = e.Name
	}
	if e.Type == nil {
		return errs
	}
	e.fields = make(map[*Attribute][]int, len(e.all)+2)
	attrs := append([]*Attribute{root.ID}, e.all...)
	if root.Version != nil {
		attrs = append(attrs, root.Version)
	}
	for _, a := range attrs {
		if a == nil {
			continue
		}
		f, ok := structField(e.Type, a.Field)
		if !ok {
			errs = append(errs, fmt.Errorf("entity %q: type %s has no field %s", e.Name, e.Type, a.Field))
			continue
		}
		e.fields[a] = f.Index
	}
	if prev, ok := m.byType[e.Type]; ok {
		errs = append(errs, fmt.Errorf("entities %q and %q share type %s", prev.Name, e.Name, e.Type))
	} else {
		m.byType[e.Type] = e
	}
	return errs
}

// Entity returns the entity with the given name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.byName[name]
	return e, ok
}

// EntityOf returns the entity mapped to the Go type t or *t.
func (m *Model) EntityOf(t reflect.Type) (*Entity, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	e, ok := m.byType[t]
	return e, ok
}

// EntityFor returns the entity of the given instance.
func (m *Model) EntityFor(instance any) (*Entity, bool) {
	return m.EntityOf(reflect.TypeOf(instance))
}

// Entities returns the entity names in sorted order.
func (m *Model) Entities() []string {
	names := make([]string, 0, len(m.byName))
	for n := range m.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FetchProfile returns the named fetch profile.
func (m *Model) FetchProfile(name string) (*FetchProfile, bool) {
	p, ok := m.profiles[name]
	return p, ok
}

// Target returns the named instantiation target.
func (m *Model) Target(name string) (*Target, bool) {
	t, ok := m.targets[name]
	return t, ok
}
