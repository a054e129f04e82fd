package compiler

import (
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
	"github.com/syssam/loom/sqlast"
)

// CompileKeyed compiles the statement loading the instances of e whose
// identifiers are bound to the list parameter KeysParam. Each result is an
// assemble.KeyedRow keyed by identifier.
func (c *Compiler) CompileKeyed(e *metamodel.Entity, inf Influencers) (*Compiled, error) {
	s := c.newState(inf)
	g := s.newGroup(e, navpath.Root(e.Name), stem(e.Name))
	s.addRoot(g)
	p, err := s.entityPlan(g, false)
	if err != nil {
		return nil, err
	}
	id := e.Identifier()
	s.spec.Where = s.keyedBy(s.idColumn(g), id.Type)
	s.results.Items = []assemble.Plan{&assemble.KeyedPlan{
		Key:   &assemble.BasicPlan{Position: p.ID, Type: id.Type},
		Value: p,
	}}
	return s.finish(e)
}

// CompileAssociation compiles the statement loading association a for the
// owners whose identifiers are bound to KeysParam. Collection elements are
// returned as assemble.KeyedRow values keyed by owner, in index order when
// the collection is indexed.
func (c *Compiler) CompileAssociation(a *metamodel.Attribute, inf Influencers) (*Compiled, error) {
	owner := a.Owner()
	if owner == nil {
		return nil, loom.NewCompileError(a.Name, "attribute is not linked to a model")
	}
	ownerID := owner.Identifier()
	switch a.Kind {
	case metamodel.ToOne:
		return c.CompileKeyed(a.TargetEntity(), inf)
	case metamodel.ToMany, metamodel.ElementCollection:
	default:
		return nil, loom.NewCompileError(a.Role(), "not an association")
	}
	s := c.newState(inf)
	path := navpath.Parse(a.Role())
	var g *group
	if a.Kind == metamodel.ToMany {
		g = s.newGroup(a.TargetEntity(), path, stem(a.Name))
	} else {
		g = s.newElementGroup(a, path)
	}
	s.addRoot(g)
	key := s.col(g.alias(), a.JoinColumn, ownerID.Type)
	kp := &assemble.KeyedPlan{Key: &assemble.BasicPlan{Position: s.register(key), Type: ownerID.Type}}
	s.spec.OrderBy = append(s.spec.OrderBy, sqlast.SortSpec{Expr: key})
	if a.IndexColumn != "" {
		idx := s.col(g.alias(), a.IndexColumn, metamodel.TypeInt64)
		kp.Index = &assemble.BasicPlan{Position: s.register(idx), Type: metamodel.TypeInt64}
		s.spec.OrderBy = append(s.spec.OrderBy, sqlast.SortSpec{Expr: idx})
	}
	switch {
	case a.Kind == metamodel.ToMany:
		p, err := s.entityPlan(g, false)
		if err != nil {
			return nil, err
		}
		kp.Value = p
	case a.Embeddable != nil:
		kp.Value = s.embeddedPlan(g.alias(), a.Embeddable)
	default:
		kp.Value = &assemble.BasicPlan{Position: s.register(s.col(g.alias(), a.Column, a.Type)), Type: a.Type}
	}
	s.spec.Where = s.keyedBy(key, ownerID.Type)
	s.results.Items = []assemble.Plan{kp}
	return s.finish(g.entity)
}

func (s *state) keyedBy(key sqlast.Expression, t metamodel.ValueType) sqlast.Predicate {
	p := s.reg.Named(KeysParam)
	p.Type, p.Multi = t, true
	return &sqlast.InList{Expr: key, Items: []sqlast.Expression{&sqlast.JdbcParameter{Param: p}}}
}

// CompileNative prepares a native SQL statement. When e is not nil rows
// are read as instances of e, otherwise as raw column values.
func (c *Compiler) CompileNative(text string, e *metamodel.Entity, base int) (*Compiled, error) {
	reg, tokens, err := bind.Recognize(text, base)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		Registry:       reg,
		Entity:         e,
		Native:         &Native{Text: text, Tokens: tokens},
		InMemoryWindow: true,
	}, nil
}

// NativeResults maps the columns of a native statement onto e. Columns are
// matched by name ignoring case. Attributes without a column stay
// unfetched and collections are loaded later.
func NativeResults(e *metamodel.Entity, columns []string) (*assemble.Results, error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[strings.ToLower(c)] = i
	}
	find := func(column string) int {
		if i, ok := pos[strings.ToLower(column)]; ok {
			return i
		}
		return -1
	}
	id := e.Identifier()
	p := &assemble.EntityPlan{
		Path:          navpath.Root(e.Name),
		Entity:        e,
		ID:            find(id.Column),
		Discriminator: -1,
		Version:       -1,
	}
	if p.ID < 0 {
		return nil, loom.NewCompileError(e.Name, "native result has no identifier column %q", id.Column)
	}
	if len(e.Descendants()) > 0 {
		d := e.DiscriminatorColumn()
		if d == nil {
			return nil, loom.NewCompileError(e.Name, "native results of %s need a discriminator column", e.Name)
		}
		if p.Discriminator = find(d.Column); p.Discriminator < 0 {
			return nil, loom.NewCompileError(e.Name, "native result has no discriminator column %q", d.Column)
		}
	}
	if v := e.VersionAttribute(); v != nil {
		p.Version = find(v.Column)
	}
	for _, a := range e.SubtreeAttributes() {
		switch a.Kind {
		case metamodel.Basic:
			p.Attributes = append(p.Attributes, assemble.AttributePlan{Attribute: a, Position: find(a.Column)})
		case metamodel.Embedded:
			ep := &assemble.EmbeddedPlan{Embeddable: a.Embeddable}
			found := false
			for _, ea := range a.Embeddable.Attributes {
				i := find(ea.Column)
				found = found || i >= 0
				ep.Attributes = append(ep.Attributes, assemble.AttributePlan{Attribute: ea, Position: i})
			}
			if found {
				p.Embedded = append(p.Embedded, assemble.EmbeddedAttributePlan{Attribute: a, Plan: ep})
			}
		case metamodel.ToOne:
			if fk := find(a.JoinColumn); fk >= 0 {
				p.ToOne = append(p.ToOne, assemble.ToOnePlan{Attribute: a, FK: fk, Strategy: assemble.DeferredStrategy(a)})
			}
		default:
			p.Deferred = append(p.Deferred, assemble.DeferredPlan{Attribute: a, Strategy: assemble.DeferredStrategy(a)})
		}
	}
	return &assemble.Results{Items: []assemble.Plan{p}, RootKeys: []int{p.ID}}, nil
}
