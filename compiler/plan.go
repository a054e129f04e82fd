package compiler

import (
	"reflect"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/sqlast"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// item is a compiled select-list item.
type item struct {
	plan assemble.Plan
	// expr and basic are set for scalar items.
	expr  sqlast.Expression
	basic *assemble.BasicPlan
	// typ is the Go type of the item values.
	typ reflect.Type
}

func (s *state) selection(e query.Expr) (item, error) {
	switch x := e.(type) {
	case *query.AliasedExpr:
		return s.selection(x.Expr)
	case *query.InstantiateExpr:
		return s.instantiate(x)
	case *query.RefExpr:
		r, err := s.resolve(x.Text, true)
		if err != nil {
			return item{}, err
		}
		if r.group == nil || r.group.entity == nil {
			return item{}, loom.NewCompileError(x.Text, "reference must name an entity")
		}
		p, err := s.entityPlan(r.group, true)
		if err != nil {
			return item{}, err
		}
		return item{plan: p, typ: entityType(r.group.entity)}, nil
	case *query.PathExpr:
		r, err := s.resolve(x.Text, true)
		if err != nil {
			return item{}, err
		}
		switch {
		case r.group != nil && r.group.entity != nil:
			p, err := s.entityPlan(r.group, false)
			if err != nil {
				return item{}, err
			}
			return item{plan: p, typ: entityType(r.group.entity)}, nil
		case r.group != nil && r.group.attr.Embeddable != nil:
			em := r.group.attr.Embeddable
			return item{plan: s.embeddedPlan(r.group.alias(), em), typ: em.Type}, nil
		case r.embedded != nil:
			em := r.embedded.Embeddable
			return item{plan: s.embeddedPlan(r.owner.qualifier(r.embedded), em), typ: em.Type}, nil
		}
		ex, err := s.value(r, x.Text)
		if err != nil {
			return item{}, err
		}
		return s.scalar(ex), nil
	}
	ex, err := s.expr(e)
	if err != nil {
		return item{}, err
	}
	return s.scalar(ex), nil
}

func (s *state) scalar(ex sqlast.Expression) item {
	t := typeOf(ex)
	bp := &assemble.BasicPlan{Position: s.register(ex), Type: t}
	return item{plan: bp, expr: ex, basic: bp, typ: t.GoType()}
}

func entityType(e *metamodel.Entity) reflect.Type {
	if e.Type == nil {
		return anyType
	}
	return reflect.PointerTo(e.Type)
}

// entityPlan compiles a selected entity. Selected entities are fetch graph
// roots and identify the logical results of collection fetches.
func (s *state) entityPlan(g *group, shallow bool) (*assemble.EntityPlan, error) {
	n := s.graph.AddRoot(&fetch.Node{Path: g.path, Declared: fetch.Join, Strategy: fetch.Join})
	p, err := s.buildEntity(g, n, "", 0, shallow)
	if err != nil {
		return nil, err
	}
	s.results.RootKeys = append(s.results.RootKeys, p.ID)
	s.rootKeys = append(s.rootKeys, s.idColumn(g))
	return p, nil
}

func (s *state) buildEntity(g *group, node *fetch.Node, rel string, depth int, shallow bool) (*assemble.EntityPlan, error) {
	e := g.entity
	p := &assemble.EntityPlan{
		Path:          g.path,
		Entity:        e,
		ID:            s.register(s.idColumn(g)),
		Discriminator: -1,
		Version:       -1,
		Shallow:       shallow,
	}
	if d := s.discriminator(g); d != nil {
		p.Discriminator = s.register(d)
		p.Classes = g.shape.classes
	}
	if v := e.VersionAttribute(); v != nil {
		p.Version = s.register(s.col(g.alias(), v.Column, v.Type))
	}
	if shallow {
		return p, nil
	}
	for _, a := range e.SubtreeAttributes() {
		switch a.Kind {
		case metamodel.Basic:
			p.Attributes = append(p.Attributes, assemble.AttributePlan{
				Attribute: a,
				Position:  s.register(s.col(g.qualifier(a), a.Column, a.Type)),
			})
		case metamodel.Embedded:
			p.Embedded = append(p.Embedded, assemble.EmbeddedAttributePlan{
				Attribute: a,
				Plan:      s.embeddedPlan(g.qualifier(a), a.Embeddable),
			})
		default:
			if err := s.association(p, g, node, a, rel, depth); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (s *state) embeddedPlan(qualifier string, em *metamodel.Embeddable) *assemble.EmbeddedPlan {
	p := &assemble.EmbeddedPlan{Embeddable: em}
	for _, ea := range em.Attributes {
		p.Attributes = append(p.Attributes, assemble.AttributePlan{
			Attribute: ea,
			Position:  s.register(s.col(qualifier, ea.Column, ea.Type)),
		})
	}
	return p
}

// association compiles the association a of the entity read by g, either
// joined into the statement or deferred to a later load.
func (s *state) association(p *assemble.EntityPlan, g *group, node *fetch.Node, a *metamodel.Attribute, rel string, depth int) error {
	childRel := a.Name
	if rel != "" {
		childRel = rel + "." + a.Name
	}
	n := &fetch.Node{Path: g.path.Append(a.Name), Attribute: a, Depth: depth}
	child := s.explicitFetch(g, a)
	if child != nil {
		child.consumed = true
		n.Declared, n.Strategy = fetch.Join, fetch.Join
	} else {
		n.Declared = s.decide(a, childRel)
		n.Strategy = n.Declared
		if n.Strategy == fetch.Join && (onPath(node, a) || depth+1 > s.inf.MaxFetchDepth) {
			n.Strategy, n.Downgraded = fetch.Select, true
		}
	}
	if n.Strategy.Deferred() {
		s.graph.AddChild(node, n)
		if a.Kind == metamodel.ToOne {
			n.KeyColumns = []string{a.JoinColumn}
			p.ToOne = append(p.ToOne, assemble.ToOnePlan{Attribute: a, FK: s.register(s.foreignKey(g, a)), Strategy: n.Strategy})
			return nil
		}
		n.KeyColumns = []string{g.entity.Identifier().Column}
		p.Deferred = append(p.Deferred, assemble.DeferredPlan{Attribute: a, Strategy: n.Strategy})
		return nil
	}
	if child == nil {
		var err error
		if child, err = s.fetchGroup(g, a); err != nil {
			return err
		}
	}
	n.Path, n.Depth = child.path, depth+1
	s.graph.AddChild(node, n)
	switch a.Kind {
	case metamodel.ToOne:
		cp, err := s.buildEntity(child, n, childRel, n.Depth, false)
		if err != nil {
			return err
		}
		p.ToOne = append(p.ToOne, assemble.ToOnePlan{Attribute: a, FK: s.register(s.foreignKey(g, a)), Join: cp, Strategy: fetch.Select})
	case metamodel.ToMany:
		cp, err := s.buildEntity(child, n, childRel, n.Depth, false)
		if err != nil {
			return err
		}
		coll := &assemble.CollectionPlan{Attribute: a, Entity: cp, Index: -1, Presence: cp.ID}
		if a.IndexColumn != "" {
			coll.Index = s.register(s.col(child.alias(), a.IndexColumn, metamodel.TypeInt64))
		}
		p.Collections = append(p.Collections, coll)
	case metamodel.ElementCollection:
		ownerID := g.entity.Identifier()
		coll := &assemble.CollectionPlan{
			Attribute: a,
			Index:     -1,
			Presence:  s.register(s.col(child.alias(), a.JoinColumn, ownerID.Type)),
		}
		if a.Embeddable != nil {
			coll.Embedded = s.embeddedPlan(child.alias(), a.Embeddable)
		} else {
			coll.Element = &assemble.BasicPlan{Position: s.register(s.col(child.alias(), a.Column, a.Type)), Type: a.Type}
		}
		if a.IndexColumn != "" {
			coll.Index = s.register(s.col(child.alias(), a.IndexColumn, metamodel.TypeInt64))
		}
		p.Collections = append(p.Collections, coll)
	}
	return nil
}

func (s *state) foreignKey(g *group, a *metamodel.Attribute) *sqlast.ColumnReference {
	return s.col(g.qualifier(a), a.JoinColumn, a.TargetEntity().Identifier().Type)
}

// explicitFetch returns the fetch join of a declared below g by the query.
func (s *state) explicitFetch(g *group, a *metamodel.Attribute) *group {
	for _, c := range s.order {
		if c.parent == g && c.attr == a && c.fetch {
			return c
		}
	}
	return nil
}

// fetchGroup returns the group joined to load a below g.
func (s *state) fetchGroup(g *group, a *metamodel.Attribute) (*group, error) {
	k := fetchKey{g, a}
	if f, ok := s.fetched[k]; ok {
		return f, nil
	}
	path := g.path.Append(a.Name)
	if ex, ok := s.groups[path]; ok {
		if a.Kind == metamodel.ToOne && ex.attr == a && ex.parent == g {
			s.fetched[k] = ex
			return ex, nil
		}
		path = g.path.AppendAlias(a.Name, "fetch")
	}
	f, err := s.joinGroup(g, a, path, true)
	if err != nil {
		return nil, err
	}
	f.auto = true
	s.fetched[k] = f
	return f, nil
}

// onPath reports whether a was already traversed on the way to node.
func onPath(node *fetch.Node, a *metamodel.Attribute) bool {
	for n := node; n != nil; n = n.Parent {
		if n.Attribute == a {
			return true
		}
	}
	return false
}

// decide returns the fetch strategy of a: an entity graph lists what is
// joined, active fetch profiles override the declared mode.
func (s *state) decide(a *metamodel.Attribute, rel string) fetch.Strategy {
	mode := a.Mode
	for _, name := range s.inf.Profiles {
		if prof, ok := s.c.model.FetchProfile(name); ok {
			if m, ok := prof.Mode(a); ok {
				mode = m
			}
		}
	}
	declared, ok := fetch.FromMode(mode)
	if g := s.inf.Graph; g != nil {
		switch {
		case g.has(rel):
			return fetch.Join
		case ok && declared.Deferred():
			return declared
		}
		return fetch.Select
	}
	switch {
	case ok:
		return declared
	case a.Eager():
		return fetch.Join
	}
	return fetch.Select
}
