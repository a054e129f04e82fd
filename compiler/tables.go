package compiler

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
	"github.com/syssam/loom/sqlast"
)

// classColumn is the class id column of table-per-class unions.
const classColumn = "clazz_"

// shape is the table layout used to read an entity subtree.
type shape struct {
	entity *metamodel.Entity
	// secondary are the tables joined to the root table of a joined
	// hierarchy: supers and the entity itself inner joined, descendants
	// outer joined.
	secondary []secondaryTable
	// restrict lists the discriminator values of a single-table subtree
	// whose root is not the hierarchy root.
	restrict []any
	// union is the derived table of a table-per-class subtree with
	// subclasses; its alias is set per use.
	union   *sqlast.UnionTable
	classes map[any]*metamodel.Entity
	// cases lists the concrete entities of a joined subtree without
	// declared discriminator, deepest first.
	cases []*metamodel.Entity
}

type secondaryTable struct {
	entity *metamodel.Entity
	left   bool
}

// shapeOf returns the memoized table layout of e.
func (c *Compiler) shapeOf(e *metamodel.Entity) *shape {
	if sh, ok := c.shapes.Load(e); ok {
		return sh.(*shape)
	}
	sh, _ := c.shapes.LoadOrStore(e, c.buildShape(e))
	return sh.(*shape)
}

func (c *Compiler) buildShape(e *metamodel.Entity) *shape {
	sh := &shape{entity: e}
	root := e.Root()
	switch e.Strategy() {
	case metamodel.SingleTable:
		if e != root {
			for _, ce := range e.Concrete() {
				sh.restrict = append(sh.restrict, ce.DiscriminatorKey())
			}
		}
	case metamodel.Joined:
		var chain []*metamodel.Entity
		for s := e; s != root; s = s.Super() {
			chain = append([]*metamodel.Entity{s}, chain...)
		}
		for _, s := range chain {
			sh.secondary = append(sh.secondary, secondaryTable{entity: s})
		}
		for _, d := range e.Descendants() {
			sh.secondary = append(sh.secondary, secondaryTable{entity: d, left: true})
		}
		if root.Discriminator == nil && len(e.Descendants()) > 0 {
			for _, d := range e.Descendants() {
				if !d.Abstract {
					sh.cases = append(sh.cases, d)
				}
			}
			sortDeepestFirst(sh.cases)
		}
	case metamodel.TablePerClass:
		if len(e.Descendants()) > 0 {
			sh.union, sh.classes = c.unionOf(e)
		}
	}
	return sh
}

func depthOf(e *metamodel.Entity) int {
	d := 0
	for s := e.Super(); s != nil; s = s.Super() {
		d++
	}
	return d
}

func sortDeepestFirst(es []*metamodel.Entity) {
	for i := 1; i < len(es); i++ {
		for j := i; j > 0 && depthOf(es[j]) > depthOf(es[j-1]); j-- {
			es[j], es[j-1] = es[j-1], es[j]
		}
	}
}

// unionOf builds the UNION ALL of the concrete tables of the subtree of e.
func (c *Compiler) unionOf(e *metamodel.Entity) (*sqlast.UnionTable, map[any]*metamodel.Entity) {
	u := &sqlast.UnionTable{ClassColumn: classColumn}
	classes := make(map[any]*metamodel.Entity)
	seen := make(map[string]bool)
	add := func(col string, set map[string]bool) {
		if col == "" {
			return
		}
		set[col] = true
		if !seen[col] {
			seen[col] = true
			u.Columns = append(u.Columns, col)
		}
	}
	for i, ce := range e.Concrete() {
		m := sqlast.UnionMember{Table: ce.Table, ClassID: i + 1, Columns: make(map[string]bool)}
		add(ce.Identifier().Column, m.Columns)
		if v := ce.VersionAttribute(); v != nil {
			add(v.Column, m.Columns)
		}
		for _, a := range ce.AllAttributes() {
			switch a.Kind {
			case metamodel.Basic:
				add(a.Column, m.Columns)
			case metamodel.ToOne:
				add(a.JoinColumn, m.Columns)
			case metamodel.Embedded:
				for _, ea := range a.Embeddable.Attributes {
					add(ea.Column, m.Columns)
				}
			}
		}
		for _, name := range c.model.Entities() {
			owner, _ := c.model.Entity(name)
			for _, a := range owner.Attributes {
				if a.Kind == metamodel.ToMany && a.TargetEntity() != nil && ce.IsA(a.TargetEntity()) {
					add(a.JoinColumn, m.Columns)
					add(a.IndexColumn, m.Columns)
				}
			}
		}
		u.Members = append(u.Members, m)
		classes[int64(m.ClassID)] = ce
	}
	return u, classes
}

// group is a table group of the statement being compiled.
type group struct {
	tg     *sqlast.TableGroup
	path   navpath.Path
	entity *metamodel.Entity
	// attr is the association the group was joined through, nil for roots.
	attr   *metamodel.Attribute
	parent *group
	shape  *shape
	fetch  bool
	left   bool
	// consumed marks explicit fetch joins attached to an entity plan.
	consumed bool
	// auto marks groups joined to load an association.
	auto bool
	disc     sqlast.Expression
}

func (g *group) alias() string { return g.tg.Alias }

// elements reports whether g reads the rows of an element collection.
func (g *group) elements() bool {
	return g.attr != nil && g.attr.Kind == metamodel.ElementCollection
}

// qualifier returns the alias of the table holding the columns of a.
func (g *group) qualifier(a *metamodel.Attribute) string {
	if g.entity == nil || g.entity.Strategy() != metamodel.Joined {
		return g.alias()
	}
	owner := a.Owner()
	if owner == nil || owner == g.entity.Root() {
		return g.alias()
	}
	return g.tg.Reference(owner.Table)
}

// stem returns the alias stem of name: the lowercase initials of its
// singular form, e.g. "li" for "lineItems".
func stem(name string) string {
	name = inflect.Singularize(name)
	var sb strings.Builder
	boundary := true
	for _, r := range name {
		switch {
		case !unicode.IsLetter(r):
			boundary = true
			continue
		case boundary || unicode.IsUpper(r):
			sb.WriteRune(r)
		}
		boundary = false
	}
	if sb.Len() == 0 {
		return "t"
	}
	return strings.ToLower(sb.String())
}

// alias returns the next alias of stem, e.g. "o1".
func (s *state) alias(stemText string) string {
	s.counters[stemText]++
	return stemText + strconv.Itoa(s.counters[stemText])
}

// newGroup creates the table group reading e at path.
func (s *state) newGroup(e *metamodel.Entity, path navpath.Path, stemText string) *group {
	alias := s.alias(stemText)
	sh := s.c.shapeOf(e)
	g := &group{
		tg:     &sqlast.TableGroup{Path: path, Alias: alias, Entity: e},
		path:   path,
		entity: e,
		shape:  sh,
	}
	root := e.Root()
	idType := root.ID.Type
	switch {
	case sh.union != nil:
		u := *sh.union
		u.Alias = alias
		g.tg.Primary = &u
	case e.Strategy() == metamodel.TablePerClass || e.Strategy() == metamodel.NoInheritance:
		g.tg.Primary = &sqlast.NamedTable{Name: e.Table, Alias: alias}
	default:
		g.tg.Primary = &sqlast.NamedTable{Name: root.Table, Alias: alias}
	}
	for i, sec := range sh.secondary {
		t := &sqlast.NamedTable{Name: sec.entity.Table, Alias: alias + "_" + strconv.Itoa(i+1)}
		g.tg.Secondary = append(g.tg.Secondary, &sqlast.TableReferenceJoin{
			Left:  sec.left,
			Table: t,
			On:    sqlast.Eq(s.col(t.Alias, sec.entity.PrimaryKeyColumn(), idType), s.col(alias, root.ID.Column, idType)),
		})
	}
	s.groups[path] = g
	s.order = append(s.order, g)
	return g
}

// newElementGroup creates the group reading the collection table of a.
func (s *state) newElementGroup(a *metamodel.Attribute, path navpath.Path) *group {
	alias := s.alias(stem(a.Name))
	g := &group{
		tg:   &sqlast.TableGroup{Path: path, Alias: alias, Primary: &sqlast.NamedTable{Name: a.CollectionTable, Alias: alias}},
		path: path,
		attr: a,
	}
	s.groups[path] = g
	s.order = append(s.order, g)
	return g
}

// discriminator returns the expression identifying the concrete entity of
// the rows of g, or nil when the subtree of g has a single entity.
func (s *state) discriminator(g *group) sqlast.Expression {
	if g.entity == nil || len(g.entity.Descendants()) == 0 {
		return nil
	}
	if g.disc != nil {
		return g.disc
	}
	sh := g.shape
	switch {
	case sh.union != nil:
		g.disc = s.col(g.alias(), classColumn, metamodel.TypeInt64)
	case g.entity.DiscriminatorColumn() != nil:
		d := g.entity.DiscriminatorColumn()
		g.disc = s.col(g.alias(), d.Column, d.Type)
	case g.entity.Strategy() == metamodel.Joined:
		cs := &sqlast.CaseSearched{}
		for _, ce := range sh.cases {
			cs.Whens = append(cs.Whens, sqlast.When{
				Cond:   &sqlast.Nullness{Expr: s.col(g.tg.Reference(ce.Table), ce.PrimaryKeyColumn(), ce.Identifier().Type), Not: true},
				Result: &sqlast.Literal{Value: ce.Name},
			})
		}
		if !g.entity.Abstract {
			cs.Else = &sqlast.Literal{Value: g.entity.Name}
		}
		g.disc = cs
	}
	return g.disc
}

// restriction returns the discriminator restriction of a single-table
// subtree, or nil.
func (s *state) restriction(g *group) sqlast.Predicate {
	if g.entity == nil || len(g.shape.restrict) == 0 {
		return nil
	}
	d := g.entity.DiscriminatorColumn()
	items := make([]sqlast.Expression, len(g.shape.restrict))
	for i, v := range g.shape.restrict {
		items[i] = &sqlast.Literal{Value: v}
	}
	return &sqlast.InList{Expr: s.col(g.alias(), d.Column, d.Type), Items: items}
}

// idColumn returns the identifier column of g.
func (s *state) idColumn(g *group) *sqlast.ColumnReference {
	id := g.entity.Identifier()
	return s.col(g.alias(), id.Column, id.Type)
}
