package compiler

import (
	"fmt"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/fetch"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/sqlast"
)

type colKey struct{ qualifier, column string }

type fetchKey struct {
	owner *group
	attr  *metamodel.Attribute
}

// state is the working set of one compilation.
type state struct {
	c    *Compiler
	inf  Influencers
	spec *sqlast.QuerySpec
	reg  *bind.Registry

	counters map[string]int
	groups   map[navpath.Path]*group
	order    []*group
	roots    []*group
	aliases  map[string]*group
	fetched  map[fetchKey]*group

	cols     map[colKey]*sqlast.ColumnReference
	memo     map[string]sqlast.Expression
	selAlias map[string]*sqlast.SqlSelection

	graph    *fetch.Graph
	results  *assemble.Results
	rootKeys []sqlast.Expression
}

func (c *Compiler) newState(inf Influencers) *state {
	return &state{
		c:        c,
		inf:      inf,
		spec:     &sqlast.QuerySpec{Lock: inf.Lock},
		reg:      bind.NewRegistry(inf.OrdinalBase),
		counters: make(map[string]int),
		groups:   make(map[navpath.Path]*group),
		aliases:  make(map[string]*group),
		fetched:  make(map[fetchKey]*group),
		cols:     make(map[colKey]*sqlast.ColumnReference),
		memo:     make(map[string]sqlast.Expression),
		selAlias: make(map[string]*sqlast.SqlSelection),
		graph:    fetch.NewGraph(),
		results:  &assemble.Results{},
	}
}

// col returns the column reference of qualifier.column. The same column
// always yields the same reference, so it is selected once.
func (s *state) col(qualifier, column string, t metamodel.ValueType) *sqlast.ColumnReference {
	k := colKey{qualifier, column}
	if c, ok := s.cols[k]; ok {
		return c
	}
	c := sqlast.Col(qualifier, column, t)
	s.cols[k] = c
	return c
}

// register adds e to the select list and returns its row position.
func (s *state) register(e sqlast.Expression) int {
	return s.spec.Select.Register(e).ValuesPosition
}

func (s *state) addRoot(g *group) {
	s.roots = append(s.roots, g)
	s.spec.From = append(s.spec.From, g.tg)
}

func (s *state) compile(q *query.Query) error {
	roots := q.Roots()
	if len(roots) == 0 {
		return loom.NewCompileError("", "query has no root entity")
	}
	if len(q.Selections()) == 0 {
		return loom.NewCompileError("", "query selects nothing")
	}
	for _, r := range roots {
		e, ok := s.c.model.Entity(r.Entity)
		if !ok {
			return loom.NewCompileError(r.Entity, "unknown entity")
		}
		if _, dup := s.aliases[r.Alias]; dup || r.Alias == "" {
			return loom.NewCompileError(r.Alias, "root alias must be unique and not empty")
		}
		g := s.newGroup(e, navpath.Root(r.Alias), stem(e.Name))
		s.aliases[r.Alias] = g
		s.addRoot(g)
	}
	for _, j := range q.Joins() {
		if err := s.join(j); err != nil {
			return err
		}
	}
	s.spec.Select.Distinct = q.IsDistinct()
	for _, sel := range q.Selections() {
		it, err := s.selection(sel.Expr)
		if err != nil {
			return err
		}
		s.results.Items = append(s.results.Items, it.plan)
		if sel.Alias != "" && it.expr != nil {
			if ss, ok := s.spec.Select.Lookup(it.expr); ok {
				s.selAlias[sel.Alias] = ss
			}
		}
	}
	if r := q.Restriction(); r != nil {
		w, err := s.predicate(r)
		if err != nil {
			return err
		}
		s.spec.Where = w
	}
	for _, e := range q.Grouping() {
		ex, err := s.positional(e)
		if err != nil {
			return err
		}
		s.spec.GroupBy = append(s.spec.GroupBy, ex)
	}
	if h := q.GroupRestriction(); h != nil {
		p, err := s.predicate(h)
		if err != nil {
			return err
		}
		s.spec.Having = p
	}
	for _, o := range q.Ordering() {
		ex, err := s.positional(o.Expr)
		if err != nil {
			return err
		}
		s.spec.OrderBy = append(s.spec.OrderBy, sqlast.SortSpec{Expr: ex, Desc: o.Desc})
	}
	return nil
}

// join adds an explicit join such as "o.items i".
func (s *state) join(j query.Join) error {
	segs := query.SplitPath(j.Path)
	if len(segs) < 2 {
		return loom.NewCompileError(j.Path, "join path must start with an alias")
	}
	parent, ok := s.aliases[segs[0]]
	if !ok {
		return loom.NewCompileError(j.Path, "unknown alias %q", segs[0])
	}
	if _, dup := s.aliases[j.Alias]; dup || j.Alias == "" {
		return loom.NewCompileError(j.Alias, "join alias must be unique and not empty")
	}
	for _, seg := range segs[1 : len(segs)-1] {
		a, err := s.attribute(parent, seg, j.Path)
		if err != nil {
			return err
		}
		if a.Kind != metamodel.ToOne {
			return loom.NewCompileError(j.Path, "cannot navigate %s implicitly", a.Role())
		}
		if parent, err = s.implicitJoin(parent, a); err != nil {
			return err
		}
	}
	a, err := s.attribute(parent, segs[len(segs)-1], j.Path)
	if err != nil {
		return err
	}
	if !a.IsAssociation() {
		return loom.NewCompileError(j.Path, "%s is not an association", a.Role())
	}
	path := parent.path.Append(a.Name)
	if _, taken := s.groups[path]; taken {
		path = parent.path.AppendAlias(a.Name, j.Alias)
	}
	g, err := s.joinGroup(parent, a, path, j.Kind == query.LeftJoin)
	if err != nil {
		return err
	}
	g.fetch = j.Fetch
	s.aliases[j.Alias] = g
	return nil
}

// attribute looks up the attribute name of the entity read by g.
func (s *state) attribute(g *group, name, text string) (*metamodel.Attribute, error) {
	if g.entity == nil {
		return nil, loom.NewCompileError(text, "collection elements have no attribute %q", name)
	}
	a, ok := g.entity.SubtreeAttribute(name)
	if !ok {
		return nil, loom.NewCompileError(text, "unknown attribute %q of %s", name, g.entity.Name)
	}
	return a, nil
}

// implicitJoin returns the inner joined group of the to-one association a,
// reusing the group already joined at the same path.
func (s *state) implicitJoin(parent *group, a *metamodel.Attribute) (*group, error) {
	path := parent.path.Append(a.Name)
	if g, ok := s.groups[path]; ok && g.attr == a {
		return g, nil
	}
	return s.joinGroup(parent, a, path, false)
}

// joinGroup joins the group of association a below parent.
func (s *state) joinGroup(parent *group, a *metamodel.Attribute, path navpath.Path, left bool) (*group, error) {
	if parent.entity == nil {
		return nil, loom.NewCompileError(path.String(), "collection elements have no associations")
	}
	var (
		g  *group
		on sqlast.Predicate
	)
	ownerID := parent.entity.Identifier()
	switch a.Kind {
	case metamodel.ToOne:
		g = s.newGroup(a.TargetEntity(), path, stem(a.Name))
		on = sqlast.Eq(s.idColumn(g), s.col(parent.qualifier(a), a.JoinColumn, a.TargetEntity().Identifier().Type))
	case metamodel.ToMany:
		g = s.newGroup(a.TargetEntity(), path, stem(a.Name))
		on = sqlast.Eq(s.col(g.alias(), a.JoinColumn, ownerID.Type), s.idColumn(parent))
	case metamodel.ElementCollection:
		g = s.newElementGroup(a, path)
		on = sqlast.Eq(s.col(g.alias(), a.JoinColumn, ownerID.Type), s.idColumn(parent))
	default:
		return nil, loom.NewCompileError(path.String(), "%s is not an association", a.Role())
	}
	g.attr, g.parent, g.left = a, parent, left
	filters, err := s.filters(g)
	if err != nil {
		return nil, err
	}
	on = sqlast.Conjoin(append([]sqlast.Predicate{on, s.restriction(g)}, filters...)...)
	parent.tg.Join(g.tg, left, on)
	return g, nil
}

// filters returns the enabled filters of the entity read by g as fragment
// predicates. Filter parameters are registered as "filter.param".
func (s *state) filters(g *group) ([]sqlast.Predicate, error) {
	if g.entity == nil {
		return nil, nil
	}
	var out []sqlast.Predicate
	for _, ef := range s.inf.Filters {
		f, ok := g.entity.Filter(ef.Name)
		if !ok {
			continue
		}
		text := strings.ReplaceAll(f.Condition, "{alias}", g.alias())
		_, tokens, err := bind.Recognize(text, s.reg.Base())
		if err != nil {
			return nil, loom.NewCompileError(f.Name, "filter condition: %v", err)
		}
		fp := &sqlast.FragmentPredicate{}
		last := 0
		for _, t := range tokens {
			if t.Param.Style != bind.Named {
				return nil, loom.NewCompileError(f.Name, "filter parameters must be named")
			}
			fp.Parts = append(fp.Parts, text[last:t.Start])
			fp.Params = append(fp.Params, s.reg.Named(f.Name+"."+t.Param.Name))
			last = t.End
		}
		fp.Parts = append(fp.Parts, text[last:])
		out = append(out, fp)
	}
	return out, nil
}

// finish completes the statement: root restrictions and filters, the
// ordering required by collection fetches and parameter validation.
func (s *state) finish(e *metamodel.Entity) (*Compiled, error) {
	preds := []sqlast.Predicate{s.spec.Where}
	for _, g := range s.roots {
		filters, err := s.filters(g)
		if err != nil {
			return nil, err
		}
		preds = append(preds, s.restriction(g))
		preds = append(preds, filters...)
	}
	s.spec.Where = sqlast.Conjoin(preds...)
	for _, g := range s.order {
		if g.fetch && !g.consumed {
			return nil, loom.NewCompileError(g.path.String(), "fetch join requires its owner in the select list")
		}
	}
	if s.graph.HasCollectionJoin() {
		s.collectionOrder()
	}
	if err := s.reg.Validate(); err != nil {
		return nil, err
	}
	return &Compiled{
		Spec:           s.spec,
		Registry:       s.reg,
		Results:        s.results,
		Fetch:          s.graph,
		Entity:         e,
		InMemoryWindow: s.results.HasCollectionFetch,
	}, nil
}

// collectionOrder orders the rows of a collection fetch so that the rows of
// one root result are adjacent. Root keys follow a user ordering over root
// columns and precede any other.
func (s *state) collectionOrder() {
	s.results.HasCollectionFetch = true
	rootAliases := make(map[string]bool)
	for _, k := range s.rootKeys {
		if c, ok := k.(*sqlast.ColumnReference); ok {
			g, _ := s.spec.Group(c.Qualifier)
			if g == nil {
				continue
			}
			rootAliases[g.Alias] = true
			for _, sec := range g.Secondary {
				rootAliases[sec.Table.Alias] = true
			}
		}
	}
	other := false
	for _, o := range s.spec.OrderBy {
		walkColumns(o.Expr, func(c *sqlast.ColumnReference) {
			if !rootAliases[c.Qualifier] {
				other = true
			}
		})
	}
	var keys []sqlast.SortSpec
	for _, k := range s.rootKeys {
		if !hasSort(s.spec.OrderBy, k) && !hasSort(keys, k) {
			keys = append(keys, sqlast.SortSpec{Expr: k})
		}
	}
	if other {
		s.spec.OrderBy = append(keys, s.spec.OrderBy...)
	} else {
		s.spec.OrderBy = append(s.spec.OrderBy, keys...)
	}
	for _, g := range s.order {
		if g.attr == nil || !g.attr.IsCollection() || g.attr.IndexColumn == "" || !g.loads() {
			continue
		}
		idx := s.col(g.alias(), g.attr.IndexColumn, metamodel.TypeInt64)
		s.spec.OrderBy = append(s.spec.OrderBy, sqlast.SortSpec{Expr: idx})
	}
}

// loads reports whether g reads the elements of a fetched association.
func (g *group) loads() bool { return g.auto || g.fetch && g.consumed }

func hasSort(specs []sqlast.SortSpec, e sqlast.Expression) bool {
	for _, s := range specs {
		if s.Expr == e {
			return true
		}
	}
	return false
}

// walkColumns calls fn for every column referenced by e.
func walkColumns(e sqlast.Expression, fn func(*sqlast.ColumnReference)) {
	switch e := e.(type) {
	case *sqlast.ColumnReference:
		fn(e)
	case *sqlast.BinaryArithmetic:
		walkColumns(e.L, fn)
		walkColumns(e.R, fn)
	case *sqlast.Function:
		for _, a := range e.Args {
			walkColumns(a, fn)
		}
	case *sqlast.Aggregate:
		if e.Arg != nil {
			walkColumns(e.Arg, fn)
		}
	case *sqlast.CaseSearched:
		for _, w := range e.Whens {
			walkColumns(w.Cond, fn)
			walkColumns(w.Result, fn)
		}
		if e.Else != nil {
			walkColumns(e.Else, fn)
		}
	case *sqlast.Nullness:
		walkColumns(e.Expr, fn)
	case *sqlast.SqlSelectionExpression:
		walkColumns(e.Selection.Expression, fn)
	}
}

func (s *state) String() string {
	return fmt.Sprintf("state(%d groups)", len(s.order))
}
