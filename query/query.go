// Package query holds the immutable logical query model and its fluent
// builder. Every builder call returns a new *Query; the receiver is never
// modified, so queries may be shared and reused as templates.
//
//	q := query.Select(query.P("o")).
//	    From("Order", "o").
//	    LeftJoinFetch("o.items", "i").
//	    Where(query.EQ(query.P("o.customerId"), query.Named("customer"))).
//	    OrderBy(query.Asc(query.P("o.id")))
package query

import (
	"slices"
	"strings"
)

// Root is an entity in the FROM clause.
type Root struct {
	Entity string
	Alias  string
}

// JoinKind is the kind of an explicit join.
type JoinKind uint8

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
)

// Join is an explicit join along an association path such as "o.items".
// Fetch joins also initialize the association in the selected entities.
type Join struct {
	Path  string
	Alias string
	Kind  JoinKind
	Fetch bool
}

// Selection is one item of the select list.
type Selection struct {
	Expr  Expr
	Alias string
}

// Order is an ORDER BY item.
type Order struct {
	Expr Expr
	Desc bool
}

// Asc orders by e ascending.
func Asc(e Expr) Order { return Order{Expr: e} }

// Desc orders by e descending.
func Desc(e Expr) Order { return Order{Expr: e, Desc: true} }

// Query is an immutable logical query.
type Query struct {
	selections []Selection
	roots      []Root
	joins      []Join
	where      Pred
	groupBy    []Expr
	having     Pred
	orderBy    []Order
	distinct   bool
}

// Select starts a query with the given select items. Items may be aliased with As.
func Select(items ...Expr) *Query {
	q := &Query{}
	for _, it := range items {
		e, alias := Unalias(it)
		q.selections = append(q.selections, Selection{Expr: e, Alias: alias})
	}
	return q
}

func (q *Query) clone() *Query {
	c := *q
	c.selections = slices.Clone(q.selections)
	c.roots = slices.Clone(q.roots)
	c.joins = slices.Clone(q.joins)
	c.groupBy = slices.Clone(q.groupBy)
	c.orderBy = slices.Clone(q.orderBy)
	return &c
}

// From adds a query root.
func (q *Query) From(entity, alias string) *Query {
	c := q.clone()
	c.roots = append(c.roots, Root{Entity: entity, Alias: alias})
	return c
}

func (q *Query) join(path, alias string, kind JoinKind, fetch bool) *Query {
	c := q.clone()
	c.joins = append(c.joins, Join{Path: path, Alias: alias, Kind: kind, Fetch: fetch})
	return c
}

// Join adds an inner join.
func (q *Query) Join(path, alias string) *Query { return q.join(path, alias, InnerJoin, false) }

// LeftJoin adds a left outer join.
func (q *Query) LeftJoin(path, alias string) *Query { return q.join(path, alias, LeftJoin, false) }

// JoinFetch adds an inner fetch join.
func (q *Query) JoinFetch(path, alias string) *Query { return q.join(path, alias, InnerJoin, true) }

// LeftJoinFetch adds a left outer fetch join.
func (q *Query) LeftJoinFetch(path, alias string) *Query { return q.join(path, alias, LeftJoin, true) }

func conjoin(cur Pred, preds []Pred) Pred {
	all := make([]Pred, 0, len(preds)+1)
	if cur != nil {
		all = append(all, cur)
	}
	all = append(all, preds...)
	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	}
	return And(all...)
}

// Where adds restrictions, combined with AND.
func (q *Query) Where(preds ...Pred) *Query {
	c := q.clone()
	c.where = conjoin(c.where, preds)
	return c
}

// GroupBy adds grouping expressions.
func (q *Query) GroupBy(exprs ...Expr) *Query {
	c := q.clone()
	c.groupBy = append(c.groupBy, exprs...)
	return c
}

// Having adds group restrictions, combined with AND.
func (q *Query) Having(preds ...Pred) *Query {
	c := q.clone()
	c.having = conjoin(c.having, preds)
	return c
}

// OrderBy adds ordering items.
func (q *Query) OrderBy(orders ...Order) *Query {
	c := q.clone()
	c.orderBy = append(c.orderBy, orders...)
	return c
}

// Distinct makes the query return distinct rows.
func (q *Query) Distinct() *Query {
	c := q.clone()
	c.distinct = true
	return c
}

// Selections returns the select items.
func (q *Query) Selections() []Selection { return slices.Clone(q.selections) }

// Roots returns the query roots.
func (q *Query) Roots() []Root { return slices.Clone(q.roots) }

// Joins returns the explicit joins.
func (q *Query) Joins() []Join { return slices.Clone(q.joins) }

// Restriction returns the WHERE predicate, or nil.
func (q *Query) Restriction() Pred { return q.where }

// Grouping returns the GROUP BY expressions.
func (q *Query) Grouping() []Expr { return slices.Clone(q.groupBy) }

// GroupRestriction returns the HAVING predicate, or nil.
func (q *Query) GroupRestriction() Pred { return q.having }

// Ordering returns the ORDER BY items.
func (q *Query) Ordering() []Order { return slices.Clone(q.orderBy) }

// IsDistinct reports whether DISTINCT was requested.
func (q *Query) IsDistinct() bool { return q.distinct }

// Key returns the canonical text of the query. Equal keys compile to equal
// statements under equal compilation settings.
func (q *Query) Key() string {
	var w keyWriter
	w.str("select ")
	if q.distinct {
		w.str("distinct ")
	}
	for i, s := range q.selections {
		if i > 0 {
			w.str(",")
		}
		w.expr(s.Expr)
		if s.Alias != "" {
			w.str(" as " + s.Alias)
		}
	}
	w.str(" from ")
	for i, r := range q.roots {
		if i > 0 {
			w.str(",")
		}
		w.str(r.Entity + " " + r.Alias)
	}
	for _, j := range q.joins {
		if j.Kind == LeftJoin {
			w.str(" left")
		}
		w.str(" join ")
		if j.Fetch {
			w.str("fetch ")
		}
		w.str(j.Path + " " + j.Alias)
	}
	if q.where != nil {
		w.str(" where ")
		w.expr(q.where)
	}
	if len(q.groupBy) > 0 {
		w.str(" group by ")
		w.list(q.groupBy)
	}
	if q.having != nil {
		w.str(" having ")
		w.expr(q.having)
	}
	if len(q.orderBy) > 0 {
		w.str(" order by ")
		for i, o := range q.orderBy {
			if i > 0 {
				w.str(",")
			}
			w.expr(o.Expr)
			if o.Desc {
				w.str(" desc")
			}
		}
	}
	return w.sb.String()
}

// String returns the query key.
func (q *Query) String() string { return q.Key() }

// SplitPath splits a dotted path into its segments.
func SplitPath(text string) []string { return strings.Split(text, ".") }
