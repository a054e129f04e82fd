package compiler

import (
	"time"

	"github.com/google/uuid"

	"github.com/syssam/loom"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/query"
	"github.com/syssam/loom/sqlast"
)

// resolved is the target of a domain path.
type resolved struct {
	// group is set when the path names an entity or the elements of a
	// collection.
	group *group
	// embedded is set when the path names an embedded value of owner.
	embedded *metamodel.Attribute
	owner    *group
	// expr is set when the path names a column.
	expr sqlast.Expression
}

// resolve resolves a domain path. In selections a trailing to-one
// association is joined so the entity can be read; elsewhere its foreign
// key column stands for it.
func (s *state) resolve(text string, selecting bool) (*resolved, error) {
	segs := query.SplitPath(text)
	g, ok := s.aliases[segs[0]]
	if !ok {
		owner, err := s.unqualified(segs[0], text)
		if err != nil {
			return nil, err
		}
		g = owner
	} else {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return &resolved{group: g}, nil
	}
	for i, seg := range segs {
		last := i == len(segs)-1
		if g.entity == nil {
			return nil, loom.NewCompileError(text, "collection elements have no attribute %q", seg)
		}
		if id := g.entity.Identifier(); seg == id.Name {
			if !last {
				return nil, loom.NewCompileError(text, "cannot dereference the identifier")
			}
			return &resolved{expr: s.idColumn(g)}, nil
		}
		if v := g.entity.VersionAttribute(); v != nil && seg == v.Name {
			if !last {
				return nil, loom.NewCompileError(text, "cannot dereference the version")
			}
			return &resolved{expr: s.col(g.alias(), v.Column, v.Type)}, nil
		}
		a, err := s.attribute(g, seg, text)
		if err != nil {
			return nil, err
		}
		switch a.Kind {
		case metamodel.Basic:
			if !last {
				return nil, loom.NewCompileError(text, "cannot dereference basic attribute %s", a.Role())
			}
			return &resolved{expr: s.col(g.qualifier(a), a.Column, a.Type)}, nil
		case metamodel.Embedded:
			if last {
				return &resolved{embedded: a, owner: g}, nil
			}
			if i+2 != len(segs) {
				return nil, loom.NewCompileError(text, "cannot dereference embedded attribute %s", segs[i+1])
			}
			for _, ea := range a.Embeddable.Attributes {
				if ea.Name == segs[i+1] {
					return &resolved{expr: s.col(g.qualifier(a), ea.Column, ea.Type)}, nil
				}
			}
			return nil, loom.NewCompileError(text, "unknown attribute %q of %s", segs[i+1], a.Embeddable.Name)
		case metamodel.ToOne:
			target := a.TargetEntity()
			fk := s.col(g.qualifier(a), a.JoinColumn, target.Identifier().Type)
			switch {
			case i+2 == len(segs) && segs[i+1] == target.Identifier().Name:
				return &resolved{expr: fk}, nil
			case last && !selecting:
				return &resolved{expr: fk}, nil
			}
			if g, err = s.implicitJoin(g, a); err != nil {
				return nil, err
			}
			if last {
				return &resolved{group: g}, nil
			}
		default:
			return nil, loom.NewCompileError(text, "cannot navigate collection %s implicitly, join it", a.Role())
		}
	}
	return &resolved{group: g}, nil
}

// unqualified finds the root whose entity subtree declares name.
func (s *state) unqualified(name, text string) (*group, error) {
	var found *group
	for _, g := range s.roots {
		if g.entity == nil {
			continue
		}
		_, ok := g.entity.SubtreeAttribute(name)
		if !ok {
			ok = g.entity.Identifier().Name == name
		}
		if !ok {
			if v := g.entity.VersionAttribute(); v != nil && v.Name == name {
				ok = true
			}
		}
		if !ok {
			continue
		}
		if found != nil {
			return nil, loom.NewCompileError(text, "ambiguous attribute %q", name)
		}
		found = g
	}
	if found == nil {
		return nil, loom.NewCompileError(text, "unknown alias or attribute %q", name)
	}
	return found, nil
}

// value returns the expression standing for r in predicates and scalar
// selections. Entities stand for their identifier.
func (s *state) value(r *resolved, text string) (sqlast.Expression, error) {
	switch {
	case r.expr != nil:
		return r.expr, nil
	case r.group != nil && r.group.elements():
		a := r.group.attr
		if a.Embeddable != nil {
			return nil, loom.NewCompileError(text, "embedded elements cannot be used in an expression")
		}
		return s.col(r.group.alias(), a.Column, a.Type), nil
	case r.group != nil:
		return s.idColumn(r.group), nil
	}
	return nil, loom.NewCompileError(text, "embedded value cannot be used in an expression")
}

// expr converts a logical expression. Expressions without parameters are
// memoized by key, so repeating one yields the same selection.
func (s *state) expr(e query.Expr) (sqlast.Expression, error) {
	key, params := query.KeyOf(e)
	if !params {
		if ex, ok := s.memo[key]; ok {
			return ex, nil
		}
	}
	ex, err := s.convert(e, key)
	if err != nil {
		return nil, err
	}
	if !params {
		s.memo[key] = ex
	}
	return ex, nil
}

func (s *state) predicate(p query.Pred) (sqlast.Predicate, error) {
	ex, err := s.expr(p)
	if err != nil {
		return nil, err
	}
	return ex.(sqlast.Predicate), nil
}

func (s *state) convert(e query.Expr, key string) (sqlast.Expression, error) {
	switch x := e.(type) {
	case *query.PathExpr:
		r, err := s.resolve(x.Text, false)
		if err != nil {
			return nil, err
		}
		return s.value(r, x.Text)
	case *query.RefExpr:
		r, err := s.resolve(x.Text, false)
		if err != nil {
			return nil, err
		}
		return s.value(r, x.Text)
	case *query.LitExpr:
		return &sqlast.Literal{Value: x.Value}, nil
	case *query.Param:
		return &sqlast.JdbcParameter{Param: s.param(x)}, nil
	case *query.AliasedExpr:
		return s.expr(x.Expr)
	case *query.BinaryExpr:
		l, r, err := s.pair(x.L, x.R)
		if err != nil {
			return nil, err
		}
		return &sqlast.BinaryArithmetic{Op: x.Op, L: l, R: r}, nil
	case *query.FuncExpr:
		f := &sqlast.Function{Name: x.Name}
		for _, a := range x.Args {
			ex, err := s.expr(a)
			if err != nil {
				return nil, err
			}
			f.Args = append(f.Args, ex)
		}
		return f, nil
	case *query.AggExpr:
		agg := &sqlast.Aggregate{Func: x.Func, Distinct: x.Distinct}
		if x.Arg != nil {
			arg, err := s.expr(x.Arg)
			if err != nil {
				return nil, err
			}
			agg.Arg = arg
		}
		return agg, nil
	case *query.CompareExpr:
		l, r, err := s.pair(x.L, x.R)
		if err != nil {
			return nil, err
		}
		return &sqlast.Comparison{Op: string(x.Op), L: l, R: r}, nil
	case *query.InExpr:
		v, err := s.expr(x.Expr)
		if err != nil {
			return nil, err
		}
		in := &sqlast.InList{Expr: v, Not: x.Not}
		for _, item := range x.Values {
			ex, err := s.expr(item)
			if err != nil {
				return nil, err
			}
			infer(v, ex)
			in.Items = append(in.Items, ex)
		}
		if len(in.Items) == 1 {
			if p, ok := in.Items[0].(*sqlast.JdbcParameter); ok {
				p.Param.Multi = true
			}
		}
		return in, nil
	case *query.NullExpr:
		v, err := s.expr(x.Expr)
		if err != nil {
			return nil, err
		}
		return &sqlast.Nullness{Expr: v, Not: x.Not}, nil
	case *query.LikeExpr:
		v, pat, err := s.pair(x.Expr, x.Pattern)
		if err != nil {
			return nil, err
		}
		if p, ok := pat.(*sqlast.JdbcParameter); ok && p.Param.Type == metamodel.TypeInvalid {
			p.Param.Type = metamodel.TypeString
		}
		return &sqlast.Like{Expr: v, Pattern: pat, Not: x.Not}, nil
	case *query.JunctionExpr:
		j := &sqlast.Junction{Or: x.Or}
		for _, p := range x.Preds {
			sp, err := s.predicate(p)
			if err != nil {
				return nil, err
			}
			j.Preds = append(j.Preds, sp)
		}
		return j, nil
	case *query.NotExpr:
		p, err := s.predicate(x.Pred)
		if err != nil {
			return nil, err
		}
		return &sqlast.Negated{Pred: p}, nil
	case *query.InstantiateExpr:
		return nil, loom.NewCompileError(key, "instantiation is only allowed in the select list")
	}
	return nil, loom.NewCompileError(key, "unsupported expression %T", e)
}

// pair converts two operands and infers the type of a parameter operand
// from the other one.
func (s *state) pair(l, r query.Expr) (sqlast.Expression, sqlast.Expression, error) {
	le, err := s.expr(l)
	if err != nil {
		return nil, nil, err
	}
	re, err := s.expr(r)
	if err != nil {
		return nil, nil, err
	}
	infer(le, re)
	return le, re, nil
}

// param returns the statement parameter of p.
func (s *state) param(p *query.Param) *bind.Parameter {
	switch p.Style {
	case query.NamedParam:
		return s.reg.Named(p.Name)
	case query.OrdinalParam:
		return s.reg.Ordinal(p.Position)
	}
	return s.reg.Jdbc(p)
}

func infer(a, b sqlast.Expression) {
	pa, okA := a.(*sqlast.JdbcParameter)
	pb, okB := b.(*sqlast.JdbcParameter)
	switch {
	case okA && !okB && pa.Param.Type == metamodel.TypeInvalid:
		pa.Param.Type = typeOf(b)
	case okB && !okA && pb.Param.Type == metamodel.TypeInvalid:
		pb.Param.Type = typeOf(a)
	}
}

// typeOf returns the value type of e, TypeInvalid when unknown.
func typeOf(e sqlast.Expression) metamodel.ValueType {
	switch e := e.(type) {
	case *sqlast.ColumnReference:
		return e.Type
	case *sqlast.JdbcParameter:
		return e.Param.Type
	case *sqlast.Literal:
		return literalType(e.Value)
	case *sqlast.BinaryArithmetic:
		if e.Op == "||" {
			return metamodel.TypeString
		}
		l, r := typeOf(e.L), typeOf(e.R)
		if l == metamodel.TypeFloat64 || r == metamodel.TypeFloat64 || e.Op == "/" && l != r {
			return metamodel.TypeFloat64
		}
		if l != metamodel.TypeInvalid {
			return l
		}
		return r
	case *sqlast.Aggregate:
		switch e.Func {
		case "count":
			return metamodel.TypeInt64
		case "avg":
			return metamodel.TypeFloat64
		}
		if e.Arg != nil {
			return typeOf(e.Arg)
		}
	case *sqlast.CaseSearched:
		if len(e.Whens) > 0 {
			return typeOf(e.Whens[0].Result)
		}
	case *sqlast.SqlSelectionExpression:
		return typeOf(e.Selection.Expression)
	case sqlast.Predicate:
		return metamodel.TypeBool
	}
	return metamodel.TypeInvalid
}

func literalType(v any) metamodel.ValueType {
	switch v.(type) {
	case bool:
		return metamodel.TypeBool
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return metamodel.TypeInt64
	case float32, float64:
		return metamodel.TypeFloat64
	case string:
		return metamodel.TypeString
	case []byte:
		return metamodel.TypeBytes
	case time.Time:
		return metamodel.TypeTime
	case uuid.UUID:
		return metamodel.TypeUUID
	}
	return metamodel.TypeInvalid
}

// positional converts a GROUP BY or ORDER BY item. Select aliases and
// computed selections are referenced by position.
func (s *state) positional(e query.Expr) (sqlast.Expression, error) {
	if p, ok := e.(*query.PathExpr); ok {
		if sel, ok := s.selAlias[p.Text]; ok {
			return &sqlast.SqlSelectionExpression{Selection: sel}, nil
		}
	}
	ex, err := s.expr(e)
	if err != nil {
		return nil, err
	}
	if _, col := ex.(*sqlast.ColumnReference); !col {
		if sel, ok := s.spec.Select.Lookup(ex); ok {
			return &sqlast.SqlSelectionExpression{Selection: sel}, nil
		}
	}
	return ex, nil
}
