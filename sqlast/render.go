package sqlast

import (
	"strconv"
	"strings"

	"github.com/syssam/loom"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
)

type renderer struct {
	b          *sql.Builder
	bound      *bind.Bound
	bindings   []bind.Binding
	positional bool
	err        error
}

// Render renders spec for the given dialect. Parameters are expanded
// through bound and the bindings are returned in placeholder order.
// A non-positive limit means no limit.
func Render(spec *QuerySpec, dialectName string, bound *bind.Bound, limit, offset int) (string, []bind.Binding, error) {
	r := &renderer{b: sql.NewBuilder(dialectName), bound: bound}
	r.query(spec)
	r.window(limit, offset)
	r.lock(spec.Lock)
	if r.err != nil {
		return "", nil, r.err
	}
	return r.b.String(), r.bindings, nil
}

// RenderPredicate renders a single predicate. It is used for diagnostics
// and tests.
func RenderPredicate(p Predicate, dialectName string, bound *bind.Bound) (string, []bind.Binding, error) {
	r := &renderer{b: sql.NewBuilder(dialectName), bound: bound}
	p.render(r)
	return r.b.String(), r.bindings, r.err
}

func (r *renderer) query(spec *QuerySpec) {
	r.b.WriteString("SELECT ")
	if spec.Select.Distinct {
		r.b.WriteString("DISTINCT ")
	}
	for i, s := range spec.Select.selections {
		if i > 0 {
			r.b.Comma()
		}
		s.Expression.render(r)
	}
	r.b.WriteString(" FROM ")
	for i, g := range spec.From {
		if i > 0 {
			r.b.Comma()
		}
		r.group(g, false)
	}
	if spec.Where != nil {
		r.b.WriteString(" WHERE ")
		spec.Where.render(r)
	}
	if len(spec.GroupBy) > 0 {
		r.b.WriteString(" GROUP BY ")
		r.positional = true
		for i, e := range spec.GroupBy {
			if i > 0 {
				r.b.Comma()
			}
			e.render(r)
		}
		r.positional = false
	}
	if spec.Having != nil {
		r.b.WriteString(" HAVING ")
		spec.Having.render(r)
	}
	if len(spec.OrderBy) > 0 {
		r.b.WriteString(" ORDER BY ")
		r.positional = true
		for i, o := range spec.OrderBy {
			if i > 0 {
				r.b.Comma()
			}
			o.Expr.render(r)
			if o.Desc {
				r.b.WriteString(" DESC")
			}
		}
		r.positional = false
	}
}

// group renders the tables of g and its joins. Secondary tables of a group
// reached through an outer join are outer joined as well.
func (r *renderer) group(g *TableGroup, outer bool) {
	g.Primary.renderTable(r)
	r.secondaries(g, outer)
	r.joins(g, outer)
}

func (r *renderer) secondaries(g *TableGroup, outer bool) {
	for _, s := range g.Secondary {
		if s.Left || outer {
			r.b.WriteString(" LEFT JOIN ")
		} else {
			r.b.WriteString(" JOIN ")
		}
		s.Table.renderTable(r)
		r.b.WriteString(" ON ")
		s.On.render(r)
	}
}

func (r *renderer) joins(g *TableGroup, outer bool) {
	for _, j := range g.Joins {
		left := j.Left || outer
		if left {
			r.b.WriteString(" LEFT JOIN ")
		} else {
			r.b.WriteString(" JOIN ")
		}
		j.Group.Primary.renderTable(r)
		r.b.WriteString(" ON ")
		j.On.render(r)
		r.secondaries(j.Group, left)
		r.joins(j.Group, left)
	}
}

func (r *renderer) window(limit, offset int) {
	switch {
	case limit > 0:
		r.b.WriteString(" LIMIT ").WriteString(strconv.Itoa(limit))
	case offset > 0 && r.b.Dialect() == dialect.MySQL:
		r.b.WriteString(" LIMIT 18446744073709551615")
	case offset > 0 && r.b.Dialect() == dialect.SQLite:
		r.b.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		r.b.WriteString(" OFFSET ").WriteString(strconv.Itoa(offset))
	}
}

func (r *renderer) lock(mode loom.LockMode) {
	if mode == loom.LockNone || r.b.Dialect() == dialect.SQLite {
		return
	}
	switch {
	case mode == loom.LockWrite:
		r.b.WriteString(" FOR UPDATE")
	case r.b.Dialect() == dialect.MySQL:
		r.b.WriteString(" LOCK IN SHARE MODE")
	default:
		r.b.WriteString(" FOR SHARE")
	}
}

func (r *renderer) param(p *bind.Parameter) {
	if r.bound == nil {
		r.fail(loom.NewParameterError(p.String(), "no value bound"))
		return
	}
	expanded := r.bound.Expand(p)
	if len(expanded) == 0 {
		r.fail(loom.NewParameterError(p.String(), "no value bound"))
		return
	}
	for i := range expanded {
		if i > 0 {
			r.b.Comma()
		}
		r.b.Arg()
	}
	r.bindings = append(r.bindings, expanded...)
}

func (r *renderer) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (t *NamedTable) renderTable(r *renderer) {
	r.b.Ident(t.Name).Pad().Ident(t.Alias)
}

func (t *UnionTable) renderTable(r *renderer) {
	r.b.WriteByte('(')
	for i, m := range t.Members {
		if i > 0 {
			r.b.WriteString(" UNION ALL ")
		}
		r.b.WriteString("SELECT ")
		for _, c := range t.Columns {
			if m.Columns[c] {
				r.b.Ident(c)
			} else {
				r.b.WriteString("NULL AS ").Ident(c)
			}
			r.b.Comma()
		}
		r.b.WriteString(strconv.Itoa(m.ClassID)).WriteString(" AS ").Ident(t.ClassColumn)
		r.b.WriteString(" FROM ").Ident(m.Table)
	}
	r.b.WriteString(") ").Ident(t.Alias)
}

func (e *ColumnReference) render(r *renderer) {
	r.b.Column(e.Qualifier, e.Column)
}

func (e *JdbcParameter) render(r *renderer) {
	r.param(e.Param)
}

func (e *Literal) render(r *renderer) {
	if sql.Inline(e.Value) {
		r.b.Literal(e.Value)
		return
	}
	r.b.Arg()
	r.bindings = append(r.bindings, bind.Binding{Value: e.Value})
}

func (e *BinaryArithmetic) render(r *renderer) {
	if e.Op == "||" && r.b.Dialect() == dialect.MySQL {
		r.b.WriteString("CONCAT(")
		e.L.render(r)
		r.b.Comma()
		e.R.render(r)
		r.b.WriteByte(')')
		return
	}
	r.b.WriteByte('(')
	e.L.render(r)
	r.b.Pad().WriteString(e.Op).Pad()
	e.R.render(r)
	r.b.WriteByte(')')
}

func (e *Function) render(r *renderer) {
	r.b.WriteString(strings.ToUpper(e.Name)).WriteByte('(')
	for i, a := range e.Args {
		if i > 0 {
			r.b.Comma()
		}
		a.render(r)
	}
	r.b.WriteByte(')')
}

func (e *Aggregate) render(r *renderer) {
	r.b.WriteString(strings.ToUpper(e.Func)).WriteByte('(')
	if e.Distinct {
		r.b.WriteString("DISTINCT ")
	}
	if e.Arg == nil {
		r.b.WriteByte('*')
	} else {
		e.Arg.render(r)
	}
	r.b.WriteByte(')')
}

func (e *CaseSearched) render(r *renderer) {
	r.b.WriteString("CASE")
	for _, w := range e.Whens {
		r.b.WriteString(" WHEN ")
		w.Cond.render(r)
		r.b.WriteString(" THEN ")
		w.Result.render(r)
	}
	if e.Else != nil {
		r.b.WriteString(" ELSE ")
		e.Else.render(r)
	}
	r.b.WriteString(" END")
}

func (e *SqlSelectionExpression) render(r *renderer) {
	if r.positional {
		r.b.WriteString(strconv.Itoa(e.Selection.JdbcPosition))
		return
	}
	e.Selection.Expression.render(r)
}

func (e *Comparison) render(r *renderer) {
	e.L.render(r)
	r.b.Pad().WriteString(e.Op).Pad()
	e.R.render(r)
}

func (e *InList) render(r *renderer) {
	if len(e.Items) == 1 {
		if p, ok := e.Items[0].(*JdbcParameter); ok && p.Param.Multi {
			e.renderExpanded(r, p.Param)
			return
		}
	}
	if len(e.Items) == 0 {
		r.empty(e.Not)
		return
	}
	e.Expr.render(r)
	if e.Not {
		r.b.WriteString(" NOT")
	}
	r.b.WriteString(" IN (")
	for i, it := range e.Items {
		if i > 0 {
			r.b.Comma()
		}
		it.render(r)
	}
	r.b.WriteByte(')')
}

func (e *InList) renderExpanded(r *renderer, p *bind.Parameter) {
	if r.bound != nil && r.bound.Len(p) == 0 {
		r.empty(e.Not)
		return
	}
	e.Expr.render(r)
	if e.Not {
		r.b.WriteString(" NOT")
	}
	r.b.WriteString(" IN (")
	r.param(p)
	r.b.WriteByte(')')
}

func (r *renderer) empty(not bool) {
	if not {
		r.b.WriteString("1=1")
	} else {
		r.b.WriteString("1=0")
	}
}

func (e *Nullness) render(r *renderer) {
	e.Expr.render(r)
	if e.Not {
		r.b.WriteString(" IS NOT NULL")
	} else {
		r.b.WriteString(" IS NULL")
	}
}

func (e *Like) render(r *renderer) {
	e.Expr.render(r)
	if e.Not {
		r.b.WriteString(" NOT")
	}
	r.b.WriteString(" LIKE ")
	e.Pattern.render(r)
	if r.b.Dialect() != dialect.MySQL {
		r.b.WriteString(` ESCAPE '\'`)
	}
}

func (e *Junction) render(r *renderer) {
	if len(e.Preds) == 0 {
		r.empty(!e.Or)
		return
	}
	op := " AND "
	if e.Or {
		op = " OR "
	}
	r.b.WriteByte('(')
	for i, p := range e.Preds {
		if i > 0 {
			r.b.WriteString(op)
		}
		p.render(r)
	}
	r.b.WriteByte(')')
}

func (e *Negated) render(r *renderer) {
	r.b.WriteString("NOT (")
	e.Pred.render(r)
	r.b.WriteByte(')')
}

func (e *FragmentPredicate) render(r *renderer) {
	r.b.WriteByte('(')
	for i, part := range e.Parts {
		r.b.WriteString(part)
		if i < len(e.Params) {
			r.param(e.Params[i])
		}
	}
	r.b.WriteByte(')')
}
