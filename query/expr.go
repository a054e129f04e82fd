package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of the logical query model.
type Expr interface {
	writeKey(*keyWriter)
}

// Pred is a boolean expression.
type Pred interface {
	Expr
	isPred()
}

// PathExpr is a dotted domain path such as "o.customer.name". The first
// segment is a query alias; unqualified attribute names are resolved
// against the query roots.
type PathExpr struct{ Text string }

// P returns a path expression.
func P(text string) *PathExpr { return &PathExpr{Text: text} }

// RefExpr selects an entity as a shallow reference: only its identifier,
// discriminator and version are read.
type RefExpr struct{ Text string }

// Ref returns a shallow entity reference.
func Ref(text string) *RefExpr { return &RefExpr{Text: text} }

// LitExpr is a literal value.
type LitExpr struct{ Value any }

// Lit returns a literal expression.
func Lit(v any) *LitExpr { return &LitExpr{Value: v} }

// ParamStyle is the syntactic form of a parameter.
type ParamStyle uint8

// Parameter styles.
const (
	NamedParam      ParamStyle = iota // :name
	OrdinalParam                      // ?N
	PositionalParam                   // bare ?
)

// Param is a parameter placeholder. The same *Param used twice in a query
// denotes one parameter.
type Param struct {
	Style    ParamStyle
	Name     string
	Position int
}

// Named returns a named parameter.
func Named(name string) *Param { return &Param{Style: NamedParam, Name: name} }

// Ordinal returns a numbered ordinal parameter.
func Ordinal(pos int) *Param { return &Param{Style: OrdinalParam, Position: pos} }

// Positional returns a bare positional parameter. Its position is assigned
// in order of appearance during compilation.
func Positional() *Param { return &Param{Style: PositionalParam} }

// String returns the parameter text.
func (p *Param) String() string {
	switch p.Style {
	case NamedParam:
		return ":" + p.Name
	case OrdinalParam:
		return "?" + strconv.Itoa(p.Position)
	}
	return "?"
}

// BinaryExpr is an arithmetic or concatenation expression.
type BinaryExpr struct {
	Op   string // +, -, *, /, ||
	L, R Expr
}

// Add returns l + r.
func Add(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "+", L: l, R: r} }

// Sub returns l - r.
func Sub(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "-", L: l, R: r} }

// Mul returns l * r.
func Mul(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "*", L: l, R: r} }

// Div returns l / r.
func Div(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "/", L: l, R: r} }

// Concat returns l || r.
func Concat(l, r Expr) *BinaryExpr { return &BinaryExpr{Op: "||", L: l, R: r} }

// FuncExpr is a SQL function call.
type FuncExpr struct {
	Name string
	Args []Expr
}

// Fn returns a function call expression.
func Fn(name string, args ...Expr) *FuncExpr { return &FuncExpr{Name: name, Args: args} }

// AggExpr is an aggregate function. A nil Arg counts rows.
type AggExpr struct {
	Func     string
	Arg      Expr
	Distinct bool
}

// Count returns count(e); a nil e counts rows.
func Count(e Expr) *AggExpr { return &AggExpr{Func: "count", Arg: e} }

// CountDistinct returns count(distinct e).
func CountDistinct(e Expr) *AggExpr { return &AggExpr{Func: "count", Arg: e, Distinct: true} }

// Sum returns sum(e).
func Sum(e Expr) *AggExpr { return &AggExpr{Func: "sum", Arg: e} }

// Min returns min(e).
func Min(e Expr) *AggExpr { return &AggExpr{Func: "min", Arg: e} }

// Max returns max(e).
func Max(e Expr) *AggExpr { return &AggExpr{Func: "max", Arg: e} }

// Avg returns avg(e).
func Avg(e Expr) *AggExpr { return &AggExpr{Func: "avg", Arg: e} }

// InstantiationKind is the target shape of a dynamic instantiation.
type InstantiationKind uint8

// Instantiation kinds.
const (
	InstantiateList InstantiationKind = iota
	InstantiateMap
	InstantiateTarget
)

// InstantiateExpr builds one object per result row from its arguments.
type InstantiateExpr struct {
	Kind   InstantiationKind
	Target string
	Args   []Expr
}

// ListOf instantiates a []any per row.
func ListOf(args ...Expr) *InstantiateExpr {
	return &InstantiateExpr{Kind: InstantiateList, Args: args}
}

// MapOf instantiates a map[string]any per row, keyed by argument alias or position.
func MapOf(args ...Expr) *InstantiateExpr {
	return &InstantiateExpr{Kind: InstantiateMap, Args: args}
}

// Construct instantiates the named target per row.
func Construct(target string, args ...Expr) *InstantiateExpr {
	return &InstantiateExpr{Kind: InstantiateTarget, Target: target, Args: args}
}

// AliasedExpr gives a selection or instantiation argument a name.
type AliasedExpr struct {
	Expr  Expr
	Alias string
}

// As returns e aliased.
func As(e Expr, alias string) *AliasedExpr { return &AliasedExpr{Expr: e, Alias: alias} }

// Unalias returns the aliased expression and its alias.
func Unalias(e Expr) (Expr, string) {
	if a, ok := e.(*AliasedExpr); ok {
		return a.Expr, a.Alias
	}
	return e, ""
}

// CompareOp is a comparison operator.
type CompareOp string

// Comparison operators.
const (
	OpEQ  CompareOp = "="
	OpNEQ CompareOp = "<>"
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
)

// CompareExpr is a binary comparison.
type CompareExpr struct {
	Op   CompareOp
	L, R Expr
}

// EQ returns l = r.
func EQ(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpEQ, L: l, R: r} }

// NEQ returns l <> r.
func NEQ(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpNEQ, L: l, R: r} }

// GT returns l > r.
func GT(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpGT, L: l, R: r} }

// GTE returns l >= r.
func GTE(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpGTE, L: l, R: r} }

// LT returns l < r.
func LT(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpLT, L: l, R: r} }

// LTE returns l <= r.
func LTE(l, r Expr) *CompareExpr { return &CompareExpr{Op: OpLTE, L: l, R: r} }

// InExpr tests membership. A single parameter item may be bound to a list.
type InExpr struct {
	Expr   Expr
	Values []Expr
	Not    bool
}

// In returns e IN (values...).
func In(e Expr, values ...Expr) *InExpr { return &InExpr{Expr: e, Values: values} }

// NotIn returns e NOT IN (values...).
func NotIn(e Expr, values ...Expr) *InExpr { return &InExpr{Expr: e, Values: values, Not: true} }

// InValues returns e IN (vs...) with literal values.
func InValues[T any](e Expr, vs ...T) *InExpr {
	values := make([]Expr, len(vs))
	for i, v := range vs {
		values[i] = Lit(v)
	}
	return In(e, values...)
}

// NullExpr tests for NULL.
type NullExpr struct {
	Expr Expr
	Not  bool
}

// IsNull returns e IS NULL.
func IsNull(e Expr) *NullExpr { return &NullExpr{Expr: e} }

// NotNull returns e IS NOT NULL.
func NotNull(e Expr) *NullExpr { return &NullExpr{Expr: e, Not: true} }

// LikeExpr is a pattern match.
type LikeExpr struct {
	Expr    Expr
	Pattern Expr
	Not     bool
}

// Like returns e LIKE pattern.
func Like(e, pattern Expr) *LikeExpr { return &LikeExpr{Expr: e, Pattern: pattern} }

// NotLike returns e NOT LIKE pattern.
func NotLike(e, pattern Expr) *LikeExpr { return &LikeExpr{Expr: e, Pattern: pattern, Not: true} }

// JunctionExpr joins predicates with AND or OR.
type JunctionExpr struct {
	Or    bool
	Preds []Pred
}

// And returns the conjunction of preds.
func And(preds ...Pred) *JunctionExpr { return &JunctionExpr{Preds: preds} }

// Or returns the disjunction of preds.
func Or(preds ...Pred) *JunctionExpr { return &JunctionExpr{Or: true, Preds: preds} }

// NotExpr negates a predicate.
type NotExpr struct{ Pred Pred }

// Not returns NOT p.
func Not(p Pred) *NotExpr { return &NotExpr{Pred: p} }

func (*CompareExpr) isPred()  {}
func (*InExpr) isPred()       {}
func (*NullExpr) isPred()     {}
func (*LikeExpr) isPred()     {}
func (*JunctionExpr) isPred() {}
func (*NotExpr) isPred()      {}

// keyWriter renders the canonical key text of expressions. Positional
// parameters are numbered by first appearance.
type keyWriter struct {
	sb         strings.Builder
	positional map[*Param]int
	params     bool
}

func (w *keyWriter) str(s string) { w.sb.WriteString(s) }

func (w *keyWriter) list(es []Expr) {
	for i, e := range es {
		if i > 0 {
			w.str(",")
		}
		w.expr(e)
	}
}

func (w *keyWriter) expr(e Expr) {
	if e == nil {
		w.str("*")
		return
	}
	e.writeKey(w)
}

func (e *PathExpr) writeKey(w *keyWriter) { w.str(e.Text) }

func (e *RefExpr) writeKey(w *keyWriter) { w.str("ref(" + e.Text + ")") }

func (e *LitExpr) writeKey(w *keyWriter) { w.str(fmt.Sprintf("%T:%v", e.Value, e.Value)) }

func (p *Param) writeKey(w *keyWriter) {
	w.params = true
	if p.Style != PositionalParam {
		w.str(p.String())
		return
	}
	if w.positional == nil {
		w.positional = make(map[*Param]int)
	}
	n, ok := w.positional[p]
	if !ok {
		n = len(w.positional) + 1
		w.positional[p] = n
	}
	w.str("?#" + strconv.Itoa(n))
}

func (e *BinaryExpr) writeKey(w *keyWriter) {
	w.str("(")
	w.expr(e.L)
	w.str(e.Op)
	w.expr(e.R)
	w.str(")")
}

func (e *FuncExpr) writeKey(w *keyWriter) {
	w.str(strings.ToLower(e.Name) + "(")
	w.list(e.Args)
	w.str(")")
}

func (e *AggExpr) writeKey(w *keyWriter) {
	w.str(e.Func + "(")
	if e.Distinct {
		w.str("distinct ")
	}
	w.expr(e.Arg)
	w.str(")")
}

func (e *InstantiateExpr) writeKey(w *keyWriter) {
	switch e.Kind {
	case InstantiateList:
		w.str("new list(")
	case InstantiateMap:
		w.str("new map(")
	default:
		w.str("new " + e.Target + "(")
	}
	w.list(e.Args)
	w.str(")")
}

func (e *AliasedExpr) writeKey(w *keyWriter) {
	w.expr(e.Expr)
	w.str(" as " + e.Alias)
}

func (e *CompareExpr) writeKey(w *keyWriter) {
	w.expr(e.L)
	w.str(string(e.Op))
	w.expr(e.R)
}

func (e *InExpr) writeKey(w *keyWriter) {
	w.expr(e.Expr)
	if e.Not {
		w.str(" not")
	}
	w.str(" in(")
	w.list(e.Values)
	w.str(")")
}

func (e *NullExpr) writeKey(w *keyWriter) {
	w.expr(e.Expr)
	if e.Not {
		w.str(" is not null")
	} else {
		w.str(" is null")
	}
}

func (e *LikeExpr) writeKey(w *keyWriter) {
	w.expr(e.Expr)
	if e.Not {
		w.str(" not")
	}
	w.str(" like ")
	w.expr(e.Pattern)
}

func (e *JunctionExpr) writeKey(w *keyWriter) {
	op := " and "
	if e.Or {
		op = " or "
	}
	w.str("(")
	for i, p := range e.Preds {
		if i > 0 {
			w.str(op)
		}
		w.expr(p)
	}
	w.str(")")
}

func (e *NotExpr) writeKey(w *keyWriter) {
	w.str("not(")
	w.expr(e.Pred)
	w.str(")")
}

// KeyOf returns the canonical key of e and whether e contains parameters.
func KeyOf(e Expr) (string, bool) {
	var w keyWriter
	w.expr(e)
	return w.sb.String(), w.params
}
