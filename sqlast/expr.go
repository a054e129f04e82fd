// Package sqlast holds the relational AST produced by the compiler and
// renders it into dialect specific SQL text with ordered bindings.
//
// Nodes are created during compilation and are not modified once the
// statement is compiled, so a compiled AST may be rendered concurrently.
package sqlast

import (
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/metamodel"
)

// Expression is a relational expression.
type Expression interface {
	render(*renderer)
}

// Predicate is a boolean relational expression.
type Predicate interface {
	Expression
	isPredicate()
}

// ColumnReference is a column of a table reference.
type ColumnReference struct {
	Qualifier string
	Column    string
	Type      metamodel.ValueType
}

// JdbcParameter is one occurrence of a statement parameter.
type JdbcParameter struct {
	Param *bind.Parameter
}

// Literal is a constant. Values that cannot be inlined safely are bound.
type Literal struct {
	Value any
}

// BinaryArithmetic is an arithmetic or concatenation expression.
type BinaryArithmetic struct {
	Op   string
	L, R Expression
}

// Function is a SQL function call.
type Function struct {
	Name string
	Args []Expression
}

// Aggregate is an aggregate function call. A nil Arg renders as *.
type Aggregate struct {
	Func     string
	Arg      Expression
	Distinct bool
}

// When is one branch of a CaseSearched.
type When struct {
	Cond   Predicate
	Result Expression
}

// CaseSearched is CASE WHEN ... THEN ... ELSE ... END.
type CaseSearched struct {
	Whens []When
	Else  Expression
}

// SqlSelectionExpression refers to a registered selection. In ORDER BY and
// GROUP BY it renders as the select-list position; elsewhere it renders the
// selected expression.
type SqlSelectionExpression struct {
	Selection *SqlSelection
}

// Comparison is a binary comparison.
type Comparison struct {
	Op   string
	L, R Expression
}

// InList tests membership. A single list parameter item expands into one
// placeholder per bound value; an empty expansion renders as a constant
// false (or true for NOT IN) condition.
type InList struct {
	Expr  Expression
	Items []Expression
	Not   bool
}

// Nullness tests for NULL.
type Nullness struct {
	Expr Expression
	Not  bool
}

// Like is a pattern match using backslash as escape character.
type Like struct {
	Expr    Expression
	Pattern Expression
	Not     bool
}

// Junction joins predicates with AND or OR.
type Junction struct {
	Or    bool
	Preds []Predicate
}

// Negated negates a predicate.
type Negated struct {
	Pred Predicate
}

// FragmentPredicate is raw SQL with parameters between its parts. Parts has
// one more element than Params.
type FragmentPredicate struct {
	Parts  []string
	Params []*bind.Parameter
}

func (*Comparison) isPredicate()        {}
func (*InList) isPredicate()            {}
func (*Nullness) isPredicate()          {}
func (*Like) isPredicate()              {}
func (*Junction) isPredicate()          {}
func (*Negated) isPredicate()           {}
func (*FragmentPredicate) isPredicate() {}

// Conjoin returns the conjunction of the non-nil predicates, or nil.
func Conjoin(preds ...Predicate) Predicate {
	var all []Predicate
	for _, p := range preds {
		if p == nil {
			continue
		}
		if j, ok := p.(*Junction); ok && !j.Or {
			all = append(all, j.Preds...)
			continue
		}
		all = append(all, p)
	}
	switch len(all) {
	case 0:
		return nil
	case 1:
		return all[0]
	}
	return &Junction{Preds: all}
}

// Col returns a column reference.
func Col(qualifier, column string, typ metamodel.ValueType) *ColumnReference {
	return &ColumnReference{Qualifier: qualifier, Column: column, Type: typ}
}

// Eq returns l = r.
func Eq(l, r Expression) *Comparison { return &Comparison{Op: "=", L: l, R: r} }
