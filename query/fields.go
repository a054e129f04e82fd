package query

import (
	"time"

	"github.com/google/uuid"
)

// ValuePath is a typed path that builds comparison predicates with values of T.
//
// Usage:
//
//	var Qty = query.IntPath("i.qty")
//	q.Where(Qty.GT(2))
type ValuePath[T any] string

// Expr returns the path expression.
func (f ValuePath[T]) Expr() *PathExpr { return P(string(f)) }

// EQ returns a predicate that checks if the path equals the given value.
func (f ValuePath[T]) EQ(v T) Pred { return EQ(f.Expr(), Lit(v)) }

// NEQ returns a predicate that checks if the path does not equal the given value.
func (f ValuePath[T]) NEQ(v T) Pred { return NEQ(f.Expr(), Lit(v)) }

// GT returns a predicate that checks if the path is greater than the given value.
func (f ValuePath[T]) GT(v T) Pred { return GT(f.Expr(), Lit(v)) }

// GTE returns a predicate that checks if the path is greater than or equal to the given value.
func (f ValuePath[T]) GTE(v T) Pred { return GTE(f.Expr(), Lit(v)) }

// LT returns a predicate that checks if the path is less than the given value.
func (f ValuePath[T]) LT(v T) Pred { return LT(f.Expr(), Lit(v)) }

// LTE returns a predicate that checks if the path is less than or equal to the given value.
func (f ValuePath[T]) LTE(v T) Pred { return LTE(f.Expr(), Lit(v)) }

// In returns a predicate that checks if the path value is in the given list.
func (f ValuePath[T]) In(vs ...T) Pred { return InValues(f.Expr(), vs...) }

// NotIn returns a predicate that checks if the path value is not in the given list.
func (f ValuePath[T]) NotIn(vs ...T) Pred {
	in := InValues(f.Expr(), vs...)
	in.Not = true
	return in
}

// EQParam returns a predicate comparing the path with the named parameter.
func (f ValuePath[T]) EQParam(name string) Pred { return EQ(f.Expr(), Named(name)) }

// InParam returns a predicate testing membership in the list bound to the named parameter.
func (f ValuePath[T]) InParam(name string) Pred { return In(f.Expr(), Named(name)) }

// IsNull returns a predicate that checks if the path is NULL.
func (f ValuePath[T]) IsNull() Pred { return IsNull(f.Expr()) }

// NotNull returns a predicate that checks if the path is not NULL.
func (f ValuePath[T]) NotNull() Pred { return NotNull(f.Expr()) }

// Typed paths for the common value types.
type (
	IntPath   = ValuePath[int]
	Int64Path = ValuePath[int64]
	FloatPath = ValuePath[float64]
	BoolPath  = ValuePath[bool]
	TimePath  = ValuePath[time.Time]
	UUIDPath  = ValuePath[uuid.UUID]
)

// StringPath is a typed string path with pattern predicates.
type StringPath string

// Value returns the path as a generic value path.
func (f StringPath) Value() ValuePath[string] { return ValuePath[string](f) }

// Expr returns the path expression.
func (f StringPath) Expr() *PathExpr { return P(string(f)) }

// EQ returns a predicate that checks if the path equals the given value.
func (f StringPath) EQ(v string) Pred { return f.Value().EQ(v) }

// NEQ returns a predicate that checks if the path does not equal the given value.
func (f StringPath) NEQ(v string) Pred { return f.Value().NEQ(v) }

// In returns a predicate that checks if the path value is in the given list.
func (f StringPath) In(vs ...string) Pred { return f.Value().In(vs...) }

// EQParam returns a predicate comparing the path with the named parameter.
func (f StringPath) EQParam(name string) Pred { return f.Value().EQParam(name) }

// Like returns a predicate matching the given pattern.
func (f StringPath) Like(pattern string) Pred { return Like(f.Expr(), Lit(pattern)) }

// HasPrefix returns a predicate that checks if the path has the given prefix.
func (f StringPath) HasPrefix(v string) Pred { return f.Like(escapeLike(v) + "%") }

// HasSuffix returns a predicate that checks if the path has the given suffix.
func (f StringPath) HasSuffix(v string) Pred { return f.Like("%" + escapeLike(v)) }

// Contains returns a predicate that checks if the path contains the given substring.
func (f StringPath) Contains(v string) Pred { return f.Like("%" + escapeLike(v) + "%") }

// EqualFold returns a predicate that checks if the path equals the given value (case-insensitive).
func (f StringPath) EqualFold(v string) Pred {
	return EQ(Fn("lower", f.Expr()), Fn("lower", Lit(v)))
}

// IsNull returns a predicate that checks if the path is NULL.
func (f StringPath) IsNull() Pred { return IsNull(f.Expr()) }

// NotNull returns a predicate that checks if the path is not NULL.
func (f StringPath) NotNull() Pred { return NotNull(f.Expr()) }

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
