package session

import (
	"context"
	"fmt"
	"iter"
	"strconv"

	"github.com/syssam/loom"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/compiler"
	"github.com/syssam/loom/engine"
	"github.com/syssam/loom/query"
)

// Query is an executable query of a session together with its parameter
// values and execution settings. Setters return the query for chaining;
// a Query is not safe for concurrent use.
type Query struct {
	session *Session
	q       *query.Query
	// native statements carry their text and result entity instead of q.
	native string
	entity string

	values    *bind.Values
	cacheable bool
	cacheMode *loom.CacheMode
	limit     int
	offset    int
	lock      loom.LockMode
	graph     *compiler.EntityGraph
	err       error
}

// Query returns an executable form of q.
func (s *Session) Query(q *query.Query) *Query {
	return &Query{session: s, q: q, values: bind.NewValues()}
}

// Native returns an executable native SQL statement. Rows are read as
// instances of entity, or as raw column values when entity is empty.
func (s *Session) Native(text, entity string) *Query {
	nq := &Query{session: s, native: text, entity: entity, values: bind.NewValues()}
	if entity != "" {
		if _, ok := s.factory.model.Entity(entity); !ok {
			nq.err = loom.NewCompileError(entity, "unknown entity")
		}
	}
	return nq
}

// SetParameter binds the named parameter.
func (q *Query) SetParameter(name string, v any) *Query {
	q.values.Set(name, v)
	return q
}

// SetOrdinal binds the ordinal parameter at pos.
func (q *Query) SetOrdinal(pos int, v any) *Query {
	q.values.SetOrdinal(pos, v)
	return q
}

// SetList binds a list of values to the named parameter.
func (q *Query) SetList(name string, list any) *Query {
	q.values.SetList(name, list)
	return q
}

// SetOrdinalList binds a list of values to the ordinal parameter at pos.
func (q *Query) SetOrdinalList(pos int, list any) *Query {
	q.values.SetOrdinalList(pos, list)
	return q
}

// SetCacheable allows the results to be read from and stored in the
// query-results cache.
func (q *Query) SetCacheable(cacheable bool) *Query {
	q.cacheable = cacheable
	return q
}

// SetCacheMode overrides the session cache mode for this query.
func (q *Query) SetCacheMode(m loom.CacheMode) *Query {
	q.cacheMode = &m
	return q
}

// SetMaxResults limits the number of results. Zero means no limit.
func (q *Query) SetMaxResults(n int) *Query {
	if n < 0 {
		q.err = fmt.Errorf("session: max results must not be negative, got %d", n)
	}
	q.limit = n
	return q
}

// SetFirstResult skips the first n results.
func (q *Query) SetFirstResult(n int) *Query {
	if n < 0 {
		q.err = fmt.Errorf("session: first result must not be negative, got %d", n)
	}
	q.offset = n
	return q
}

// SetLockMode requests a pessimistic lock on the rows read.
func (q *Query) SetLockMode(l loom.LockMode) *Query {
	q.lock = l
	return q
}

// SetEntityGraph loads the listed associations of the selected entity with
// joins and every other association later.
func (q *Query) SetEntityGraph(name string, attributes ...string) *Query {
	q.graph = &compiler.EntityGraph{Name: name, Attributes: attributes}
	return q
}

func (q *Query) compiled() (*compiler.Compiled, error) {
	s := q.session
	if q.q == nil {
		base := s.factory.config.OrdinalBase
		inf := s.influencers(nil, loom.LockNone)
		return s.statement("native|"+q.entity+"|"+strconv.Itoa(base)+"|"+q.native, inf, func(compiler.Influencers) (*compiler.Compiled, error) {
			e, _ := s.factory.model.Entity(q.entity)
			return s.factory.compiler.CompileNative(q.native, e, base)
		})
	}
	return s.statement("query|"+q.q.Key(), s.influencers(q.graph, q.lock), func(inf compiler.Influencers) (*compiler.Compiled, error) {
		return s.factory.compiler.Compile(q.q, inf)
	})
}

func (q *Query) open(ctx context.Context) (*engine.Cursor, error) {
	if q.err != nil {
		return nil, q.err
	}
	st, err := q.compiled()
	if err != nil {
		return nil, err
	}
	mode := q.session.cacheMode
	if q.cacheMode != nil {
		mode = *q.cacheMode
	}
	return q.session.open(ctx, st, q.values, engine.ExecOptions{
		Cacheable: q.cacheable,
		CacheMode: mode,
		Limit:     q.limit,
		Offset:    q.offset,
	})
}

// List executes the query and returns all its results.
func (q *Query) List(ctx context.Context) ([]any, error) {
	c, err := q.open(ctx)
	if err != nil {
		return nil, err
	}
	return c.All()
}

// Single executes the query and returns its only result.
func (q *Query) Single(ctx context.Context) (any, error) {
	out, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, loom.NewNotFoundError(q.label())
	case 1:
		return out[0], nil
	default:
		return nil, loom.NewNotSingularErrorWithCount(q.label(), len(out))
	}
}

// Scroll executes the query and returns its results as a scrollable
// cursor. The caller must close it.
func (q *Query) Scroll(ctx context.Context, mode engine.ScrollMode) (*engine.Scroll, error) {
	c, err := q.open(ctx)
	if err != nil {
		return nil, err
	}
	return engine.NewScroll(c, mode), nil
}

// Stream executes the query when iterated and yields its results one at a
// time. Breaking out of the iteration releases the rows.
func (q *Query) Stream(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		c, err := q.open(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for v, err := range c.Stream() {
			if !yield(v, err) {
				return
			}
		}
	}
}

func (q *Query) label() string {
	switch {
	case q.q != nil:
		if roots := q.q.Roots(); len(roots) > 0 {
			return roots[0].Entity
		}
		return "result"
	case q.entity != "":
		return q.entity
	}
	return "result"
}

// List executes q and returns its results as values of type T.
func List[T any](ctx context.Context, q *Query) ([]T, error) {
	out, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	ts := make([]T, len(out))
	for i, v := range out {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("session: result %d is a %T, not a %T", i, v, ts[i])
		}
		ts[i] = t
	}
	return ts, nil
}
