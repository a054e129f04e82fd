// Package engine executes compiled statements.
//
// An execution resolves the bound parameter values, renders the statement
// for the driver dialect, consults the query-results cache and finally runs
// the statement through the driver. Its rows are exposed as a RowSource
// which a Cursor turns into assembled results, one logical result at a
// time. Lists, scrollable results and streams all read rows through the
// same Cursor.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/compiler"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
)

// Engine runs compiled statements through a driver.
type Engine struct {
	drv        dialect.Driver
	dialect    string
	statements *StatementCache
	results    loom.QueryCache
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueryCache sets the cache of query results.
func WithQueryCache(c loom.QueryCache) Option {
	return func(e *Engine) { e.results = c }
}

// WithStatementCache sets the compiled statement cache.
func WithStatementCache(c *StatementCache) Option {
	return func(e *Engine) { e.statements = c }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTimeout sets the statement timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock sets the clock used to timestamp cached results.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine executing statements through drv.
func New(drv dialect.Driver, opts ...Option) *Engine {
	e := &Engine{
		drv:     drv,
		dialect: drv.Dialect(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.statements == nil {
		e.statements = NewStatementCache(DefaultStatementCacheSize)
	}
	return e
}

// Dialect returns the dialect statements are rendered for.
func (e *Engine) Dialect() string { return e.dialect }

// Statements returns the compiled statement cache.
func (e *Engine) Statements() *StatementCache { return e.statements }

// ExecOptions are the per-execution settings of a statement.
type ExecOptions struct {
	Values *bind.Values
	// Cacheable allows the query-results cache to be used, as permitted by
	// CacheMode.
	Cacheable bool
	CacheMode loom.CacheMode
	// Limit and Offset select a window of the results. Zero means unbounded.
	Limit  int
	Offset int
	// Tenant is the tenant identifier of the session, part of the cache key.
	Tenant string
}

// Execute runs st and returns its rows. The caller must close the returned
// source. A query-results cache hit returns the cached rows without any
// driver round trip; an execution that reads its rows to the end stores
// them in the cache when the options permit it.
func (e *Engine) Execute(ctx context.Context, st *compiler.Compiled, opts ExecOptions) (RowSource, error) {
	bound, err := bind.Resolve(st.Registry, opts.Values)
	if err != nil {
		return nil, err
	}
	text, bindings, err := st.Render(e.dialect, bound, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	args := bind.Args(bindings)
	key := loom.QueryKey{SQL: text, Limit: opts.Limit, Offset: opts.Offset, Values: args, Tenant: opts.Tenant}
	cached := opts.Cacheable && e.results != nil
	if cached && opts.CacheMode.Gets() {
		rows, ok, err := e.results.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "loom: query cache get failed", "sql", text, "error", err)
		case ok && len(rows) > 0:
			e.logger.DebugContext(ctx, "loom: query cache hit", "sql", text, "rows", len(rows)-1)
			return newCachedRows(rows), nil
		default:
			e.logger.DebugContext(ctx, "loom: query cache miss", "sql", text)
		}
	}
	var cancel context.CancelFunc
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	e.logger.DebugContext(ctx, "loom: execute", "sql", text, "args", len(args))
	var rows sql.Rows
	if err := e.drv.Query(ctx, text, args, &rows); err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, sql.WrapError(text, err)
	}
	src, err := newDriverRows(ctx, text, rows, cancel)
	if err != nil {
		return nil, err
	}
	if cached && opts.CacheMode.Puts() {
		src.capture(func(ctx context.Context, rows [][]any) {
			if err := e.results.Put(ctx, key, rows, e.now()); err != nil {
				e.logger.WarnContext(ctx, "loom: query cache put failed", "sql", text, "error", err)
				return
			}
			e.logger.DebugContext(ctx, "loom: query cache put", "sql", text, "rows", len(rows)-1)
		})
	}
	return src, nil
}

// Open executes st and returns a cursor assembling its results.
func (e *Engine) Open(ctx context.Context, st *compiler.Compiled, opts ExecOptions, aopts assemble.Options) (*Cursor, error) {
	src, err := e.Execute(ctx, st, opts)
	if err != nil {
		return nil, err
	}
	results, err := st.ResultsFor(src.Columns())
	if err != nil {
		return nil, closeOnError(err, src)
	}
	c := &Cursor{
		ctx:     ctx,
		src:     src,
		asm:     assemble.New(results, aopts),
		grouped: results.HasCollectionFetch,
	}
	if st.InMemoryWindow {
		c.limit, c.offset = opts.Limit, opts.Offset
		c.drain = opts.Cacheable && e.results != nil && opts.CacheMode.Puts()
	}
	return c, nil
}

// List executes st and returns all its results.
func (e *Engine) List(ctx context.Context, st *compiler.Compiled, opts ExecOptions, aopts assemble.Options) ([]any, error) {
	c, err := e.Open(ctx, st, opts, aopts)
	if err != nil {
		return nil, err
	}
	return c.All()
}
