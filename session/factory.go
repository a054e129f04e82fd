// Package session manages the loading of object graphs for one unit of work.
//
// A Factory is created once per model and database. It owns the compiled
// statement cache, the query-results and entity caches and the driver, all
// safe for concurrent use. Sessions are opened from the factory; each one
// holds a PersistenceContext guaranteeing a single instance per entity key
// and is meant to be used by one goroutine.
package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/cache"
	"github.com/syssam/loom/compiler"
	"github.com/syssam/loom/dialect"
	"github.com/syssam/loom/dialect/sql"
	"github.com/syssam/loom/engine"
	"github.com/syssam/loom/metamodel"
)

// Factory opens sessions over a model and a driver.
type Factory struct {
	model     *metamodel.Model
	config    loom.Config
	drv       *sql.StatsDriver
	compiler  *compiler.Compiler
	engine    *engine.Engine
	queries   loom.QueryCache
	entities  loom.EntityCache
	listeners []assemble.Listener
	logger    *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConfig sets the configuration. It defaults to loom.DefaultConfig
// with the dialect of the driver.
func WithConfig(c loom.Config) FactoryOption {
	return func(f *Factory) { f.config = c }
}

// WithQueryCache sets the query-results cache, replacing the in-memory
// cache sized by the configuration.
func WithQueryCache(c loom.QueryCache) FactoryOption {
	return func(f *Factory) { f.queries = c }
}

// WithEntityCache sets the entity cache, replacing the in-memory cache
// sized by the configuration.
func WithEntityCache(c loom.EntityCache) FactoryOption {
	return func(f *Factory) { f.entities = c }
}

// WithCacheStore keeps both query results and entities in store.
func WithCacheStore(store loom.Cache, opts ...cache.Option) FactoryOption {
	return func(f *Factory) {
		f.queries = cache.NewQueryResults(store, opts...)
		f.entities = cache.NewEntities(store, opts...)
	}
}

// WithListener adds a listener notified after every entity load.
func WithListener(l assemble.Listener) FactoryOption {
	return func(f *Factory) { f.listeners = append(f.listeners, l) }
}

// WithLogger sets the logger. It defaults to slog.Default().
func WithLogger(l *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = l }
}

// NewFactory returns a factory executing statements through drv.
func NewFactory(drv dialect.Driver, model *metamodel.Model, opts ...FactoryOption) (*Factory, error) {
	if model == nil {
		return nil, errors.New("session: model is required")
	}
	f := &Factory{
		model:  model,
		config: loom.NewConfig(loom.WithDialect(drv.Dialect())),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.config.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if f.config.Dialect != drv.Dialect() {
		return nil, fmt.Errorf("session: config dialect %q does not match driver dialect %q", f.config.Dialect, drv.Dialect())
	}
	var sopts []sql.StatsOption
	if th := f.config.SlowQueryThreshold; th > 0 {
		sopts = append(sopts, sql.WithSlowThreshold(th), sql.WithSlowQueryLog(f.logger))
	}
	f.drv = sql.NewStatsDriver(drv, sopts...)
	if f.queries == nil && f.config.QueryCacheSize > 0 {
		store, err := cache.NewLRU(f.config.QueryCacheSize)
		if err != nil {
			return nil, fmt.Errorf("session: query cache: %w", err)
		}
		f.queries = cache.NewQueryResults(store)
	}
	if f.entities == nil && f.config.EntityCacheSize > 0 {
		store, err := cache.NewLRU(f.config.EntityCacheSize)
		if err != nil {
			return nil, fmt.Errorf("session: entity cache: %w", err)
		}
		f.entities = cache.NewEntities(store)
	}
	f.compiler = compiler.New(model, f.config.Dialect)
	eopts := []engine.Option{
		engine.WithStatementCache(engine.NewStatementCache(f.config.StatementCacheSize)),
		engine.WithTimeout(f.config.StatementTimeout),
		engine.WithLogger(f.logger),
	}
	if f.queries != nil {
		eopts = append(eopts, engine.WithQueryCache(f.queries))
	}
	f.engine = engine.New(f.drv, eopts...)
	return f, nil
}

// Open opens a database with the given dialect and data source and returns
// a factory over it.
func Open(driverName, source string, model *metamodel.Model, opts ...FactoryOption) (*Factory, error) {
	drv, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	f, err := NewFactory(drv, model, opts...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	return f, nil
}

// Model returns the metamodel of the factory.
func (f *Factory) Model() *metamodel.Model { return f.model }

// Config returns the configuration of the factory.
func (f *Factory) Config() loom.Config { return f.config }

// Stats returns the statement execution statistics of the factory.
func (f *Factory) Stats() sql.StatsSnapshot { return f.drv.QueryStats().Stats() }

// Statements returns the number of cached compiled statements.
func (f *Factory) Statements() int { return f.engine.Statements().Len() }

// Close closes the underlying driver.
func (f *Factory) Close() error { return f.drv.Close() }

// OpenSession opens a session with an empty persistence context.
func (f *Factory) OpenSession(opts ...Option) *Session {
	s := &Session{
		factory:   f,
		pc:        NewPersistenceContext(),
		filters:   make(map[string]compiler.EnabledFilter),
		cacheMode: f.config.DefaultCacheMode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
