package session

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
	"github.com/syssam/loom/bind"
	"github.com/syssam/loom/compiler"
	"github.com/syssam/loom/engine"
	"github.com/syssam/loom/metamodel"
)

// Session loads entities and runs queries within one persistence context.
// A Session is not safe for concurrent use.
type Session struct {
	factory   *Factory
	pc        *PersistenceContext
	filters   map[string]compiler.EnabledFilter
	profiles  []string
	cacheMode loom.CacheMode
	tenant    string
}

// Option configures a Session.
type Option func(*Session)

// WithTenant sets the tenant identifier of the session.
func WithTenant(tenant string) Option {
	return func(s *Session) { s.tenant = tenant }
}

// WithCacheMode sets the cache mode of the session.
func WithCacheMode(m loom.CacheMode) Option {
	return func(s *Session) { s.cacheMode = m }
}

// Factory returns the factory the session was opened from.
func (s *Session) Factory() *Factory { return s.factory }

// PersistenceContext returns the identity map of the session.
func (s *Session) PersistenceContext() *PersistenceContext { return s.pc }

// Load returns the instance of entity with identifier id. Instances in the
// persistence context are returned without a query, then the entity cache
// is consulted before the database.
func (s *Session) Load(ctx context.Context, entity string, id any) (any, error) {
	e, ok := s.factory.model.Entity(entity)
	if !ok {
		return nil, loom.NewCompileError(entity, "unknown entity")
	}
	key, err := assemble.Key(e, id)
	if err != nil {
		return nil, loom.NewParameterError(compiler.LoadParam, "identifier of %s: %v", entity, err)
	}
	if inst, ok := s.pc.Get(key); ok {
		if !s.pc.entity(key).IsA(e) {
			return nil, loom.NewNotFoundErrorWithID(e.Name, id)
		}
		return inst, nil
	}
	return s.load(ctx, e, key)
}

// Get loads the instance of the entity mapped to T with identifier id. T
// is the pointer type of the entity struct.
func Get[T any](ctx context.Context, s *Session, id any) (T, error) {
	var zero T
	t := reflect.TypeFor[T]()
	e, ok := s.factory.model.EntityOf(t)
	if !ok {
		return zero, fmt.Errorf("session: %s is not an entity type", t)
	}
	v, err := s.Load(ctx, e.Name, id)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("session: %s#%v is a %T, not a %s", e.Name, id, v, t)
	}
	return out, nil
}

func (s *Session) load(ctx context.Context, e *metamodel.Entity, key loom.EntityKey) (any, error) {
	if inst, ok, err := s.cached(ctx, e, key); ok || err != nil {
		return inst, err
	}
	st, err := s.statement("load|"+e.Name, s.influencers(nil, loom.LockNone), func(inf compiler.Influencers) (*compiler.Compiled, error) {
		return s.factory.compiler.CompileLoad(e, inf)
	})
	if err != nil {
		return nil, err
	}
	out, err := s.list(ctx, st, bind.NewValues().Set(compiler.LoadParam, key.ID), s.execOptions())
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, loom.NewNotFoundErrorWithID(e.Name, key.ID)
	}
	return out[0], nil
}

// cached rebuilds the instance of key from the entity cache.
func (s *Session) cached(ctx context.Context, e *metamodel.Entity, key loom.EntityKey) (any, bool, error) {
	ec := s.factory.entities
	if ec == nil || !e.IsCacheable() || !s.cacheMode.Gets() {
		return nil, false, nil
	}
	entry, ok, err := ec.Get(ctx, key)
	switch {
	case err != nil:
		s.factory.logger.WarnContext(ctx, "loom: entity cache get failed", "key", key.String(), "error", err)
		return nil, false, nil
	case !ok:
		return nil, false, nil
	}
	inst, err := assemble.FromCache(ctx, e, key, entry, s.assembleOptions())
	if err != nil {
		return nil, false, err
	}
	s.factory.logger.DebugContext(ctx, "loom: entity cache hit", "key", key.String())
	return inst, true, nil
}

// EnableFilter enables the named filter with its parameter values. The
// filter applies to the entities that declare it.
func (s *Session) EnableFilter(name string, params map[string]any) error {
	for _, en := range s.factory.model.Entities() {
		e, _ := s.factory.model.Entity(en)
		if _, ok := e.Filter(name); ok {
			s.filters[name] = compiler.EnabledFilter{Name: name, Params: maps.Clone(params)}
			return nil
		}
	}
	return fmt.Errorf("session: unknown filter %q", name)
}

// DisableFilter disables the named filter.
func (s *Session) DisableFilter(name string) { delete(s.filters, name) }

// EnableFetchProfile activates the named fetch profile for the statements
// compiled by the session.
func (s *Session) EnableFetchProfile(name string) error {
	if _, ok := s.factory.model.FetchProfile(name); !ok {
		return fmt.Errorf("session: unknown fetch profile %q", name)
	}
	if !slices.Contains(s.profiles, name) {
		s.profiles = append(s.profiles, name)
		slices.Sort(s.profiles)
	}
	return nil
}

// DisableFetchProfile deactivates the named fetch profile.
func (s *Session) DisableFetchProfile(name string) {
	s.profiles = slices.DeleteFunc(s.profiles, func(p string) bool { return p == name })
}

// SetCacheMode sets the cache mode of subsequent operations.
func (s *Session) SetCacheMode(m loom.CacheMode) { s.cacheMode = m }

// CacheMode returns the cache mode of the session.
func (s *Session) CacheMode() loom.CacheMode { return s.cacheMode }

// SetTenant sets the tenant identifier of the session.
func (s *Session) SetTenant(tenant string) { s.tenant = tenant }

// Contains reports whether instance is managed by the session.
func (s *Session) Contains(instance any) bool { return s.pc.Contains(instance) }

// IsInitialized reports whether instance is managed and fully loaded.
func (s *Session) IsInitialized(instance any) bool {
	key, ok := s.pc.KeyOf(instance)
	return ok && s.pc.IsInitialized(key)
}

// Evict detaches instance from the session. A later load reads it again.
func (s *Session) Evict(instance any) { s.pc.Evict(instance) }

// Clear detaches every instance from the session.
func (s *Session) Clear() { s.pc.Clear() }

func (s *Session) influencers(graph *compiler.EntityGraph, lock loom.LockMode) compiler.Influencers {
	names := slices.Sorted(maps.Keys(s.filters))
	filters := make([]compiler.EnabledFilter, len(names))
	for i, n := range names {
		filters[i] = s.filters[n]
	}
	return compiler.Influencers{
		Filters:       filters,
		Profiles:      slices.Clone(s.profiles),
		Graph:         graph,
		MaxFetchDepth: s.factory.config.MaxFetchDepth,
		Lock:          lock,
		OrdinalBase:   s.factory.config.OrdinalBase,
	}
}

// statement returns the compiled statement of kind under inf from the
// factory statement cache.
func (s *Session) statement(kind string, inf compiler.Influencers, compile func(compiler.Influencers) (*compiler.Compiled, error)) (*compiler.Compiled, error) {
	return s.factory.engine.Statements().Get(kind+"|"+inf.Key(), func() (*compiler.Compiled, error) {
		return compile(inf)
	})
}

// values returns vals completed with the parameters of the enabled filters
// that st declares.
func (s *Session) values(st *compiler.Compiled, vals *bind.Values) *bind.Values {
	if vals == nil {
		vals = bind.NewValues()
	} else {
		vals = vals.Clone()
	}
	for _, f := range s.filters {
		f.Bind(vals, st.Registry)
	}
	return vals
}

func (s *Session) open(ctx context.Context, st *compiler.Compiled, vals *bind.Values, opts engine.ExecOptions) (*engine.Cursor, error) {
	opts.Values = s.values(st, vals)
	opts.Tenant = s.tenant
	aopts := s.assembleOptions()
	aopts.CacheMode = opts.CacheMode
	return s.factory.engine.Open(ctx, st, opts, aopts)
}

func (s *Session) list(ctx context.Context, st *compiler.Compiled, vals *bind.Values, opts engine.ExecOptions) ([]any, error) {
	c, err := s.open(ctx, st, vals, opts)
	if err != nil {
		return nil, err
	}
	return c.All()
}

// execOptions returns the options of statements run on behalf of the
// session, outside of any query.
func (s *Session) execOptions() engine.ExecOptions {
	return engine.ExecOptions{CacheMode: s.cacheMode}
}

func (s *Session) assembleOptions() assemble.Options {
	return assemble.Options{
		Context:     s.pc,
		Listeners:   s.factory.listeners,
		EntityCache: s.factory.entities,
		CacheMode:   s.cacheMode,
	}
}
