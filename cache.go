package loom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cache is the byte-oriented store the query-results and entity caches are layered on.
// Users may implement this interface with their preferred caching solution
// (e.g., Redis, Memcached); the cache package provides an in-memory LRU.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheMode controls how a session or query interacts with the
// query-results and entity caches.
type CacheMode uint8

// Cache modes.
const (
	// CacheNormal reads from and writes to the cache.
	CacheNormal CacheMode = iota
	// CacheGet reads from the cache but never writes to it.
	CacheGet
	// CachePut writes to the cache but never reads from it.
	CachePut
	// CacheIgnore neither reads from nor writes to the cache.
	CacheIgnore
)

var cacheModeNames = [...]string{
	CacheNormal: "normal",
	CacheGet:    "get",
	CachePut:    "put",
	CacheIgnore: "ignore",
}

// String returns the mode name.
func (m CacheMode) String() string {
	if int(m) < len(cacheModeNames) {
		return cacheModeNames[m]
	}
	return "cachemode(" + strconv.Itoa(int(m)) + ")"
}

// Gets reports whether the mode permits cache reads.
func (m CacheMode) Gets() bool { return m == CacheNormal || m == CacheGet }

// Puts reports whether the mode permits cache writes.
func (m CacheMode) Puts() bool { return m == CacheNormal || m == CachePut }

// ParseCacheMode parses a cache mode name.
func ParseCacheMode(s string) (CacheMode, error) {
	for i, name := range cacheModeNames {
		if strings.EqualFold(s, name) {
			return CacheMode(i), nil
		}
	}
	return 0, fmt.Errorf("loom: unknown cache mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m CacheMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *CacheMode) UnmarshalText(text []byte) error {
	v, err := ParseCacheMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// LockMode is the pessimistic lock requested for the rows read by a statement.
type LockMode uint8

// Lock modes.
const (
	LockNone LockMode = iota
	LockRead
	LockWrite
)

// String returns the lock mode name.
func (l LockMode) String() string {
	switch l {
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	default:
		return "none"
	}
}

// QueryKey identifies a cached query result. It is computed once per execution
// from the rendered statement, the effective row window, the bound values and
// the session tenant.
type QueryKey struct {
	SQL    string
	Limit  int
	Offset int
	Values []any
	Tenant string
}

// String returns the canonical text of the key.
func (k QueryKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.SQL)
	fmt.Fprintf(&sb, "|%d|%d|", k.Limit, k.Offset)
	for i, v := range k.Values {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%T:%v", v, v)
	}
	sb.WriteByte('|')
	sb.WriteString(k.Tenant)
	return sb.String()
}

// QueryCache stores the raw row tuples of cacheable queries.
// A hit yields the tuples captured by an earlier execution; they are
// re-assembled into managed objects by the caller.
type QueryCache interface {
	Get(ctx context.Context, key QueryKey) ([][]any, bool, error)
	Put(ctx context.Context, key QueryKey, rows [][]any, ts time.Time) error
}

// EntityKey identifies a managed entity: the name of its hierarchy root and
// its normalized identifier.
type EntityKey struct {
	Entity string
	ID     any
}

// String returns the key text, e.g. "Order#7".
func (k EntityKey) String() string {
	return fmt.Sprintf("%s#%v", k.Entity, k.ID)
}

// CachedEntity is the disassembled, cache-safe state of a loaded entity.
// State holds one value per attribute in the metamodel attribute order;
// indexes listed in Unfetched were never loaded and must not be applied.
type CachedEntity struct {
	Entity    string `msgpack:"e"`
	State     []any  `msgpack:"s"`
	Unfetched []int  `msgpack:"u,omitempty"`
	Version   any    `msgpack:"v,omitempty"`
	Timestamp int64  `msgpack:"t"`
}

// EntityCache is the second-level entity cache contract.
type EntityCache interface {
	Get(ctx context.Context, key EntityKey) (*CachedEntity, bool, error)
	// PutFromLoad stores state read from the database. It reports whether
	// the entry was stored; newer cached versions are kept.
	PutFromLoad(ctx context.Context, key EntityKey, entry *CachedEntity) (bool, error)
	Evict(ctx context.Context, key EntityKey) error
}
