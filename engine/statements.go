package engine

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/loom/compiler"
)

// DefaultStatementCacheSize is the statement cache size used when none is configured.
const DefaultStatementCacheSize = 256

// StatementCache holds compiled statements by key. Compiled statements are
// immutable and shared by every session of a factory. Concurrent requests
// for a missing key compile it once.
type StatementCache struct {
	entries *lru.Cache[string, *compiler.Compiled]
	group   singleflight.Group
}

// NewStatementCache returns a cache holding up to size statements. A
// non-positive size disables caching; statements are compiled on every
// request.
func NewStatementCache(size int) *StatementCache {
	c := &StatementCache{}
	if size > 0 {
		c.entries, _ = lru.New[string, *compiler.Compiled](size)
	}
	return c
}

// Get returns the statement cached under key, compiling and caching it
// with compile when it is missing. Compilation errors are not cached.
func (c *StatementCache) Get(key string, compile func() (*compiler.Compiled, error)) (*compiler.Compiled, error) {
	if c.entries == nil {
		return compile()
	}
	if st, ok := c.entries.Get(key); ok {
		return st, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if st, ok := c.entries.Get(key); ok {
			return st, nil
		}
		st, err := compile()
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, st)
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*compiler.Compiled), nil
}

// Len returns the number of cached statements.
func (c *StatementCache) Len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.Len()
}

// Purge removes every cached statement.
func (c *StatementCache) Purge() {
	if c.entries != nil {
		c.entries.Purge()
	}
}
