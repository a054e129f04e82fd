// Package cache provides in-memory implementations of the cache contracts
// of package loom: a byte store and the query-results and entity caches
// layered on any loom.Cache.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/syssam/loom"
)

type item struct {
	value   []byte
	expires time.Time
}

// LRU is a size-bounded in-memory loom.Cache. Least recently used values
// are evicted first. It is safe for concurrent use.
type LRU struct {
	entries *lru.Cache[string, item]
	now     func() time.Time
}

var _ loom.Cache = (*LRU)(nil)

// NewLRU returns a store holding up to size values.
func NewLRU(size int) (*LRU, error) {
	entries, err := lru.New[string, item](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &LRU{entries: entries, now: time.Now}, nil
}

// Get returns a copy of the value stored under key, or nil when there is
// none or it expired.
func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	it, ok := c.entries.Get(key)
	if !ok {
		return nil, nil
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		c.entries.Remove(key)
		return nil, nil
	}
	return bytes.Clone(it.value), nil
}

// Set stores a copy of value under key. A zero ttl never expires.
func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: bytes.Clone(value)}
	if ttl > 0 {
		it.expires = c.now().Add(ttl)
	}
	c.entries.Add(key, it)
	return nil
}

// Delete removes the value stored under key.
func (c *LRU) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// DeletePrefix removes every value whose key starts with prefix.
func (c *LRU) DeletePrefix(_ context.Context, prefix string) error {
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Clear removes every value.
func (c *LRU) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of stored values, expired ones included.
func (c *LRU) Len() int { return c.entries.Len() }
