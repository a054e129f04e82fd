package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/loom"
)

// entityPrefix prefixes the store keys of cached entities.
const entityPrefix = "e:"

// Entities is the second-level entity cache, storing disassembled entity
// state in a loom.Cache.
type Entities struct {
	store loom.Cache
	opts  options
}

var _ loom.EntityCache = (*Entities)(nil)

// NewEntities returns an entity cache over store.
func NewEntities(store loom.Cache, opts ...Option) *Entities {
	return &Entities{store: store, opts: newOptions(opts)}
}

func entityKey(key loom.EntityKey) string { return entityPrefix + key.String() }

// Get returns the state cached for key.
func (c *Entities) Get(ctx context.Context, key loom.EntityKey) (*loom.CachedEntity, bool, error) {
	data, err := c.store.Get(ctx, entityKey(key))
	if err != nil || data == nil {
		return nil, false, err
	}
	e := &loom.CachedEntity{}
	if err := decode(data, e); err != nil {
		return nil, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return e, true, nil
}

// PutFromLoad stores state read from the database unless the cache holds
// a newer version of the entity.
func (c *Entities) PutFromLoad(ctx context.Context, key loom.EntityKey, entry *loom.CachedEntity) (bool, error) {
	if entry.Version != nil {
		cur, ok, err := c.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if ok && older(entry.Version, cur.Version) {
			return false, nil
		}
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = c.opts.now().UnixNano()
	}
	data, err := encode(entry)
	if err != nil {
		return false, fmt.Errorf("cache: encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, entityKey(key), data, c.opts.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Evict removes the state cached for key.
func (c *Entities) Evict(ctx context.Context, key loom.EntityKey) error {
	return c.store.Delete(ctx, entityKey(key))
}

// EvictEntity removes the cached state of every instance of the hierarchy
// rooted at entity.
func (c *Entities) EvictEntity(ctx context.Context, entity string) error {
	return c.store.DeletePrefix(ctx, entityPrefix+entity+"#")
}

// older reports whether version v precedes version cur. Versions of
// different kinds are not ordered.
func older(v, cur any) bool {
	if cur == nil {
		return false
	}
	if tv, ok := v.(time.Time); ok {
		tc, ok := cur.(time.Time)
		return ok && tv.Before(tc)
	}
	iv, ok1 := toInt64(v)
	ic, ok2 := toInt64(cur)
	return ok1 && ok2 && iv < ic
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
