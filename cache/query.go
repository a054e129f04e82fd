package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/loom"
)

// queryPrefix prefixes the store keys of query results.
const queryPrefix = "q:"

// Entry is the stored form of a query result. Key holds the full key text,
// checked on reads to rule out digest collisions.
type Entry struct {
	Key       string   `msgpack:"k"`
	Rows      [][]Cell `msgpack:"r"`
	Timestamp int64    `msgpack:"t"`
}

// Cell is one stored column value. Byte slices are held in Bytes, since
// interface decoding reads binary data back as a string.
type Cell struct {
	_msgpack struct{} `msgpack:",as_array"`
	Value    any
	Bytes    []byte
	Binary   bool
}

// Cells converts rows to their stored form.
func Cells(rows [][]any) [][]Cell {
	out := make([][]Cell, len(rows))
	for i, row := range rows {
		cs := make([]Cell, len(row))
		for j, v := range row {
			if b, ok := v.([]byte); ok {
				cs[j] = Cell{Bytes: b, Binary: true}
				continue
			}
			cs[j] = Cell{Value: v}
		}
		out[i] = cs
	}
	return out
}

// Values converts stored rows back to column values.
func Values(rows [][]Cell) [][]any {
	out := make([][]any, len(rows))
	for i, cs := range rows {
		row := make([]any, len(cs))
		for j, c := range cs {
			switch {
			case c.Binary && c.Bytes == nil:
				row[j] = []byte{}
			case c.Binary:
				row[j] = c.Bytes
			default:
				row[j] = c.Value
			}
		}
		out[i] = row
	}
	return out
}

// QueryResults is a loom.QueryCache storing row tuples in a loom.Cache.
type QueryResults struct {
	store loom.Cache
	opts  options
}

var _ loom.QueryCache = (*QueryResults)(nil)

// NewQueryResults returns a query-results cache over store.
func NewQueryResults(store loom.Cache, opts ...Option) *QueryResults {
	return &QueryResults{store: store, opts: newOptions(opts)}
}

// Get returns the rows cached under key.
func (q *QueryResults) Get(ctx context.Context, key loom.QueryKey) ([][]any, bool, error) {
	text := key.String()
	data, err := q.store.Get(ctx, digest(queryPrefix, text))
	if err != nil || data == nil {
		return nil, false, err
	}
	var e Entry
	if err := decode(data, &e); err != nil {
		return nil, false, fmt.Errorf("cache: decode query result: %w", err)
	}
	if e.Key != text {
		return nil, false, nil
	}
	return Values(e.Rows), true, nil
}

// Put stores rows under key.
func (q *QueryResults) Put(ctx context.Context, key loom.QueryKey, rows [][]any, ts time.Time) error {
	text := key.String()
	data, err := encode(&Entry{Key: text, Rows: Cells(rows), Timestamp: ts.UnixNano()})
	if err != nil {
		return fmt.Errorf("cache: encode query result: %w", err)
	}
	return q.store.Set(ctx, digest(queryPrefix, text), data, q.opts.ttl)
}

// Invalidate removes every cached query result.
func (q *QueryResults) Invalidate(ctx context.Context) error {
	return q.store.DeletePrefix(ctx, queryPrefix)
}
