package cache

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Option configures the query-results and entity caches.
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the time to live of stored entries. Zero never expires.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithClock sets the clock used to timestamp entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// digest returns the fixed width store key of text.
func digest(prefix, text string) string {
	return fmt.Sprintf("%s%016x", prefix, xxhash.Sum64String(text))
}

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

// decode decodes data into v. Integers and floats held in interfaces are
// decoded as int64, uint64 and float64 whatever their encoded width.
func decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
