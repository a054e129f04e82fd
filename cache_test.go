package loom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
)

func TestCacheMode(t *testing.T) {
	tests := []struct {
		mode       loom.CacheMode
		name       string
		gets, puts bool
	}{
		{loom.CacheNormal, "normal", true, true},
		{loom.CacheGet, "get", true, false},
		{loom.CachePut, "put", false, true},
		{loom.CacheIgnore, "ignore", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.mode.String())
			assert.Equal(t, tt.gets, tt.mode.Gets())
			assert.Equal(t, tt.puts, tt.mode.Puts())
			parsed, err := loom.ParseCacheMode(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, parsed)
		})
	}

	var m loom.CacheMode
	require.NoError(t, m.UnmarshalText([]byte("GET")))
	assert.Equal(t, loom.CacheGet, m)
	assert.Error(t, m.UnmarshalText([]byte("never")))
	text, err := loom.CachePut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "put", string(text))
}

func TestQueryKey(t *testing.T) {
	k := loom.QueryKey{SQL: `SELECT "o1"."id" FROM "orders" "o1" WHERE "o1"."status" = ?`, Limit: 10, Values: []any{"open"}, Tenant: "acme"}
	assert.Equal(t, `SELECT "o1"."id" FROM "orders" "o1" WHERE "o1"."status" = ?|10|0|string:open|acme`, k.String())

	typed := k
	typed.Values = []any{int64(1)}
	other := k
	other.Values = []any{"1"}
	assert.NotEqual(t, typed.String(), other.String(), "value types are part of the key")
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "Order#7", loom.EntityKey{Entity: "Order", ID: int64(7)}.String())
	assert.Equal(t, "none", loom.LockNone.String())
	assert.Equal(t, "write", loom.LockWrite.String())
}
