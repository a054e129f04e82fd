package loom_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom"
	"github.com/syssam/loom/dialect"
)

func TestDefaultConfig(t *testing.T) {
	c := loom.DefaultConfig()
	require.NoError(t, c.Validate())
	assert.Equal(t, dialect.SQLite, c.Dialect)
	assert.Equal(t, 1, c.OrdinalBase)
	assert.Equal(t, loom.CacheNormal, c.DefaultCacheMode)
}

func TestNewConfig(t *testing.T) {
	c := loom.NewConfig(
		loom.WithDialect(dialect.Postgres),
		loom.WithMaxFetchDepth(2),
		loom.WithOrdinalBase(0),
		loom.WithStatementTimeout(time.Second),
		loom.WithQueryCacheSize(64),
		loom.WithEntityCacheSize(128),
		loom.WithDefaultCacheMode(loom.CacheGet),
		loom.WithBatchSize(4),
	)
	require.NoError(t, c.Validate())
	assert.Equal(t, dialect.Postgres, c.Dialect)
	assert.Equal(t, 2, c.MaxFetchDepth)
	assert.Equal(t, 0, c.OrdinalBase)
	assert.Equal(t, time.Second, c.StatementTimeout)
	assert.Equal(t, 64, c.QueryCacheSize)
	assert.Equal(t, 128, c.EntityCacheSize)
	assert.Equal(t, loom.CacheGet, c.DefaultCacheMode)
	assert.Equal(t, 4, c.BatchSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  loom.Option
	}{
		{"Dialect", loom.WithDialect("oracle")},
		{"OrdinalBase", loom.WithOrdinalBase(2)},
		{"MaxFetchDepth", loom.WithMaxFetchDepth(-1)},
		{"CacheSize", loom.WithQueryCacheSize(-1)},
		{"BatchSize", loom.WithBatchSize(0)},
		{"CacheMode", loom.WithDefaultCacheMode(loom.CacheMode(9))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := loom.NewConfig(tt.opt).Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "loom: invalid config")
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	data := []byte(`dialect: mysql
max_fetch_depth: 5
statement_timeout: 2s
query_cache_size: 32
default_cache_mode: put
slow_query_threshold: 250ms
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	c, err := loom.LoadConfig(path, loom.WithBatchSize(8))
	require.NoError(t, err)
	assert.Equal(t, dialect.MySQL, c.Dialect)
	assert.Equal(t, 5, c.MaxFetchDepth)
	assert.Equal(t, 2*time.Second, c.StatementTimeout)
	assert.Equal(t, 32, c.QueryCacheSize)
	assert.Equal(t, loom.CachePut, c.DefaultCacheMode)
	assert.Equal(t, 250*time.Millisecond, c.SlowQueryThreshold)
	assert.Equal(t, 8, c.BatchSize)
	assert.Equal(t, 1, c.OrdinalBase, "missing keys keep their defaults")

	t.Run("Invalid", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("default_cache_mode: sometimes\n"), 0o600))
		_, err := loom.LoadConfig(bad)
		assert.Error(t, err)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := loom.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
