package loom

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/loom/dialect"
)

// Config holds the settings shared by a session factory and the pipeline it drives.
type Config struct {
	// Dialect is the SQL dialect statements are rendered for.
	Dialect string `yaml:"dialect"`
	// MaxFetchDepth bounds the join-fetch chain length. Deeper eager
	// associations are loaded with a deferred select.
	MaxFetchDepth int `yaml:"max_fetch_depth"`
	// OrdinalBase is the first ordinal parameter position, 0 or 1.
	OrdinalBase int `yaml:"ordinal_base"`
	// StatementTimeout is applied once when a statement is executed. Zero disables it.
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	// StatementCacheSize is the number of compiled statements kept per factory.
	StatementCacheSize int `yaml:"statement_cache_size"`
	// QueryCacheSize is the number of cached query results. Zero disables the in-memory query cache.
	QueryCacheSize int `yaml:"query_cache_size"`
	// EntityCacheSize is the number of cached entities. Zero disables the in-memory entity cache.
	EntityCacheSize int `yaml:"entity_cache_size"`
	// DefaultCacheMode is the cache mode of new sessions.
	DefaultCacheMode CacheMode `yaml:"default_cache_mode"`
	// BatchSize is the number of owners initialized together by batch fetching.
	BatchSize int `yaml:"batch_size"`
	// SlowQueryThreshold enables slow statement logging when positive.
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dialect:            dialect.SQLite,
		MaxFetchDepth:      3,
		OrdinalBase:        1,
		StatementCacheSize: 256,
		DefaultCacheMode:   CacheNormal,
		BatchSize:          16,
	}
}

// Option configures a Config.
type Option func(*Config)

// WithDialect sets the SQL dialect.
func WithDialect(name string) Option {
	return func(c *Config) { c.Dialect = name }
}

// WithMaxFetchDepth sets the maximum join-fetch depth.
func WithMaxFetchDepth(depth int) Option {
	return func(c *Config) { c.MaxFetchDepth = depth }
}

// WithOrdinalBase sets the first ordinal parameter position.
func WithOrdinalBase(base int) Option {
	return func(c *Config) { c.OrdinalBase = base }
}

// WithStatementTimeout sets the statement timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(c *Config) { c.StatementTimeout = d }
}

// WithQueryCacheSize sets the in-memory query cache size.
func WithQueryCacheSize(n int) Option {
	return func(c *Config) { c.QueryCacheSize = n }
}

// WithEntityCacheSize sets the in-memory entity cache size.
func WithEntityCacheSize(n int) Option {
	return func(c *Config) { c.EntityCacheSize = n }
}

// WithDefaultCacheMode sets the cache mode of new sessions.
func WithDefaultCacheMode(m CacheMode) Option {
	return func(c *Config) { c.DefaultCacheMode = m }
}

// WithBatchSize sets the batch fetch size.
func WithBatchSize(n int) Option {
	return func(c *Config) { c.BatchSize = n }
}

// NewConfig returns the default configuration with the given options applied.
func NewConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LoadConfig reads a YAML configuration file. Keys missing from the file keep
// their default values.
func LoadConfig(path string, opts ...Option) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("loom: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("loom: parse config %s: %w", path, err)
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c, c.Validate()
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	var errs []error
	switch c.Dialect {
	case dialect.SQLite, dialect.MySQL, dialect.Postgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported dialect %q", c.Dialect))
	}
	if c.OrdinalBase != 0 && c.OrdinalBase != 1 {
		errs = append(errs, fmt.Errorf("ordinal base must be 0 or 1, got %d", c.OrdinalBase))
	}
	if c.MaxFetchDepth < 0 {
		errs = append(errs, fmt.Errorf("max fetch depth must not be negative, got %d", c.MaxFetchDepth))
	}
	if c.StatementCacheSize < 0 || c.QueryCacheSize < 0 || c.EntityCacheSize < 0 {
		errs = append(errs, errors.New("cache sizes must not be negative"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.DefaultCacheMode > CacheIgnore {
		errs = append(errs, fmt.Errorf("unknown cache mode %d", c.DefaultCacheMode))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("loom: invalid config: %w", err)
	}
	return nil
}
