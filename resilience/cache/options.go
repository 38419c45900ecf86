package cache

import (
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

// Defaults applied by New when the corresponding option is absent or invalid.
const (
	DefaultMaxSize             = 1000
	DefaultTTL                 = 5 * time.Minute
	DefaultSweepInterval       = time.Minute
	DefaultSlowAccessThreshold = 100 * time.Millisecond
)

type config struct {
	name          string
	maxSize       int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	slowAccess    time.Duration
	logger        log.Logger
	factory       *metrics.Factory
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithName sets the cache name used in log and metric labels.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithMaxSize caps the number of entries. Inserting a new key at capacity
// evicts the least-recently-accessed entry first. Non-positive values fall
// back to DefaultMaxSize.
func WithMaxSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL applied by Set when the caller does not
// provide one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *config) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithSweepInterval sets how often the background sweep removes expired
// entries. A non-positive interval disables the sweep entirely; the cache
// then relies on lazy expiry during Get.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		c.sweepInterval = d
	}
}

// WithSlowAccessThreshold sets the latency above which a single cache
// access is logged as a slow-access warning. For an in-memory map this is
// an anomaly signal, not expected behavior.
func WithSlowAccessThreshold(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.slowAccess = d
		}
	}
}

// WithLogger sets the logger. Nil keeps the no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetricsFactory wires hit/miss/eviction counters through the given
// factory.
func WithMetricsFactory(factory *metrics.Factory) Option {
	return func(c *config) {
		c.factory = factory
	}
}

func defaultConfig() config {
	return config{
		name:          "default",
		maxSize:       DefaultMaxSize,
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		slowAccess:    DefaultSlowAccessThreshold,
		logger:        log.NewNop(),
	}
}
