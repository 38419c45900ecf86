package cache

import (
	"context"
	"sync"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

// entry is the internal bookkeeping record for one cached value.
// lastAccessed and accessCount are updated on every hit; lastAccessed is
// the sole eviction criterion.
type entry[V any] struct {
	value        V
	expiry       time.Time
	lastAccessed time.Time
	accessCount  uint64
}

// Cache is a size-bounded TTL cache mapping string keys to values of type V.
// All exported methods are safe for concurrent use; bookkeeping never
// blocks on anything external.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	name          string
	maxSize       int
	defaultTTL    time.Duration
	sweepInterval time.Duration
	slowAccess    time.Duration
	logger        log.Logger
	factory       *metrics.Factory

	hits        uint64
	misses      uint64
	evictions   uint64
	accessNanos int64

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its background sweep (unless disabled via
// WithSweepInterval).
func New[V any](opts ...Option) *Cache[V] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Cache[V]{
		entries:       make(map[string]*entry[V]),
		name:          cfg.name,
		maxSize:       cfg.maxSize,
		defaultTTL:    cfg.defaultTTL,
		sweepInterval: cfg.sweepInterval,
		slowAccess:    cfg.slowAccess,
		logger:        cfg.logger,
		factory:       cfg.factory,
		stopChan:      make(chan struct{}),
	}

	c.startSweep()

	return c
}

// Get returns the live value for key. Expired entries are removed lazily
// and reported as a miss, exactly like an absent key. A hit refreshes the
// entry's lastAccessed and accessCount.
func (c *Cache[V]) Get(key string) (V, bool) {
	start := time.Now()

	c.mu.Lock()

	var (
		value V
		found bool
	)

	ent, ok := c.entries[key]

	switch {
	case !ok:
		c.misses++
	case start.After(ent.expiry):
		delete(c.entries, key)
		c.misses++
	default:
		ent.lastAccessed = start
		ent.accessCount++
		c.hits++

		value = ent.value
		found = true
	}

	elapsed := time.Since(start)
	c.accessNanos += elapsed.Nanoseconds()
	c.mu.Unlock()

	c.recordLookup(found)

	if elapsed > c.slowAccess {
		c.logger.Log(context.Background(), log.LevelWarn, "slow cache access",
			log.String("cache", c.name),
			log.String("key", key),
			log.Duration("elapsed", elapsed),
			log.Duration("threshold", c.slowAccess),
		)
	}

	return value, found
}

// Set stores value under key, overwriting any previous entry. The optional
// ttl overrides the cache default. Inserting a new key at capacity evicts
// the entry with the oldest lastAccessed first.
func (c *Cache[V]) Set(key string, value V, ttl ...time.Duration) {
	effective := c.defaultTTL
	if len(ttl) > 0 && ttl[0] > 0 {
		effective = ttl[0]
	}

	now := time.Now()

	c.mu.Lock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &entry[V]{
		value:        value,
		expiry:       now.Add(effective),
		lastAccessed: now,
	}

	c.mu.Unlock()
}

// Delete removes key and reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}

	return ok
}

// Clear removes all entries. Counters are kept; they describe the cache's
// lifetime, not its current contents.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[V])
}

// Stop cancels the background sweep. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// evictOldest removes the entry with the oldest lastAccessed timestamp.
// O(n) scan; acceptable for the bounded sizes this cache is meant for.
// Caller must hold c.mu.
func (c *Cache[V]) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)

	for key, ent := range c.entries {
		if oldestKey == "" || ent.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = ent.lastAccessed
		}
	}

	if oldestKey == "" {
		return
	}

	delete(c.entries, oldestKey)
	c.evictions++

	c.factory.AddCounter(context.Background(), metrics.MetricCacheEvictions, 1, c.labels())
}

// startSweep launches the background goroutine that removes expired
// entries on a fixed interval, independent of access pattern.
func (c *Cache[V]) startSweep() {
	if c.sweepInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.sweepInterval)

	go func() {
		for {
			select {
			case <-ticker.C:
				c.removeExpired()
			case <-c.stopChan:
				ticker.Stop()

				return
			}
		}
	}()
}

// removeExpired deletes every entry whose expiry has passed.
func (c *Cache[V]) removeExpired() {
	now := time.Now()

	c.mu.Lock()

	removed := 0

	for key, ent := range c.entries {
		if now.After(ent.expiry) {
			delete(c.entries, key)
			removed++
		}
	}

	c.mu.Unlock()

	if removed > 0 {
		c.logger.Log(context.Background(), log.LevelDebug, "cache sweep removed expired entries",
			log.String("cache", c.name),
			log.Int("removed", removed),
		)
	}
}

func (c *Cache[V]) recordLookup(hit bool) {
	if c.factory == nil {
		return
	}

	m := metrics.MetricCacheMisses
	if hit {
		m = metrics.MetricCacheHits
	}

	c.factory.AddCounter(context.Background(), m, 1, c.labels())
}

func (c *Cache[V]) labels() map[string]string {
	return map[string]string{"cache": c.name}
}
