package cache

import "time"

// Stats is a point-in-time snapshot of cache effectiveness counters.
// Derived on demand; never persisted.
type Stats struct {
	Size          int
	Hits          uint64
	Misses        uint64
	HitRate       float64
	AvgAccessTime time.Duration
	Evictions     uint64
}

// Stats returns a consistent snapshot of the cache counters.
// HitRate is 0 when no accesses have occurred.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}

	if accesses := c.hits + c.misses; accesses > 0 {
		stats.HitRate = float64(c.hits) / float64(accesses)
		stats.AvgAccessTime = time.Duration(c.accessNanos / int64(accesses)) //nolint:gosec
	}

	return stats
}
