package cache

import (
	"fmt"
	"testing"
	"time"

	logpkg "github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
	zaplog "github.com/fccampelo/lib-resilience/resilience/zap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	c.Set("region", "eu-west-1")

	got, ok := c.Get("region")
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", got)
}

func TestCache_GetMissingKey(t *testing.T) {
	c := New[int](WithSweepInterval(0))
	defer c.Stop()

	got, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	c.Set("k", "v", 30*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "entry must be lazily expired after its TTL")

	// The lazy removal counts as a miss and shrinks the cache.
	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_OverwriteResetsTTL(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	c.Set("k", "old", 30*time.Millisecond)
	c.Set("k", "new", time.Minute)

	time.Sleep(50 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	c := New[int](WithSweepInterval(0), WithMaxSize(3))
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch a and c so b holds the oldest lastAccessed.
	time.Sleep(5 * time.Millisecond)

	_, _ = c.Get("a")
	_, _ = c.Get("c")

	c.Set("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "least-recently-accessed entry must be evicted")

	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "recently accessed entry %q must survive eviction", key)
	}

	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestCache_OverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := New[int](WithSweepInterval(0), WithMaxSize(2))
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	assert.Equal(t, 2, c.Stats().Size)
	assert.Zero(t, c.Stats().Evictions)
}

func TestCache_Delete(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	c.Set("k", "v")

	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c := New[int](WithSweepInterval(0))
	defer c.Stop()

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	c.Clear()

	assert.Equal(t, 0, c.Stats().Size)
}

func TestCache_StatsHitRate(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	// No accesses yet: rate must be zero, not NaN.
	assert.Zero(t, c.Stats().HitRate)

	c.Set("k", "v")

	_, _ = c.Get("k")
	_, _ = c.Get("k")
	_, _ = c.Get("missing")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
	assert.GreaterOrEqual(t, stats.AvgAccessTime, time.Duration(0))
}

func TestCache_BackgroundSweep(t *testing.T) {
	c := New[string](WithSweepInterval(20 * time.Millisecond))
	defer c.Stop()

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("long", "v", time.Minute)

	// The sweep must drop the expired entry without any Get touching it.
	assert.Eventually(t, func() bool {
		return c.Stats().Size == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := New[string]()

	c.Stop()
	c.Stop()
}

func TestCache_SlowAccessWarning(t *testing.T) {
	core, observed := observer.New(zapcore.WarnLevel)
	logger := zaplog.FromZap(zap.New(core), zap.NewAtomicLevelAt(zapcore.WarnLevel))

	// Threshold of 1ns guarantees any real access trips the warning.
	c := New[string](
		WithSweepInterval(0),
		WithSlowAccessThreshold(time.Nanosecond),
		WithLogger(logger),
		WithName("resources"),
	)
	defer c.Stop()

	c.Set("k", "v")
	_, _ = c.Get("k")

	entries := observed.FilterMessage("slow cache access").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "resources", entries[0].ContextMap()["cache"])
}

func TestCache_NopLoggerByDefault(t *testing.T) {
	c := New[string](WithSweepInterval(0))
	defer c.Stop()

	assert.IsType(t, &logpkg.NopLogger{}, c.logger)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](WithSweepInterval(0), WithMaxSize(64))
	defer c.Stop()

	done := make(chan struct{})

	for w := 0; w < 8; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()

			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				c.Set(key, i)
				_, _ = c.Get(key)
			}
		}(w)
	}

	for w := 0; w < 8; w++ {
		<-done
	}

	stats := c.Stats()
	assert.LessOrEqual(t, stats.Size, 64)
	assert.Positive(t, stats.Hits+stats.Misses)
}

func TestCache_WithMetricsFactory(t *testing.T) {
	c := New[string](
		WithSweepInterval(0),
		WithMaxSize(1),
		WithMetricsFactory(metrics.NewNopFactory()),
	)
	defer c.Stop()

	// Hit, miss, and eviction paths must all record without error or panic.
	c.Set("a", "1")
	_, _ = c.Get("a")
	_, _ = c.Get("missing")
	c.Set("b", "2")

	assert.Equal(t, uint64(1), c.Stats().Evictions)
}
