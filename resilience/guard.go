package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/cache"
	"github.com/fccampelo/lib-resilience/resilience/circuitbreaker"
	"github.com/fccampelo/lib-resilience/resilience/telemetry"
)

var (
	// ErrNilCache indicates that a Guard was constructed without a cache.
	ErrNilCache = errors.New("guard cache cannot be nil")

	// ErrNilBreaker indicates that a Guard was constructed without a breaker.
	ErrNilBreaker = errors.New("guard circuit breaker cannot be nil")

	// ErrNilLoader indicates that a Guard was constructed without a loader.
	ErrNilLoader = errors.New("guard loader cannot be nil")
)

// Loader fetches the value for a key from the protected dependency.
type Loader[T any] func(ctx context.Context, key string) (T, error)

// Guard layers a cache and a circuit breaker around a loader, optionally
// profiling each call. It replaces ad hoc wrapping at every call site with
// one explicit composition.
type Guard[T any] struct {
	cache    *cache.Cache[T]
	breaker  *circuitbreaker.Breaker
	loader   Loader[T]
	profiler *telemetry.Profiler
	label    string
	ttl      []time.Duration
}

// GuardOption customizes a Guard.
type GuardOption[T any] func(*Guard[T])

// WithProfiler records a profile sample for every Call under the given
// label.
func WithProfiler[T any](profiler *telemetry.Profiler, label string) GuardOption[T] {
	return func(g *Guard[T]) {
		g.profiler = profiler
		g.label = label
	}
}

// WithTTL overrides the cache's default TTL for values stored by this
// guard.
func WithTTL[T any](ttl time.Duration) GuardOption[T] {
	return func(g *Guard[T]) {
		g.ttl = []time.Duration{ttl}
	}
}

// NewGuard composes a cache, a circuit breaker and a loader into a Guard.
func NewGuard[T any](c *cache.Cache[T], b *circuitbreaker.Breaker, loader Loader[T], opts ...GuardOption[T]) (*Guard[T], error) {
	if c == nil {
		return nil, ErrNilCache
	}

	if b == nil {
		return nil, ErrNilBreaker
	}

	if loader == nil {
		return nil, ErrNilLoader
	}

	g := &Guard[T]{
		cache:   c,
		breaker: b,
		loader:  loader,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Call returns the value for key, serving from cache when possible.
//
// The breaker is consulted first: while it is open and the retry window has
// not elapsed, Call fails fast with an OpenError before any other work. A
// cache hit then returns without involving the breaker's counters or the
// loader. On a miss the loader runs through the breaker, so its outcome
// drives the breaker's state, and a successful result is stored in the
// cache.
func (g *Guard[T]) Call(ctx context.Context, key string) (T, error) {
	if g.profiler != nil {
		stop := g.profiler.StartProfile(g.label)
		defer stop()
	}

	if err := g.breaker.Allow(); err != nil {
		var zero T

		return zero, err
	}

	if value, ok := g.cache.Get(key); ok {
		return value, nil
	}

	value, err := circuitbreaker.Do(g.breaker, func() (T, error) {
		return g.loader(ctx, key)
	})
	if err != nil {
		return value, err
	}

	g.cache.Set(key, value, g.ttl...)

	return value, nil
}

// Invalidate removes key from the cache, forcing the next Call to reload.
func (g *Guard[T]) Invalidate(key string) bool {
	return g.cache.Delete(key)
}

// Stats reports the current cache and breaker statistics side by side.
func (g *Guard[T]) Stats() (cache.Stats, circuitbreaker.Stats) {
	return g.cache.Stats(), g.breaker.Stats()
}
