package circuitbreaker

import (
	"context"
	"sync"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

// Registry owns the process-wide map from breaker name to instance.
// Breakers are created lazily and live until ResetAll or process exit.
type Registry struct {
	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners []StateChangeListener
	logger    log.Logger
	factory   *metrics.Factory
}

// NewRegistry creates a breaker registry. Both logger and factory may be
// nil; nil-safe fallbacks are used.
func NewRegistry(logger log.Logger, factory *metrics.Factory) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   log.OrNop(logger),
		factory:  factory,
	}
}

// GetOrCreate returns the existing breaker for name, or constructs one
// with the supplied options. Options on subsequent calls for an existing
// name are ignored: first writer wins.
func (r *Registry) GetOrCreate(name string, opts Options) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()

	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if breaker, exists = r.breakers[name]; exists {
		return breaker
	}

	breaker = New(name, opts, r.logger)
	breaker.factory = r.factory
	breaker.onStateChange = r.handleStateChange
	r.breakers[name] = breaker

	r.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker", log.String("breaker", name))

	return breaker
}

// Get returns the breaker for name if one exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, ok := r.breakers[name]

	return breaker, ok
}

// State returns the named breaker's state, or StateUnknown when no such
// breaker exists.
func (r *Registry) State(name string) State {
	breaker, ok := r.Get(name)
	if !ok {
		return StateUnknown
	}

	return breaker.State()
}

// IsHealthy reports whether the named breaker exists and is CLOSED. OPEN
// and HALF_OPEN both count as unhealthy; recovery is the health checker's
// concern.
func (r *Registry) IsHealthy(name string) bool {
	return r.State(name) == StateClosed
}

// AllStats returns a snapshot of every registered breaker, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, breaker := range r.breakers {
		stats[name] = breaker.Stats()
	}

	return stats
}

// ResetAll returns every breaker to CLOSED with zeroed counters.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))

	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.RUnlock()

	for _, breaker := range breakers {
		breaker.Reset()
	}
}

// Stop cancels every breaker's pending timers.
func (r *Registry) Stop() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, breaker := range r.breakers {
		breaker.Stop()
	}
}

// RegisterStateChangeListener registers a listener for state change
// notifications.
func (r *Registry) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		r.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listener)
}

// handleStateChange logs transitions and fans them out to listeners.
func (r *Registry) handleStateChange(name string, from, to State) {
	ctx := context.Background()
	fields := []log.Field{
		log.String("breaker", name),
		log.String("from", string(from)),
		log.String("to", string(to)),
	}

	switch to {
	case StateOpen:
		r.logger.Log(ctx, log.LevelError, "circuit breaker opened, calls will fast-fail", fields...)
	case StateHalfOpen:
		r.logger.Log(ctx, log.LevelInfo, "circuit breaker half-open, probing recovery", fields...)
	case StateClosed:
		r.logger.Log(ctx, log.LevelInfo, "circuit breaker closed", fields...)
	case StateUnknown:
	}

	r.mu.RLock()
	listeners := make([]StateChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		// Notify in a goroutine so a slow or panicking listener cannot
		// block breaker operations.
		go func(l StateChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Log(ctx, log.LevelError, "state change listener panicked",
						log.String("breaker", name),
						log.Any("panic", rec),
					)
				}
			}()

			l.OnStateChange(name, from, to)
		}(listener)
	}
}
