package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

// Breaker is a three-state (CLOSED/OPEN/HALF_OPEN) circuit breaker
// protecting a single flaky operation. One instance exists per name for
// the process lifetime; create breakers through a Registry.
//
// State mutations are atomic under the breaker mutex. The wrapped
// operation runs outside any lock, so bookkeeping never blocks on
// external latency.
type Breaker struct {
	name    string
	opts    Options
	logger  log.Logger
	factory *metrics.Factory

	// onStateChange is invoked outside the breaker lock after every
	// transition. Set by the owning registry.
	onStateChange func(name string, from, to State)

	mu             sync.Mutex
	state          State
	failureCount   uint32
	successCount   uint32
	nextAttempt    time.Time
	totalRequests  uint64
	totalFailures  uint64
	totalSuccesses uint64

	// openGeneration increments on every OPEN entry so a failure-count
	// reset timer scheduled by an earlier OPEN episode cannot clear state
	// belonging to a later one.
	openGeneration uint64
	resetTimer     *time.Timer
}

// New creates a standalone breaker. Most callers should use
// Registry.GetOrCreate instead so breakers are shared by name.
func New(name string, opts Options, logger log.Logger) *Breaker {
	return &Breaker{
		name:   name,
		opts:   opts.normalize(),
		logger: log.OrNop(logger),
		state:  StateClosed,
	}
}

// Name returns the breaker's unique name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs fn through the breaker. While the breaker is open and the
// retry window has not elapsed, fn is never invoked and an *OpenError is
// returned. Otherwise fn runs and its error, if any, is returned
// unchanged after the breaker records the outcome.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	result, err := fn()
	if err != nil {
		b.onFailure()

		return nil, err
	}

	b.onSuccess()

	return result, nil
}

// Do is the generic counterpart of Execute for typed results.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	result, err := b.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}

	return typed, nil
}

// Allow reports whether a call would currently be admitted, without
// recording a request or moving the state machine. It returns an
// *OpenError while the breaker is open and before the next attempt time,
// and nil otherwise.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if remaining := time.Until(b.nextAttempt); remaining > 0 {
			return &OpenError{Name: b.name, RetryAfter: remaining}
		}
	}

	return nil
}

// beforeCall admits or rejects the call and performs the OPEN->HALF_OPEN
// transition when the cooldown has elapsed; the admitted call is the probe.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()

	b.totalRequests++

	if b.state == StateOpen {
		if remaining := time.Until(b.nextAttempt); remaining > 0 {
			b.mu.Unlock()

			b.factory.AddCounter(context.Background(), metrics.MetricBreakerRejections, 1, b.labels())

			return &OpenError{Name: b.name, RetryAfter: remaining}
		}

		b.successCount = 0
		transition := b.setState(StateHalfOpen)
		b.mu.Unlock()

		b.notify(transition)

		return nil
	}

	b.mu.Unlock()

	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()

	b.totalSuccesses++

	var transition *stateTransition

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.opts.SuccessThreshold {
			b.failureCount = 0
			b.successCount = 0
			transition = b.setState(StateClosed)
		}
	case StateOpen, StateUnknown:
		// A call admitted before the breaker opened finished late; the
		// cumulative counter is enough.
	}

	b.mu.Unlock()

	b.notify(transition)
}

func (b *Breaker) onFailure() {
	b.mu.Lock()

	b.totalFailures++

	var transition *stateTransition

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.opts.FailureThreshold {
			transition = b.open()
		}
	case StateHalfOpen:
		// One failed probe re-opens immediately and restarts the cooldown.
		transition = b.open()
	case StateOpen, StateUnknown:
	}

	b.mu.Unlock()

	b.notify(transition)
}

// open moves to OPEN, arms the next-attempt window, and schedules the
// failure-count reset. Caller must hold b.mu.
func (b *Breaker) open() *stateTransition {
	b.nextAttempt = time.Now().Add(b.opts.OpenTimeout)
	b.openGeneration++

	generation := b.openGeneration

	// A reset scheduled by a previous OPEN episode is superseded: stop it
	// and guard the new one with the generation token, so a stale timer
	// can never clear a later episode's tally.
	if b.resetTimer != nil {
		b.resetTimer.Stop()
	}

	b.resetTimer = time.AfterFunc(b.opts.FailureCountResetTimeout, func() {
		b.resetFailureCount(generation)
	})

	return b.setState(StateOpen)
}

// resetFailureCount clears the failure tally of a still-unresolved OPEN
// breaker. It is a no-op if the breaker has since changed state or
// re-opened.
func (b *Breaker) resetFailureCount(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.openGeneration == generation {
		b.failureCount = 0
	}
}

// ForceOpen administratively opens the breaker, bypassing the transition
// table. The cooldown window starts immediately.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()

	b.logger.Log(context.Background(), log.LevelWarn, "circuit breaker forced open", log.String("breaker", b.name))

	transition := b.open()
	b.mu.Unlock()

	b.notify(transition)
}

// ForceClose administratively closes the breaker and clears the episode
// counters. Cumulative totals are kept.
func (b *Breaker) ForceClose() {
	b.mu.Lock()

	b.logger.Log(context.Background(), log.LevelWarn, "circuit breaker forced closed", log.String("breaker", b.name))

	b.failureCount = 0
	b.successCount = 0
	b.nextAttempt = time.Time{}
	transition := b.setState(StateClosed)
	b.mu.Unlock()

	b.notify(transition)
}

// Reset returns the breaker to CLOSED with every counter zeroed,
// regardless of prior state. Idempotent.
func (b *Breaker) Reset() {
	b.mu.Lock()

	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.nextAttempt = time.Time{}

	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}

	transition := b.setState(StateClosed)
	b.mu.Unlock()

	b.notify(transition)
}

// Stop cancels any pending failure-count reset timer. Call it when the
// owning service shuts down.
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Stats returns a consistent snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Name:           b.name,
		State:          b.state,
		FailureCount:   b.failureCount,
		SuccessCount:   b.successCount,
		NextAttempt:    b.nextAttempt,
		TotalRequests:  b.totalRequests,
		TotalFailures:  b.totalFailures,
		TotalSuccesses: b.totalSuccesses,
	}
}

// stateTransition captures a transition performed under the lock so
// notification can happen outside it.
type stateTransition struct {
	from State
	to   State
}

// setState records a transition. Caller must hold b.mu. Returns nil when
// the state did not actually change.
func (b *Breaker) setState(to State) *stateTransition {
	if b.state == to {
		return nil
	}

	from := b.state
	b.state = to

	return &stateTransition{from: from, to: to}
}

// notify reports a transition to the registry callback and metrics.
// Must be called without holding b.mu.
func (b *Breaker) notify(transition *stateTransition) {
	if transition == nil {
		return
	}

	b.factory.AddCounter(context.Background(), metrics.MetricBreakerStateChanges, 1, map[string]string{
		"breaker": b.name,
		"from":    string(transition.from),
		"to":      string(transition.to),
	})

	if b.onStateChange != nil {
		b.onStateChange(b.name, transition.from, transition.to)
	}
}

func (b *Breaker) labels() map[string]string {
	return map[string]string{"breaker": b.name}
}
