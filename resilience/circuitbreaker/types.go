package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// ErrOpen is the sentinel matched by errors.Is for rejections issued while
// a breaker is open. The concrete error is always *OpenError.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned by Execute when the breaker is open and the retry
// window has not elapsed. RetryAfter is the remaining wait before the next
// probe will be allowed through.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry after %s", e.Name, e.RetryAfter)
}

// Is reports true for ErrOpen so callers can use errors.Is without
// unwrapping to the concrete type.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Options holds the immutable per-breaker configuration, set at creation.
type Options struct {
	// FailureThreshold is the number of failures in CLOSED before opening.
	FailureThreshold uint32
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// before closing.
	SuccessThreshold uint32
	// OpenTimeout is how long OPEN blocks calls before allowing a probe.
	OpenTimeout time.Duration
	// FailureCountResetTimeout is how long until an unresolved OPEN
	// breaker's failure tally is cleared. Distinct from the transition to
	// HALF_OPEN, which is governed by OpenTimeout.
	FailureCountResetTimeout time.Duration
}

// Stats is a point-in-time snapshot of a breaker's state and counters.
// SuccessCount is meaningful only in HALF_OPEN.
type Stats struct {
	Name           string
	State          State
	FailureCount   uint32
	SuccessCount   uint32
	NextAttempt    time.Time
	TotalRequests  uint64
	TotalFailures  uint64
	TotalSuccesses uint64
}

// StateChangeListener is notified when a circuit breaker changes state.
type StateChangeListener interface {
	// OnStateChange is called when a breaker transitions between states.
	OnStateChange(name string, from State, to State)
}
