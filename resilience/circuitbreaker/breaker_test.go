package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func failing() (any, error) { return nil, errUpstream }

func succeeding() (any, error) { return "ok", nil }

func TestBreaker_InitialState(t *testing.T) {
	b := New("dep", DefaultOptions(), nil)
	defer b.Stop()

	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_OpensOnThreshold(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 3}, nil)
	defer b.Stop()

	// Exactly N consecutive failures open the breaker, not before.
	for i := 0; i < 2; i++ {
		_, err := b.Execute(failing)
		require.ErrorIs(t, err, errUpstream)
		assert.Equal(t, StateClosed, b.State(), "must stay closed after %d failures", i+1)
	}

	_, err := b.Execute(failing)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 3}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	_, _ = b.Execute(failing)
	_, _ = b.Execute(succeeding)

	// Two more failures must not reach the threshold after the reset.
	_, _ = b.Execute(failing)
	_, _ = b.Execute(failing)
	assert.Equal(t, StateClosed, b.State())

	_, _ = b.Execute(failing)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_FailsFastWhileOpen(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1, OpenTimeout: time.Minute}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())

	calls := 0

	_, err := b.Execute(func() (any, error) {
		calls++

		return nil, nil
	})

	require.Error(t, err)
	assert.Zero(t, calls, "operation must not be invoked while open")
	assert.ErrorIs(t, err, ErrOpen)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "dep", openErr.Name)
	assert.Positive(t, openErr.RetryAfter)
	assert.LessOrEqual(t, openErr.RetryAfter, time.Minute)
}

func TestBreaker_RejectionDoesNotCountAsFailure(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1, OpenTimeout: time.Minute}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)

	_, _ = b.Execute(succeeding)
	_, _ = b.Execute(succeeding)

	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.TotalRequests)
	assert.Equal(t, uint64(1), stats.TotalFailures)
	assert.Equal(t, uint64(0), stats.TotalSuccesses)
}

func TestBreaker_RecoveryThroughHalfOpen(t *testing.T) {
	b := New("dep", Options{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenTimeout:      20 * time.Millisecond,
	}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// First call after the cooldown is the probe and must be allowed.
	_, err := b.Execute(succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success reaches the threshold and closes.
	_, err = b.Execute(succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("dep", Options{
		FailureThreshold: 1,
		SuccessThreshold: 3,
		OpenTimeout:      20 * time.Millisecond,
	}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	time.Sleep(30 * time.Millisecond)

	_, err := b.Execute(succeeding)
	require.NoError(t, err)
	require.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(failing)
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarted: the very next call must be rejected.
	_, err = b.Execute(succeeding)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_OperationErrorPassesThroughUnchanged(t *testing.T) {
	b := New("dep", DefaultOptions(), nil)
	defer b.Stop()

	_, err := b.Execute(failing)
	assert.Same(t, errUpstream, err)
}

func TestBreaker_ResetIsIdempotent(t *testing.T) {
	b := New("dep", Options{FailureThreshold: 1}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())

	for i := 0; i < 2; i++ {
		b.Reset()

		stats := b.Stats()
		assert.Equal(t, StateClosed, stats.State)
		assert.Zero(t, stats.FailureCount)
		assert.Zero(t, stats.SuccessCount)
		assert.Zero(t, stats.TotalRequests)
		assert.Zero(t, stats.TotalFailures)
		assert.Zero(t, stats.TotalSuccesses)
	}
}

func TestBreaker_ForceOpenAndForceClose(t *testing.T) {
	b := New("dep", DefaultOptions(), nil)
	defer b.Stop()

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Allow())

	_, err := b.Execute(succeeding)
	assert.NoError(t, err)
}

func TestBreaker_FailureCountResetWhileStillOpen(t *testing.T) {
	b := New("dep", Options{
		FailureThreshold:         2,
		OpenTimeout:              time.Minute,
		FailureCountResetTimeout: 20 * time.Millisecond,
	}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())
	require.Equal(t, uint32(2), b.Stats().FailureCount)

	// Still open when the reset fires: the tally is cleared.
	assert.Eventually(t, func() bool {
		return b.Stats().FailureCount == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_StaleResetTimerIsSuppressed(t *testing.T) {
	b := New("dep", Options{
		FailureThreshold:         1,
		SuccessThreshold:         1,
		OpenTimeout:              10 * time.Millisecond,
		FailureCountResetTimeout: time.Hour,
	}, nil)
	defer b.Stop()

	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())

	b.mu.Lock()
	staleGeneration := b.openGeneration
	b.mu.Unlock()

	time.Sleep(15 * time.Millisecond)

	// Close through a successful probe, then re-open a second episode.
	_, err := b.Execute(succeeding)
	require.NoError(t, err)
	require.Equal(t, StateClosed, b.State())

	_, _ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())
	require.Equal(t, uint32(1), b.Stats().FailureCount)

	// The first episode's timer firing late must be a no-op.
	b.resetFailureCount(staleGeneration)
	assert.Equal(t, uint32(1), b.Stats().FailureCount)

	// The current episode's timer still applies.
	b.mu.Lock()
	currentGeneration := b.openGeneration
	b.mu.Unlock()

	b.resetFailureCount(currentGeneration)
	assert.Zero(t, b.Stats().FailureCount)
}

func TestBreaker_OptionsNormalized(t *testing.T) {
	b := New("dep", Options{}, nil)
	defer b.Stop()

	assert.Equal(t, DefaultOptions(), b.opts)
}

func TestDo_TypedResult(t *testing.T) {
	b := New("dep", DefaultOptions(), nil)
	defer b.Stop()

	got, err := Do(b, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = Do(b, func() (int, error) {
		return 0, errUpstream
	})
	assert.ErrorIs(t, err, errUpstream)
}

func TestOptionPresets(t *testing.T) {
	for _, opts := range []Options{DefaultOptions(), AggressiveOptions(), ConservativeOptions()} {
		assert.Positive(t, opts.FailureThreshold)
		assert.Positive(t, opts.SuccessThreshold)
		assert.Positive(t, opts.OpenTimeout)
		assert.Positive(t, opts.FailureCountResetTimeout)
		assert.Greater(t, opts.FailureCountResetTimeout, opts.OpenTimeout)
	}
}
