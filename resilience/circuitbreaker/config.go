package circuitbreaker

import "time"

// DefaultOptions provides balanced settings for most dependencies.
func DefaultOptions() Options {
	return Options{
		FailureThreshold:         5,
		SuccessThreshold:         3,
		OpenTimeout:              60 * time.Second,
		FailureCountResetTimeout: 300 * time.Second,
	}
}

// AggressiveOptions for dependencies requiring fast failure detection.
func AggressiveOptions() Options {
	return Options{
		FailureThreshold:         3,
		SuccessThreshold:         2,
		OpenTimeout:              30 * time.Second,
		FailureCountResetTimeout: 120 * time.Second,
	}
}

// ConservativeOptions for dependencies that should tolerate more failures
// before the breaker trips.
func ConservativeOptions() Options {
	return Options{
		FailureThreshold:         10,
		SuccessThreshold:         5,
		OpenTimeout:              2 * time.Minute,
		FailureCountResetTimeout: 10 * time.Minute,
	}
}

// normalize replaces zero or negative values with their defaults so a
// partially filled Options is always usable.
func (o Options) normalize() Options {
	defaults := DefaultOptions()

	if o.FailureThreshold == 0 {
		o.FailureThreshold = defaults.FailureThreshold
	}

	if o.SuccessThreshold == 0 {
		o.SuccessThreshold = defaults.SuccessThreshold
	}

	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaults.OpenTimeout
	}

	if o.FailureCountResetTimeout <= 0 {
		o.FailureCountResetTimeout = defaults.FailureCountResetTimeout
	}

	return o
}
