// Package circuitbreaker provides named, independently configured circuit
// breakers and a registry that manages them for the process lifetime.
//
// A breaker wraps a single flaky operation and fails fast once the
// operation is judged unhealthy, recovering through trial probes after a
// cooldown. Use NewRegistry and Registry.GetOrCreate so failures are
// tracked consistently across callers, then run calls through
// Breaker.Execute (or the generic Do helper).
//
// Optional health-check integration can automatically reset breakers after
// downstream dependencies recover.
package circuitbreaker
