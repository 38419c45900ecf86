// Package resilience composes the toolkit's layers around a single
// operation: an expiring cache, a named circuit breaker and optional
// profiling, wrapped as a Guard. It also carries request-scoped logging
// and metrics through context so deep call chains need no explicit
// plumbing.
package resilience
