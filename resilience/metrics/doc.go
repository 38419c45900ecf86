// Package metrics provides a thread-safe factory for OpenTelemetry
// instruments used by the cache, circuit breaker, and telemetry
// components.
//
// The factory only records through the otel metric API; whether an
// exporter is installed is the host application's decision. NewNopFactory
// returns a factory backed by the no-op meter for tests and optional
// wiring.
package metrics
