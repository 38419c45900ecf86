// Package telemetry provides local, in-process performance instrumentation:
// a duration/memory profiler with per-label ring buffers, a synthetic
// concurrent load tester, and a heap-trend leak detector.
//
// All three observe operations independently of the cache and circuit
// breaker layers; an instrumented call failing is recorded here without
// affecting their behavior.
package telemetry
