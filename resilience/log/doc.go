// Package log defines the backend-neutral structured logging contract used
// across lib-resilience.
//
// Components accept a Logger and never assume a concrete backend; the zap
// subpackage provides the production implementation, and NewNop returns a
// safe no-op logger for tests and optional wiring.
package log
