// Package zap provides the go.uber.org/zap backed implementation of
// log.Logger, with OpenTelemetry trace correlation and a
// runtime-adjustable level.
package zap
