package resilience

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"github.com/fccampelo/lib-resilience/resilience/metrics"
)

// ErrNilParentContext indicates that a nil parent context was provided.
var ErrNilParentContext = errors.New("cannot create context from nil parent")

type contextKey string

const toolkitContextKey = contextKey("resilience_context")

// contextValue holds the request-scoped facilities attached to a context.
type contextValue struct {
	Logger        log.Logger
	MetricFactory *metrics.Factory
	CorrelationID string
}

func valueFrom(ctx context.Context) *contextValue {
	values, _ := ctx.Value(toolkitContextKey).(*contextValue)
	if values == nil {
		return &contextValue{}
	}

	// Copy so an earlier context is never mutated through a derived one.
	clone := *values

	return &clone
}

// ContextWithLogger returns a context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values := valueFrom(ctx)
	values.Logger = logger

	return context.WithValue(ctx, toolkitContextKey, values)
}

// LoggerFromContext extracts the logger attached to ctx, or a no-op logger
// when none is present.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if values, ok := ctx.Value(toolkitContextKey).(*contextValue); ok && values.Logger != nil {
		return values.Logger
	}

	return log.NewNop()
}

// ContextWithMetricFactory returns a context carrying the given factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.Factory) context.Context {
	values := valueFrom(ctx)
	values.MetricFactory = factory

	return context.WithValue(ctx, toolkitContextKey, values)
}

// MetricFactoryFromContext extracts the metrics factory attached to ctx, or
// a no-op factory when none is present.
func MetricFactoryFromContext(ctx context.Context) *metrics.Factory {
	if values, ok := ctx.Value(toolkitContextKey).(*contextValue); ok && values.MetricFactory != nil {
		return values.MetricFactory
	}

	return metrics.NewNopFactory()
}

// ContextWithCorrelationID returns a context carrying the given correlation
// identifier.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	values := valueFrom(ctx)
	values.CorrelationID = id

	return context.WithValue(ctx, toolkitContextKey, values)
}

// CorrelationIDFromContext extracts the correlation identifier attached to
// ctx. When none is present a fresh UUID is generated, so callers always
// get a usable identifier.
func CorrelationIDFromContext(ctx context.Context) string {
	if values, ok := ctx.Value(toolkitContextKey).(*contextValue); ok {
		if trimmed := strings.TrimSpace(values.CorrelationID); trimmed != "" {
			return trimmed
		}
	}

	return uuid.New().String()
}

// WithTimeoutSafe creates a context with the given timeout while respecting
// any tighter deadline already present on the parent. Returns
// ErrNilParentContext when parent is nil.
func WithTimeoutSafe(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		return nil, nil, ErrNilParentContext
	}

	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) < timeout {
			ctx, cancel := context.WithCancel(parent)

			return ctx, cancel, nil
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}
