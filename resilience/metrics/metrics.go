package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fccampelo/lib-resilience/resilience/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Factory provides a thread-safe factory for creating and recording
// OpenTelemetry metrics with lazy instrument initialization.
type Factory struct {
	meter    metric.Meter
	counters sync.Map // string -> metric.Int64Counter
	gauges   sync.Map // string -> metric.Int64Gauge
	logger   log.Logger
}

// Metric describes an instrument created through the factory.
type Metric struct {
	Name        string
	Description string
	Unit        string
}

// Instruments recorded by the toolkit.
var (
	// MetricCacheHits counts cache lookups served from a live entry.
	MetricCacheHits = Metric{
		Name:        "cache_hits_total",
		Unit:        "1",
		Description: "Number of cache lookups that returned a live entry.",
	}

	// MetricCacheMisses counts lookups for absent or expired keys.
	MetricCacheMisses = Metric{
		Name:        "cache_misses_total",
		Unit:        "1",
		Description: "Number of cache lookups that found no live entry.",
	}

	// MetricCacheEvictions counts entries removed to make room at capacity.
	MetricCacheEvictions = Metric{
		Name:        "cache_evictions_total",
		Unit:        "1",
		Description: "Number of entries evicted by the LRU policy.",
	}

	// MetricBreakerStateChanges counts circuit breaker state transitions.
	MetricBreakerStateChanges = Metric{
		Name:        "circuit_breaker_state_changes_total",
		Unit:        "1",
		Description: "Number of circuit breaker state transitions.",
	}

	// MetricBreakerRejections counts calls rejected while a breaker is open.
	MetricBreakerRejections = Metric{
		Name:        "circuit_breaker_rejections_total",
		Unit:        "1",
		Description: "Number of calls rejected without reaching the protected operation.",
	}

	// MetricHeapUsedBytes tracks the heap usage observed by the leak detector.
	MetricHeapUsedBytes = Metric{
		Name:        "heap_used_bytes",
		Unit:        "By",
		Description: "Heap bytes in use at the most recent leak detector sample.",
	}
)

// NewFactory creates a new Factory instance.
func NewFactory(meter metric.Meter, logger log.Logger) (*Factory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &Factory{
		meter:  meter,
		logger: log.OrNop(logger),
	}, nil
}

// NewNopFactory returns a Factory backed by OpenTelemetry's no-op meter.
// It is safe for use as a fallback when a real meter is unavailable.
func NewNopFactory() *Factory {
	return &Factory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter metric and returns a builder
// for fluent recording.
func (f *Factory) Counter(m Metric) (*CounterBuilder, error) {
	counter, err := f.getOrCreateCounter(m)
	if err != nil {
		return nil, err
	}

	return &CounterBuilder{
		counter: counter,
		name:    m.Name,
	}, nil
}

// Gauge creates or retrieves a gauge metric and returns a builder for
// fluent recording.
func (f *Factory) Gauge(m Metric) (*GaugeBuilder, error) {
	gauge, err := f.getOrCreateGauge(m)
	if err != nil {
		return nil, err
	}

	return &GaugeBuilder{
		gauge: gauge,
		name:  m.Name,
	}, nil
}

// AddCounter records a counter increment and logs instead of failing when
// the instrument cannot be created. Components use it on hot paths where
// a metrics error must never affect the protected call.
func (f *Factory) AddCounter(ctx context.Context, m Metric, value int64, labels map[string]string) {
	if f == nil {
		return
	}

	builder, err := f.Counter(m)
	if err != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to create counter", log.String("metric_name", m.Name), log.Err(err))

		return
	}

	if len(labels) > 0 {
		builder = builder.WithLabels(labels)
	}

	if err := builder.Add(ctx, value); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to record counter", log.String("metric_name", m.Name), log.Err(err))
	}
}

// SetGauge records a gauge observation with the same error policy as
// AddCounter.
func (f *Factory) SetGauge(ctx context.Context, m Metric, value int64, labels map[string]string) {
	if f == nil {
		return
	}

	builder, err := f.Gauge(m)
	if err != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to create gauge", log.String("metric_name", m.Name), log.Err(err))

		return
	}

	if len(labels) > 0 {
		builder = builder.WithLabels(labels)
	}

	if err := builder.Set(ctx, value); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "failed to record gauge", log.String("metric_name", m.Name), log.Err(err))
	}
}

// getOrCreateCounter lazily creates or retrieves an existing counter.
func (f *Factory) getOrCreateCounter(m Metric) (metric.Int64Counter, error) {
	if counter, exists := f.counters.Load(m.Name); exists {
		if c, ok := counter.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	counter, err := f.meter.Int64Counter(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	if actual, loaded := f.counters.LoadOrStore(m.Name, counter); loaded {
		// Another goroutine created it first, use that one.
		if c, ok := actual.(metric.Int64Counter); ok {
			return c, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return counter, nil
}

// getOrCreateGauge lazily creates or retrieves an existing gauge.
func (f *Factory) getOrCreateGauge(m Metric) (metric.Int64Gauge, error) {
	if gauge, exists := f.gauges.Load(m.Name); exists {
		if g, ok := gauge.(metric.Int64Gauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	gauge, err := f.meter.Int64Gauge(m.Name,
		metric.WithDescription(m.Description),
		metric.WithUnit(m.Unit),
	)
	if err != nil {
		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	if actual, loaded := f.gauges.LoadOrStore(m.Name, gauge); loaded {
		if g, ok := actual.(metric.Int64Gauge); ok {
			return g, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	return gauge, nil
}
