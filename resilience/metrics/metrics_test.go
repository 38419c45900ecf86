package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestNewFactory_NilMeter(t *testing.T) {
	_, err := NewFactory(nil, nil)
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestFactory_CounterReuse(t *testing.T) {
	factory, err := NewFactory(noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)

	first, err := factory.Counter(MetricCacheHits)
	require.NoError(t, err)

	second, err := factory.Counter(MetricCacheHits)
	require.NoError(t, err)

	// Same lazily-created instrument behind both builders.
	assert.Equal(t, first.counter, second.counter)
}

func TestCounterBuilder_AddWithLabels(t *testing.T) {
	factory := NewNopFactory()

	builder, err := factory.Counter(MetricBreakerRejections)
	require.NoError(t, err)

	err = builder.
		WithLabels(map[string]string{"breaker": "payments"}).
		AddOne(context.Background())
	assert.NoError(t, err)
}

func TestCounterBuilder_NilInstrument(t *testing.T) {
	builder := &CounterBuilder{}
	assert.ErrorIs(t, builder.AddOne(context.Background()), ErrNilCounter)
}

func TestGaugeBuilder_Set(t *testing.T) {
	factory := NewNopFactory()

	builder, err := factory.Gauge(MetricHeapUsedBytes)
	require.NoError(t, err)

	assert.NoError(t, builder.Set(context.Background(), 1024))
}

func TestGaugeBuilder_NilInstrument(t *testing.T) {
	builder := &GaugeBuilder{}
	assert.ErrorIs(t, builder.Set(context.Background(), 1), ErrNilGauge)
}

func TestFactory_AddCounterNeverPanics(t *testing.T) {
	var factory *Factory

	// Nil factory is a silent no-op on the hot path.
	factory.AddCounter(context.Background(), MetricCacheHits, 1, nil)
	factory.SetGauge(context.Background(), MetricHeapUsedBytes, 1, nil)

	NewNopFactory().AddCounter(context.Background(), MetricCacheMisses, 2, map[string]string{"cache": "resources"})
}
