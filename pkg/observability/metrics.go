package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds the process meter provider. With an OTLP
// endpoint configured it exports over gRPC on a periodic reader;
// without one the instruments stay in-process.
func NewMeterProvider(ctx context.Context, endpoint string, insecure bool) (*sdkmetric.MeterProvider, error) {
	if endpoint == "" {
		return sdkmetric.NewMeterProvider(), nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	), nil
}

// Metrics holds the dispatch core's instruments.
type Metrics struct {
	dispatches       metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	transitions      metric.Int64Counter
	breakerTrips     metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	draftConflicts   metric.Int64Counter
}

// NewMetrics registers instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.dispatches, err = meter.Int64Counter("concierge.dispatch.total",
		metric.WithDescription("Dispatch calls by tier and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}
	if m.dispatchDuration, err = meter.Float64Histogram("concierge.dispatch.duration_ms",
		metric.WithDescription("Dispatch latency in milliseconds")); err != nil {
		return nil, fmt.Errorf("failed to create dispatch histogram: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("concierge.proposal.transitions",
		metric.WithDescription("Proposal state transitions by target state")); err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}
	if m.breakerTrips, err = meter.Int64Counter("concierge.session.breaker_trips",
		metric.WithDescription("Session circuit-breaker short circuits")); err != nil {
		return nil, fmt.Errorf("failed to create breaker counter: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter("concierge.context_cache.hits"); err != nil {
		return nil, fmt.Errorf("failed to create cache hit counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter("concierge.context_cache.misses"); err != nil {
		return nil, fmt.Errorf("failed to create cache miss counter: %w", err)
	}
	if m.draftConflicts, err = meter.Int64Counter("concierge.draft.conflicts",
		metric.WithDescription("Draft writes rejected on version mismatch")); err != nil {
		return nil, fmt.Errorf("failed to create draft conflict counter: %w", err)
	}
	return m, nil
}

// NewNoopMetrics returns metrics backed by an unexported SDK provider,
// for tests and callers that don't wire an exporter.
func NewNoopMetrics() *Metrics {
	provider := sdkmetric.NewMeterProvider()
	m, _ := NewMetrics(provider.Meter("concierge-noop"))
	return m
}

// RecordDispatch records one dispatch with its tier, outcome, and
// latency.
func (m *Metrics) RecordDispatch(ctx context.Context, tier, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("outcome", outcome),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
}

// RecordTransition records one proposal state transition.
func (m *Metrics) RecordTransition(ctx context.Context, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordBreakerTrip records one short-circuited dispatch.
func (m *Metrics) RecordBreakerTrip(ctx context.Context) {
	m.breakerTrips.Add(ctx, 1)
}

// RecordCacheHit / RecordCacheMiss track context cache effectiveness.
func (m *Metrics) RecordCacheHit(ctx context.Context)  { m.cacheHits.Add(ctx, 1) }
func (m *Metrics) RecordCacheMiss(ctx context.Context) { m.cacheMisses.Add(ctx, 1) }

// RecordDraftConflict records one optimistic-concurrency rejection.
func (m *Metrics) RecordDraftConflict(ctx context.Context) {
	m.draftConflicts.Add(ctx, 1)
}
