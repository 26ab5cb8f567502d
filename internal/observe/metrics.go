// Package observe provides application-wide observability primitives for
// Glimpse: OpenTelemetry metrics, tracing helpers, structured logging
// enrichment, and an instrumented HTTP transport for gateway calls.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the optional debug listener's /metrics endpoint. Tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Glimpse metrics.
const meterName = "github.com/glimpse-ai/glimpse"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ExchangeDuration tracks end-to-end duration of one logical exchange.
	// Use with attributes:
	//   attribute.String("mode", "buffered"|"streaming"|"live"),
	//   attribute.String("status", "ok"|"failed")
	ExchangeDuration metric.Float64Histogram

	// Exchanges counts completed exchanges, same attributes as above.
	Exchanges metric.Int64Counter

	// GatewayRequestDuration tracks outbound gateway HTTP request latency.
	// Recorded by [Transport].
	GatewayRequestDuration metric.Float64Histogram

	// TransportErrors counts transport-level failures (unreachable gateway,
	// non-2xx status, mid-stream breaks, live channel errors). Use with:
	//   attribute.String("mode", ...)
	TransportErrors metric.Int64Counter

	// ActiveSessions tracks the number of live audio sessions in flight.
	ActiveSessions metric.Int64UpDownCounter

	// AudioBytes counts raw PCM bytes received over live sessions.
	AudioBytes metric.Int64Counter

	// ArtifactsWritten counts WAV containers written to persistent storage.
	ArtifactsWritten metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// model-call latencies: sub-second gateway round trips up to long streamed
// or narrated exchanges.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80,
}

// NewMetrics creates all metric instruments against the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.ExchangeDuration, err = meter.Float64Histogram(
		"glimpse.exchange.duration",
		metric.WithDescription("End-to-end duration of one logical exchange"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if m.Exchanges, err = meter.Int64Counter(
		"glimpse.exchanges",
		metric.WithDescription("Completed exchanges by mode and status"),
	); err != nil {
		return nil, err
	}

	if m.GatewayRequestDuration, err = meter.Float64Histogram(
		"glimpse.gateway.request.duration",
		metric.WithDescription("Outbound gateway HTTP request latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if m.TransportErrors, err = meter.Int64Counter(
		"glimpse.transport.errors",
		metric.WithDescription("Transport-level failures by mode"),
	); err != nil {
		return nil, err
	}

	if m.ActiveSessions, err = meter.Int64UpDownCounter(
		"glimpse.live.active_sessions",
		metric.WithDescription("Live audio sessions currently in flight"),
	); err != nil {
		return nil, err
	}

	if m.AudioBytes, err = meter.Int64Counter(
		"glimpse.live.audio_bytes",
		metric.WithDescription("Raw PCM bytes received over live sessions"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.ArtifactsWritten, err = meter.Int64Counter(
		"glimpse.artifacts.written",
		metric.WithDescription("WAV containers written to persistent storage"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics instance built against
// the global meter provider. The first call creates the instruments; make
// sure [InitProvider] ran first in production so the Prometheus bridge is
// in place.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation only fails on invalid names, which is a
			// programming error caught by tests.
			panic(err)
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordExchange records one completed exchange outcome.
func (m *Metrics) RecordExchange(ctx context.Context, mode, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("status", status),
	)
	m.Exchanges.Add(ctx, 1, attrs)
	m.ExchangeDuration.Record(ctx, seconds, attrs)
}
