package observe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/glimpse-ai/glimpse/internal/observe"
)

// newTestMetrics returns metrics backed by a manual reader so tests can
// collect and inspect recorded data points.
func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordExchange(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordExchange(context.Background(), "streaming", "ok", 1.5)
	m.RecordExchange(context.Background(), "buffered", "failed", 0.2)

	metrics := collect(t, reader)

	counter, ok := metrics["glimpse.exchanges"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("glimpse.exchanges missing or wrong type: %T", metrics["glimpse.exchanges"].Data)
	}
	if len(counter.DataPoints) != 2 {
		t.Fatalf("exchange data points = %d, want 2 (one per mode/status pair)", len(counter.DataPoints))
	}
	var total int64
	for _, dp := range counter.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("total exchanges = %d, want 2", total)
	}

	hist, ok := metrics["glimpse.exchange.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("glimpse.exchange.duration missing or wrong type")
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("duration data points = %d, want 2", len(hist.DataPoints))
	}
}

func TestTransportRecordsLatencyAndPropagates(t *testing.T) {
	m, reader := newTestMetrics(t)

	// A real tracer provider so the outbound span context is valid and the
	// W3C traceparent header gets injected.
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	client := observe.NewHTTPClient(m)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/analyze", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if traceparent == "" {
		t.Error("traceparent header not injected")
	}

	metrics := collect(t, reader)
	hist, ok := metrics["glimpse.gateway.request.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("gateway request duration not recorded")
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("histogram data points = %+v", hist.DataPoints)
	}
}

func TestTransportRecordsErrors(t *testing.T) {
	m, reader := newTestMetrics(t)

	client := observe.NewHTTPClient(m)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://127.0.0.1:1/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Do(req); err == nil {
		t.Fatal("request to unreachable host succeeded")
	}

	// Latency is recorded even when the round trip fails.
	metrics := collect(t, reader)
	hist, ok := metrics["glimpse.gateway.request.duration"].Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Error("failed round trip left no latency record")
	}
}

func TestLoggerWithoutSpan(t *testing.T) {
	t.Parallel()

	if observe.Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil")
	}
}
