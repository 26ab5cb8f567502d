package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// roundTripper instruments outbound gateway HTTP calls: it starts a client
// span, injects W3C trace context into the request headers, and records
// request latency to [Metrics.GatewayRequestDuration].
type roundTripper struct {
	next    http.RoundTripper
	metrics *Metrics
	prop    propagation.TraceContext
}

// Transport wraps next with tracing and latency metrics for outbound
// requests. A nil next uses [http.DefaultTransport].
func Transport(next http.RoundTripper, m *Metrics) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{next: next, metrics: m}
}

// NewHTTPClient returns an [http.Client] whose transport records gateway
// request latency and propagates trace context. The client has no overall
// timeout: streamed exchanges are bounded by context cancellation instead.
func NewHTTPClient(m *Metrics) *http.Client {
	return &http.Client{Transport: Transport(nil, m)}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx, span := StartSpan(req.Context(), "HTTP "+req.Method+" "+req.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Redacted()),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	rt.prop.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := rt.next.RoundTrip(req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
	}

	rt.metrics.GatewayRequestDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("method", req.Method),
			attribute.Int("status", status),
		),
	)
	return resp, err
}
