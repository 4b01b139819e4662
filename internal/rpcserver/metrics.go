package rpcserver

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the dispatcher's OpenTelemetry instruments: a request
// counter by method/tool, a tool-error counter by code, and a request
// latency histogram. The meter provider is installed by the serve command
// (stdout metric exporter by default); with no provider installed these
// are no-ops.
type metrics struct {
	requests  metric.Int64Counter
	toolErrs  metric.Int64Counter
	latencyMs metric.Float64Histogram
}

var (
	metricsOnce sync.Once
	m           metrics
)

func getMetrics() *metrics {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/signalridge/cruxe/internal/rpcserver")
		m.requests, _ = meter.Int64Counter("cruxe_requests_total",
			metric.WithDescription("JSON-RPC requests dispatched, by method and tool"))
		m.toolErrs, _ = meter.Int64Counter("cruxe_tool_errors_total",
			metric.WithDescription("Tool-level errors returned, by code"))
		m.latencyMs, _ = meter.Float64Histogram("cruxe_request_duration_ms",
			metric.WithDescription("End-to-end request handling latency"),
			metric.WithUnit("ms"))
	})
	return &m
}

func (mt *metrics) recordRequest(ctx context.Context, method, tool string, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("tool", tool),
	)
	mt.requests.Add(ctx, 1, attrs)
	mt.latencyMs.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, attrs)
}

func (mt *metrics) recordToolError(ctx context.Context, tool, code string) {
	mt.toolErrs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("code", code),
	))
}
