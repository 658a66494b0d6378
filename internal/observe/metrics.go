// Package observe provides application-wide observability primitives for
// paath: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all paath metrics.
const meterName = "github.com/MrWong99/paath"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// AlignmentDuration tracks how long one comparison pass takes, including
	// remote round trips. Use with attribute:
	//   attribute.String("comparer", ...)
	AlignmentDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// TranscriptsProcessed counts transcript updates fed to a tracker. Use
	// with attribute:
	//   attribute.String("source", "websocket"|"bus")
	TranscriptsProcessed metric.Int64Counter

	// WordsResolved counts reference words whose status changed to a
	// resolved value. Use with attribute:
	//   attribute.String("status", "correct"|"error")
	WordsResolved metric.Int64Counter

	// Restarts counts explicit recitation restarts.
	Restarts metric.Int64Counter

	// ComparerRequests counts comparer calls. Use with attributes:
	//   attribute.String("comparer", ...), attribute.String("status", ...)
	ComparerRequests metric.Int64Counter

	// ToolCalls counts MCP tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// BusMessages counts NATS messages handled by the bridge. Use with
	// attribute:
	//   attribute.String("kind", "partial"|"final"|"restart"|"dropped")
	BusMessages metric.Int64Counter

	// --- Error counters ---

	// ComparerErrors counts comparer failures. Use with attribute:
	//   attribute.String("comparer", ...)
	ComparerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recitation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SessionProgress records the latest progress percentage reported by a
	// tracker. Use with attribute:
	//   attribute.String("source", ...)
	SessionProgress metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Local
// alignment lands in the first buckets, remote calls further up.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AlignmentDuration, err = m.Float64Histogram("paath.alignment.duration",
		metric.WithDescription("Latency of one transcript comparison."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("paath.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TranscriptsProcessed, err = m.Int64Counter("paath.transcripts.processed",
		metric.WithDescription("Total transcript updates processed by source."),
	); err != nil {
		return nil, err
	}
	if met.WordsResolved, err = m.Int64Counter("paath.words.resolved",
		metric.WithDescription("Total reference word resolutions by status."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("paath.restarts",
		metric.WithDescription("Total recitation restarts."),
	); err != nil {
		return nil, err
	}
	if met.ComparerRequests, err = m.Int64Counter("paath.comparer.requests",
		metric.WithDescription("Total comparer requests by comparer and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("paath.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.BusMessages, err = m.Int64Counter("paath.bus.messages",
		metric.WithDescription("Total NATS messages handled by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ComparerErrors, err = m.Int64Counter("paath.comparer.errors",
		metric.WithDescription("Total comparer errors by comparer."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("paath.active_sessions",
		metric.WithDescription("Number of live recitation sessions."),
	); err != nil {
		return nil, err
	}
	if met.SessionProgress, err = m.Int64Gauge("paath.session.progress",
		metric.WithDescription("Latest recitation progress percentage."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("paath.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordComparerRequest records a comparer request counter increment.
func (m *Metrics) RecordComparerRequest(ctx context.Context, comparer, status string) {
	m.ComparerRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("comparer", comparer),
			attribute.String("status", status),
		),
	)
}

// RecordComparerError records a comparer error counter increment.
func (m *Metrics) RecordComparerError(ctx context.Context, comparer string) {
	m.ComparerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("comparer", comparer)),
	)
}

// RecordToolCall records a tool call counter increment.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTranscript records one processed transcript update from source.
func (m *Metrics) RecordTranscript(ctx context.Context, source string) {
	m.TranscriptsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordWordsResolved adds newly resolved words to the per-status counter.
// Zero counts are skipped.
func (m *Metrics) RecordWordsResolved(ctx context.Context, correct, errored int) {
	if correct > 0 {
		m.WordsResolved.Add(ctx, int64(correct),
			metric.WithAttributes(attribute.String("status", "correct")))
	}
	if errored > 0 {
		m.WordsResolved.Add(ctx, int64(errored),
			metric.WithAttributes(attribute.String("status", "error")))
	}
}

// RecordProgress sets the progress gauge for source.
func (m *Metrics) RecordProgress(ctx context.Context, source string, progress int) {
	m.SessionProgress.Record(ctx, int64(progress),
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordBusMessage records a handled NATS message of the given kind.
func (m *Metrics) RecordBusMessage(ctx context.Context, kind string) {
	m.BusMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
