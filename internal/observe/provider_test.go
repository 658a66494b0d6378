package observe

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitProvider_ServesPrometheusMetrics(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	defer p.Shutdown(ctx)

	m, err := NewMetrics(p.MeterProvider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordTranscript(ctx, "ws")

	rec := httptest.NewRecorder()
	p.MetricsHandler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "paath_transcripts_processed") {
		t.Errorf("metrics output missing transcript counter:\n%s", body)
	}
	if !strings.Contains(string(body), `service_name="paath"`) {
		t.Errorf("metrics output missing default service name:\n%s", body)
	}
}

func TestInitProvider_RepeatedInitDoesNotCollide(t *testing.T) {
	ctx := context.Background()
	for range 2 {
		p, err := InitProvider(ctx, ProviderConfig{})
		if err != nil {
			t.Fatalf("InitProvider: %v", err)
		}
		if err := p.Shutdown(ctx); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
}

func TestInitProvider_ExportsSpansToStdout(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	exp, err := NewTraceExporter(ctx, TraceExporterStdout, "", false, &buf)
	if err != nil {
		t.Fatalf("NewTraceExporter: %v", err)
	}
	p, err := InitProvider(ctx, ProviderConfig{TraceExporter: exp})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	_, span := p.TracerProvider.Tracer("test").Start(ctx, "recitation.process")
	span.End()

	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "recitation.process") {
		t.Errorf("stdout exporter did not receive span, got %q", buf.String())
	}
}

func TestNewTraceExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exp, err := NewTraceExporter(ctx, TraceExporterNone, "", false, nil)
	if err != nil || exp != nil {
		t.Errorf("none: got (%v, %v), want (nil, nil)", exp, err)
	}
	if _, err := NewTraceExporter(ctx, TraceExporterOTLP, "", false, nil); err == nil {
		t.Error("otlp without endpoint should fail")
	}
	if _, err := NewTraceExporter(ctx, "zipkin", "", false, nil); err == nil {
		t.Error("unknown exporter should fail")
	}
}
