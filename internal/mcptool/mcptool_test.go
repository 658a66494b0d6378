package mcptool_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/paath/internal/mcptool"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/reference"
	"github.com/MrWong99/paath/pkg/types"
)

const testRef = "ਸਤਿ ਨਾਮੁ ਕਰਤਾ\nਪੁਰਖੁ ॥"

func connect(t *testing.T) (*mcp.ClientSession, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	refs := reference.NewStore(reference.Text{Body: testRef, Source: "test.txt"})
	srv := mcptool.New(refs, "test", mcptool.WithMetrics(m))

	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, serverT, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs, reader
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestListTools(t *testing.T) {
	t.Parallel()
	cs, _ := connect(t)
	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if !names[mcptool.ToolCompare] || !names[mcptool.ToolReference] {
		t.Errorf("tools = %v", names)
	}
}

func TestCompareRecitation(t *testing.T) {
	t.Parallel()
	cs, reader := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcptool.ToolCompare,
		Arguments: map[string]any{"recognizedText": "ਸਤਿ ਨਾਮੁ hello ਪੁਰਖੁ"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", textOf(t, res))
	}

	var got types.AlignmentResult
	if err := json.Unmarshal([]byte(textOf(t, res)), &got); err != nil {
		t.Fatalf("decode result %q: %v", textOf(t, res), err)
	}
	if len(got.Words) != 4 {
		t.Fatalf("words = %+v", got.Words)
	}
	if len(got.Errors) != 1 || got.Errors[0].Word != "hello" || got.Errors[0].CorrectWord != "ਕਰਤਾ" {
		t.Errorf("errors = %+v", got.Errors)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	if !hasMetric(rm, "paath.tool.calls") {
		t.Error("tool call counter not recorded")
	}
}

func TestCompareRecitation_ExplicitReference(t *testing.T) {
	t.Parallel()
	cs, _ := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcptool.ToolCompare,
		Arguments: map[string]any{"recognizedText": "hello world", "referenceText": "hello world"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var got types.AlignmentResult
	if err := json.Unmarshal([]byte(textOf(t, res)), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Errors) != 0 || len(got.Words) != 2 {
		t.Errorf("result = %+v", got)
	}
}

func TestCompareRecitation_EmptyTranscript(t *testing.T) {
	t.Parallel()
	cs, _ := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcptool.ToolCompare,
		Arguments: map[string]any{"recognizedText": "  "},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(textOf(t, res), "recognizedText") {
		t.Errorf("error text = %q", textOf(t, res))
	}
}

func TestReferenceText(t *testing.T) {
	t.Parallel()
	cs, _ := connect(t)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcptool.ToolReference,
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var got mcptool.ReferenceOutput
	if err := json.Unmarshal([]byte(textOf(t, res)), &got); err != nil {
		t.Fatal(err)
	}
	want := mcptool.ReferenceOutput{Text: testRef, Source: "test.txt", Paragraphs: 2, Words: 4}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestHandler_ServesStreamableHTTP(t *testing.T) {
	t.Parallel()
	refs := reference.NewStore(reference.Builtin())
	srv := mcptool.New(refs, "test")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: ts.URL}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      mcptool.ToolReference,
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !strings.Contains(textOf(t, res), reference.BuiltinSource) {
		t.Errorf("result = %q", textOf(t, res))
	}
}

func hasMetric(rm metricdata.ResourceMetrics, name string) bool {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}
