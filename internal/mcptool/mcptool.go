// Package mcptool exposes the aligner to MCP clients.
//
// Two tools are registered:
//   - "compare_recitation": aligns a recognized transcript against a
//     reference text and returns the full alignment result.
//   - "reference_text": returns the active reference text.
//
// The server is served over streamable HTTP via [Server.Handler] and can
// also be connected to any other MCP transport through [Server.MCP].
package mcptool

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/recitation"
	"github.com/MrWong99/paath/internal/reference"
	"github.com/MrWong99/paath/pkg/types"
)

// Tool names.
const (
	ToolCompare   = "compare_recitation"
	ToolReference = "reference_text"
)

// ErrEmptyTranscript is returned by compare_recitation when no recognized
// text is given.
var ErrEmptyTranscript = errors.New("mcptool: recognizedText is required")

// CompareInput is the argument object of compare_recitation.
type CompareInput struct {
	RecognizedText string `json:"recognizedText" jsonschema:"the transcript produced by the speech recognizer"`
	ReferenceText  string `json:"referenceText,omitempty" jsonschema:"the text to compare against; the configured reference when empty"`
}

// ReferenceInput is the (empty) argument object of reference_text.
type ReferenceInput struct{}

// ReferenceOutput is the result of reference_text.
type ReferenceOutput struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Paragraphs int    `json:"paragraphs"`
	Words      int    `json:"words"`
}

// Server is the MCP tool server.
type Server struct {
	srv     *mcp.Server
	refs    *reference.Store
	aligner atomic.Pointer[align.Aligner]
	metrics *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Server)

// WithAligner sets the aligner used by compare_recitation.
func WithAligner(a *align.Aligner) Option {
	return func(s *Server) {
		if a != nil {
			s.aligner.Store(a)
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New builds the MCP server with both tools registered.
func New(refs *reference.Store, version string, opts ...Option) *Server {
	s := &Server{
		refs:    refs,
		metrics: observe.DefaultMetrics(),
	}
	s.aligner.Store(align.New())
	for _, o := range opts {
		o(s)
	}

	s.srv = mcp.NewServer(&mcp.Implementation{Name: "paath", Version: version}, nil)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolCompare,
		Description: "Compare a recognized recitation against the reference text word by word and report errors, warnings and feedback.",
	}, instrument(s.metrics, ToolCompare, s.compare))
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolReference,
		Description: "Return the reference text recitations are compared against, one paragraph per line.",
	}, instrument(s.metrics, ToolReference, s.reference))
	return s
}

// SetAligner swaps the aligner used by compare_recitation.
func (s *Server) SetAligner(a *align.Aligner) {
	if a != nil {
		s.aligner.Store(a)
	}
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Handler returns a streamable HTTP handler serving this server to every
// client.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

func (s *Server) compare(_ context.Context, in CompareInput) (types.AlignmentResult, error) {
	if strings.TrimSpace(in.RecognizedText) == "" {
		return types.AlignmentResult{}, ErrEmptyTranscript
	}
	ref := in.ReferenceText
	if strings.TrimSpace(ref) == "" {
		ref = s.refs.Get().Body
	}
	return s.aligner.Load().Align(in.RecognizedText, ref), nil
}

func (s *Server) reference(_ context.Context, _ ReferenceInput) (ReferenceOutput, error) {
	t := s.refs.Get()
	paras := recitation.ParseReference(t.Body, s.aligner.Load())
	return ReferenceOutput{
		Text:       t.Body,
		Source:     t.Source,
		Paragraphs: len(paras),
		Words:      recitation.CountWords(paras),
	}, nil
}

// instrument adapts fn to the SDK's typed handler signature and records
// call counts and latency.
func instrument[In, Out any](m *observe.Metrics, name string, fn func(context.Context, In) (Out, error)) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+name)
		defer span.End()

		start := time.Now()
		out, err := fn(ctx, in)
		m.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("tool", name)))

		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			observe.Logger(ctx).Debug("mcp tool failed", "tool", name, "err", err)
		}
		m.RecordToolCall(ctx, name, status)
		return nil, out, err
	}
}
