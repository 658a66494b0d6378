// Package server exposes the recitation engine over HTTP.
//
// Routes:
//
//	GET  /api/reference/text     the active reference text as a JSON string
//	POST /api/compare            stateless comparison, also served as
//	                             /api/compare-recitation
//	GET  /api/session            WebSocket live recitation session
//	GET  /healthz, /readyz       probes (when a health handler is set)
//	GET  /metrics                Prometheus exposition (when set)
//	     /mcp                    MCP tool server (when set)
//
// Every route is wrapped in [observe.Middleware].
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/internal/health"
	"github.com/MrWong99/paath/internal/history"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/reference"
	"github.com/MrWong99/paath/pkg/provider/compare"
)

// Default limits.
const (
	DefaultMaxBodyBytes    = 1 << 20
	DefaultMaxMessageBytes = 64 << 10
)

// Server serves the HTTP API. Construct it with [New]; the zero value is not
// usable.
type Server struct {
	refs     *reference.Store
	aligner  atomic.Pointer[align.Aligner]
	realtime atomic.Bool

	// comparer drives live sessions; nil means the current aligner.
	comparer compare.Comparer
	metrics  *observe.Metrics
	history  history.Recorder

	health         *health.Handler
	metricsHandler http.Handler
	mcpPath        string
	mcpHandler     http.Handler

	maxBodyBytes    int64
	maxMessageBytes int64
	allowedOrigins  []string

	mu       sync.Mutex
	sessions map[*websocket.Conn]struct{}
}

// Option is a functional option for [New].
type Option func(*Server)

// WithAligner sets the aligner used by the compare endpoint and, when no
// comparer is set, by live sessions.
func WithAligner(a *align.Aligner) Option {
	return func(s *Server) {
		if a != nil {
			s.aligner.Store(a)
		}
	}
}

// WithComparer sets the comparer used by live sessions, typically a
// [resilience.CompareFallback] chain.
func WithComparer(c compare.Comparer) Option {
	return func(s *Server) { s.comparer = c }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHistory records a summary of every session when it restarts or
// ends.
func WithHistory(r history.Recorder) Option {
	return func(s *Server) { s.history = r }
}

// WithRealtime sets whether sessions process interim hypotheses.
func WithRealtime(on bool) Option {
	return func(s *Server) { s.realtime.Store(on) }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMCPHandler mounts the MCP tool server on path.
func WithMCPHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.mcpPath = path
		s.mcpHandler = h
	}
}

// WithMaxBodyBytes limits compare request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithAllowedOrigins lists host patterns accepted for cross-origin WebSocket
// upgrades, e.g. "app.example.com" or "*.example.com".
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.allowedOrigins = patterns }
}

// New creates a Server reading the reference from refs.
func New(refs *reference.Store, opts ...Option) *Server {
	s := &Server{
		refs:            refs,
		metrics:         observe.DefaultMetrics(),
		maxBodyBytes:    DefaultMaxBodyBytes,
		maxMessageBytes: DefaultMaxMessageBytes,
		sessions:        make(map[*websocket.Conn]struct{}),
	}
	s.aligner.Store(align.New())
	s.realtime.Store(true)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAligner swaps the aligner. Sessions opened afterwards use it. Open
// sessions driven by the shared comparer re-parse their reference on the
// next transcript; the others keep theirs.
func (s *Server) SetAligner(a *align.Aligner) {
	if a != nil {
		s.aligner.Store(a)
	}
}

// SetRealtime changes the realtime default for new sessions.
func (s *Server) SetRealtime(on bool) {
	s.realtime.Store(on)
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/reference/text", s.handleReferenceText)
	mux.HandleFunc("POST /api/compare", s.handleCompare)

	// Legacy paths of the original web client.
	mux.HandleFunc("GET /api/japji-sahib/text", s.handleReferenceText)
	mux.HandleFunc("POST /api/japji-sahib/compare", s.handleCompare)
	mux.HandleFunc("POST /api/compare-recitation", s.handleCompare)
	mux.HandleFunc("GET /api/session", s.handleSession)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.mcpHandler != nil && s.mcpPath != "" {
		mux.Handle(s.mcpPath, s.mcpHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ActiveSessions returns the number of open WebSocket sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseSessions closes every open WebSocket session with StatusGoingAway.
// [http.Server.Shutdown] does not wait for hijacked connections, so call
// this during shutdown.
func (s *Server) CloseSessions(_ context.Context) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sessions))
	for c := range s.sessions {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (s *Server) track(c *websocket.Conn) {
	s.mu.Lock()
	s.sessions[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *websocket.Conn) {
	s.mu.Lock()
	delete(s.sessions, c)
	s.mu.Unlock()
}
