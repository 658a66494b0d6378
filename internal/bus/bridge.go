package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/internal/history"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/recitation"
	"github.com/MrWong99/paath/pkg/types"
)

// Transcript is a speech recognizer hypothesis as published on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Bridge drives a single recitation tracker from NATS transcripts. Message
// handlers run on NATS goroutines; the bridge serializes them.
type Bridge struct {
	conn    *nats.Conn
	cfg     config.BusConfig
	metrics *observe.Metrics
	log     *slog.Logger
	history history.Recorder

	mu        sync.Mutex
	refSource string
	tracker   *recitation.Tracker
	buf       *recitation.TranscriptBuffer
	subs      []*nats.Subscription
}

// BridgeOption is a functional option for [NewBridge].
type BridgeOption func(*Bridge)

// WithBridgeMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithBridgeMetrics(m *observe.Metrics) BridgeOption {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithBridgeHistory records a summary of the recitation before every
// restart or reference change.
func WithBridgeHistory(r history.Recorder) BridgeOption {
	return func(b *Bridge) { b.history = r }
}

// WithBridgeReferenceSource sets where the initial reference text came
// from, as recorded in history.
func WithBridgeReferenceSource(src string) BridgeOption {
	return func(b *Bridge) { b.refSource = src }
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBridge creates a bridge around tracker. realtime controls whether
// partial transcripts are processed.
func NewBridge(conn *nats.Conn, tracker *recitation.Tracker, cfg config.BusConfig, realtime bool, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		conn:    conn,
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
		tracker: tracker,
		buf:     recitation.NewTranscriptBuffer(realtime),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start subscribes to the transcript and restart subjects.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.subs) > 0 {
		return errors.New("bus: bridge already started")
	}

	tsub, err := b.conn.Subscribe(b.cfg.TranscriptSubject, b.onTranscript)
	if err != nil {
		return fmt.Errorf("bus: subscribe %q: %w", b.cfg.TranscriptSubject, err)
	}
	rsub, err := b.conn.Subscribe(b.cfg.RestartSubject, b.onRestart)
	if err != nil {
		_ = tsub.Unsubscribe()
		return fmt.Errorf("bus: subscribe %q: %w", b.cfg.RestartSubject, err)
	}
	b.subs = []*nats.Subscription{tsub, rsub}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("bus: flush subscriptions: %w", err)
	}
	b.log.Info("bus bridge started",
		slog.String("transcripts", b.cfg.TranscriptSubject),
		slog.String("progress", b.cfg.ProgressSubject),
		slog.String("restart", b.cfg.RestartSubject),
	)
	return nil
}

// Stop removes the subscriptions. It is safe to call more than once.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		_ = s.Unsubscribe()
	}
	b.subs = nil
}

// Snapshot returns the tracker state.
func (b *Bridge) Snapshot() types.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tracker.Snapshot()
}

// SetReference replaces the reference text and restarts the recitation.
// source names where text came from.
func (b *Bridge) SetReference(text, source string) {
	ctx := context.Background()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(ctx)
	b.buf.Reset()
	b.tracker.Reset(text)
	b.refSource = source
	b.publishLocked(ctx)
}

// Refresh re-parses the reference after an aligner change and aligns the
// buffered transcript again. It publishes a snapshot only when the
// reference words changed.
func (b *Bridge) Refresh() {
	ctx := context.Background()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tracker.Refresh() {
		return
	}
	if err := b.tracker.ProcessTranscript(ctx, b.buf.Text()); err != nil {
		b.log.Warn("bus: process transcript after refresh", "err", err)
	}
	b.publishLocked(ctx)
}

// SetRealtime toggles processing of partial transcripts.
func (b *Bridge) SetRealtime(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.SetRealtime(on)
}

func (b *Bridge) onTranscript(msg *nats.Msg) {
	ctx := context.Background()

	var tr Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		b.metrics.RecordBusMessage(ctx, "dropped")
		b.log.Warn("bus: invalid transcript", "subject", msg.Subject, "err", err)
		return
	}
	if b.cfg.SessionID != "" && tr.SessionID != b.cfg.SessionID {
		b.metrics.RecordBusMessage(ctx, "dropped")
		return
	}
	partial := tr.Partial || strings.HasSuffix(msg.Subject, ".partial")
	if tr.SessionID != "" {
		ctx = observe.WithSessionID(ctx, tr.SessionID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var changed bool
	if partial {
		b.metrics.RecordBusMessage(ctx, "partial")
		changed = b.buf.AddPartial(tr.Text)
	} else {
		b.metrics.RecordBusMessage(ctx, "final")
		changed = b.buf.AddFinal(tr.Text)
	}
	if !changed {
		return
	}

	b.metrics.RecordTranscript(ctx, "bus")
	if err := b.tracker.ProcessTranscript(ctx, b.buf.Text()); err != nil {
		observe.Logger(ctx).Warn("bus: process transcript", "err", err)
		return
	}
	b.publishLocked(ctx)
}

func (b *Bridge) onRestart(*nats.Msg) {
	ctx := context.Background()
	b.metrics.RecordBusMessage(ctx, "restart")

	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordLocked(ctx)
	b.buf.Reset()
	b.tracker.Restart()
	b.publishLocked(ctx)
}

func (b *Bridge) recordLocked(ctx context.Context) {
	if b.history == nil {
		return
	}
	rec := history.FromSnapshot("bus", b.refSource, b.tracker.Snapshot())
	if err := b.history.Record(ctx, rec); err != nil {
		b.log.Warn("bus: record history", "err", err)
	}
}

func (b *Bridge) publishLocked(ctx context.Context) {
	data, err := json.Marshal(b.tracker.Snapshot())
	if err != nil {
		b.log.Error("bus: marshal snapshot", "err", err)
		return
	}
	if err := b.conn.Publish(b.cfg.ProgressSubject, data); err != nil {
		observe.Logger(ctx).Warn("bus: publish progress", "subject", b.cfg.ProgressSubject, "err", err)
	}
}
