package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/paath/internal/history"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/recitation"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/provider/compare/local"
	"github.com/MrWong99/paath/pkg/types"
)

// Client message types.
const (
	MsgPartial    = "partial"
	MsgFinal      = "final"
	MsgTranscript = "transcript"
	MsgRestart    = "restart"
)

// Server message types.
const (
	MsgSnapshot = "snapshot"
	MsgError    = "error"
)

const writeTimeout = 5 * time.Second

// ClientMessage is a message sent by the browser or any other client over
// the session WebSocket.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ServerMessage is a message sent to the client. Snapshot fields are
// inlined for "snapshot" messages.
type ServerMessage struct {
	Type string `json:"type"`
	*types.Snapshot
	Message string `json:"message,omitempty"`
}

// session is one WebSocket connection with its own tracker. All fields are
// owned by the connection's goroutine.
type session struct {
	id      string
	conn    *websocket.Conn
	tracker *recitation.Tracker
	buf     *recitation.TranscriptBuffer
	metrics *observe.Metrics

	history   history.Recorder
	refSource string
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Warn("session: websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.maxMessageBytes)

	id := r.URL.Query().Get("session")
	if _, perr := uuid.Parse(id); perr != nil {
		id = uuid.NewString()
	}
	ctx := observe.WithSessionID(r.Context(), id)
	log := observe.Logger(ctx)

	ref := s.refs.Get()
	// A shared comparer follows the server's aligner, so the tracker must
	// too. A private one keeps the aligner the session started with.
	var c compare.Comparer = s.comparer
	normalizer := func() recitation.Normalizer { return s.aligner.Load() }
	if c == nil {
		lc := local.New(s.aligner.Load())
		c = lc
		normalizer = func() recitation.Normalizer { return lc.Aligner() }
	}
	sess := &session{
		id:   id,
		conn: conn,
		tracker: recitation.NewTracker(ref.Body,
			recitation.WithComparer(c),
			recitation.WithNormalizerFunc(normalizer),
			recitation.WithSessionID(id),
			recitation.WithMetrics(s.metrics, "websocket"),
		),
		buf:       recitation.NewTranscriptBuffer(s.realtime.Load()),
		metrics:   s.metrics,
		history:   s.history,
		refSource: ref.Source,
	}

	s.track(conn)
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		s.untrack(conn)
		s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}()

	log.Info("session opened", "total_words", sess.tracker.TotalWords())
	err = sess.run(ctx)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		log.Info("session closed", "progress", sess.tracker.Progress())
	case errors.Is(err, context.Canceled):
		log.Info("session cancelled", "progress", sess.tracker.Progress())
	default:
		log.Warn("session ended", "err", err, "progress", sess.tracker.Progress())
	}
	sess.record(context.WithoutCancel(ctx))
	conn.Close(websocket.StatusNormalClosure, "")
}

// run sends the initial snapshot and then answers every client message with
// a snapshot or an error message until the connection ends.
func (se *session) run(ctx context.Context) error {
	if err := se.sendSnapshot(ctx); err != nil {
		return err
	}
	for {
		typ, data, err := se.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			if err := se.sendError(ctx, "binary messages are not supported"); err != nil {
				return err
			}
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := se.sendError(ctx, "invalid message: "+err.Error()); err != nil {
				return err
			}
			continue
		}

		if err := se.handle(ctx, msg); err != nil {
			observe.Logger(ctx).Warn("session: message failed", "type", msg.Type, "err", err)
			if err := se.sendError(ctx, err.Error()); err != nil {
				return err
			}
			continue
		}
		if err := se.sendSnapshot(ctx); err != nil {
			return err
		}
	}
}

func (se *session) handle(ctx context.Context, msg ClientMessage) error {
	changed := false
	switch msg.Type {
	case MsgPartial:
		changed = se.buf.AddPartial(msg.Text)
	case MsgFinal:
		changed = se.buf.AddFinal(msg.Text)
	case MsgTranscript:
		se.buf.Set(msg.Text)
		changed = true
	case MsgRestart:
		se.record(ctx)
		se.buf.Reset()
		se.tracker.Restart()
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if !changed {
		return nil
	}
	se.metrics.RecordTranscript(ctx, "websocket")
	return se.tracker.ProcessTranscript(ctx, se.buf.Text())
}

// record stores a summary of the attempt so far. Attempts with no resolved
// word are skipped by the recorder.
func (se *session) record(ctx context.Context) {
	if se.history == nil {
		return
	}
	rec := history.FromSnapshot("websocket", se.refSource, se.tracker.Snapshot())
	if err := se.history.Record(ctx, rec); err != nil {
		observe.Logger(ctx).Warn("session: record history", "err", err)
	}
}

func (se *session) sendSnapshot(ctx context.Context) error {
	snap := se.tracker.Snapshot()
	return se.write(ctx, ServerMessage{Type: MsgSnapshot, Snapshot: &snap})
}

func (se *session) sendError(ctx context.Context, message string) error {
	return se.write(ctx, ServerMessage{Type: MsgError, Message: message})
}

func (se *session) write(ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return se.conn.Write(ctx, websocket.MessageText, data)
}
