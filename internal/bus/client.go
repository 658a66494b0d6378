// Package bus bridges a NATS speech-recognition feed to a recitation
// tracker.
//
// Recognizers publish transcripts on "stt.text.partial" and
// "stt.text.final" as JSON [Transcript] messages. The [Bridge] accumulates
// them per session, feeds the full transcript to its tracker and publishes
// each resulting [types.Snapshot] on the progress subject. An optional
// [EmbeddedServer] removes the need for an external broker.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/paath/internal/config"
)

// ErrNotConnected is returned by [Client.Check] when the connection is down.
var ErrNotConnected = errors.New("bus: not connected")

// Client wraps a NATS connection.
type Client struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials url with the credentials and timeout from cfg.
func Connect(url string, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if url == "" {
		return nil, errors.New("bus: no NATS servers configured")
	}
	if log == nil {
		log = slog.Default()
	}

	options := []nats.Option{
		nats.Name("paath"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	}
	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to nats: %w", err)
	}
	log.Info("connected to NATS", slog.String("servers", url))
	return &Client{conn: conn, log: log}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// Check reports whether the connection is up. It has the shape of a
// readiness probe.
func (c *Client) Check(context.Context) error {
	if c == nil || c.conn == nil || c.conn.Status() != nats.CONNECTED {
		return ErrNotConnected
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (c *Client) Close() {
	if c == nil || c.conn == nil {
		return
	}
	c.log.Info("closing NATS connection")
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
