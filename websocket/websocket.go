// Package websocket provides a sink streaming snapshots to a WebSocket
// server as text frames.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

const writeWait = 10 * time.Second

// Sink writes every snapshot as a JSON encoded hostwatch.Observation text
// message. After a failed write the connection is dropped and redialled on
// the next snapshot.
type Sink struct {
	url    string
	dialer *ws.Dialer
	origin hostwatch.Origin
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	conn *ws.Conn
}

var _ hostwatch.Sink = (*Sink)(nil)

// NewSink creates and returns a new Sink using the default dialer.
func NewSink(ctx context.Context, url string, origin hostwatch.Origin, logger *zap.Logger) (*Sink, error) {
	return NewSinkWithDialer(ctx, url, ws.DefaultDialer, origin, logger)
}

// NewSinkWithDialer returns a new Sink using the specified dialer. The
// connection is established before returning.
func NewSinkWithDialer(ctx context.Context, url string, dialer *ws.Dialer,
	origin hostwatch.Origin, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := &Sink{
		url:    url,
		dialer: dialer,
		origin: origin,
		logger: logger.With(zap.String("connector", "websocket")),
		now:    time.Now,
	}
	if err := sink.dial(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *Sink) dial(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	s.conn = conn
	return nil
}

// Name implements hostwatch.Sink.
func (s *Sink) Name() string {
	return "websocket"
}

// OnMetricsCollected writes the snapshot, redialling first if the previous
// write failed.
func (s *Sink) OnMetricsCollected(ctx context.Context, snapshot hostwatch.Snapshot) error {
	payload, err := json.Marshal(s.origin.Observe(snapshot, s.now()))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.dial(ctx); err != nil {
			return err
		}
		s.logger.Info("Reconnected", zap.String("url", s.url))
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(ws.TextMessage, payload); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Closing connector")
	if s.conn == nil {
		return nil
	}
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	writeErr := s.conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
	closeErr := s.conn.Close()
	s.conn = nil
	return errors.Join(writeErr, closeErr)
}
