// Package nats provides a sink publishing snapshots to a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// Publisher is the subset of nats.Conn used by Sink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes every snapshot as a JSON encoded hostwatch.Observation.
type Sink struct {
	publisher Publisher
	subject   string
	origin    hostwatch.Origin
	logger    *zap.Logger
	now       func() time.Time
}

var _ hostwatch.Sink = (*Sink)(nil)

// NewSink returns a new Sink publishing to subject.
func NewSink(publisher Publisher, subject string, origin hostwatch.Origin,
	logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		publisher: publisher,
		subject:   subject,
		origin:    origin,
		logger:    logger.With(zap.String("connector", "nats")),
		now:       time.Now,
	}
}

// Connect dials the NATS server at url and returns a Sink owning the
// connection. The client reconnects on its own after a lost connection.
func Connect(url, subject string, origin hostwatch.Origin, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("hostwatch-"+origin.Host),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return NewSink(nc, subject, origin, logger), nil
}

// Name implements hostwatch.Sink.
func (s *Sink) Name() string {
	return "nats"
}

// OnMetricsCollected publishes the snapshot.
func (s *Sink) OnMetricsCollected(_ context.Context, snapshot hostwatch.Snapshot) error {
	payload, err := json.Marshal(s.origin.Observe(snapshot, s.now()))
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(s.subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}
	return nil
}

// Close drains the connection when the sink owns one.
func (s *Sink) Close() error {
	s.logger.Info("Closing connector")
	if nc, ok := s.publisher.(*nats.Conn); ok {
		return nc.Drain()
	}
	return nil
}
