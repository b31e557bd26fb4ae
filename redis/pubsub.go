// Package redis provides a sink publishing snapshots over Redis Pub/Sub.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// Publisher is the subset of redis.Client used by PubSubSink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// PubSubSink publishes every snapshot as a JSON encoded
// hostwatch.Observation to a Redis channel.
//
// In the Publish/Subscribe messaging paradigm senders are not programmed
// to send their messages to specific receivers. Rather, published messages
// are characterized into channels, without knowledge of what (if any)
// subscribers there may be.
type PubSubSink struct {
	publisher Publisher
	channel   string
	origin    hostwatch.Origin
	logger    *zap.Logger
	now       func() time.Time
}

var _ hostwatch.Sink = (*PubSubSink)(nil)

// NewPubSubSink returns a new PubSubSink publishing to channel.
func NewPubSubSink(publisher Publisher, channel string, origin hostwatch.Origin,
	logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PubSubSink{
		publisher: publisher,
		channel:   channel,
		origin:    origin,
		logger:    logger.With(zap.String("connector", "redis.pubsub")),
		now:       time.Now,
	}
}

// Dial connects to the Redis server at addr and returns a PubSubSink
// owning the connection.
func Dial(ctx context.Context, addr, channel string, origin hostwatch.Origin,
	logger *zap.Logger) (*PubSubSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewPubSubSink(client, channel, origin, logger), nil
}

// Name implements hostwatch.Sink.
func (ps *PubSubSink) Name() string {
	return "redis"
}

// OnMetricsCollected publishes the snapshot.
func (ps *PubSubSink) OnMetricsCollected(ctx context.Context, s hostwatch.Snapshot) error {
	payload, err := json.Marshal(ps.origin.Observe(s, ps.now()))
	if err != nil {
		return err
	}
	receivers, err := ps.publisher.Publish(ctx, ps.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", ps.channel, err)
	}
	ps.logger.Debug("Published metrics", zap.Int64("receivers", receivers))
	return nil
}

// Close closes the underlying client if it is closable.
func (ps *PubSubSink) Close() error {
	ps.logger.Info("Closing connector")
	if closer, ok := ps.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
