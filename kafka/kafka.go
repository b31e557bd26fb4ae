// Package kafka provides a sink producing snapshots to an Apache Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// Sink sends every snapshot as a JSON encoded hostwatch.Observation using a
// synchronous producer. Messages are keyed by agent id so that the records
// of one agent stay ordered within a partition.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	origin   hostwatch.Origin
	logger   *zap.Logger
	now      func() time.Time
}

var _ hostwatch.Sink = (*Sink)(nil)

// NewSink returns a new Sink producing to topic.
func NewSink(producer sarama.SyncProducer, topic string, origin hostwatch.Origin,
	logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		producer: producer,
		topic:    topic,
		origin:   origin,
		logger:   logger.With(zap.String("connector", "kafka")),
		now:      time.Now,
	}
}

// NewProducerConfig returns the producer configuration used by Dial.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "hostwatch"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	return config
}

// Dial creates a synchronous producer for the given brokers and returns a
// Sink owning it.
func Dial(brokers []string, topic string, origin hostwatch.Origin, logger *zap.Logger) (*Sink, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewSink(producer, topic, origin, logger), nil
}

// Name implements hostwatch.Sink.
func (ks *Sink) Name() string {
	return "kafka"
}

// OnMetricsCollected sends the snapshot and waits for the acknowledgement.
func (ks *Sink) OnMetricsCollected(_ context.Context, s hostwatch.Snapshot) error {
	payload, err := json.Marshal(ks.origin.Observe(s, ks.now()))
	if err != nil {
		return err
	}

	partition, offset, err := ks.producer.SendMessage(&sarama.ProducerMessage{
		Topic: ks.topic,
		Key:   sarama.StringEncoder(ks.origin.AgentID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", ks.topic, err)
	}
	ks.logger.Debug("Message produced",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the producer.
func (ks *Sink) Close() error {
	ks.logger.Info("Closing connector")
	return ks.producer.Close()
}
