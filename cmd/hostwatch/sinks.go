package main

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
	awssink "github.com/reugn/hostwatch/aws"
	"github.com/reugn/hostwatch/extension"
	"github.com/reugn/hostwatch/internal/config"
	kafkasink "github.com/reugn/hostwatch/kafka"
	natssink "github.com/reugn/hostwatch/nats"
	redissink "github.com/reugn/hostwatch/redis"
	wssink "github.com/reugn/hostwatch/websocket"
)

// buildSinks returns the sinks in invocation order: the event log, the
// ingestion API poster, then every optional sink enabled in cfg. The
// returned function closes the sinks that own connections.
func buildSinks(ctx context.Context, cfg *config.Config, eventLog *extension.EventLog,
	log *zap.Logger) ([]hostwatch.Sink, func(), error) {
	posterOpts := []extension.Opt{
		extension.WithHTTPClient(&http.Client{Timeout: cfg.HTTP.Timeout}),
		extension.WithLogger(log),
	}
	if cfg.HTTP.Retries > 0 {
		posterOpts = append(posterOpts,
			extension.WithRetryFunc(extension.Retry(cfg.HTTP.Retries+1, cfg.HTTP.RetryBackoff)))
	}
	poster, err := extension.NewHTTPSink(cfg.Endpoint, posterOpts...)
	if err != nil {
		return nil, nil, err
	}

	sinks := []hostwatch.Sink{eventLog, poster}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Warn("Error closing sink", zap.Error(err))
			}
		}
	}

	origin := hostwatch.NewOrigin()
	add := func(sink hostwatch.Sink, err error) error {
		if err != nil {
			return err
		}
		sinks = append(sinks, sink)
		if c, ok := sink.(io.Closer); ok {
			closers = append(closers, c)
		}
		log.Info("Sink enabled", zap.String("sink", sink.Name()))
		return nil
	}

	s := cfg.Sinks
	var errs []error
	if s.Stdout {
		errs = append(errs, add(extension.NewStdoutSink(origin), nil))
	}
	if s.Redis.Addr != "" {
		sink, err := redissink.Dial(ctx, s.Redis.Addr, s.Redis.Channel, origin, log)
		errs = append(errs, add(sink, err))
	}
	if s.NATS.URL != "" {
		sink, err := natssink.Connect(s.NATS.URL, s.NATS.Subject, origin, log)
		errs = append(errs, add(sink, err))
	}
	if len(s.Kafka.Brokers) > 0 {
		sink, err := kafkasink.Dial(s.Kafka.Brokers, s.Kafka.Topic, origin, log)
		errs = append(errs, add(sink, err))
	}
	if s.WebSocket.URL != "" {
		sink, err := wssink.NewSink(ctx, s.WebSocket.URL, origin, log)
		errs = append(errs, add(sink, err))
	}
	if s.S3.Bucket != "" {
		errs = append(errs, add(newS3Sink(ctx, s.S3, origin, log)))
	}

	if err := errors.Join(errs...); err != nil {
		closeAll()
		return nil, nil, err
	}
	return sinks, closeAll, nil
}

func newS3Sink(ctx context.Context, cfg config.S3Config, origin hostwatch.Origin,
	log *zap.Logger) (hostwatch.Sink, error) {
	client, err := awssink.NewClient(ctx, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return awssink.NewS3Sink(client, awssink.S3SinkConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix},
		origin, log)
}
