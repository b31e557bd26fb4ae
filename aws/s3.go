// Package aws provides a sink archiving snapshots as objects in AWS S3.
package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// PutObjectAPI is the subset of s3.Client used by S3Sink.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput,
		optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3SinkConfig represents the configuration options for the S3 sink.
type S3SinkConfig struct {
	// The name of the S3 bucket to write to.
	Bucket string
	// Key prefix of the stored objects. Defaults to "hostwatch".
	Prefix string
}

// S3Sink stores every snapshot as one JSON encoded hostwatch.Observation
// object under <prefix>/<host>/<yyyy>/<mm>/<dd>/<unix-nanos>.json.
type S3Sink struct {
	client PutObjectAPI
	config S3SinkConfig
	origin hostwatch.Origin
	logger *zap.Logger
	now    func() time.Time
}

var _ hostwatch.Sink = (*S3Sink)(nil)

// NewS3Sink returns a new S3Sink.
func NewS3Sink(client PutObjectAPI, cfg S3SinkConfig, origin hostwatch.Origin,
	logger *zap.Logger) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "hostwatch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{
		client: client,
		config: cfg,
		origin: origin,
		logger: logger.With(zap.String("connector", "aws.s3")),
		now:    time.Now,
	}, nil
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint selects an S3 compatible service with path-style addressing.
func NewClient(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Name implements hostwatch.Sink.
func (s *S3Sink) Name() string {
	return "s3"
}

// OnMetricsCollected uploads the snapshot.
func (s *S3Sink) OnMetricsCollected(ctx context.Context, snapshot hostwatch.Snapshot) error {
	obs := s.origin.Observe(snapshot, s.now())
	data, err := json.Marshal(obs)
	if err != nil {
		return err
	}

	key := s.objectKey(obs.ObservedAt)
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}

	s.logger.Debug("Object successfully stored", zap.String("key", key),
		zap.Stringp("etag", out.ETag))
	return nil
}

func (s *S3Sink) objectKey(at time.Time) string {
	return path.Join(s.config.Prefix, s.origin.Host, at.Format("2006/01/02"),
		strconv.FormatInt(at.UnixNano(), 10)+".json")
}
