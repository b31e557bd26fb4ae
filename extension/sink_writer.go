package extension

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/reugn/hostwatch"
)

// WriterSink writes every snapshot as a JSON encoded hostwatch.Observation
// line to an io.Writer.
type WriterSink struct {
	name   string
	writer io.Writer
	origin hostwatch.Origin
	mu     sync.Mutex

	opts options
}

var _ hostwatch.Sink = (*WriterSink)(nil)

// NewWriterSink returns a new WriterSink identified by name.
func NewWriterSink(name string, writer io.Writer, origin hostwatch.Origin,
	opts ...Opt) (*WriterSink, error) {
	if writer == nil {
		return nil, errors.New("writer is nil")
	}

	return &WriterSink{
		name:   name,
		writer: writer,
		origin: origin,
		opts:   applyOptions(opts),
	}, nil
}

// NewStdoutSink returns a WriterSink writing to standard output.
func NewStdoutSink(origin hostwatch.Origin, opts ...Opt) *WriterSink {
	sink, _ := NewWriterSink("stdout", os.Stdout, origin, opts...)
	return sink
}

// Name implements hostwatch.Sink.
func (s *WriterSink) Name() string {
	return s.name
}

// OnMetricsCollected writes one line. Write errors are returned after the
// retry function gives up.
func (s *WriterSink) OnMetricsCollected(ctx context.Context, snapshot hostwatch.Snapshot) error {
	line, err := json.Marshal(s.origin.Observe(snapshot, s.opts.now()))
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.opts.retryFunc(ctx, func() error {
		_, err := s.writer.Write(line)
		return err
	})
}
