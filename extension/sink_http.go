package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// MetricsPath is the ingestion API route, relative to the base URL.
const MetricsPath = "/api/metrics"

// StatusError reports a non-2xx response of the ingestion API.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return "unexpected response status: " + e.Status
}

// HTTPSink posts every snapshot as JSON to the ingestion API.
// Delivery failures are logged and never returned to the caller.
type HTTPSink struct {
	url  string
	opts options
}

var _ hostwatch.Sink = (*HTTPSink)(nil)

// NewHTTPSink returns a new HTTPSink posting to baseURL + MetricsPath.
func NewHTTPSink(baseURL string, opts ...Opt) (*HTTPSink, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}

	o := applyOptions(opts)
	o.logger = o.logger.With(zap.String("connector", "api"))
	return &HTTPSink{
		url:  strings.TrimRight(baseURL, "/") + MetricsPath,
		opts: o,
	}, nil
}

// Name implements hostwatch.Sink.
func (s *HTTPSink) Name() string {
	return "api"
}

// URL returns the target URL of the sink.
func (s *HTTPSink) URL() string {
	return s.url
}

// OnMetricsCollected posts the snapshot. It always returns nil.
func (s *HTTPSink) OnMetricsCollected(ctx context.Context, snapshot hostwatch.Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		s.opts.logger.Error("Failed to encode metrics", zap.Error(err))
		return nil
	}

	if err := s.opts.retryFunc(ctx, func() error {
		return s.post(ctx, body)
	}); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			s.opts.logger.Error("Failed to send metrics",
				zap.String("url", s.url),
				zap.Int("status", statusErr.StatusCode),
				zap.Error(err))
		} else {
			s.opts.logger.Error("Error sending metrics",
				zap.String("url", s.url),
				zap.Error(err))
		}
	}
	return nil
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.opts.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
