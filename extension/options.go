package extension

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultHTTPTimeout = 10 * time.Second

// options represents configuration options for the standard sinks.
type options struct {
	logger    *zap.Logger
	client    *http.Client
	now       func() time.Time
	retryFunc func(context.Context, func() error) error
}

// makeDefaultOptions returns an options with default values.
func makeDefaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		client:    &http.Client{Timeout: defaultHTTPTimeout},
		now:       time.Now,
		retryFunc: func(_ context.Context, f func() error) error { return f() },
	}
}

// Opt is a functional option type used to configure an options.
type Opt func(*options)

// WithLogger configures the options with a custom logger.
// If not specified, log entries are discarded.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient configures the client used by HTTP based sinks.
// The client is reused for every request.
func WithHTTPClient(client *http.Client) Opt {
	return func(o *options) {
		if client != nil {
			o.client = client
		}
	}
}

// WithClock replaces the time source used to stamp records.
func WithClock(now func() time.Time) Opt {
	return func(o *options) {
		o.now = now
	}
}

// WithRetryFunc configures the options with a custom retry function.
// This function will be used to retry operations that fail.
// If not specified, the default implementation will execute the function once
// without retries.
//
// The retry function receives the context and the function to be retried.
// It should handle the retry logic, respecting the context's cancellation signal.
func WithRetryFunc(retryFunc func(context.Context, func() error) error) Opt {
	return func(o *options) {
		o.retryFunc = retryFunc
	}
}

func applyOptions(opts []Opt) options {
	o := makeDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Retry returns a retry function that makes up to attempts calls of f,
// sleeping backoff between them. It stops early when ctx is done.
func Retry(attempts int, backoff time.Duration) func(context.Context, func() error) error {
	return func(ctx context.Context, f func() error) error {
		var err error
		for i := 0; i < attempts; i++ {
			if err = f(); err == nil {
				return nil
			}
			if i == attempts-1 {
				break
			}
			select {
			case <-ctx.Done():
				return err
			case <-time.After(backoff):
			}
		}
		return err
	}
}
