package monitor

import (
	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

type options struct {
	logger       *zap.Logger
	stopRecorder StopRecorder
	onCycle      func(hostwatch.Snapshot)
}

func makeDefaultOptions() options {
	return options{
		logger:  zap.NewNop(),
		onCycle: func(hostwatch.Snapshot) {},
	}
}

// Opt is a functional option type used to configure a Loop.
type Opt func(*options)

// WithLogger configures the logger receiving progress lines and failures.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStopRecorder configures where the terminal message is recorded when
// the loop is cancelled.
func WithStopRecorder(r StopRecorder) Opt {
	return func(o *options) {
		o.stopRecorder = r
	}
}

// WithCycleHook registers a function called after every completed fan-out.
func WithCycleHook(fn func(hostwatch.Snapshot)) Opt {
	return func(o *options) {
		if fn != nil {
			o.onCycle = fn
		}
	}
}
