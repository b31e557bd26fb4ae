// Package monitor implements the sampling loop that fans snapshots out to
// the registered sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

// StoppedMessage is recorded when the loop ends due to cancellation.
const StoppedMessage = "Monitoring stopped."

var (
	// ErrStopped is returned by Run once the loop has stopped.
	ErrStopped = errors.New("monitoring loop is stopped")
	// ErrRunning is returned by Run while another Run call is active.
	ErrRunning = errors.New("monitoring loop is already running")
)

// State describes the lifecycle stage of a Loop.
type State int32

const (
	Idle State = iota
	Running
	// Cancelled is the stopped state after the context was cancelled.
	Cancelled
	// Faulted is the stopped state after a sampling failure.
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Cancelled:
		return "Stopped(Cancelled)"
	case Faulted:
		return "Stopped(Faulted)"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// StopRecorder receives the terminal message of a cancelled loop.
type StopRecorder interface {
	Stopped(message string)
}

// Loop samples the host on a fixed interval and delivers every snapshot to
// each sink in registration order. A failing sink never affects the
// delivery to the other sinks or the following cycles.
type Loop struct {
	sampler  hostwatch.Sampler
	sinks    []hostwatch.Sink
	interval time.Duration
	state    atomic.Int32

	opts options
}

// New returns a new Loop. The sinks slice is copied; its order is the
// invocation order.
func New(sampler hostwatch.Sampler, interval time.Duration, sinks []hostwatch.Sink,
	opts ...Opt) (*Loop, error) {
	if sampler == nil {
		return nil, errors.New("sampler is nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval: %v", interval)
	}
	for i, sink := range sinks {
		if sink == nil {
			return nil, fmt.Errorf("sink at index %d is nil", i)
		}
	}

	loop := &Loop{
		sampler:  sampler,
		sinks:    append([]hostwatch.Sink(nil), sinks...),
		interval: interval,
		opts:     makeDefaultOptions(),
	}
	for _, opt := range opts {
		opt(&loop.opts)
	}
	return loop, nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run executes monitoring cycles until ctx is cancelled or sampling fails.
// It returns nil on cancellation and the sampling error on a fault.
// A Loop runs at most once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(Idle), int32(Running)) {
		if l.State() == Running {
			return ErrRunning
		}
		return ErrStopped
	}

	for {
		if ctx.Err() != nil {
			return l.cancel()
		}

		snapshot, err := l.sample(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return l.cancel()
			}
			l.state.Store(int32(Faulted))
			l.opts.logger.Error("Monitoring failed", zap.Error(err))
			return err
		}

		l.opts.logger.Sugar().Infof("CPU: %.1f%%, RAM: %.1fMB, Disk: %.1fMB",
			snapshot.CPUUsagePercent, snapshot.RAMUsedMB, snapshot.DiskUsedMB)

		for _, sink := range l.sinks {
			if err := deliver(ctx, sink, snapshot); err != nil {
				l.opts.logger.Error("Sink failed",
					zap.String("sink", sink.Name()),
					zap.Error(err))
			}
		}
		l.opts.onCycle(snapshot)

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.cancel()
		case <-timer.C:
		}
	}
}

func (l *Loop) cancel() error {
	l.state.Store(int32(Cancelled))
	l.opts.logger.Info(StoppedMessage)
	if l.opts.stopRecorder != nil {
		l.opts.stopRecorder.Stopped(StoppedMessage)
	}
	return nil
}

func (l *Loop) sample(ctx context.Context) (snapshot hostwatch.Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sampler panicked: %v", r)
		}
	}()

	snapshot, err = l.sampler.GetMetrics(ctx)
	if err != nil {
		return hostwatch.Snapshot{}, fmt.Errorf("get metrics: %w", err)
	}
	return snapshot, nil
}

// deliver hands the snapshot to a single sink, converting a panic into an
// error.
func deliver(ctx context.Context, sink hostwatch.Sink, snapshot hostwatch.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sink.OnMetricsCollected(ctx, snapshot)
}
