// Package sysmonitor implements the platform specific samplers of host
// CPU, memory and disk usage.
package sysmonitor

import (
	"errors"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

const bytesPerMB = 1024 * 1024

// ErrUnsupported is returned when a sampler variant is not available on
// the running operating system.
var ErrUnsupported = errors.New("sampler is not supported on this platform")

// New returns the Sampler variant for the running operating system.
// Operating systems without a dedicated variant get the portable sampler.
func New(opts ...Opt) (hostwatch.Sampler, error) {
	return newForOS(runtime.GOOS, opts...)
}

func newForOS(goos string, opts ...Opt) (hostwatch.Sampler, error) {
	switch goos {
	case "linux":
		return NewLinuxSampler(opts...), nil
	case "darwin":
		return NewDarwinSampler(opts...), nil
	case "windows":
		s, err := NewWindowsSampler(opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return NewPortableSampler(opts...), nil
	}
}

// measure runs one sub-measurement. An error or a panic is logged and
// yields 0 so that the remaining measurements are unaffected.
func measure(logger *zap.Logger, metric string, fn func() (float64, error)) (value float64) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Measurement panicked",
				zap.String("metric", metric),
				zap.Error(fmt.Errorf("panic: %v", r)))
			value = 0
		}
	}()

	value, err := fn()
	if err != nil {
		logger.Error("Measurement failed",
			zap.String("metric", metric),
			zap.Error(err))
		return 0
	}
	return value
}

// snapshot measures the three metrics independently.
func snapshot(logger *zap.Logger, cpu, ram, disk func() (float64, error)) hostwatch.Snapshot {
	return hostwatch.NewSnapshot(
		measure(logger, "cpu", cpu),
		measure(logger, "ram", ram),
		measure(logger, "disk", disk),
	)
}
