package sysmonitor

import (
	"context"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/reugn/hostwatch/internal/ospkg"
)

// DiskUsageFunc reports file system usage for the given path.
type DiskUsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// options represents configuration options for the platform samplers.
type options struct {
	logger    *zap.Logger
	fs        FileSystem
	runner    CommandRunner
	diskUsage DiskUsageFunc
	diskRoot  string
}

// makeDefaultOptions returns an options with default values.
func makeDefaultOptions() options {
	return options{
		logger:    zap.NewNop(),
		fs:        OSFileSystem{},
		runner:    ExecRunner{},
		diskUsage: disk.UsageWithContext,
		diskRoot:  ospkg.DiskRoot(),
	}
}

// Opt is a functional option type used to configure a sampler.
type Opt func(*options)

// WithLogger configures the logger used to report failed measurements.
// If not specified, failures are discarded silently.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFileSystem replaces the file system used to read kernel statistics.
func WithFileSystem(fs FileSystem) Opt {
	return func(o *options) {
		o.fs = fs
	}
}

// WithCommandRunner replaces the runner used to invoke system utilities.
func WithCommandRunner(runner CommandRunner) Opt {
	return func(o *options) {
		o.runner = runner
	}
}

// WithDiskUsage replaces the disk usage query.
func WithDiskUsage(fn DiskUsageFunc) Opt {
	return func(o *options) {
		o.diskUsage = fn
	}
}

// WithDiskRoot sets the path whose file system usage is reported.
func WithDiskRoot(path string) Opt {
	return func(o *options) {
		o.diskRoot = path
	}
}

func applyOptions(opts []Opt) options {
	o := makeDefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
