package sysmonitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/reugn/hostwatch"
)

// windowsBackend queries the operating system on behalf of WindowsSampler.
type windowsBackend interface {
	// processorLoad returns the LoadPercentage of every processor.
	processorLoad(ctx context.Context) ([]uint16, error)
	// physicalMemory returns total and available physical memory in bytes.
	physicalMemory() (total, available uint64, err error)
}

// WindowsSampler reads processor load from WMI and physical memory from
// GlobalMemoryStatusEx. Disk usage refers to the system drive.
type WindowsSampler struct {
	opts    options
	backend windowsBackend
}

var _ hostwatch.Sampler = (*WindowsSampler)(nil)

// NewWindowsSampler returns a new WindowsSampler. It fails with
// ErrUnsupported on other operating systems.
func NewWindowsSampler(opts ...Opt) (*WindowsSampler, error) {
	backend, err := newWindowsBackend()
	if err != nil {
		return nil, err
	}
	return &WindowsSampler{opts: applyOptions(opts), backend: backend}, nil
}

// GetMetrics returns the current resource usage. It never fails; a failed
// sub-measurement is reported as 0.
func (s *WindowsSampler) GetMetrics(ctx context.Context) (hostwatch.Snapshot, error) {
	return snapshot(s.opts.logger,
		func() (float64, error) { return s.cpuUsage(ctx) },
		s.memoryUsedMB,
		func() (float64, error) { return diskUsedAvailableMB(ctx, &s.opts) },
	), nil
}

// cpuUsage averages the load percentage over all processors.
func (s *WindowsSampler) cpuUsage(ctx context.Context) (float64, error) {
	loads, err := s.backend.processorLoad(ctx)
	if err != nil {
		return 0, fmt.Errorf("query Win32_Processor: %w", err)
	}
	if len(loads) == 0 {
		return 0, errors.New("query Win32_Processor: no processors reported")
	}
	var sum float64
	for _, load := range loads {
		sum += float64(load)
	}
	return sum / float64(len(loads)), nil
}

func (s *WindowsSampler) memoryUsedMB() (float64, error) {
	total, available, err := s.backend.physicalMemory()
	if err != nil {
		return 0, fmt.Errorf("GlobalMemoryStatusEx: %w", err)
	}
	if available > total {
		return 0, fmt.Errorf("available memory %d exceeds total %d", available, total)
	}
	return float64(total-available) / bytesPerMB, nil
}
