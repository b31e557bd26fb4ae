package sysmonitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/reugn/hostwatch"
)

// PortableSampler relies on gopsutil for every metric. It serves operating
// systems without a dedicated variant.
type PortableSampler struct {
	opts   options
	cpu    func(ctx context.Context) ([]float64, error)
	memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

var _ hostwatch.Sampler = (*PortableSampler)(nil)

// NewPortableSampler returns a new PortableSampler.
func NewPortableSampler(opts ...Opt) *PortableSampler {
	return &PortableSampler{
		opts: applyOptions(opts),
		cpu: func(ctx context.Context) ([]float64, error) {
			// zero interval compares against the previous call
			return cpu.PercentWithContext(ctx, 0, false)
		},
		memory: mem.VirtualMemoryWithContext,
	}
}

// GetMetrics returns the current resource usage. It never fails; a failed
// sub-measurement is reported as 0.
func (s *PortableSampler) GetMetrics(ctx context.Context) (hostwatch.Snapshot, error) {
	return snapshot(s.opts.logger,
		func() (float64, error) { return s.cpuUsage(ctx) },
		func() (float64, error) { return s.memoryUsedMB(ctx) },
		func() (float64, error) { return diskUsedMB(ctx, &s.opts) },
	), nil
}

func (s *PortableSampler) cpuUsage(ctx context.Context) (float64, error) {
	percents, err := s.cpu(ctx)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percents) == 0 {
		return 0, errors.New("cpu percent: no values")
	}
	return percents[0], nil
}

func (s *PortableSampler) memoryUsedMB(ctx context.Context) (float64, error) {
	vm, err := s.memory(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	if vm.Available > vm.Total {
		return 0, fmt.Errorf("available memory %d exceeds total %d", vm.Available, vm.Total)
	}
	return float64(vm.Total-vm.Available) / bytesPerMB, nil
}
