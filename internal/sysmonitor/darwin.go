package sysmonitor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
)

const defaultPageSize = 4096

// DarwinSampler derives usage from the output of the top and vm_stat
// utilities shipped with macOS.
type DarwinSampler struct {
	opts options
}

var _ hostwatch.Sampler = (*DarwinSampler)(nil)

// NewDarwinSampler returns a new DarwinSampler.
func NewDarwinSampler(opts ...Opt) *DarwinSampler {
	return &DarwinSampler{opts: applyOptions(opts)}
}

// GetMetrics returns the current resource usage. It never fails; a failed
// sub-measurement is reported as 0.
func (s *DarwinSampler) GetMetrics(ctx context.Context) (hostwatch.Snapshot, error) {
	return snapshot(s.opts.logger,
		func() (float64, error) { return s.cpuUsage(ctx) },
		func() (float64, error) { return s.memoryUsedMB(ctx) },
		func() (float64, error) { return diskUsedMB(ctx, &s.opts) },
	), nil
}

func (s *DarwinSampler) cpuUsage(ctx context.Context) (float64, error) {
	out, err := s.opts.runner.Output(ctx, "top", "-l", "1", "-n", "0")
	if err != nil {
		return 0, fmt.Errorf("top: %w", err)
	}
	idle, err := parseTopIdle(out)
	if err != nil {
		return 0, err
	}
	return 100 - idle, nil
}

// parseTopIdle extracts the idle percentage from a line such as
// "CPU usage: 5.26% user, 10.52% sys, 84.21% idle".
func parseTopIdle(out []byte) (float64, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		_, stats, ok := strings.Cut(line, "CPU usage:")
		if !ok {
			continue
		}
		for _, part := range strings.Split(stats, ",") {
			fields := strings.Fields(part)
			if len(fields) != 2 || fields[1] != "idle" {
				continue
			}
			idle, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid idle value %q: %w", fields[0], err)
			}
			if idle < 0 || idle > 100 {
				return 0, fmt.Errorf("idle value %v out of range", idle)
			}
			return idle, nil
		}
		return 0, fmt.Errorf("no idle value in %q", line)
	}
	return 0, fmt.Errorf("no CPU usage line in top output")
}

func (s *DarwinSampler) memoryUsedMB(ctx context.Context) (float64, error) {
	out, err := s.opts.runner.Output(ctx, "vm_stat")
	if err != nil {
		return 0, fmt.Errorf("vm_stat: %w", err)
	}
	used, err := parseVMStat(out, s.opts.logger)
	if err != nil {
		return 0, err
	}
	return float64(used) / bytesPerMB, nil
}

// vmStatKeys are the page counts summed into used memory.
var vmStatKeys = []string{"Pages active", "Pages inactive", "Pages wired down"}

// parseVMStat returns the bytes held by active, inactive and wired pages.
// The page size is read from the header line when present. A missing or
// non-numeric count is logged and taken as 0; parsing fails only when none
// of the counts is present.
func parseVMStat(out []byte, logger *zap.Logger) (uint64, error) {
	pageSize := uint64(defaultPageSize)
	pages := map[string]uint64{}
	seen := map[string]bool{}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if _, rest, ok := strings.Cut(line, "page size of "); ok {
			if fields := strings.Fields(rest); len(fields) > 0 {
				if size, err := strconv.ParseUint(fields[0], 10, 64); err == nil && size > 0 {
					pageSize = size
				}
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key = strings.TrimSpace(key); key {
		case "Pages active", "Pages inactive", "Pages wired down":
			seen[key] = true
			n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimSpace(value), "."), 10, 64)
			if err != nil {
				logger.Warn("Invalid vm_stat page count",
					zap.String("key", key),
					zap.String("value", strings.TrimSpace(value)))
				continue
			}
			pages[key] = n
		}
	}

	if len(seen) == 0 {
		return 0, fmt.Errorf("vm_stat output lacks active, inactive and wired page counts")
	}

	var total uint64
	for _, key := range vmStatKeys {
		if !seen[key] {
			logger.Warn("Missing vm_stat page count", zap.String("key", key))
		}
		total += pages[key]
	}
	return total * pageSize, nil
}
