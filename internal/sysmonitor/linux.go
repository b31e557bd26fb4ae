package sysmonitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/reugn/hostwatch"
)

const (
	procStatPath    = "/proc/stat"
	procMemInfoPath = "/proc/meminfo"
)

// LinuxSampler reads CPU and memory statistics from procfs.
//
// CPU usage is the busy share of the aggregate tick counters since the
// previous call, so the sampler keeps the last observed totals.
type LinuxSampler struct {
	opts options

	mu        sync.Mutex
	lastTotal uint64
	lastIdle  uint64
	primed    bool
}

var _ hostwatch.Sampler = (*LinuxSampler)(nil)

// NewLinuxSampler returns a new LinuxSampler. The CPU baseline is taken
// immediately, so the first GetMetrics call reports usage since construction.
func NewLinuxSampler(opts ...Opt) *LinuxSampler {
	s := &LinuxSampler{opts: applyOptions(opts)}
	if _, err := s.cpuUsage(); err != nil {
		s.opts.logger.Sugar().Debugf("Failed to prime CPU baseline: %v", err)
	}
	return s
}

// GetMetrics returns the current resource usage. It never fails; a failed
// sub-measurement is reported as 0.
func (s *LinuxSampler) GetMetrics(ctx context.Context) (hostwatch.Snapshot, error) {
	return snapshot(s.opts.logger,
		s.cpuUsage,
		s.memoryUsedMB,
		func() (float64, error) { return diskUsedMB(ctx, &s.opts) },
	), nil
}

// cpuUsage returns the CPU usage since the previous call. Until a baseline
// exists, or when the counters did not advance, it returns 0.
func (s *LinuxSampler) cpuUsage() (float64, error) {
	f, err := s.opts.fs.Open(procStatPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total, idle, err := parseCPUTimes(f)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevTotal, prevIdle, primed := s.lastTotal, s.lastIdle, s.primed
	s.lastTotal, s.lastIdle, s.primed = total, idle, true

	// counters went backwards: treat as a fresh baseline
	if !primed || total < prevTotal || idle < prevIdle {
		return 0, nil
	}
	return busyPercent(total-prevTotal, idle-prevIdle), nil
}

// busyPercent converts tick deltas into a usage percentage.
func busyPercent(deltaTotal, deltaIdle uint64) float64 {
	if deltaTotal == 0 {
		return 0
	}
	if deltaIdle > deltaTotal {
		deltaIdle = deltaTotal
	}
	return 100 * (1 - float64(deltaIdle)/float64(deltaTotal))
}

// parseCPUTimes reads the aggregate "cpu" line of /proc/stat and returns
// the sum of all tick counters and the idle counter (fourth value).
func parseCPUTimes(r io.Reader) (total, idle uint64, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}

		values := fields[1:]
		if len(values) < 4 {
			return 0, 0, fmt.Errorf("cpu line has %d values, need at least 4", len(values))
		}
		for i, field := range values {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("invalid cpu tick value %q: %w", field, err)
			}
			total += v
			if i == 3 {
				idle = v
			}
		}
		return total, idle, nil
	}

	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("error reading %s: %w", procStatPath, err)
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line in %s", procStatPath)
}

func (s *LinuxSampler) memoryUsedMB() (float64, error) {
	f, err := s.opts.fs.Open(procMemInfoPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	totalKB, availableKB, err := parseMemInfo(f)
	if err != nil {
		return 0, err
	}
	if availableKB > totalKB {
		return 0, fmt.Errorf("MemAvailable %d kB exceeds MemTotal %d kB", availableKB, totalKB)
	}
	return float64(totalKB-availableKB) / 1024, nil
}

// parseMemInfo returns the MemTotal and MemAvailable values in kB.
func parseMemInfo(r io.Reader) (totalKB, availableKB uint64, err error) {
	scanner := bufio.NewScanner(r)
	found := 0

	for scanner.Scan() && found < 2 {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		key := strings.TrimSuffix(fields[0], ":")
		if key != "MemTotal" && key != "MemAvailable" {
			continue
		}
		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}

		switch key {
		case "MemTotal":
			totalKB = value
		case "MemAvailable":
			availableKB = value
		}
		found++
	}

	if err := scanner.Err(); err != nil {
		return 0, 0, fmt.Errorf("error reading meminfo: %w", err)
	}
	if found != 2 {
		return 0, 0, fmt.Errorf(
			"could not find MemTotal and MemAvailable in %s (found %d of 2 required fields)",
			procMemInfoPath, found)
	}
	return totalKB, availableKB, nil
}
