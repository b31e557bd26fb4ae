package sysmonitor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const memInfo = `MemTotal:       16000000 kB
MemFree:         1000000 kB
MemAvailable:    8000000 kB
Buffers:          200000 kB
`

func TestParseCPUTimes(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantTotal uint64
		wantIdle  uint64
		wantErr   bool
	}{
		{
			name:      "aggregate line",
			input:     "cpu  100 5 50 800 20 0 3 0 0 0\ncpu0 50 2 25 400 10 0 1 0 0 0\n",
			wantTotal: 978,
			wantIdle:  800,
		},
		{
			name:      "aggregate line not first",
			input:     "intr 12345\ncpu 1 2 3 4\n",
			wantTotal: 10,
			wantIdle:  4,
		},
		{name: "per-cpu lines only", input: "cpu0 1 2 3 4\n", wantErr: true},
		{name: "too few values", input: "cpu 1 2 3\n", wantErr: true},
		{name: "non numeric value", input: "cpu 1 2 x 4\n", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, idle, err := parseCPUTimes(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.wantIdle, idle)
		})
	}
}

func TestParseMemInfo(t *testing.T) {
	total, available, err := parseMemInfo(strings.NewReader(memInfo))
	require.NoError(t, err)
	assert.Equal(t, uint64(16000000), total)
	assert.Equal(t, uint64(8000000), available)

	_, _, err = parseMemInfo(strings.NewReader("MemTotal: 16000000 kB\nMemFree: 1 kB\n"))
	assert.ErrorContains(t, err, "found 1 of 2")
}

func TestBusyPercent(t *testing.T) {
	assert.Equal(t, 0.0, busyPercent(0, 0))
	assert.Equal(t, 0.0, busyPercent(100, 100))
	assert.Equal(t, 100.0, busyPercent(100, 0))
	assert.Equal(t, 0.0, busyPercent(100, 150))
	assert.InDelta(t, 25.0, busyPercent(200, 150), 1e-9)
}

func TestLinuxSampler_GetMetrics(t *testing.T) {
	fs := mockFS{
		procStatPath:    "cpu 100 0 100 800 0 0 0 0\n",
		procMemInfoPath: memInfo,
	}
	s := NewLinuxSampler(
		WithFileSystem(fs),
		WithDiskUsage(fixedDisk(100*mb, 40*mb, 50*mb)),
	)

	fs[procStatPath] = "cpu 350 0 150 1000 0 0 0 0\n"
	snap, err := s.GetMetrics(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 60.0, snap.CPUUsagePercent, 1e-9)
	assert.Equal(t, 7812.5, snap.RAMUsedMB)
	assert.Equal(t, 50.0, snap.DiskUsedMB)
}

func TestLinuxSampler_EqualTotalsReportZero(t *testing.T) {
	fs := mockFS{
		procStatPath:    "cpu 100 0 100 800 0 0 0 0\n",
		procMemInfoPath: memInfo,
	}
	s := NewLinuxSampler(WithFileSystem(fs), WithDiskUsage(fixedDisk(0, 0, 0)))

	for i := 0; i < 3; i++ {
		snap, err := s.GetMetrics(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0.0, snap.CPUUsagePercent)
	}
}

func TestLinuxSampler_UnprimedFirstSampleIsZero(t *testing.T) {
	fs := mockFS{procMemInfoPath: memInfo}
	logger, logs := observedLogger()
	s := NewLinuxSampler(WithFileSystem(fs), WithDiskUsage(fixedDisk(0, 0, 0)), WithLogger(logger))
	assert.Equal(t, 1, logs.FilterMessageSnippet("prime CPU baseline").Len())

	fs[procStatPath] = "cpu 0 0 0 1000 0 0 0 0\n"
	snap, err := s.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.CPUUsagePercent)

	fs[procStatPath] = "cpu 500 0 0 1500 0 0 0 0\n"
	snap, err = s.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, snap.CPUUsagePercent, 1e-9)
}

func TestLinuxSampler_CountersReset(t *testing.T) {
	fs := mockFS{procStatPath: "cpu 500 0 500 5000 0 0 0 0\n"}
	s := NewLinuxSampler(WithFileSystem(fs), WithDiskUsage(fixedDisk(0, 0, 0)))

	fs[procStatPath] = "cpu 10 0 10 100 0 0 0 0\n"
	usage, err := s.cpuUsage()
	require.NoError(t, err)
	assert.Equal(t, 0.0, usage)

	fs[procStatPath] = "cpu 20 0 20 120 0 0 0 0\n"
	usage, err = s.cpuUsage()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, usage, 1e-9)
}

func TestLinuxSampler_IsolatesFailures(t *testing.T) {
	fs := mockFS{
		procStatPath:    "cpu 100 0 100 800 0 0 0 0\n",
		procMemInfoPath: "garbage\n",
	}
	logger, logs := observedLogger()
	s := NewLinuxSampler(WithFileSystem(fs), WithDiskUsage(failingDisk), WithLogger(logger))

	fs[procStatPath] = "cpu 200 0 100 900 0 0 0 0\n"
	snap, err := s.GetMetrics(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 50.0, snap.CPUUsagePercent, 1e-9)
	assert.Equal(t, 0.0, snap.RAMUsedMB)
	assert.Equal(t, 0.0, snap.DiskUsedMB)

	failures := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, failures, 2)
	assert.Equal(t, "ram", failures[0].ContextMap()["metric"])
	assert.Equal(t, "disk", failures[1].ContextMap()["metric"])
}
