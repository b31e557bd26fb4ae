// Package hostwatch defines the value types and port interfaces shared by the
// host resource monitoring agent.
package hostwatch

import (
	"context"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a single point-in-time reading of host resource usage.
// It carries no timestamp; consumers attach one at observation time.
type Snapshot struct {
	CPUUsagePercent float64 `json:"cpuUsagePercent"`
	RAMUsedMB       float64 `json:"ramUsedMb"`
	DiskUsedMB      float64 `json:"diskUsedMb"`
}

// NewSnapshot returns a Snapshot with invalid readings replaced.
// NaN, infinite and negative values become 0 and CPU usage is capped at 100.
func NewSnapshot(cpuPercent, ramMB, diskMB float64) Snapshot {
	cpuPercent = sanitize(cpuPercent)
	if cpuPercent > 100 {
		cpuPercent = 100
	}
	return Snapshot{
		CPUUsagePercent: cpuPercent,
		RAMUsedMB:       sanitize(ramMB),
		DiskUsedMB:      sanitize(diskMB),
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// Sampler produces Snapshots of the local machine on demand.
type Sampler interface {
	GetMetrics(ctx context.Context) (Snapshot, error)
}

// Sink consumes Snapshots produced by the monitoring loop.
// A returned error is reported by the caller and never stops the loop.
type Sink interface {
	// Name identifies the sink in failure reports.
	Name() string
	OnMetricsCollected(ctx context.Context, s Snapshot) error
}

// SinkFunc adapts a plain function to the Sink interface.
func SinkFunc(name string, fn func(context.Context, Snapshot) error) Sink {
	return &funcSink{name: name, fn: fn}
}

type funcSink struct {
	name string
	fn   func(context.Context, Snapshot) error
}

func (f *funcSink) Name() string { return f.name }

func (f *funcSink) OnMetricsCollected(ctx context.Context, s Snapshot) error {
	return f.fn(ctx, s)
}

// Origin identifies the agent process that produced an Observation.
type Origin struct {
	Host    string `json:"host"`
	AgentID string `json:"agentId"`
}

// NewOrigin returns the Origin of the running process. A fresh agent id is
// generated on every call.
func NewOrigin() Origin {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return Origin{Host: host, AgentID: uuid.NewString()}
}

// Observation is a Snapshot stamped with its origin and observation time.
// Broker and storage sinks use it as their wire payload.
type Observation struct {
	Snapshot
	Origin
	ObservedAt time.Time `json:"observedAt"`
}

// Observe stamps s with the origin and the given time in UTC.
func (o Origin) Observe(s Snapshot, at time.Time) Observation {
	return Observation{Snapshot: s, Origin: o, ObservedAt: at.UTC()}
}
