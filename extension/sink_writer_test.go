package extension

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reugn/hostwatch"
)

type failingWriter struct {
	calls int
}

func (w *failingWriter) Write([]byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestWriterSink(t *testing.T) {
	_, err := NewWriterSink("nil", nil, hostwatch.Origin{})
	assert.Error(t, err)

	var buf bytes.Buffer
	origin := hostwatch.Origin{Host: "web-1", AgentID: "agent-1"}
	sink, err := NewWriterSink("buffer", &buf, origin, WithClock(fixedClock))
	require.NoError(t, err)
	assert.Equal(t, "buffer", sink.Name())

	ctx := context.Background()
	require.NoError(t, sink.OnMetricsCollected(ctx, hostwatch.Snapshot{CPUUsagePercent: 1}))
	require.NoError(t, sink.OnMetricsCollected(ctx, hostwatch.Snapshot{CPUUsagePercent: 2}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var obs hostwatch.Observation
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &obs))
	assert.Equal(t, 2.0, obs.CPUUsagePercent)
	assert.Equal(t, "web-1", obs.Host)
	assert.Equal(t, "agent-1", obs.AgentID)
	assert.True(t, obs.ObservedAt.Equal(fixedClock()))
}

func TestWriterSink_ReturnsWriteError(t *testing.T) {
	w := &failingWriter{}
	sink, err := NewWriterSink("broken", w, hostwatch.Origin{}, WithRetryFunc(Retry(2, 0)))
	require.NoError(t, err)

	err = sink.OnMetricsCollected(context.Background(), hostwatch.Snapshot{})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 2, w.calls)
}

func TestNewStdoutSink(t *testing.T) {
	sink := NewStdoutSink(hostwatch.NewOrigin())
	assert.Equal(t, "stdout", sink.Name())
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(5, time.Hour)(ctx, func() error {
		calls++
		return errors.New("fail")
	})
	assert.EqualError(t, err, "fail")
	assert.Equal(t, 1, calls)
}
