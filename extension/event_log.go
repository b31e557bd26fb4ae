package extension

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/reugn/hostwatch"
	"github.com/reugn/hostwatch/internal/ospkg"
)

// EventLogTimeLayout is the timestamp layout of event log records (UTC).
const EventLogTimeLayout = "2006-01-02 15:04:05Z"

// EventLog is an append-only text file of monitoring events, one record
// per line:
//
//	2024-03-01 10:00:00Z | CPU: 12.5% | RAM: 7812.5MB | Disk: 51200MB
//	2024-03-01 10:00:05Z | ERROR: [kafka] Sink failed: circuit breaker is open
//	2024-03-01 10:00:10Z | Monitoring stopped.
//
// Write failures are reported to the configured logger and never returned,
// so EventLog must not be given a logger that records into itself.
type EventLog struct {
	path string
	mu   sync.Mutex
	opts options
}

var _ hostwatch.Sink = (*EventLog)(nil)

// NewEventLog returns a new EventLog appending to the file at path.
// The file is created on first write.
func NewEventLog(path string, opts ...Opt) *EventLog {
	return &EventLog{
		path: path,
		opts: applyOptions(opts),
	}
}

// Name implements hostwatch.Sink.
func (l *EventLog) Name() string {
	return "file"
}

// Path returns the path of the log file.
func (l *EventLog) Path() string {
	return l.path
}

// OnMetricsCollected appends a snapshot record. It always returns nil.
func (l *EventLog) OnMetricsCollected(_ context.Context, s hostwatch.Snapshot) error {
	l.append("CPU: " + formatFloat(s.CPUUsagePercent) +
		"% | RAM: " + formatFloat(s.RAMUsedMB) +
		"MB | Disk: " + formatFloat(s.DiskUsedMB) + "MB")
	return nil
}

// Error appends an error record.
func (l *EventLog) Error(message string) {
	l.append("ERROR: " + message)
}

// Stopped appends a terminal record, such as a shutdown notice.
func (l *EventLog) Stopped(message string) {
	l.append(message)
}

func (l *EventLog) append(record string) {
	var b strings.Builder
	b.WriteString(l.opts.now().UTC().Format(EventLogTimeLayout))
	b.WriteString(" | ")
	// a record always occupies exactly one line
	b.WriteString(strings.NewReplacer("\r", " ", "\n", " ").Replace(record))
	b.WriteString(ospkg.NewLine)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.opts.retryFunc(context.Background(), func() error {
		return appendFile(l.path, b.String())
	}); err != nil {
		l.opts.logger.Error("Failed to write event log",
			zap.String("path", l.path),
			zap.Error(err))
	}
}

func appendFile(path, data string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(data); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
