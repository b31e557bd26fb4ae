package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Recorder durably stores error events.
type Recorder interface {
	Error(message string)
}

// Tee returns a copy of l that additionally forwards every entry at Error
// level or above to rec. The recorded message is the entry message followed
// by the "error" field, if present.
func Tee(l *Logger, rec Recorder) *Logger {
	return Wrap(l.Logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, &recorderCore{rec: rec})
	})))
}

// recorderCore is a zapcore.Core that hands error entries to a Recorder.
type recorderCore struct {
	rec    Recorder
	fields []zapcore.Field
}

var _ zapcore.Core = (*recorderCore)(nil)

func (c *recorderCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= zapcore.ErrorLevel
}

func (c *recorderCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &recorderCore{rec: c.rec, fields: merged}
}

func (c *recorderCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *recorderCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	var b strings.Builder
	if name, ok := enc.Fields["sink"].(string); ok {
		b.WriteString("[")
		b.WriteString(name)
		b.WriteString("] ")
	}
	b.WriteString(ent.Message)
	if errText, ok := enc.Fields["error"].(string); ok && errText != "" {
		b.WriteString(": ")
		b.WriteString(errText)
	}
	c.rec.Error(b.String())
	return nil
}

func (c *recorderCore) Sync() error { return nil }
