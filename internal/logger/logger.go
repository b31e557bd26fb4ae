// Package logger builds the process-wide zap logger.
package logger

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper that holds both the raw zap.Logger and its
// "Sugared" counterpart for convenience.
type Logger struct {
	*zap.Logger
	*zap.SugaredLogger
}

// New creates a new logger writing to stdout.
// Accepted levels (case-insensitive): "debug", "info", "warn", "error".
// Accepted formats: "json" and "console".
func New(level, format string) (*Logger, error) {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter is like New but writes entries to w.
func NewWithWriter(level, format string, w io.Writer) (*Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	// ISO-8601 timestamps, capital level
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch format {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, &FormatError{Format: format}
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), zapLevel)
	return Wrap(zap.New(core, zap.AddCaller())), nil
}

// Wrap returns a Logger around an existing zap.Logger.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{
		Logger:        l,
		SugaredLogger: l.Sugar(),
	}
}

// FormatError is returned by New for an unknown encoder name.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return "unknown log format: " + e.Format
}

// FromContext extracts a *zap.Logger that may have been stored in the context.
// If none is present, the fallback logger is returned.
func FromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// WithContext returns a new context that carries the supplied logger.
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

// WithRequestID returns a copy of the logger with a request-id field attached.
func WithRequestID(l *zap.Logger, reqID string) *zap.Logger {
	return l.With(zap.String("req_id", reqID))
}

// Flush forces any buffered log entries to be written.
// Call this from main just before the program exits.
func Flush(l *zap.Logger) {
	// Sync fails with EINVAL on stdout for some platforms; nothing to do about it.
	_ = l.Sync()
}
