package sysmonitor

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ===== Mock filesystem implementation =====

type mockFS map[string]string

func (m mockFS) ReadFile(name string) ([]byte, error) {
	if content, ok := m[name]; ok {
		return []byte(content), nil
	}
	return nil, errors.New("file does not exist: " + name)
}

func (m mockFS) Open(name string) (fs.File, error) {
	if content, ok := m[name]; ok {
		return &mockFile{content: content}, nil
	}
	return nil, errors.New("file does not exist: " + name)
}

type mockFile struct {
	content string
	reader  *strings.Reader
}

func (m *mockFile) Read(p []byte) (int, error) {
	if m.reader == nil {
		m.reader = strings.NewReader(m.content)
	}
	return m.reader.Read(p)
}

func (m *mockFile) Close() error { return nil }

func (m *mockFile) Stat() (fs.FileInfo, error) { return nil, nil }

// ===== Mock command runner =====

type mockRunner map[string]string

func (m mockRunner) Output(_ context.Context, name string, _ ...string) ([]byte, error) {
	if out, ok := m[name]; ok {
		return []byte(out), nil
	}
	return nil, errors.New("command not found: " + name)
}

// ===== Helpers =====

const mb = 1024 * 1024

func fixedDisk(total, free, used uint64) DiskUsageFunc {
	return func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: total, Free: free, Used: used}, nil
	}
}

func failingDisk(_ context.Context, path string) (*disk.UsageStat, error) {
	return nil, errors.New("statfs " + path + ": permission denied")
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func fieldMetric(name string) zapcore.Field {
	return zap.String("metric", name)
}
