package sysmonitor

import (
	"context"
	"io/fs"
	"os"
	"os/exec"
)

// FileSystem abstracts file system operations for testing
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	Open(name string) (fs.File, error)
}

// OSFileSystem implements FileSystem using the os package
type OSFileSystem struct{}

func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

func (OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// CommandRunner abstracts running an external command for testing.
// It returns the command's standard output.
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner implements CommandRunner using the os/exec package
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
