//go:build !windows

package sysmonitor

func newWindowsBackend() (windowsBackend, error) {
	return nil, ErrUnsupported
}
