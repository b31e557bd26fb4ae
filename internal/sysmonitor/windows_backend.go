//go:build windows

package sysmonitor

import (
	"context"
	"unsafe"

	"github.com/yusufpapurcu/wmi"
	"golang.org/x/sys/windows"
)

type win32Processor struct {
	LoadPercentage *uint16
}

type wmiBackend struct{}

func newWindowsBackend() (windowsBackend, error) {
	return wmiBackend{}, nil
}

func (wmiBackend) processorLoad(ctx context.Context) ([]uint16, error) {
	type result struct {
		dst []win32Processor
		err error
	}
	done := make(chan result, 1)
	go func() {
		var dst []win32Processor
		err := wmi.Query("SELECT LoadPercentage FROM Win32_Processor", &dst)
		done <- result{dst, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		loads := make([]uint16, 0, len(r.dst))
		for _, p := range r.dst {
			if p.LoadPercentage != nil {
				loads = append(loads, *p.LoadPercentage)
			}
		}
		return loads, nil
	}
}

func (wmiBackend) physicalMemory() (uint64, uint64, error) {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return 0, 0, err
	}
	return status.TotalPhys, status.AvailPhys, nil
}
