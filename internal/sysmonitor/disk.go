package sysmonitor

import (
	"context"
	"fmt"
)

// diskUsedMB reports the used space of the configured root file system.
// On Unix-like systems it is the total size minus all free blocks.
func diskUsedMB(ctx context.Context, o *options) (float64, error) {
	stat, err := o.diskUsage(ctx, o.diskRoot)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", o.diskRoot, err)
	}
	return float64(stat.Used) / bytesPerMB, nil
}

// diskUsedAvailableMB reports the total size minus the space available to
// the caller, matching the system drive semantics on Windows.
func diskUsedAvailableMB(ctx context.Context, o *options) (float64, error) {
	stat, err := o.diskUsage(ctx, o.diskRoot)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", o.diskRoot, err)
	}
	if stat.Free > stat.Total {
		return 0, fmt.Errorf("disk usage of %s: free %d exceeds total %d",
			o.diskRoot, stat.Free, stat.Total)
	}
	return float64(stat.Total-stat.Free) / bytesPerMB, nil
}
