//go:build !windows

package ospkg

const (
	// NewLine is a new line constant for a Unix-like os
	NewLine = "\n"
)

// DiskRoot returns the mount point whose usage is reported as disk usage.
func DiskRoot() string {
	return "/"
}
