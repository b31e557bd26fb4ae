//go:build windows

package ospkg

import "os"

const (
	// NewLine is a new line constant for Windows
	NewLine = "\r\n"
)

// DiskRoot returns the root of the system drive, e.g. C:\.
func DiskRoot() string {
	drive := os.Getenv("SystemDrive")
	if drive == "" {
		drive = "C:"
	}
	return drive + `\`
}
