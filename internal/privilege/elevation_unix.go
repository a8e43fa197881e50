//go:build !windows

package privilege

import "os"

// IsElevated reports whether the current process runs as root.
func IsElevated() bool {
	return os.Geteuid() == 0
}
