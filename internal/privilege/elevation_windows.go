//go:build windows

package privilege

import "golang.org/x/sys/windows"

// IsElevated reports whether the current process token carries the
// administrators group / elevated privilege.
func IsElevated() bool {
	token := windows.GetCurrentProcessToken()
	return token.IsElevated()
}
