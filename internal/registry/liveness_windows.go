//go:build windows

package registry

import (
	"golang.org/x/sys/windows"
)

// DefaultLivenessProber opens the process handle and checks its exit code;
// Windows has no signal-0 equivalent.
func DefaultLivenessProber(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == 259 // STILL_ACTIVE
}
