package process

import "runtime"

// ExecutableName returns base adjusted for the current platform's
// executable naming convention (appending ".exe" on Windows).
func ExecutableName(base string) string {
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
