// Package version carries the daemon's release version, numbered the same
// major.minor.patch way the rest of the pack does it.
package version

import "fmt"

const (
	// Major is the current major version.
	Major = 0
	// Minor is the current minor version.
	Minor = 1
	// Patch is the current patch version.
	Patch = 0
)

// String is the formatted "major.minor.patch" version, e.g. "0.1.0".
var String = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
