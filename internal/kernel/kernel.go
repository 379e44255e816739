// Package kernel implements the abstract kernel event facility: add/remove
// watches on directories, read directory contents, canonicalize paths, and
// report monotonic time, with raw events carrying a watch descriptor, a
// base name, a type, and a timestamp (plus, for Move events, a cookie
// shared by the origin and destination halves). It is the one concrete OS-facing
// collaborator the rest of this daemon treats as external and swappable.
package kernel

import (
	"time"

	"github.com/antirek/lsyncd/internal/delay"
)

// Event is one raw event as reported by the kernel facility. For Move
// events, Cookie correlates the IN_MOVED_FROM half with its IN_MOVED_TO
// half; the Registry (package watch) is responsible for pairing them.
type Event struct {
	Wd     int
	Name   string
	IsDir  bool
	Type   delay.EventType
	Time   time.Time
	Cookie uint32
	// MoveFrom distinguishes the origin half of a Move from its
	// destination half when Type == delay.Move; the two halves share
	// Cookie and are paired by the watch registry.
	MoveFrom bool
	// Overflow indicates the kernel's event queue overflowed and some
	// events were lost; the main loop must transition to fade when this
	// happens, since the watch state can no longer be trusted.
	Overflow bool
}

// Facility is the abstract kernel event source. Facility implementations
// must tolerate AddWatch failing without treating it as fatal: a failed
// watch is logged and the daemon continues.
type Facility interface {
	// AddWatch installs a watch on path and returns its descriptor.
	AddWatch(path string) (wd int, err error)
	// RemoveWatch uninstalls a previously-added watch.
	RemoveWatch(wd int) error
	// ReadDir lists path's immediate children, name -> isDir.
	ReadDir(path string) (map[string]bool, error)
	// RealDir canonicalizes path to an absolute, symlink-resolved
	// directory path.
	RealDir(path string) (string, error)
	// Now returns the facility's monotonic clock reading.
	Now() time.Time
	// Events returns the channel raw events are delivered on.
	Events() <-chan Event
	// Errors returns the channel asynchronous facility errors are
	// delivered on (e.g. a read failure on the underlying fd).
	Errors() <-chan error
	// Close releases the facility's resources.
	Close() error
}

// Clock arithmetic is intentionally not wrapped in helper functions;
// callers use time.Time.Add, time.Time.Before, and time.Time.Equal
// directly.
