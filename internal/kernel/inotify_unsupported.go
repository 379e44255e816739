//go:build !linux

package kernel

import (
	"errors"
	"time"
)

// NewInotify is unavailable on this platform. A production build would add
// a kqueue- or FSEvents-backed Facility here the way the pack's own
// cross-platform watchers do; this repository targets inotify as its
// primary platform, so other platforms fail fast with a clear error rather
// than silently no-op.
func NewInotify() (*Inotify, error) {
	return nil, errors.New("inotify facility is only available on linux")
}

// Inotify is an unusable placeholder on this platform, present only so
// NewInotify has a return type.
type Inotify struct{}

func (in *Inotify) AddWatch(path string) (int, error) { return 0, errors.New("unsupported") }
func (in *Inotify) RemoveWatch(wd int) error          { return errors.New("unsupported") }
func (in *Inotify) ReadDir(path string) (map[string]bool, error) {
	return nil, errors.New("unsupported")
}
func (in *Inotify) RealDir(path string) (string, error) { return "", errors.New("unsupported") }
func (in *Inotify) Now() time.Time                      { return time.Time{} }
func (in *Inotify) Events() <-chan Event                { return nil }
func (in *Inotify) Errors() <-chan error                { return nil }
func (in *Inotify) Close() error                        { return nil }
