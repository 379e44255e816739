//go:build linux

package kernel

import (
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/antirek/lsyncd/internal/delay"
)

// inotifyEventHeaderSize is the fixed portion of struct inotify_event,
// before its variable-length, NUL-padded name field.
const inotifyEventHeaderSize = unix.SizeofInotifyEvent

// inotifyMask is the set of event classes Inotify watches every directory
// for, mirroring what a recursive mirroring daemon needs to observe.
const inotifyMask = unix.IN_ATTRIB | unix.IN_CREATE | unix.IN_CLOSE_WRITE |
	unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_MODIFY |
	unix.IN_MOVE_SELF | unix.IN_MOVED_FROM | unix.IN_MOVED_TO

// Inotify is a Facility backed by Linux's inotify(7) API, used via raw
// syscalls (rather than a higher-level wrapper) because the watch registry
// in package watch needs direct access to kernel watch descriptors to
// implement the watch registry's wd<->path bookkeeping, including eviction when the
// kernel recycles a wd after its directory disappears.
type Inotify struct {
	fd     int
	events chan Event
	errors chan error
	done   chan struct{}
}

// NewInotify creates a new inotify-backed Facility.
func NewInotify() (*Inotify, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize inotify")
	}

	in := &Inotify{
		fd:     fd,
		events: make(chan Event, 4096),
		errors: make(chan error, 8),
		done:   make(chan struct{}),
	}
	go in.loop()
	return in, nil
}

// AddWatch installs a watch on path for the standard event mask.
func (in *Inotify) AddWatch(path string) (int, error) {
	wd, err := unix.InotifyAddWatch(in.fd, path, inotifyMask)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to watch %q", path)
	}
	return wd, nil
}

// RemoveWatch removes a previously-installed watch.
func (in *Inotify) RemoveWatch(wd int) error {
	if _, err := unix.InotifyRmWatch(in.fd, uint32(wd)); err != nil {
		return errors.Wrapf(err, "unable to remove watch %d", wd)
	}
	return nil
}

// ReadDir lists path's immediate children.
func (in *Inotify) ReadDir(path string) (map[string]bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read directory %q", path)
	}
	result := make(map[string]bool, len(entries))
	for _, e := range entries {
		result[e.Name()] = e.IsDir()
	}
	return result, nil
}

// RealDir canonicalizes path to an absolute, symlink-resolved directory.
func (in *Inotify) RealDir(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to make %q absolute", path)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.Wrapf(err, "unable to resolve %q", path)
	}
	return real, nil
}

// Now returns the current wall-clock time. A monotonic-tick kernel clock
// isn't exposed by inotify itself, so this facility uses time.Now, whose
// values already carry Go's monotonic reading for duration arithmetic.
func (in *Inotify) Now() time.Time { return time.Now() }

// Events returns the channel raw events are delivered on.
func (in *Inotify) Events() <-chan Event { return in.events }

// Errors returns the channel asynchronous read errors are delivered on.
func (in *Inotify) Errors() <-chan error { return in.errors }

// Close stops the read loop and releases the inotify file descriptor.
func (in *Inotify) Close() error {
	close(in.done)
	return unix.Close(in.fd)
}

func (in *Inotify) loop() {
	defer close(in.events)

	buf := make([]byte, 64*(inotifyEventHeaderSize+unix.NAME_MAX+1))
	for {
		n, err := unix.Read(in.fd, buf)
		select {
		case <-in.done:
			return
		default:
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			select {
			case in.errors <- err:
			case <-in.done:
			}
			return
		}

		now := time.Now()
		offset := 0
		for offset+inotifyEventHeaderSize <= n {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			nameStart := offset + inotifyEventHeaderSize
			name := ""
			if nameLen > 0 {
				nameBytes := buf[nameStart : nameStart+nameLen]
				if idx := indexNUL(nameBytes); idx >= 0 {
					nameBytes = nameBytes[:idx]
				}
				name = string(nameBytes)
			}

			mask := raw.Mask
			if mask&unix.IN_Q_OVERFLOW != 0 {
				in.events <- Event{Overflow: true, Time: now}
			} else {
				ev := Event{
					Wd:     int(raw.Wd),
					Name:   name,
					IsDir:  mask&unix.IN_ISDIR != 0,
					Time:   now,
					Cookie: raw.Cookie,
				}
				if t, ok := eventType(mask); ok {
					ev.Type = t
					ev.MoveFrom = mask&unix.IN_MOVED_FROM != 0
					in.events <- ev
				}
			}

			offset = nameStart + nameLen
		}
	}
}

func eventType(mask uint32) (delay.EventType, bool) {
	switch {
	case mask&unix.IN_ATTRIB != 0:
		return delay.Attrib, true
	case mask&unix.IN_CREATE != 0:
		return delay.Create, true
	case mask&unix.IN_CLOSE_WRITE != 0, mask&unix.IN_MODIFY != 0:
		return delay.Modify, true
	case mask&(unix.IN_DELETE|unix.IN_DELETE_SELF) != 0:
		return delay.Delete, true
	case mask&unix.IN_MOVED_FROM != 0:
		return delay.Move, true
	case mask&unix.IN_MOVED_TO != 0:
		return delay.Move, true
	case mask&unix.IN_MOVE_SELF != 0:
		return delay.Delete, true
	default:
		return delay.None, false
	}
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
