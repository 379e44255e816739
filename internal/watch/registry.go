// Package watch implements the watch registry and event dispatcher: the
// bidirectional map between kernel watch descriptors and absolute directory
// paths, the recursive add/remove-watch bookkeeping that keeps that map
// current as the tree changes shape, and the translation of a flat kernel
// event stream into per-sync, tree-relative delay() calls.
package watch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/antirek/lsyncd/internal/delay"
	"github.com/antirek/lsyncd/internal/kernel"
	"github.com/antirek/lsyncd/internal/logging"
	"github.com/antirek/lsyncd/internal/sync"
)

// moveCookieGrace is how long a lone IN_MOVED_FROM half is held, waiting
// for its IN_MOVED_TO pair, before it's dispatched as a plain Delete. The
// kernel emits both halves back to back when the destination is also
// watched, so this only matters for moves that leave the watched trees.
const moveCookieGrace = 50 * time.Millisecond

// binding associates one Sync with the absolute root directory it watches.
type binding struct {
	sync    *sync.Sync
	root    string
	recurse bool
}

// pendingMove is a half-received Move event awaiting its cookie-matched
// pair.
type pendingMove struct {
	wd   int
	name string
	time time.Time
}

// Registry owns the wd<->path bookkeeping and dispatches kernel events to
// every interested Sync.
type Registry struct {
	facility kernel.Facility
	log      *logging.Logger

	wdToPath map[int]string
	pathToWd map[string]int

	bindings []*binding

	pendingFrom map[uint32]pendingMove
}

// NewRegistry constructs a Registry backed by facility.
func NewRegistry(facility kernel.Facility, log *logging.Logger) *Registry {
	return &Registry{
		facility:    facility,
		log:         log.Sublogger("watch"),
		wdToPath:    make(map[int]string),
		pathToWd:    make(map[string]int),
		pendingFrom: make(map[uint32]pendingMove),
	}
}

// AddSync binds s to root and installs a recursive watch over it, without
// raising synthetic events: the caller is expected to seed the FIFO with a
// blanket delay to drive the initial full reconciliation instead.
func (r *Registry) AddSync(s *sync.Sync, root string) error {
	real, err := r.facility.RealDir(root)
	if err != nil {
		return err
	}
	r.bindings = append(r.bindings, &binding{sync: s, root: real, recurse: true})
	return r.AddWatch(real, true, nil, time.Time{})
}

// AddWatch installs a watch on path. If recurse
// is set, every subdirectory is watched too. If raiseSync is non-nil, a
// synthetic Create event (at raiseTime) is fed to raiseSync for every child
// found, which is how a newly-created directory's pre-existing contents
// get picked up.
func (r *Registry) AddWatch(path string, recurse bool, raiseSync *sync.Sync, raiseTime time.Time) error {
	wd, err := r.facility.AddWatch(path)
	if err != nil {
		r.log.Warnf("unable to watch %q: %v", path, err)
		return nil
	}

	if old, exists := r.wdToPath[wd]; exists && old != path {
		delete(r.pathToWd, old)
	}
	r.wdToPath[wd] = path
	r.pathToWd[path] = wd

	if !recurse && raiseSync == nil {
		return nil
	}

	children, err := r.facility.ReadDir(path)
	if err != nil {
		r.log.Warnf("unable to list %q: %v", path, err)
		return nil
	}

	for name, isDir := range children {
		childPath := joinDir(path, name, isDir)
		if isDir && recurse {
			if err := r.AddWatch(childPath, recurse, raiseSync, raiseTime); err != nil {
				return err
			}
		}
		if raiseSync != nil {
			if rel, ok := relativeTo(r.bindingRoot(raiseSync), childPath); ok {
				raiseSync.Delay(delay.Create, raiseTime, rel, "")
			}
		}
	}
	return nil
}

// RemoveWatch uninstalls the watch on path. If askKernel is false, the
// kernel call is skipped because the watch is being implicitly destroyed as
// part of a rename the kernel already knows about.
func (r *Registry) RemoveWatch(path string, askKernel bool) error {
	wd, ok := r.pathToWd[path]
	if !ok {
		return nil
	}
	if askKernel {
		if err := r.facility.RemoveWatch(wd); err != nil {
			r.log.Warnf("unable to remove watch on %q: %v", path, err)
		}
	}
	delete(r.pathToWd, path)
	delete(r.wdToPath, wd)
	return nil
}

func (r *Registry) bindingRoot(s *sync.Sync) string {
	for _, b := range r.bindings {
		if b.sync == s {
			return b.root
		}
	}
	return ""
}

// Dispatch translates one raw kernel event into per-sync relative delay()
// calls. It returns true if the event signaled a
// kernel queue overflow, in which case the main loop must transition to
// fade.
func (r *Registry) Dispatch(ev kernel.Event) (overflow bool) {
	if ev.Overflow {
		return true
	}

	r.purgeStaleMoves(ev.Time)

	if ev.Type == delay.Move {
		return r.dispatchMoveHalf(ev)
	}

	base, ok := r.wdToPath[ev.Wd]
	if !ok {
		// Expected race: the directory was already removed.
		return false
	}
	abs := joinDir(base, ev.Name, ev.IsDir)
	r.route(ev.Type, abs, "", ev.Time)
	r.followDirectoryChange(ev.Type, abs, abs, ev.IsDir, ev.Time)
	return false
}

func (r *Registry) dispatchMoveHalf(ev kernel.Event) bool {
	if ev.MoveFrom {
		r.pendingFrom[ev.Cookie] = pendingMove{wd: ev.Wd, name: ev.Name, time: ev.Time}
		return false
	}

	// This is the "to" half.
	destBase, destOK := r.wdToPath[ev.Wd]
	if !destOK {
		return false
	}
	destAbs := joinDir(destBase, ev.Name, ev.IsDir)

	from, hasFrom := r.pendingFrom[ev.Cookie]
	if !hasFrom {
		// Arrived from outside any watched tree: a plain Create.
		r.route(delay.Create, destAbs, "", ev.Time)
		r.followDirectoryChange(delay.Create, "", destAbs, ev.IsDir, ev.Time)
		return false
	}
	delete(r.pendingFrom, ev.Cookie)

	originBase, originOK := r.wdToPath[from.wd]
	if !originOK {
		r.route(delay.Create, destAbs, "", ev.Time)
		r.followDirectoryChange(delay.Create, "", destAbs, ev.IsDir, ev.Time)
		return false
	}
	originAbs := joinDir(originBase, from.name, ev.IsDir)

	r.route(delay.Move, originAbs, destAbs, ev.Time)
	r.followDirectoryChange(delay.Move, originAbs, destAbs, ev.IsDir, ev.Time)
	return false
}

// purgeStaleMoves flushes any pending MovedFrom half that has waited longer
// than moveCookieGrace for its pair, dispatching it as a Delete (the move
// destination was outside every watched tree).
func (r *Registry) purgeStaleMoves(now time.Time) {
	for cookie, pending := range r.pendingFrom {
		if now.Sub(pending.time) < moveCookieGrace {
			continue
		}
		delete(r.pendingFrom, cookie)
		if base, ok := r.wdToPath[pending.wd]; ok {
			abs := base + "/" + pending.name
			r.route(delay.Delete, abs, "", pending.time)
		}
	}
}

// route computes, for every bound sync, the sync-relative path(s) for an
// absolute-path event and calls that sync's Delay.
func (r *Registry) route(etype delay.EventType, abs, abs2 string, t time.Time) {
	for _, b := range r.bindings {
		rel, relOK := relativeTo(b.root, abs)
		var rel2 string
		var rel2OK bool
		if etype == delay.Move {
			rel2, rel2OK = relativeTo(b.root, abs2)
		}

		switch {
		case etype != delay.Move:
			if !relOK {
				continue
			}
			b.sync.Delay(etype, t, rel, "")
		case relOK && rel2OK:
			b.sync.Delay(delay.Move, t, rel, rel2)
		case rel2OK:
			b.sync.Delay(delay.Create, t, rel2, "")
		case relOK:
			b.sync.Delay(delay.Delete, t, rel, "")
		default:
			continue
		}
	}
}

// followDirectoryChange keeps the watch registry in sync with directory
// creations, deletions, and moves for every sync that opted into subdir
// tracking (which, in this engine, is every sync; recursive mirroring is
// the whole point).
func (r *Registry) followDirectoryChange(etype delay.EventType, absFrom, absTo string, isDir bool, t time.Time) {
	if !isDir {
		return
	}
	for _, b := range r.bindings {
		if !b.recurse {
			continue
		}
		switch etype {
		case delay.Create:
			if _, ok := relativeTo(b.root, absTo); ok {
				r.AddWatch(absTo, true, b.sync, t)
			}
		case delay.Delete:
			if _, ok := relativeTo(b.root, absFrom); ok {
				r.RemoveWatch(absFrom, true)
			}
		case delay.Move:
			_, fromIn := relativeTo(b.root, absFrom)
			_, toIn := relativeTo(b.root, absTo)
			if fromIn {
				r.RemoveWatch(absFrom, false)
			}
			if toIn {
				r.AddWatch(absTo, true, nil, t)
			}
		}
	}
}

// relativeTo reports the path of abs relative to root, and whether abs is
// within root at all.
func relativeTo(root, abs string) (string, bool) {
	if root == "" {
		return "", false
	}
	root = strings.TrimSuffix(root, "/")
	if abs == root || abs == root+"/" {
		return "", true
	}
	if !strings.HasPrefix(abs, root+"/") {
		return "", false
	}
	return strings.TrimPrefix(abs, root+"/"), true
}

func joinDir(base, name string, isDir bool) string {
	base = strings.TrimSuffix(base, "/")
	p := filepath.Join(base, name)
	if isDir {
		p += "/"
	}
	return p
}
