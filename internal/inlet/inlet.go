// Package inlet implements the narrow, read-only view of one delay (or a
// batch of delays) that user action/init callbacks receive. It never
// holds a pointer back to a Sync's internals; the owning Sync wires in the
// handful of callbacks an Inlet needs to mutate state (discarding an event,
// synthesizing a blanket event, editing excludes) so this package has no
// dependency on package sync.
package inlet

import (
	"path"
	"strings"

	"github.com/antirek/lsyncd/internal/delay"
)

// PathMutator rewrites one (etype, path, path2) triple; used by GetPaths to
// let a caller remap paths (e.g. applying a target-side rename) while
// flattening a batch.
type PathMutator func(etype delay.EventType, path, path2 string) (delay.EventType, string, string)

// Callbacks are the mutation hooks a Sync injects into every Inlet it
// constructs.
type Callbacks struct {
	Discard       func(*delay.Delay)
	CreateBlanket func() *delay.Delay
	AddExclude    func(string) error
	RemoveExclude func(string)
	// Spawn launches a child process (name, args, stdin) on behalf of the
	// delay(s) backing this Inlet, returning its pid and transitioning
	// those delays to Active.
	Spawn func(name string, args []string, stdin string) (int, error)
}

// Inlet is the view passed to action and init callbacks.
type Inlet struct {
	// delays holds one entry for a single-event inlet, or many for a batch
	// (IsList() reports which).
	delays []*delay.Delay
	isList bool

	source     string
	sourcePath string
	target     string
	targetPath string
	config     interface{}

	cb Callbacks
}

// New constructs a single-delay Inlet.
func New(d *delay.Delay, source, target string, config interface{}, cb Callbacks) *Inlet {
	return &Inlet{
		delays: []*delay.Delay{d},
		isList: false,
		source: source, target: target, config: config,
		cb: cb,
	}
}

// NewList constructs a batch Inlet over several delays.
func NewList(ds []*delay.Delay, source, target string, config interface{}, cb Callbacks) *Inlet {
	return &Inlet{
		delays: ds,
		isList: true,
		source: source, target: target, config: config,
		cb: cb,
	}
}

// IsList reports whether this Inlet represents a batch of delays.
func (i *Inlet) IsList() bool { return i.isList }

// Delay returns the underlying delay for a single-event Inlet. It panics if
// called on a batch Inlet; callers should check IsList first.
func (i *Inlet) Delay() *delay.Delay {
	if i.isList {
		panic("inlet: Delay called on a list inlet")
	}
	return i.delays[0]
}

// Delays returns every delay backing this Inlet (one for a single-event
// Inlet, many for a batch).
func (i *Inlet) Delays() []*delay.Delay {
	return i.delays
}

func (i *Inlet) primary() *delay.Delay {
	return i.delays[0]
}

// Etype returns the primary delay's event type.
func (i *Inlet) Etype() delay.EventType { return i.primary().Etype }

// Path returns the primary delay's sync-root-relative path.
func (i *Inlet) Path() string { return i.primary().Path }

// Path2 returns the primary delay's destination path (Move only).
func (i *Inlet) Path2() string { return i.primary().Path2 }

// Status returns the primary delay's status.
func (i *Inlet) Status() delay.Status { return i.primary().Status }

// Move returns "Fr" for a Move delay, whose primary path is always the
// origin, and "" for every non-Move delay. It never returns "To".
func (i *Inlet) Move() string {
	if i.primary().Etype != delay.Move {
		return ""
	}
	return "Fr"
}

// Isdir reports whether the primary path names a directory.
func (i *Inlet) Isdir() bool { return i.primary().IsDir() }

func withoutTrailingSlash(p string) string {
	return strings.TrimSuffix(p, "/")
}

// Basename returns the primary path's base name without a trailing slash.
func (i *Inlet) Basename() string {
	return path.Base(withoutTrailingSlash(i.primary().Path))
}

// Name returns the primary path's base name, with a trailing slash restored
// if it names a directory.
func (i *Inlet) Name() string {
	base := i.Basename()
	if i.Isdir() {
		return base + "/"
	}
	return base
}

// Pathdir returns the primary path's parent directory, with a trailing
// slash.
func (i *Inlet) Pathdir() string {
	dir := path.Dir(withoutTrailingSlash(i.primary().Path))
	if dir == "." {
		return ""
	}
	return dir + "/"
}

// Pathname returns the primary path without any trailing slash.
func (i *Inlet) Pathname() string {
	return withoutTrailingSlash(i.primary().Path)
}

// Source returns the sync's source root, an absolute path with no trailing
// slash.
func (i *Inlet) Source() string { return withoutTrailingSlash(i.source) }

// SourcePath returns the absolute source-side path, preserving the relative
// path's trailing-slash-for-directories convention.
func (i *Inlet) SourcePath() string {
	return joinKeepingSlash(i.source, i.primary().Path)
}

// SourcePathname returns SourcePath without any trailing slash.
func (i *Inlet) SourcePathname() string {
	return withoutTrailingSlash(i.SourcePath())
}

// Target returns the sync's configured target descriptor, e.g. an rsync
// destination such as "host:/var/www" or a plain local path.
func (i *Inlet) Target() string { return withoutTrailingSlash(i.target) }

// TargetPath returns the absolute (or rsync-style) target-side path.
func (i *Inlet) TargetPath() string {
	return joinKeepingSlash(i.target, i.primary().Path)
}

// TargetPathname returns TargetPath without any trailing slash.
func (i *Inlet) TargetPathname() string {
	return withoutTrailingSlash(i.TargetPath())
}

// Config returns the sync's opaque action configuration, typically a
// pointer to an action-specific struct (e.g. the rsync action's options).
func (i *Inlet) Config() interface{} { return i.config }

// GetPaths flattens every delay backing this Inlet into its path (or
// paths, for Move) list, optionally rewriting each (etype, path, path2)
// triple through mutate first.
func (i *Inlet) GetPaths(mutate PathMutator) []string {
	var out []string
	for _, d := range i.delays {
		etype, p1, p2 := d.Etype, d.Path, d.Path2
		if mutate != nil {
			etype, p1, p2 = mutate(etype, p1, p2)
		}
		out = append(out, p1)
		if etype == delay.Move && p2 != "" {
			out = append(out, p2)
		}
	}
	return out
}

// DiscardEvent drops d from its Sync's FIFO. d must be in the Wait state;
// otherwise the request is logged and ignored by the underlying callback.
func (i *Inlet) DiscardEvent(d *delay.Delay) {
	if i.cb.Discard != nil {
		i.cb.Discard(d)
	}
}

// CreateBlanketEvent synthesizes a Blanket delay, used by an init callback
// to request the initial full reconciliation.
func (i *Inlet) CreateBlanketEvent() *delay.Delay {
	if i.cb.CreateBlanket != nil {
		return i.cb.CreateBlanket()
	}
	return nil
}

// Spawn launches name with args and, if non-empty, stdin, transitioning the
// delay(s) backing this Inlet to Active. It is how an action callback
// fulfills its obligation to either spawn or discard an eligible event.
func (i *Inlet) Spawn(name string, args []string, stdin string) (int, error) {
	if i.cb.Spawn == nil {
		return 0, nil
	}
	return i.cb.Spawn(name, args, stdin)
}

// AddExclude adds pattern to the owning Sync's exclude set.
func (i *Inlet) AddExclude(pattern string) error {
	if i.cb.AddExclude != nil {
		return i.cb.AddExclude(pattern)
	}
	return nil
}

// RmExclude removes pattern from the owning Sync's exclude set.
func (i *Inlet) RmExclude(pattern string) {
	if i.cb.RemoveExclude != nil {
		i.cb.RemoveExclude(pattern)
	}
}

func joinKeepingSlash(root, rel string) string {
	root = withoutTrailingSlash(root)
	if rel == "" {
		return root
	}
	dir := strings.HasSuffix(rel, "/")
	joined := root + "/" + withoutTrailingSlash(rel)
	if dir {
		joined += "/"
	}
	return joined
}
