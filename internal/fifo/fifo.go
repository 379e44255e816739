// Package fifo implements the per-sync delay FIFO and its collapse engine:
// the ordered list of pending filesystem changes, the rules that fold
// redundant pairs together, and the blocking relation that preserves causal
// order (e.g. a directory delete must wait for an in-flight modify under it
// to finish).
package fifo

import (
	"time"

	"github.com/antirek/lsyncd/internal/delay"
)

// Config controls how a FIFO assigns alarms and collapses new arrivals.
type Config struct {
	// Delay is added to an event's observed time to compute its alarm.
	Delay time.Duration
	// MaxDelays is the best-effort cap on FIFO length (Sync
	// invariant 2). Zero means unbounded.
	MaxDelays int
	// Collapse is the collapse rule. A nil value uses DefaultCollapse.
	Collapse Func
	// Now returns the current time; defaults to time.Now. Tests override it
	// for deterministic alarms.
	Now func() time.Time
}

// FIFO is one sync's ordered list of delays, head = oldest.
type FIFO struct {
	cfg   Config
	items []*delay.Delay
}

// New creates an empty FIFO.
func New(cfg Config) *FIFO {
	if cfg.Collapse == nil {
		cfg.Collapse = DefaultCollapse
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &FIFO{cfg: cfg}
}

// Len returns the number of delays currently queued.
func (f *FIFO) Len() int {
	return len(f.items)
}

// Items returns the FIFO's contents in insertion order. The caller must not
// mutate the returned slice.
func (f *FIFO) Items() []*delay.Delay {
	return f.items
}

// Saturated reports whether the FIFO is at or above its configured maximum
// length, to bound memory use when a sync falls far behind its source.
func (f *FIFO) Saturated() bool {
	return f.cfg.MaxDelays > 0 && len(f.items) >= f.cfg.MaxDelays
}

// AddBlanket appends a Blanket delay with the "immediate" alarm sentinel,
// stacking it onto the current tail (if any) so it stays blocked until that
// tail delay is removed. No collapse scan is run for it, and every delay
// added after it is stacked onto it (see Add).
func (f *FIFO) AddBlanket() *delay.Delay {
	nd := delay.New(delay.Blanket, delay.Immediate, "", "")
	if len(f.items) > 0 {
		tail := f.items[len(f.items)-1]
		tail.Stack(nd)
	}
	f.items = append(f.items, nd)
	return nd
}

// Add inserts a new delay of the given type, observed at time t (the zero
// Time means "now"), against path (and path2 for Move). It performs alarm
// assignment, the blanket short-circuit, and the full collapse scan
// described below, returning the delay that now represents this
// change in the FIFO, or nil if the new event was fully absorbed or
// nullified a prior one.
func (f *FIFO) Add(etype delay.EventType, t time.Time, path, path2 string) *delay.Delay {
	if etype == delay.Blanket {
		return f.AddBlanket()
	}

	alarm := t
	if alarm.IsZero() {
		alarm = f.cfg.Now()
	} else {
		alarm = alarm.Add(f.cfg.Delay)
	}

	nd := delay.New(etype, alarm, path, path2)

	// Blanket short-circuit: a pending Blanket at the tail has everything
	// that arrives after it stacked onto it, regardless of type.
	if n := len(f.items); n > 0 && f.items[n-1].Etype == delay.Blanket {
		f.items[n-1].Stack(nd)
		f.items = append(f.items, nd)
		return nd
	}

	for i := len(f.items) - 1; i >= 0; i-- {
		od := f.items[i]
		if od.Etype == delay.Blanket {
			od.Stack(nd)
			f.items = append(f.items, nd)
			return nd
		}
		if od.Etype == delay.None {
			continue
		}

		decision := f.cfg.Collapse(od, nd)
		switch decision {
		case Continue:
			continue
		case Nullify:
			od.Etype = delay.None
			f.Remove(od)
			return nil
		case Absorb:
			return nil
		case Replace:
			if od.Etype == delay.Move {
				od.Etype = delay.Delete
				od.Path2 = ""
				f.items = append(f.items, nd)
				return nd
			}
			od.Etype = nd.Etype
			if nd.Etype == delay.Move {
				// The only way a non-Move od hits Replace against a Move nd
				// is a match on nd's destination (MoveTo); every MoveFr
				// column entry in the table is Stack. od.Path held that
				// shared destination, so nd's real origin must be copied in
				// too, or the rename's source path is silently lost.
				od.Path = nd.Path
			}
			od.Path2 = nd.Path2
			return od
		case Stack:
			od.Stack(nd)
			f.items = append(f.items, nd)
			return nd
		}
	}

	f.items = append(f.items, nd)
	return nd
}

// Remove excises d from the FIFO by identity and releases every delay it
// was directly blocking back to Wait.
func (f *FIFO) Remove(d *delay.Delay) {
	for i, item := range f.items {
		if item == d {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	for _, blocked := range d.Blocks {
		blocked.Status = delay.Wait
	}
}

// NextAlarm scans the FIFO front to back and returns the first Wait delay's
// alarm. It does not consider process-table saturation; callers (Sync) are
// responsible for the "no alarm while processes are full" gate.
func (f *FIFO) NextAlarm() (time.Time, bool) {
	for _, d := range f.items {
		if d.Status == delay.Wait {
			return d.Alarm, true
		}
	}
	return time.Time{}, false
}

// Get returns the sub-sequence of delays that are not Active, satisfy
// predicate (if non-nil), and are not transitively blocked by any delay
// that is either Active or rejected by predicate.
func (f *FIFO) Get(predicate func(*delay.Delay) bool) []*delay.Delay {
	excluded := make(map[*delay.Delay]bool)

	var markDescendants func(*delay.Delay)
	markDescendants = func(d *delay.Delay) {
		for _, child := range d.Blocks {
			if !excluded[child] {
				excluded[child] = true
				markDescendants(child)
			}
		}
	}

	for _, d := range f.items {
		if d.Status == delay.Active || (predicate != nil && !predicate(d)) {
			markDescendants(d)
		}
	}

	var result []*delay.Delay
	for _, d := range f.items {
		if d.Status == delay.Active {
			continue
		}
		if predicate != nil && !predicate(d) {
			continue
		}
		if excluded[d] {
			continue
		}
		result = append(result, d)
	}
	return result
}
