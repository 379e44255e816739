package fifo

import (
	"testing"
	"time"

	"github.com/antirek/lsyncd/internal/delay"
)

func newWait(etype delay.EventType, path, path2 string) *delay.Delay {
	return delay.New(etype, delay.Immediate, path, path2)
}

func TestDefaultCollapseSamePath(t *testing.T) {
	cases := []struct {
		name     string
		od, nd   delay.EventType
		expected Decision
	}{
		{"attrib-then-attrib", delay.Attrib, delay.Attrib, Absorb},
		{"attrib-then-modify", delay.Attrib, delay.Modify, Replace},
		{"modify-then-modify", delay.Modify, delay.Modify, Absorb},
		{"create-then-modify", delay.Create, delay.Modify, Absorb},
		{"create-then-delete", delay.Create, delay.Delete, Nullify},
		{"delete-then-create", delay.Delete, delay.Create, Stack},
		{"delete-then-delete", delay.Delete, delay.Delete, Absorb},
	}
	for _, c := range cases {
		od := newWait(c.od, "file", "")
		nd := newWait(c.nd, "file", "")
		if got := DefaultCollapse(od, nd); got != c.expected {
			t.Errorf("%s: DefaultCollapse = %v, want %v", c.name, got, c.expected)
		}
	}
}

func TestDefaultCollapseActiveAlwaysStacks(t *testing.T) {
	od := newWait(delay.Modify, "file", "")
	od.Status = delay.Active
	nd := newWait(delay.Modify, "file", "")

	if got := DefaultCollapse(od, nd); got != Stack {
		t.Errorf("DefaultCollapse against an Active delay = %v, want Stack", got)
	}
}

func TestDefaultCollapseUnrelatedPathsContinue(t *testing.T) {
	od := newWait(delay.Modify, "a", "")
	nd := newWait(delay.Modify, "b", "")
	if got := DefaultCollapse(od, nd); got != Continue {
		t.Errorf("DefaultCollapse(unrelated) = %v, want Continue", got)
	}
}

func TestDefaultCollapseParentChildStacks(t *testing.T) {
	od := newWait(delay.Delete, "dir/", "")
	nd := newWait(delay.Modify, "dir/file", "")
	if got := DefaultCollapse(od, nd); got != Stack {
		t.Errorf("parent-deleted-then-child-modified = %v, want Stack", got)
	}

	od2 := newWait(delay.Modify, "dir/file", "")
	nd2 := newWait(delay.Delete, "dir/", "")
	if got := DefaultCollapse(od2, nd2); got != Stack {
		t.Errorf("child-modified-then-parent-deleted = %v, want Stack", got)
	}
}

func TestDefaultCollapseMovePairOrder(t *testing.T) {
	// A Move from "a" to "b" should collapse against a delay on either its
	// origin or its destination path.
	od := newWait(delay.Modify, "b", "")
	nd := newWait(delay.Move, "a", "b")
	if got := DefaultCollapse(od, nd); got != Replace {
		t.Errorf("modify-on-move-destination = %v, want Replace (modify row x moveTo col)", got)
	}
}

func newFIFOAt(t time.Time) *FIFO {
	return New(Config{Now: func() time.Time { return t }})
}

func TestFIFOAddCollapsesModifyModify(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	first := f.Add(delay.Modify, time.Time{}, "file", "")
	if first == nil {
		t.Fatal("first Add returned nil")
	}
	second := f.Add(delay.Modify, time.Time{}, "file", "")
	if second != nil {
		t.Errorf("second Add (Absorb case) = %v, want nil", second)
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestFIFOAddReplaceWithMoveDestinationKeepsOrigin(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	f.Add(delay.Modify, time.Time{}, "b", "")
	got := f.Add(delay.Move, time.Time{}, "a", "b")
	if got == nil {
		t.Fatal("Add(Move a->b) over a pending Modify(b) returned nil, want the replaced delay")
	}
	if got.Etype != delay.Move {
		t.Errorf("Etype = %v, want Move", got.Etype)
	}
	if got.Path != "a" {
		t.Errorf("Path = %q, want \"a\" (the rename's real origin, not its destination)", got.Path)
	}
	if got.Path2 != "b" {
		t.Errorf("Path2 = %q, want \"b\"", got.Path2)
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (in-place replace, not a stack)", f.Len())
	}
}

func TestFIFOAddNullifiesCreateThenDelete(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	f.Add(delay.Create, time.Time{}, "file", "")
	got := f.Add(delay.Delete, time.Time{}, "file", "")
	if got != nil {
		t.Errorf("Add(Delete) after Create = %v, want nil (nullified)", got)
	}
	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after nullify", f.Len())
	}
}

func TestFIFOAddStacksDeleteThenCreate(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	f.Add(delay.Delete, time.Time{}, "file", "")
	nd := f.Add(delay.Create, time.Time{}, "file", "")
	if nd == nil {
		t.Fatal("Add(Create) after Delete returned nil, want stacked delay")
	}
	if nd.Status != delay.Block {
		t.Errorf("stacked delay status = %v, want Block", nd.Status)
	}
	if f.Len() != 2 {
		t.Errorf("Len() = %d, want 2", f.Len())
	}
}

func TestFIFOAddBlanketOnEmptyFIFOIsImmediatelyWaiting(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	blanket := f.AddBlanket()
	if blanket.Status != delay.Wait {
		t.Errorf("blanket status = %v, want Wait", blanket.Status)
	}
}

func TestFIFOAddBlanketShortCircuitsSubsequentAdds(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	f.Add(delay.Modify, time.Time{}, "a", "")
	blanket := f.AddBlanket()
	if blanket.Status != delay.Block {
		t.Errorf("blanket queued behind a pending delay should be Block, got %v", blanket.Status)
	}

	nd := f.Add(delay.Modify, time.Time{}, "unrelated", "")
	if nd == nil {
		t.Fatal("Add after blanket returned nil, want stacked delay")
	}
	if nd.Status != delay.Block {
		t.Errorf("delay queued behind a blanket should be Block, got %v", nd.Status)
	}
	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}
}

func TestFIFOSaturated(t *testing.T) {
	f := New(Config{MaxDelays: 2})
	if f.Saturated() {
		t.Fatal("empty FIFO reported Saturated")
	}
	f.Add(delay.Modify, time.Time{}, "a", "")
	if f.Saturated() {
		t.Fatal("FIFO with 1/2 reported Saturated")
	}
	f.Add(delay.Modify, time.Time{}, "b", "")
	if !f.Saturated() {
		t.Fatal("FIFO with 2/2 did not report Saturated")
	}
}

func TestFIFORemoveReleasesBlockedDelays(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	first := f.Add(delay.Delete, time.Time{}, "file", "")
	second := f.Add(delay.Create, time.Time{}, "file", "")
	if second.Status != delay.Block {
		t.Fatalf("setup: second.Status = %v, want Block", second.Status)
	}

	f.Remove(first)

	if second.Status != delay.Wait {
		t.Errorf("after Remove(first), second.Status = %v, want Wait", second.Status)
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestFIFOGetExcludesActiveAndDescendants(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	first := f.Add(delay.Delete, time.Time{}, "file", "")
	second := f.Add(delay.Create, time.Time{}, "file", "")

	first.Status = delay.Active
	got := f.Get(nil)

	for _, d := range got {
		if d == first || d == second {
			t.Errorf("Get() included %v, want it excluded (active or blocked-by-active)", d)
		}
	}
}

func TestFIFOGetAppliesPredicate(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	f.Add(delay.Modify, time.Time{}, "a", "")
	f.Add(delay.Modify, time.Time{}, "b", "")

	got := f.Get(func(d *delay.Delay) bool { return d.Path == "b" })
	if len(got) != 1 || got[0].Path != "b" {
		t.Errorf("Get(predicate) = %v, want only path b", got)
	}
}

func TestFIFONextAlarmSkipsNonWait(t *testing.T) {
	f := newFIFOAt(time.Unix(0, 0))
	d := f.Add(delay.Modify, time.Time{}, "a", "")
	d.Status = delay.Active

	if _, ok := f.NextAlarm(); ok {
		t.Error("NextAlarm found an alarm though the only delay is Active")
	}
}
