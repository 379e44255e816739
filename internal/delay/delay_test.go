package delay

import (
	"testing"
	"time"
)

func TestNewIsWaiting(t *testing.T) {
	d := New(Modify, Immediate, "file", "")
	if d.Status != Wait {
		t.Errorf("Status = %v, want Wait", d.Status)
	}
	if d.Etype != Modify {
		t.Errorf("Etype = %v, want Modify", d.Etype)
	}
}

func TestIsDir(t *testing.T) {
	cases := []struct {
		path string
		dir  bool
	}{
		{"file", false},
		{"dir/", true},
		{"", false},
		{"sub/dir/", true},
	}
	for _, c := range cases {
		d := New(Modify, Immediate, c.path, "")
		if got := d.IsDir(); got != c.dir {
			t.Errorf("IsDir(%q) = %v, want %v", c.path, got, c.dir)
		}
	}
}

func TestPaths(t *testing.T) {
	d := New(Create, Immediate, "a", "")
	if got := d.Paths(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Paths() = %v, want [a]", got)
	}

	m := New(Move, Immediate, "a", "b")
	if got := m.Paths(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Paths() = %v, want [a b]", got)
	}
}

func TestStackMarksBlockedAndAppends(t *testing.T) {
	older := New(Modify, Immediate, "a", "")
	newer1 := New(Modify, Immediate, "a", "")
	newer2 := New(Modify, Immediate, "a", "")

	older.Stack(newer1)
	older.Stack(newer2)

	if newer1.Status != Block || newer2.Status != Block {
		t.Fatalf("stacked delays should be Block, got %v, %v", newer1.Status, newer2.Status)
	}
	if len(older.Blocks) != 2 || older.Blocks[0] != newer1 || older.Blocks[1] != newer2 {
		t.Errorf("Blocks = %v, want [newer1 newer2] in insertion order", older.Blocks)
	}
}

func TestEventTypeString(t *testing.T) {
	cases := map[EventType]string{
		None: "None", Attrib: "Attrib", Create: "Create", Modify: "Modify",
		Delete: "Delete", Move: "Move", Blanket: "Blanket",
	}
	for etype, want := range cases {
		if got := etype.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", etype, got, want)
		}
	}
	if got := EventType(255).String(); got != "Unknown" {
		t.Errorf("unknown EventType.String() = %q, want Unknown", got)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{Wait: "wait", Active: "active", Block: "block", Done: "done"}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", status, got, want)
		}
	}
	if got := Status(255).String(); got != "unknown" {
		t.Errorf("unknown Status.String() = %q, want unknown", got)
	}
}

func TestImmediateIsZeroTime(t *testing.T) {
	if !Immediate.Equal(time.Time{}) {
		t.Errorf("Immediate = %v, want zero time", Immediate)
	}
}
