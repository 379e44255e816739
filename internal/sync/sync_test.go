package sync

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/antirek/lsyncd/internal/delay"
	"github.com/antirek/lsyncd/internal/inlet"
	"github.com/antirek/lsyncd/internal/logging"
	"github.com/antirek/lsyncd/internal/process"
)

func discardAction(in *inlet.Inlet) error {
	in.DiscardEvent(in.Delay())
	return nil
}

func newTestSync(t *testing.T, cfg Config) *Sync {
	t.Helper()
	if cfg.Action == nil {
		cfg.Action = discardAction
	}
	if cfg.Collect == nil {
		cfg.Collect = func(Agent, int) CollectResult { return CollectDone }
	}
	s, err := New(cfg, logging.Root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetCompletions(make(chan process.Completion, 8))
	return s
}

func TestNewRequiresActionAndCollect(t *testing.T) {
	if _, err := New(Config{Name: "x", Collect: func(Agent, int) CollectResult { return CollectDone }}, logging.Root); err == nil {
		t.Error("New with no Action should fail")
	}
	if _, err := New(Config{Name: "x", Action: discardAction}, logging.Root); err == nil {
		t.Error("New with no Collect should fail")
	}
}

func TestNewRunsInit(t *testing.T) {
	called := false
	cfg := Config{
		Name: "x",
		Init: func(in *inlet.Inlet) error {
			called = true
			in.CreateBlanketEvent()
			return nil
		},
	}
	s := newTestSync(t, cfg)
	if !called {
		t.Fatal("Init callback was not invoked")
	}
	if s.fifo.Len() != 1 {
		t.Errorf("fifo.Len() = %d, want 1 after Init created a blanket", s.fifo.Len())
	}
}

func TestDelayExcludedPathIsDropped(t *testing.T) {
	s := newTestSync(t, Config{Name: "x"})
	s.AddExclude("*.log")
	s.Delay(delay.Modify, time.Now(), "debug.log", "")
	if s.fifo.Len() != 0 {
		t.Errorf("fifo.Len() = %d, want 0 (excluded path)", s.fifo.Len())
	}
}

func TestDelayMoveDecomposesWithoutOnMove(t *testing.T) {
	s := newTestSync(t, Config{Name: "x", OnMove: false})
	s.Delay(delay.Move, time.Now(), "a", "b")
	items := s.fifo.Items()
	if len(items) != 2 {
		t.Fatalf("fifo.Items() len = %d, want 2 (decomposed delete+create)", len(items))
	}
	if items[0].Etype != delay.Delete || items[0].Path != "a" {
		t.Errorf("first decomposed delay = %v %q, want Delete a", items[0].Etype, items[0].Path)
	}
	if items[1].Etype != delay.Create || items[1].Path != "b" {
		t.Errorf("second decomposed delay = %v %q, want Create b", items[1].Etype, items[1].Path)
	}
}

func TestDelayMovePassedThroughWithOnMove(t *testing.T) {
	s := newTestSync(t, Config{Name: "x", OnMove: true})
	s.Delay(delay.Move, time.Now(), "a", "b")
	items := s.fifo.Items()
	if len(items) != 1 || items[0].Etype != delay.Move {
		t.Fatalf("fifo.Items() = %v, want single Move delay", items)
	}
}

func TestDelayMoveWithExcludedDestination(t *testing.T) {
	s := newTestSync(t, Config{Name: "x", OnMove: true})
	s.AddExclude("/b")
	s.Delay(delay.Move, time.Now(), "a", "b")
	items := s.fifo.Items()
	if len(items) != 1 || items[0].Etype != delay.Delete || items[0].Path != "a" {
		t.Fatalf("fifo.Items() = %v, want single Delete a (move-to-excluded becomes delete)", items)
	}
}

func TestGetAlarmFalseWhenProcessTableFull(t *testing.T) {
	s := newTestSync(t, Config{Name: "x", MaxProcesses: 1})
	s.processes[123] = Agent{}
	if _, ok := s.GetAlarm(); ok {
		t.Error("GetAlarm() ok = true, want false when process table is full")
	}
}

func TestInvokeActionsDiscardsEligibleDelay(t *testing.T) {
	s := newTestSync(t, Config{Name: "x", Action: discardAction})
	s.fifo.Add(delay.Modify, delay.Immediate, "file", "")
	s.InvokeActions(time.Now())
	if s.fifo.Len() != 0 {
		t.Errorf("fifo.Len() = %d, want 0 after discard action", s.fifo.Len())
	}
}

func TestInvokeActionsSpawnsAndCollects(t *testing.T) {
	var collected CollectResult = CollectDone
	var gotExit int
	cfg := Config{
		Name:         "x",
		MaxProcesses: 2,
		Action: func(in *inlet.Inlet) error {
			_, err := in.Spawn("/bin/sh", []string{"-c", "exit 5"}, "")
			return err
		},
		Collect: func(agent Agent, exitCode int) CollectResult {
			gotExit = exitCode
			return collected
		},
	}
	s := newTestSync(t, cfg)
	s.fifo.Add(delay.Modify, delay.Immediate, "file", "")
	s.InvokeActions(time.Now())

	if s.ActiveProcessCount() != 1 {
		t.Fatalf("ActiveProcessCount() = %d, want 1", s.ActiveProcessCount())
	}

	var pid int
	for p := range s.processes {
		pid = p
	}

	claimed, die := s.Collect(pid, 5)
	if !claimed {
		t.Fatal("Collect did not claim a pid it owns")
	}
	if die {
		t.Error("Collect reported die = true, want false")
	}
	if gotExit != 5 {
		t.Errorf("Collect callback saw exitCode = %d, want 5", gotExit)
	}
	if s.ActiveProcessCount() != 0 {
		t.Errorf("ActiveProcessCount() = %d, want 0 after Collect", s.ActiveProcessCount())
	}
	if s.fifo.Len() != 0 {
		t.Errorf("fifo.Len() = %d, want 0 after CollectDone", s.fifo.Len())
	}
}

func TestCollectUnclaimedPid(t *testing.T) {
	s := newTestSync(t, Config{Name: "x"})
	claimed, _ := s.Collect(99999, 0)
	if claimed {
		t.Error("Collect claimed a pid it never spawned")
	}
}

func TestCollectAgainRequeues(t *testing.T) {
	cfg := Config{
		Name:  "x",
		Delay: 10 * time.Millisecond,
		Action: func(in *inlet.Inlet) error {
			_, err := in.Spawn("/bin/sh", []string{"-c", "exit 1"}, "")
			return err
		},
		Collect: func(Agent, int) CollectResult { return CollectAgain },
	}
	s := newTestSync(t, cfg)
	d := s.fifo.Add(delay.Modify, delay.Immediate, "file", "")
	s.InvokeActions(time.Now())

	var pid int
	for p := range s.processes {
		pid = p
	}
	s.Collect(pid, 1)

	if d.Status != delay.Wait {
		t.Errorf("requeued delay status = %v, want Wait", d.Status)
	}
	if s.fifo.Len() != 1 {
		t.Errorf("fifo.Len() = %d, want 1 (requeued, not removed)", s.fifo.Len())
	}
}

func TestIdle(t *testing.T) {
	s := newTestSync(t, Config{Name: "x"})
	if !s.Idle() {
		t.Fatal("fresh sync should be Idle")
	}
	s.fifo.Add(delay.Modify, delay.Immediate, "file", "")
	if s.Idle() {
		t.Error("sync with a queued delay should not be Idle")
	}
}

func TestStatusReportIncludesExcludesAndDelays(t *testing.T) {
	s := newTestSync(t, Config{Name: "demo", Source: "/src"})
	s.AddExclude("*.log")
	s.fifo.Add(delay.Modify, delay.Immediate, "file", "")

	var buf bytes.Buffer
	s.StatusReport(&buf)
	out := buf.String()

	if !strings.Contains(out, "demo source=/src") {
		t.Errorf("status report missing header, got:\n%s", out)
	}
	if !strings.Contains(out, "exclude: *.log") {
		t.Errorf("status report missing exclude line, got:\n%s", out)
	}
	if !strings.Contains(out, "file") {
		t.Errorf("status report missing delay line, got:\n%s", out)
	}
}
