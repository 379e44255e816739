// Package sync implements the Sync type: one configured source-to-target
// mirror, owning its delay FIFO, its exclude set, its running-process
// table, and the user-supplied callbacks that drive it.
package sync

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/antirek/lsyncd/internal/delay"
	"github.com/antirek/lsyncd/internal/exclude"
	"github.com/antirek/lsyncd/internal/fifo"
	"github.com/antirek/lsyncd/internal/inlet"
	"github.com/antirek/lsyncd/internal/logging"
	"github.com/antirek/lsyncd/internal/process"
)

// Agent is what a collect callback receives: either a single delay or the
// batch of delays a single spawn served, unified behind one type the way
// a single collect(pid, exitcode) callback can handle uniformly.
type Agent struct {
	delays []*delay.Delay
}

// IsList reports whether this agent represents more than one delay.
func (a Agent) IsList() bool { return len(a.delays) > 1 }

// Delay returns the agent's sole delay. It panics if the agent is a batch;
// callers should check IsList first.
func (a Agent) Delay() *delay.Delay {
	if len(a.delays) != 1 {
		panic("sync: Delay called on a batch agent")
	}
	return a.delays[0]
}

// Delays returns every delay this agent represents.
func (a Agent) Delays() []*delay.Delay { return a.delays }

// CollectResult is the return value a Collect callback uses to tell the
// engine what should happen to the delay(s) that just finished.
type CollectResult string

const (
	// CollectDie terminates the daemon with a nonzero exit code.
	CollectDie CollectResult = "die"
	// CollectAgain returns the delay(s) to Wait for a retry.
	CollectAgain CollectResult = "again"
	// CollectDone removes the delay(s) from the FIFO; any other string
	// value is treated the same way.
	CollectDone CollectResult = "done"
)

// Config is a Sync's immutable configuration.
type Config struct {
	// Name is a user-supplied display name, used in logs and the status
	// file.
	Name string
	// Source is the absolute path of the watched source tree.
	Source string
	// Target is the target descriptor (e.g. "host:/var/www" or a local path);
	// opaque to the engine, meaningful only to the action.
	Target string
	// Delay is how long an observed change waits before becoming eligible
	// to run.
	Delay time.Duration
	// MaxProcesses caps concurrently running child processes for this sync.
	MaxProcesses int
	// MaxDelays is the best-effort FIFO length cap; zero means unbounded.
	MaxDelays int
	// OnMove, if true, means the action understands Move events directly;
	// otherwise a Move is decomposed into Delete+Create.
	OnMove bool
	// Collapse overrides the default collapse table; nil uses
	// fifo.DefaultCollapse.
	Collapse fifo.Func
	// ActionConfig is opaque data forwarded to action callbacks via
	// Inlet.Config(), e.g. an rsync action's flag set.
	ActionConfig interface{}

	// Action is invoked once per eligible delay (or batch); it should call
	// Inlet.Spawn to launch a child or Inlet.DiscardEvent to drop the
	// event, or do neither to retry on the next cycle.
	Action func(*inlet.Inlet) error
	// Init is invoked once at startup to seed the FIFO (typically with a
	// blanket delay for a full reconciliation).
	Init func(*inlet.Inlet) error
	// Collect is invoked once a spawned process exits.
	Collect func(agent Agent, exitCode int) CollectResult
}

// Sync binds a Config to its mutable FIFO, exclude set, and process table.
type Sync struct {
	id  string
	cfg Config
	log *logging.Logger

	fifo        *fifo.FIFO
	excludes    *exclude.Set
	processes   map[int]Agent
	completions chan<- process.Completion
}

// New constructs a Sync. The Init callback, if set, is invoked before
// returning so the FIFO starts non-empty (typically a blanket delay).
func New(cfg Config, log *logging.Logger) (*Sync, error) {
	if cfg.Action == nil {
		return nil, fmt.Errorf("sync %q: no action configured", cfg.Name)
	}
	if cfg.Collect == nil {
		return nil, fmt.Errorf("sync %q: no collect configured", cfg.Name)
	}

	s := &Sync{
		id:  uuid.New().String()[:8],
		cfg: cfg,
		log: log.Sublogger(cfg.Name),
		fifo: fifo.New(fifo.Config{
			Delay:     cfg.Delay,
			MaxDelays: cfg.MaxDelays,
			Collapse:  cfg.Collapse,
		}),
		excludes:  exclude.New(log.Sublogger(cfg.Name).Sublogger("exclude")),
		processes: make(map[int]Agent),
	}

	if cfg.Init != nil {
		in := s.newInlet([]*delay.Delay{}, true)
		if err := cfg.Init(in); err != nil {
			return nil, fmt.Errorf("sync %q: init failed: %w", cfg.Name, err)
		}
	}

	return s, nil
}

// SetCompletions wires the channel this sync's spawned processes report
// completion on. The engine calls this once per sync before starting the
// main loop.
func (s *Sync) SetCompletions(ch chan<- process.Completion) {
	s.completions = ch
}

// ID returns the sync's short correlation id. The sync's own log lines are
// prefixed with its Name, not this id.
func (s *Sync) ID() string { return s.id }

// Name returns the sync's display name.
func (s *Sync) Name() string { return s.cfg.Name }

// Delay implements delay(etype, time, path, path2): exclusion
// filtering, Move decomposition, and delegation to the FIFO's alarm
// assignment and collapse scan.
func (s *Sync) Delay(etype delay.EventType, t time.Time, path, path2 string) {
	if etype == delay.Blanket {
		s.fifo.AddBlanket()
		return
	}

	if etype != delay.Move {
		if s.excludes.Test(path) {
			return
		}
		s.fifo.Add(etype, t, path, "")
		return
	}

	// Move: test both sides.
	srcExcluded := s.excludes.Test(path)
	dstExcluded := s.excludes.Test(path2)
	switch {
	case srcExcluded && dstExcluded:
		return
	case dstExcluded:
		s.Delay(delay.Delete, t, path, "")
		return
	case srcExcluded:
		s.Delay(delay.Create, t, path2, "")
		return
	}

	if !s.cfg.OnMove {
		s.Delay(delay.Delete, t, path, "")
		s.Delay(delay.Create, t, path2, "")
		return
	}

	s.fifo.Add(delay.Move, t, path, path2)
}

// AddBlanketDelay appends a Blanket delay representing a full recursive
// reconciliation.
func (s *Sync) AddBlanketDelay() {
	s.fifo.AddBlanket()
}

// GetAlarm returns the soonest time at which this sync has work to do, or
// false if the process table is full.
func (s *Sync) GetAlarm() (time.Time, bool) {
	if s.cfg.MaxProcesses > 0 && len(s.processes) >= s.cfg.MaxProcesses {
		return time.Time{}, false
	}
	return s.fifo.NextAlarm()
}

// nextRunnable walks the FIFO front to back looking for the first Wait
// delay eligible to run at now, honoring the alarm gate unless the FIFO is
// saturated.
func (s *Sync) nextRunnable(now time.Time) *delay.Delay {
	saturated := s.fifo.Saturated()
	for _, d := range s.fifo.Items() {
		if d.Status != delay.Wait {
			continue
		}
		if !saturated && d.Alarm.After(now) {
			return nil
		}
		return d
	}
	return nil
}

// InvokeActions spawns actions for every eligible delay until the process
// table is full or no delay is runnable.
func (s *Sync) InvokeActions(now time.Time) {
	for s.cfg.MaxProcesses <= 0 || len(s.processes) < s.cfg.MaxProcesses {
		d := s.nextRunnable(now)
		if d == nil {
			return
		}

		in := s.newInlet([]*delay.Delay{d}, false)
		if err := s.cfg.Action(in); err != nil {
			s.log.Errorf("action failed for %s %s: %v", d.Etype, d.Path, err)
		}

		if d.Status == delay.Wait {
			s.log.Warnf("action neither spawned nor discarded %s %s; retrying next cycle", d.Etype, d.Path)
			return
		}
	}
}

// Collect looks up pid in the process table and, if found, invokes the
// configured Collect callback and applies its verdict. It
// returns false if pid isn't one of this sync's processes.
func (s *Sync) Collect(pid int, exitCode int) (claimed bool, die bool) {
	agent, ok := s.processes[pid]
	if !ok {
		return false, false
	}
	delete(s.processes, pid)

	result := s.cfg.Collect(agent, exitCode)
	switch result {
	case CollectDie:
		return true, true
	case CollectAgain:
		retryDelay := s.cfg.Delay
		if retryDelay < time.Second {
			retryDelay = time.Second
		}
		again := time.Now().Add(retryDelay)
		for _, d := range agent.delays {
			d.Status = delay.Wait
			d.Alarm = again
		}
	default:
		for _, d := range agent.delays {
			s.fifo.Remove(d)
		}
	}
	return true, false
}

// spawn is the Inlet callback used to launch a child process on behalf of
// the delay(s) backing an Inlet, registering it in the process table and
// marking those delays Active.
func (s *Sync) spawn(agentDelays []*delay.Delay) func(string, []string, string) (int, error) {
	return func(name string, args []string, stdin string) (int, error) {
		pid, err := process.Spawn(name, args, stdin, s.log, s.completions)
		if err != nil {
			return 0, err
		}
		s.processes[pid] = Agent{delays: agentDelays}
		for _, d := range agentDelays {
			d.Status = delay.Active
		}
		return pid, nil
	}
}

// newInlet builds an Inlet bound to this sync's mutation callbacks.
func (s *Sync) newInlet(ds []*delay.Delay, isInit bool) *inlet.Inlet {
	cb := inlet.Callbacks{
		Discard: func(d *delay.Delay) {
			if d.Status != delay.Wait {
				s.log.Warnf("discardEvent called on non-wait delay %s %s (status=%s); ignoring", d.Etype, d.Path, d.Status)
				return
			}
			s.fifo.Remove(d)
		},
		CreateBlanket: func() *delay.Delay {
			return s.fifo.AddBlanket()
		},
		AddExclude:    s.excludes.Add,
		RemoveExclude: s.excludes.Remove,
		Spawn:         s.spawn(ds),
	}

	if isInit {
		return inlet.New(&delay.Delay{Etype: delay.None}, s.cfg.Source, s.cfg.Target, s.cfg.ActionConfig, cb)
	}
	if len(ds) == 1 {
		return inlet.New(ds[0], s.cfg.Source, s.cfg.Target, s.cfg.ActionConfig, cb)
	}
	return inlet.NewList(ds, s.cfg.Source, s.cfg.Target, s.cfg.ActionConfig, cb)
}

// ActiveProcessCount returns the number of currently running child
// processes for this sync.
func (s *Sync) ActiveProcessCount() int { return len(s.processes) }

// Idle reports whether this sync has no queued delays and no running
// processes, the condition the fade shutdown state waits for before this
// sync may be considered finished.
func (s *Sync) Idle() bool {
	return len(s.processes) == 0 && s.fifo.Len() == 0
}

// AddExclude adds a pattern to this sync's exclude set.
func (s *Sync) AddExclude(pattern string) error { return s.excludes.Add(pattern) }

// RemoveExclude removes a pattern from this sync's exclude set.
func (s *Sync) RemoveExclude(pattern string) { s.excludes.Remove(pattern) }

// LoadExcludeFile reads path as a newline-separated exclude pattern file
// and adds every pattern it contains to this sync's exclude set.
func (s *Sync) LoadExcludeFile(path string) error { return s.excludes.LoadFile(path) }

// StatusReport writes this sync's status to w, following the status file
// format: a header line, the delay count, one line per delay, then the
// exclude list.
func (s *Sync) StatusReport(w io.Writer) {
	fmt.Fprintf(w, "%s source=%s\n", s.cfg.Name, s.cfg.Source)

	items := s.fifo.Items()
	fmt.Fprintf(w, "There are %d delays\n", len(items))

	for _, d := range items {
		line := fmt.Sprintf("%s %s %s", d.Status, d.Etype, d.Path)
		if d.Etype == delay.Move {
			line += " -> " + d.Path2
		}
		if d.Status == delay.Wait {
			line += fmt.Sprintf(" (alarm %s)", humanize.Time(d.Alarm))
		}
		fmt.Fprintln(w, line)
	}

	patterns := s.excludes.Patterns()
	sorted := append([]string(nil), patterns...)
	sort.Strings(sorted)
	for _, p := range sorted {
		fmt.Fprintf(w, "exclude: %s\n", p)
	}
}
