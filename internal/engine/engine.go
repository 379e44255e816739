// Package engine implements the main loop: the single-threaded scheduler
// that owns every configured sync, pumps kernel events through the watch
// registry, reaps finished child processes, invokes due actions, and
// writes the status file. It also carries the run/fade lifecycle a
// termination signal drives the daemon through.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/antirek/lsyncd/internal/kernel"
	"github.com/antirek/lsyncd/internal/logging"
	"github.com/antirek/lsyncd/internal/process"
	"github.com/antirek/lsyncd/internal/sync"
	"github.com/antirek/lsyncd/internal/watch"
	"github.com/antirek/lsyncd/pkg/timeutil"
)

// state is the engine's lifecycle position.
type state int

const (
	// stateRun is normal operation.
	stateRun state = iota
	// stateFade is the drain state entered on a termination signal or a
	// kernel queue overflow: the loop exits once every sync is idle.
	stateFade
)

// Options configures an Engine beyond the syncs and facility it's built
// around.
type Options struct {
	// StatusFile, if non-empty, is periodically overwritten with a
	// snapshot of every sync's queue.
	StatusFile string
	// StatusInterval is how often StatusFile is rewritten; it is ignored
	// if StatusFile is empty. Zero disables periodic writes even if
	// StatusFile is set (the file is still written once at startup).
	StatusInterval time.Duration
	// Monitor, if non-nil, receives a one-line summary on every loop
	// iteration, for "-monitor"'s live status line. It must not block.
	Monitor func(string)
}

// boundSync pairs a constructed Sync with its facility-observed root.
type boundSync struct {
	sync *sync.Sync
	root string
}

// Engine drives every configured sync to completion (or, absent a fade
// signal, forever).
type Engine struct {
	facility kernel.Facility
	registry *watch.Registry
	log      *logging.Logger
	opts     Options

	syncs       []*boundSync
	completions chan process.Completion

	state          state
	lastStatus     time.Time
	lastStatusBody string
}

// New constructs an Engine. facility must already be initialized (e.g. via
// kernel.NewInotify); the caller owns closing it once Run returns.
func New(facility kernel.Facility, log *logging.Logger, opts Options) *Engine {
	return &Engine{
		facility:    facility,
		registry:    watch.NewRegistry(facility, log),
		log:         log.Sublogger("engine"),
		opts:        opts,
		completions: make(chan process.Completion, 64),
	}
}

// AddSync registers s, wires its process-completion reporting, and installs
// its recursive watch over root. It must be called before Run.
func (e *Engine) AddSync(s *sync.Sync, root string) error {
	s.SetCompletions(e.completions)
	if err := e.registry.AddSync(s, root); err != nil {
		return fmt.Errorf("sync %q: unable to watch %q: %w", s.Name(), root, err)
	}
	e.syncs = append(e.syncs, &boundSync{sync: s, root: root})
	return nil
}

// Run executes the main loop until every sync is idle after ctx is
// canceled or a queue overflow forces a fade-and-drain shutdown. It returns
// an error at once if a fatal collect verdict (sync.CollectDie) is returned
// by one of the configured Collect callbacks or the facility reports an
// error.
func (e *Engine) Run(ctx context.Context) error {
	if len(e.syncs) == 0 {
		return fmt.Errorf("engine: no syncs configured")
	}

	e.writeStatus()

	var statusTick <-chan time.Time
	if e.opts.StatusFile != "" && e.opts.StatusInterval > 0 {
		ticker := time.NewTicker(e.opts.StatusInterval)
		defer ticker.Stop()
		statusTick = ticker.C
	}

	for {
		now := time.Now()
		for _, b := range e.syncs {
			b.sync.InvokeActions(now)
		}

		if e.opts.Monitor != nil {
			e.opts.Monitor(e.summary())
		}

		if e.state == stateFade && e.allIdle() {
			e.log.Printf("all syncs idle, exiting")
			return nil
		}

		var timer *time.Timer
		if alarm, ok := e.soonestAlarm(); ok {
			d := alarm.Sub(time.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
		} else {
			timer = time.NewTimer(time.Hour)
		}

		select {
		case <-ctx.Done():
			if e.state != stateFade {
				e.log.Printf("termination requested, draining pending changes")
				e.state = stateFade
			}
		case ev, ok := <-e.facility.Events():
			if !ok {
				timeutil.StopAndDrainTimer(timer)
				return fmt.Errorf("engine: kernel event stream closed unexpectedly")
			}
			if overflow := e.registry.Dispatch(ev); overflow {
				e.log.Warnf("kernel event queue overflowed, forcing full resynchronization and shutting down")
				for _, b := range e.syncs {
					b.sync.AddBlanketDelay()
				}
				e.state = stateFade
			}
		case err := <-e.facility.Errors():
			timeutil.StopAndDrainTimer(timer)
			return fmt.Errorf("engine: kernel facility error: %w", err)
		case c := <-e.completions:
			for _, b := range e.syncs {
				claimed, die := b.sync.Collect(c.Pid, c.ExitCode)
				if claimed {
					if die {
						timeutil.StopAndDrainTimer(timer)
						return fmt.Errorf("sync %q: action reported a fatal error (exit %d)", b.sync.Name(), c.ExitCode)
					}
					break
				}
			}
		case <-statusTick:
			e.writeStatus()
		case <-timer.C:
		}
		timeutil.StopAndDrainTimer(timer)
	}
}

// summary renders a one-line status across every sync, for "-monitor".
func (e *Engine) summary() string {
	active := 0
	pending := 0
	for _, b := range e.syncs {
		active += b.sync.ActiveProcessCount()
	}
	if alarm, ok := e.soonestAlarm(); ok {
		pending = int(time.Until(alarm).Round(time.Second).Seconds())
	}
	return fmt.Sprintf("%d sync(s), %d process(es) running, next action in %ds", len(e.syncs), active, pending)
}

func (e *Engine) allIdle() bool {
	for _, b := range e.syncs {
		if !b.sync.Idle() {
			return false
		}
	}
	return true
}

func (e *Engine) soonestAlarm() (time.Time, bool) {
	var best time.Time
	found := false
	for _, b := range e.syncs {
		alarm, ok := b.sync.GetAlarm()
		if !ok {
			continue
		}
		if !found || alarm.Before(best) {
			best = alarm
			found = true
		}
	}
	return best, found
}

// writeStatus overwrites the configured status file with a fresh snapshot,
// skipping the write if nothing has changed since the last one (besides the
// timestamp line itself), to avoid needless disk I/O on a quiet tree.
// Failures are logged, not fatal: a daemon shouldn't die because its
// monitoring output couldn't be written.
func (e *Engine) writeStatus() {
	if e.opts.StatusFile == "" {
		return
	}

	var buf bytes.Buffer
	for _, b := range e.syncs {
		b.sync.StatusReport(&buf)
		fmt.Fprintln(&buf)
	}
	body := buf.String()
	if body == e.lastStatusBody {
		return
	}
	e.lastStatusBody = body
	e.lastStatus = time.Now()

	f, err := os.Create(e.opts.StatusFile)
	if err != nil {
		e.log.Warnf("unable to write status file %q: %v", e.opts.StatusFile, err)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "Lsyncd status report at %s\n\n", e.lastStatus.Format(time.RFC1123))
	f.WriteString(body)
}
