// Package process launches the external transfer tools (rsync, ssh, and any
// other action script) that the core engine schedules, and extracts their
// exit codes once the main loop reaps them.
package process

import (
	"io"
	"os/exec"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"github.com/antirek/lsyncd/internal/logging"
)

// Completion reports that a previously spawned child has exited.
type Completion struct {
	Pid      int
	ExitCode int
	Err      error
}

// Spawn starts name with args, feeding it stdin (if non-empty) on its
// standard input and routing its standard output/error through log. It
// returns the child's pid immediately; the child's completion is delivered
// asynchronously on completions once it exits, the way the main loop's
// "reap completed children" step expects to be fed.
func Spawn(name string, args []string, stdin string, log *logging.Logger, completions chan<- Completion) (int, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = log.Writer()
	cmd.Stderr = log.ErrWriter()
	cmd.SysProcAttr = detachedAttributes()

	var stdinPipe io.WriteCloser
	if stdin != "" {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return 0, errors.Wrap(err, "unable to create stdin pipe")
		}
		stdinPipe = pipe
	}

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "unable to start %s", name)
	}

	pid := cmd.Process.Pid

	if stdinPipe != nil {
		go func() {
			io.Copy(stdinPipe, strings.NewReader(stdin))
			stdinPipe.Close()
		}()
	}

	go func() {
		err := cmd.Wait()
		code, codeErr := ExitCode(cmd, err)
		if codeErr != nil && err == nil {
			err = codeErr
		}
		completions <- Completion{Pid: pid, ExitCode: code, Err: err}
	}()

	return pid, nil
}

// DetachedAttributes exposes the same SysProcAttr Spawn applies to every
// child it starts, for callers outside this package that launch a process
// of their own and still want it detached from the controlling terminal
// (the daemon re-execing itself into the background for "-nodaemon=false").
func DetachedAttributes() *syscall.SysProcAttr {
	return detachedAttributes()
}

// ExitCode extracts a process' exit code from its post-Wait state,
// tolerating the case where cmd.Wait already returned a non-ExitError
// failure (e.g. the binary couldn't be found).
func ExitCode(cmd *exec.Cmd, waitErr error) (int, error) {
	if cmd.ProcessState == nil {
		return -1, errors.New("process state unavailable")
	}

	if waitStatus, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok {
		return waitStatus.ExitStatus(), nil
	}

	if waitErr == nil && cmd.ProcessState.Success() {
		return 0, nil
	}

	return -1, errors.New("unable to access wait status")
}
