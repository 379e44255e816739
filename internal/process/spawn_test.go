package process

import (
	"testing"

	"github.com/antirek/lsyncd/internal/logging"
)

// TestSpawnReportsCompletion runs a real child process and verifies that its
// pid and exit code are reported on the completion channel the way the
// engine's reap step expects.
func TestSpawnReportsCompletion(t *testing.T) {
	completions := make(chan Completion, 1)
	log := logging.Root

	pid, err := Spawn("/bin/sh", []string{"-c", "exit 7"}, "", log, completions)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	c := <-completions
	if c.Pid != pid {
		t.Errorf("completion pid = %d, want %d", c.Pid, pid)
	}
	if c.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", c.ExitCode)
	}
}

// TestSpawnFeedsStdin verifies that a non-empty stdin argument is delivered
// to the child's standard input.
func TestSpawnFeedsStdin(t *testing.T) {
	completions := make(chan Completion, 1)
	log := logging.Root

	_, err := Spawn("/bin/sh", []string{"-c", "read line; exit $((line))"}, "3", log, completions)
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	c := <-completions
	if c.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3 (stdin was not delivered correctly)", c.ExitCode)
	}
}

// TestSpawnUnknownBinary verifies that a missing executable is reported as
// an error from Spawn itself, rather than a fabricated completion.
func TestSpawnUnknownBinary(t *testing.T) {
	completions := make(chan Completion, 1)
	log := logging.Root

	if _, err := Spawn("lsyncd-definitely-not-a-real-binary", nil, "", log, completions); err == nil {
		t.Fatal("expected error spawning a nonexistent binary")
	}
}
