// Package action implements the built-in transfer actions: rsync over a
// local or already-mounted target, and rsync over ssh to a remote host.
// Both are thin os/exec wrappers around the rsync(1) binary, wired through
// an Inlet the way any user-supplied action callback would be.
package action

import (
	"sort"

	"github.com/antirek/lsyncd/internal/inlet"
	"github.com/antirek/lsyncd/internal/process"
	"github.com/antirek/lsyncd/internal/sync"
	"github.com/antirek/lsyncd/internal/target"
)

// RsyncConfig configures the built-in rsync action used for both "-rsync
// SRC DST" and a config file sync whose action is "rsync".
type RsyncConfig struct {
	// Binary is the rsync executable to invoke; defaults to "rsync".
	Binary string
	// Flags are extra flags appended after the built-in default set
	// ("-a", "--delete"); use this for e.g. "--chmod" or bandwidth limits.
	Flags []string
}

func (c RsyncConfig) binary() string {
	if c.Binary == "" {
		return process.ExecutableName("rsync")
	}
	return c.Binary
}

func (c RsyncConfig) baseArgs() []string {
	args := []string{"-a", "--delete"}
	return append(args, c.Flags...)
}

// RsyncInit requests the initial full-tree reconciliation by queueing a
// blanket delay; RsyncAction later serves that delay by rsyncing the whole
// source onto the target, the same way a later full resynchronization
// would be.
func RsyncInit(cfg RsyncConfig) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		in.CreateBlanketEvent()
		return nil
	}
}

// RsyncAction syncs every directory touched by the delay(s) behind in. A
// batch of delays is collapsed to its distinct parent directories so one
// rsync invocation can cover several queued changes at once.
func RsyncAction(cfg RsyncConfig) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		dirs := targetDirs(in)
		args := append(append([]string{}, cfg.baseArgs()...))
		for _, d := range dirs {
			src := in.Source() + "/" + d
			dst := in.Target() + "/" + d
			args = append(args, src, dst)
		}
		_, err := in.Spawn(cfg.binary(), args, "")
		return err
	}
}

// RsyncCollect interprets an rsync exit code. Exit codes 24 ("file vanished
// during transfer") and 23 ("partial transfer due to error") are treated as
// success: both are routine races against a source still being written to,
// not failures worth retrying forever. Anything else is retried once the
// configured delay elapses again; a syntax/usage error (exit 1 or 2) is
// fatal, since retrying an invocation rsync itself refused to run cannot
// ever succeed.
func RsyncCollect(agent sync.Agent, exitCode int) sync.CollectResult {
	switch exitCode {
	case 0, 23, 24:
		return sync.CollectDone
	case 1, 2:
		return sync.CollectDie
	default:
		return sync.CollectAgain
	}
}

// targetDirs collapses a batch of delays into the distinct, sorted set of
// parent directories that need re-syncing. The sync root itself ("") is
// used when any delay is a top-level entry.
func targetDirs(in *inlet.Inlet) []string {
	seen := make(map[string]bool)
	for _, p := range in.GetPaths(nil) {
		seen[parentDir(p)] = true
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

func parentDir(p string) string {
	if p == "" {
		return ""
	}
	end := len(p)
	if p[end-1] == '/' {
		end--
	}
	for i := end - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i+1]
		}
	}
	return ""
}

// RsyncsshConfig configures the built-in rsync-over-ssh action used for
// "-rsyncssh SRC HOST DIR" and a config file sync whose action is
// "rsyncssh".
type RsyncsshConfig struct {
	RsyncConfig
	// Host is the remote host spec rsync connects to: "host",
	// "user@host", or "user@host:port".
	Host string
	// SSH configures the ssh transport (-e flag) rsync connects through.
	SSH SSHOptions
}

// host parses cfg.Host, falling back to a bare-hostname Target if it
// doesn't parse (so a malformed host spec degrades to "ssh to this literal
// string" rather than failing the whole action outright; Load only checks
// that the config file's host field is present).
func (cfg RsyncsshConfig) host() *target.Target {
	if t, err := target.ParseHost(cfg.Host); err == nil {
		return t
	}
	return &target.Target{Protocol: target.SSH, Host: cfg.Host}
}

// RsyncsshAction is RsyncAction with every target path addressed through
// ssh: the destination is prefixed with "[user@]host:" and rsync is told to
// tunnel through ssh via -e, with the port and identity file cfg.SSH
// configures.
func RsyncsshAction(cfg RsyncsshConfig) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		t := cfg.host()
		dirs := targetDirs(in)
		args := append([]string{"-e", transportCommand(t, cfg.SSH)}, cfg.baseArgs()...)
		for _, d := range dirs {
			src := in.Source() + "/" + d
			args = append(args, src, destination(t, in.Target()+"/"+d))
		}
		_, err := in.Spawn(cfg.binary(), args, "")
		return err
	}
}

// RsyncsshInit mirrors RsyncInit for the ssh-addressed target.
func RsyncsshInit(cfg RsyncsshConfig) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		in.CreateBlanketEvent()
		return nil
	}
}
