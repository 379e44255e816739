//go:build !windows && !plan9
// +build !windows,!plan9

package process

import "syscall"

// detachedAttributes returns the SysProcAttr to apply to every spawned
// child so it survives the daemon's own controlling terminal going away
// (e.g. when -nodaemon is not set and the shell that launched the daemon
// exits). Setsid detaches the child from any controlling terminal by
// putting it in its own session, which is more robust than Noctty (that
// only detaches standard input).
func detachedAttributes() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
