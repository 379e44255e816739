package process

import "syscall"

// detachedProcessFlag creates a process detached from its parent's console.
const detachedProcessFlag = 0x00000008

// detachedAttributes returns the SysProcAttr to apply to every spawned
// child so it survives the daemon's own controlling terminal going away.
func detachedAttributes() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: detachedProcessFlag}
}
