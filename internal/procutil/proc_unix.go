//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Configure puts the child in its own process group so signals reach
// everything it spawns.
func Configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func Terminate(cmd *exec.Cmd) {
	signalGroup(cmd, unix.SIGTERM)
}

func Kill(cmd *exec.Cmd) {
	signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := unix.Getpgid(pid); err == nil && pgid > 0 {
		// Negative PGID targets the full process group.
		_ = unix.Kill(-pgid, sig)
		return
	}
	_ = cmd.Process.Signal(sig)
}
