//go:build windows

package procutil

import "os/exec"

func Configure(cmd *exec.Cmd) {}

// Terminate is a hard kill: console-less children get no polite signal.
func Terminate(cmd *exec.Cmd) {
	Kill(cmd)
}

func Kill(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
