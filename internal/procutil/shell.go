package procutil

import (
	"errors"
	"os/exec"
	"runtime"
)

var ErrShellUnavailable = errors.New("no shell executor available")

// ShellCommand returns the program and leading arguments used to run a
// command line through the platform shell.
func ShellCommand() (string, []string, error) {
	return resolveShell(runtime.GOOS, exec.LookPath)
}

func resolveShell(goos string, lookPath func(string) (string, error)) (string, []string, error) {
	if goos == "windows" {
		if p, err := lookPath("cmd"); err == nil {
			return p, []string{"/C"}, nil
		}
		if p, err := lookPath("powershell"); err == nil {
			return p, []string{"-NoProfile", "-Command"}, nil
		}
		return "", nil, ErrShellUnavailable
	}
	for _, name := range []string{"sh", "bash"} {
		if p, err := lookPath(name); err == nil {
			return p, []string{"-c"}, nil
		}
	}
	return "", nil, ErrShellUnavailable
}
