package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"codebox-relay/internal/procutil"
)

const maxOutputBytes = 16 << 10

var dangerousPatterns = []string{"rm -rf", "del /f", "format", "shutdown", "reboot", "rmdir /s"}

func (t *Toolset) executeCommand(ctx context.Context, args []string) (string, error) {
	if !t.cfg.AllowSystemCommands {
		return "", ErrCommandsDisabled
	}
	command := strings.TrimSpace(args[0])
	if command == "" {
		return "", fmt.Errorf("command is empty")
	}
	if pattern, bad := dangerous(command); bad {
		return "", fmt.Errorf("%w: contains %q", ErrCommandBlocked, pattern)
	}

	dir := t.root
	if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
		resolved, err := t.resolve(args[1])
		if err != nil {
			return "", err
		}
		dir = resolved
	}

	shell, shellArgs, err := procutil.ShellCommand()
	if err != nil {
		return "", err
	}

	timeout := t.cfg.CommandTimeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell, append(shellArgs, command)...)
	cmd.Dir = dir
	procutil.Configure(cmd)
	cmd.Cancel = func() error {
		procutil.Kill(cmd)
		return nil
	}
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	t.note("SYSTEM_COMMAND", "EXECUTE_COMMAND", command)
	runErr := cmd.Run()

	exitCode := 0
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return commandReport(command, t.display(dir), -1, stdout, stderr),
			fmt.Errorf("%w after %s", ErrCommandTimeout, timeout)
	}
	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		exitCode = exitErr.ExitCode()
	default:
		return "", runErr
	}
	return commandReport(command, t.display(dir), exitCode, stdout, stderr), nil
}

func dangerous(command string) (string, bool) {
	lower := strings.ToLower(command)
	for _, p := range dangerousPatterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

func commandReport(command string, dir string, exitCode int, stdout *cappedBuffer, stderr *cappedBuffer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\nworkdir: %s\nexit code: %d\n", command, dir, exitCode)
	if stdout.Len() > 0 {
		b.WriteString("--- stdout ---\n")
		b.WriteString(stdout.String())
		b.WriteByte('\n')
	}
	if stderr.Len() > 0 {
		b.WriteString("--- stderr ---\n")
		b.WriteString(stderr.String())
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Len() int {
	return c.buf.Len()
}

func (c *cappedBuffer) String() string {
	s := strings.TrimRight(c.buf.String(), "\n")
	if c.truncated {
		s += "\n... [output truncated]"
	}
	return s
}
