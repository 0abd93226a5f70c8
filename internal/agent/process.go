package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"codebox-relay/internal/procutil"
)

const (
	ActionActivateBridge = "activate_bridge"
	ActionInjectTestData = "inject_test_data"
)

// killWait bounds how long Terminate waits for the process to be reaped
// after a forced kill.
const killWait = 2 * time.Second

var ErrNotRunning = errors.New("agent process not running")

// Command is one JSON line written to an agent's stdin.
type Command struct {
	Action string `json:"action"`
}

// Output is one JSON line printed by an agent on stdout.
type Output struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

type OutputHandler func(agentID string, out Output)

// Handle is a supervised agent process.
type Handle interface {
	ID() string
	Running() bool
	Send(cmd Command) error
	Terminate(grace time.Duration) error
}

// Spawner starts an agent for url. onOutput receives the agent's structured
// stdout lines.
type Spawner interface {
	Spawn(agentID string, url string, onOutput OutputHandler) (Handle, error)
}

// ExecSpawner starts agents as OS processes running Command with the target
// URL appended as the last argument.
type ExecSpawner struct {
	Command []string
	Dir     string
}

func (s *ExecSpawner) Spawn(agentID string, url string, onOutput OutputHandler) (Handle, error) {
	if len(s.Command) == 0 {
		return nil, fmt.Errorf("agent_command is empty")
	}
	args := append(append([]string{}, s.Command[1:]...), url)
	p, err := Start(agentID, s.Command[0], args, s.Dir, onOutput)
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Process struct {
	id       string
	cmd      *exec.Cmd
	onOutput OutputHandler

	writeMu sync.Mutex
	stdin   io.WriteCloser

	exited  chan struct{}
	waitErr error
}

func Start(agentID string, name string, args []string, dir string, onOutput OutputHandler) (*Process, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	procutil.Configure(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		id:       agentID,
		cmd:      cmd,
		onOutput: onOutput,
		stdin:    stdin,
		exited:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		p.readStderr(stderr)
	}()
	go func() {
		readers.Wait()
		p.waitErr = cmd.Wait()
		close(p.exited)
		log.Printf("agent %s: exited (%v)", p.id, p.waitErr)
	}()

	log.Printf("agent %s: started pid=%d", agentID, cmd.Process.Pid)
	return p, nil
}

func (p *Process) ID() string {
	return p.id
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Running() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) Send(cmd Command) error {
	if !p.Running() {
		return ErrNotRunning
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err = p.stdin.Write(append(b, '\n'))
	return err
}

// Terminate asks the process to stop and force-kills it when it is still
// alive after grace.
func (p *Process) Terminate(grace time.Duration) error {
	if !p.Running() {
		return nil
	}
	procutil.Terminate(p.cmd)

	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
	}

	log.Printf("agent %s: still running after %s, killing", p.id, grace)
	procutil.Kill(p.cmd)
	select {
	case <-p.exited:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("agent %s: process did not exit after kill", p.id)
	}
}

func (p *Process) readStdout(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			p.handleLine(bytes.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) readStderr(r io.Reader) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			log.Printf("agent %s stderr: %s", p.id, trimmed)
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}

	var out Output
	if err := json.Unmarshal(line, &out); err != nil || out.Type == "" {
		log.Printf("agent %s: %s", p.id, line)
		return
	}
	if p.onOutput != nil {
		p.onOutput(p.id, out)
	}
}
