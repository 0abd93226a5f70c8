// Package manager supervises browser agent processes on behalf of the bridge
// client and reports their state over the relay bridge.
package manager

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"codebox-relay/internal/agent"
	"codebox-relay/internal/bridge"
	"codebox-relay/internal/types"
)

var (
	ErrStopped      = errors.New("manager stopped")
	ErrUnknownAgent = errors.New("unknown agent")
	ErrBadLaunch    = errors.New("launch needs agent_id and url")
)

const (
	stateOnline  = "Online"
	stateOffline = "Offline"
	colorGreen   = "green"
	colorRed     = "red"
)

// ManagerStatusID is the status entry describing the manager itself.
const ManagerStatusID = "manager"

// Bridge is the server side of the relay bridge.
type Bridge interface {
	OnEvent(h bridge.EventHandler)
	Start() error
	Send(msg *types.Message) error
	Connected() bool
	Stop()
}

type Options struct {
	StatusInterval time.Duration
	TerminateGrace time.Duration
}

type Manager struct {
	bridge  Bridge
	spawner agent.Spawner
	opts    Options
	cron    *cron.Cron

	mu      sync.Mutex
	agents  map[string]agent.Handle
	stopped bool

	stopOnce sync.Once
	done     chan struct{}
}

func New(b Bridge, spawner agent.Spawner, opts Options) *Manager {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 5 * time.Second
	}
	if opts.TerminateGrace <= 0 {
		opts.TerminateGrace = 5 * time.Second
	}
	m := &Manager{
		bridge:  b,
		spawner: spawner,
		opts:    opts,
		cron:    cron.New(),
		agents:  map[string]agent.Handle{},
		done:    make(chan struct{}),
	}
	b.OnEvent(m.handleEvent)
	return m
}

// Start opens the bridge and schedules the periodic status broadcast.
func (m *Manager) Start() error {
	if err := m.bridge.Start(); err != nil {
		return err
	}
	spec := fmt.Sprintf("@every %s", m.opts.StatusInterval)
	if _, err := m.cron.AddFunc(spec, m.BroadcastStatus); err != nil {
		m.bridge.Stop()
		return fmt.Errorf("schedule status broadcast: %w", err)
	}
	m.cron.Start()
	log.Printf("manager: started (status every %s)", m.opts.StatusInterval)
	return nil
}

// Done is closed once Stop has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Launch starts agentID on url unless it is already running.
func (m *Manager) Launch(agentID string, url string) error {
	if agentID == "" || url == "" {
		return ErrBadLaunch
	}
	if agentID == ManagerStatusID {
		return fmt.Errorf("%w: %q is reserved", ErrBadLaunch, agentID)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	if h, ok := m.agents[agentID]; ok && h.Running() {
		m.mu.Unlock()
		log.Printf("manager: agent %s already running", agentID)
		return nil
	}
	h, err := m.spawner.Spawn(agentID, url, m.relayOutput)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("launch %s: %w", agentID, err)
	}
	m.agents[agentID] = h
	m.mu.Unlock()

	log.Printf("manager: launched agent %s for %s", agentID, url)
	m.BroadcastStatus()
	return nil
}

// Activate tells a running agent to install its page bridge.
func (m *Manager) Activate(agentID string) error {
	m.mu.Lock()
	h, ok := m.agents[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	return h.Send(agent.Command{Action: agent.ActionActivateBridge})
}

// Statuses reports the manager as online plus the state of every agent
// launched so far.
func (m *Manager) Statuses() types.StatusMap {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := types.StatusMap{ManagerStatusID: {stateOnline, colorGreen}}
	for id, h := range m.agents {
		if h.Running() {
			st[id] = [2]string{stateOnline, colorGreen}
		} else {
			st[id] = [2]string{stateOffline, colorRed}
		}
	}
	return st
}

// Agents returns the IDs of all launched agents, sorted.
func (m *Manager) Agents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) BroadcastStatus() {
	if !m.bridge.Connected() {
		return
	}
	if err := m.bridge.Send(types.NewStatusMessage(m.Statuses())); err != nil && !errors.Is(err, bridge.ErrNotConnected) {
		log.Printf("manager: status broadcast failed: %v", err)
	}
}

// Stop terminates every running agent, each at most once and all in
// parallel, then closes the bridge. It is safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		handles := make([]agent.Handle, 0, len(m.agents))
		for _, h := range m.agents {
			handles = append(handles, h)
		}
		m.mu.Unlock()

		<-m.cron.Stop().Done()

		var wg sync.WaitGroup
		for _, h := range handles {
			if !h.Running() {
				continue
			}
			wg.Add(1)
			go func(h agent.Handle) {
				defer wg.Done()
				log.Printf("manager: terminating agent %s", h.ID())
				if err := h.Terminate(m.opts.TerminateGrace); err != nil {
					log.Printf("manager: terminate %s: %v", h.ID(), err)
				}
			}(h)
		}
		wg.Wait()

		m.bridge.Stop()
		close(m.done)
		log.Printf("manager: stopped")
	})
}

func (m *Manager) handleEvent(ev bridge.Event) {
	switch ev.Type {
	case bridge.EventConnect, bridge.EventDisconnect:
		m.BroadcastStatus()
	case bridge.EventMessage:
		m.handleMessage(ev.Message)
	}
}

func (m *Manager) handleMessage(msg *types.Message) {
	switch msg.Type() {
	case types.TypeSystemCommand:
		if cmd, _ := msg.ContentString(); cmd == types.CommandShutdown {
			log.Printf("manager: shutdown requested by %s", msg.AgentID)
			m.Stop()
			return
		}
		log.Printf("manager: unknown system command %v", msg.Content)

	case types.TypeLaunchAgent:
		var req types.LaunchAgent
		if err := msg.DecodeContent(&req); err != nil {
			log.Printf("manager: bad launch_agent content: %v", err)
			return
		}
		if err := m.Launch(req.AgentID, req.URL); err != nil {
			log.Printf("manager: %v", err)
		}

	case types.TypeActivateRelay:
		var req types.ActivateRelay
		if err := msg.DecodeContent(&req); err != nil {
			log.Printf("manager: bad activate_relay content: %v", err)
			return
		}
		if err := m.Activate(req.AgentID); err != nil {
			log.Printf("manager: activate %s: %v", req.AgentID, err)
		}

	default:
		log.Printf("manager: ignoring %s message from %s", msg.Type(), msg.AgentID)
	}
}

// relayOutput forwards an agent's stdout event to the bridge client.
func (m *Manager) relayOutput(agentID string, out agent.Output) {
	msg := types.NewMessage(agentID, out.Content, types.DirectionIncoming, types.TypeJSLog)
	msg.Metadata["output_type"] = out.Type
	if err := m.bridge.Send(msg); err != nil && !errors.Is(err, bridge.ErrNotConnected) {
		log.Printf("manager: relay output of %s: %v", agentID, err)
	}
}
