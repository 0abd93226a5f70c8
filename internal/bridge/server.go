package bridge

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"codebox-relay/internal/types"
)

type EventType string

const (
	EventConnect    EventType = "connect"
	EventDisconnect EventType = "disconnect"
	EventMessage    EventType = "message"
)

type Event struct {
	Type    EventType
	Remote  string
	Message *types.Message
}

type EventHandler func(Event)

// Server accepts one client at a time and relays line-delimited JSON
// messages with it. A new connection replaces the previous one.
type Server struct {
	addr string

	mu       sync.Mutex
	listener net.Listener
	client   net.Conn
	running  bool

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   []EventHandler

	acceptDone chan struct{}
	stopOnce   sync.Once
}

func NewServer(host string, port int) *Server {
	return &Server{
		addr:       net.JoinHostPort(host, strconv.Itoa(port)),
		acceptDone: make(chan struct{}),
	}
}

// OnEvent subscribes h to connect, disconnect and message events.
func (s *Server) OnEvent(h EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	log.Printf("bridge: listening on %s", ln.Addr())
	go s.acceptLoop(ln)
	return nil
}

// Addr is the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *Server) Send(msg *types.Message) error {
	s.mu.Lock()
	conn := s.client
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	err := writeLine(conn, msg)
	s.writeMu.Unlock()
	if err != nil {
		log.Printf("bridge: send failed: %v", err)
		s.dropClient(conn)
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		ln := s.listener
		conn := s.client
		s.mu.Unlock()

		if conn != nil {
			s.dropClient(conn)
		}
		if ln != nil {
			_ = ln.Close()
			<-s.acceptDone
		}
	})
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if running && !isClosedErr(err) {
				log.Printf("bridge: accept: %v", err)
			}
			return
		}

		s.mu.Lock()
		prev := s.client
		s.client = conn
		s.mu.Unlock()
		if prev != nil {
			log.Printf("bridge: replacing client %s", prev.RemoteAddr())
			_ = prev.Close()
		}

		remote := conn.RemoteAddr().String()
		log.Printf("bridge: client connected from %s", remote)
		s.emit(Event{Type: EventConnect, Remote: remote})
		go s.listen(conn)
	}
}

func (s *Server) listen(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	err := readLines(conn, func(msg *types.Message) {
		s.emit(Event{Type: EventMessage, Remote: remote, Message: msg})
	})
	if err != nil && !isClosedErr(err) {
		log.Printf("bridge: read from %s: %v", remote, err)
	}
	s.dropClient(conn)
}

// dropClient closes conn and, when it is still the active client, clears it
// and emits exactly one disconnect event.
func (s *Server) dropClient(conn net.Conn) {
	s.mu.Lock()
	current := s.client == conn
	if current {
		s.client = nil
	}
	s.mu.Unlock()

	_ = conn.Close()
	if current {
		remote := conn.RemoteAddr().String()
		log.Printf("bridge: client %s disconnected", remote)
		s.emit(Event{Type: EventDisconnect, Remote: remote})
	}
}

func (s *Server) emit(ev Event) {
	s.handlersMu.RLock()
	handlers := append([]EventHandler(nil), s.handlers...)
	s.handlersMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
