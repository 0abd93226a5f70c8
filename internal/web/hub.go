package web

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteTimeout = 5 * time.Second

type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
}

type peer struct {
	writeMu sync.Mutex
	conn    wsWriter
	timeout time.Duration
}

// send writes one frame. A peer that cannot take it within the timeout fails
// instead of blocking the broadcast.
func (p *peer) send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(p.timeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans bridge messages out to every connected browser.
type Hub struct {
	writeTimeout time.Duration

	mu    sync.Mutex
	peers map[wsWriter]*peer
}

func NewHub() *Hub {
	return &Hub{writeTimeout: defaultWriteTimeout, peers: map[wsWriter]*peer{}}
}

func (h *Hub) add(conn wsWriter) *peer {
	p := &peer{conn: conn, timeout: h.writeTimeout}
	h.mu.Lock()
	h.peers[conn] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) remove(conn wsWriter) {
	h.mu.Lock()
	delete(h.peers, conn)
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast sends v as JSON to every peer. Peers whose write fails are
// dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("web: marshal broadcast: %v", err)
		return
	}

	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	for _, p := range peers {
		if err := p.send(data); err != nil {
			log.Printf("web: drop websocket peer: %v", err)
			h.remove(p.conn)
		}
	}
}
