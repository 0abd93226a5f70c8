// Package web exposes the bridge client over HTTP and WebSocket for browser
// front ends.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"codebox-relay/internal/bridge"
	"codebox-relay/internal/chat"
	"codebox-relay/internal/types"
)

const maxBodyBytes = 1 << 20

// Relay is the bridge connection the gateway forwards commands through.
type Relay interface {
	Send(msg *types.Message) error
	Connected() bool
}

// Asker runs one chat turn.
type Asker interface {
	Ask(ctx context.Context, text string) []chat.Event
}

type Server struct {
	relay    Relay
	clientID string
	asker    Asker
	hub      *Hub
	upgrader websocket.Upgrader

	statusMu  sync.RWMutex
	statuses  types.StatusMap
	updatedAt time.Time
}

// NewServer builds the gateway. asker may be nil when no model is configured.
func NewServer(relay Relay, clientID string, asker Asker) *Server {
	return &Server{
		relay:    relay,
		clientID: clientID,
		asker:    asker,
		hub:      NewHub(),
		statuses: types.StatusMap{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleBridgeMessage records status updates and forwards every bridge
// message to the connected browsers.
func (s *Server) HandleBridgeMessage(msg *types.Message) {
	if msg.Type() == types.TypeStatusUpdate {
		st := msg.Statuses()
		s.statusMu.Lock()
		s.statuses = st
		s.updatedAt = time.Now()
		s.statusMu.Unlock()
	}
	s.hub.Broadcast(msg)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/ws", s.handleWebSocket)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/agents", s.launchAgent)
		r.Post("/agents/{agent_id}/activate", s.activateAgent)
		r.Post("/shutdown", s.shutdownManager)
		r.Post("/chat", s.handleChat)
		r.Post("/capture", s.handleCapture)
	})
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "bridge_connected": s.relay.Connected()})
}

type statusResponse struct {
	Connected bool            `json:"connected"`
	Statuses  types.StatusMap `json:"statuses"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

func (s *Server) statusSnapshot() statusResponse {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	resp := statusResponse{Connected: s.relay.Connected(), Statuses: types.StatusMap{}}
	for id, st := range s.statuses {
		resp.Statuses[id] = st
	}
	if !s.updatedAt.IsZero() {
		at := s.updatedAt
		resp.UpdatedAt = &at
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statusSnapshot())
}

func (s *Server) launchAgent(w http.ResponseWriter, r *http.Request) {
	var req types.LaunchAgent
	if !decodeBody(w, r, &req) {
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	req.URL = strings.TrimSpace(req.URL)
	if req.AgentID == "" || req.URL == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "agent_id and url are required")
		return
	}
	s.forward(w, types.NewMessage(s.clientID, req, types.DirectionOutgoing, types.TypeLaunchAgent))
}

func (s *Server) activateAgent(w http.ResponseWriter, r *http.Request) {
	req := types.ActivateRelay{AgentID: chi.URLParam(r, "agent_id")}
	s.forward(w, types.NewMessage(s.clientID, req, types.DirectionOutgoing, types.TypeActivateRelay))
}

func (s *Server) shutdownManager(w http.ResponseWriter, _ *http.Request) {
	s.forward(w, types.NewMessage(s.clientID, types.CommandShutdown, types.DirectionOutgoing, types.TypeSystemCommand))
}

func (s *Server) forward(w http.ResponseWriter, msg *types.Message) {
	if err := s.relay.Send(msg); err != nil {
		if errors.Is(err, bridge.ErrNotConnected) {
			writeErr(w, http.StatusServiceUnavailable, "bridge_offline", "relay manager is not connected")
			return
		}
		writeErr(w, http.StatusBadGateway, "send_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent", "msg_id": msg.MsgID})
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.asker == nil {
		writeErr(w, http.StatusServiceUnavailable, "chat_unavailable", "no model is configured")
		return
	}
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeErr(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	events := s.asker.Ask(r.Context(), req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var payload any
	if !decodeBody(w, r, &payload) {
		return
	}
	b, _ := json.MarshalIndent(payload, "", "  ")
	log.Printf("web: captured payload from %s:\n%s", r.RemoteAddr, b)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "payload received"})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	p := s.hub.add(conn)
	defer s.hub.remove(conn)
	log.Printf("web: websocket peer %s connected", r.RemoteAddr)

	snapshot := s.statusSnapshot()
	if len(snapshot.Statuses) > 0 {
		if b, err := json.Marshal(types.NewStatusMessage(snapshot.Statuses)); err == nil {
			_ = p.send(b)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("web: websocket peer %s gone: %v", r.RemoteAddr, err)
			return
		}
		msg, err := types.DecodeLine(data)
		if err != nil {
			log.Printf("web: ignore invalid websocket frame: %v", err)
			continue
		}
		if msg.AgentID == "" {
			msg.AgentID = s.clientID
		}
		if err := s.relay.Send(msg); err != nil {
			log.Printf("web: forward websocket frame: %v", err)
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeErr(w http.ResponseWriter, code int, errCode string, message string) {
	writeJSON(w, code, map[string]apiError{"error": {Code: errCode, Message: message}})
}
