package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/imsession/internal/api"
	"github.com/rickgao/imsession/internal/model"
)

type tokenEntry struct {
	expires   time.Time
	successor string // set once the token has been renewed
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// server is an in-memory IM server: token endpoints plus a broadcast socket.
type server struct {
	logger    *slog.Logger
	ttl       time.Duration
	dropAfter time.Duration
	now       func() time.Time
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	tokens  map[string]*tokenEntry
	clients map[*client]struct{}
}

func newServer(ttl, dropAfter time.Duration, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		logger:    logger,
		ttl:       ttl,
		dropAfter: dropAfter,
		now:       time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		tokens:  make(map[string]*tokenEntry),
		clients: make(map[*client]struct{}),
	}
}

// seed registers tok with a full TTL.
func (s *server) seed(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok] = &tokenEntry{expires: s.now().Add(s.ttl)}
}

// issueLocked creates a fresh token. Caller holds mu.
func (s *server) issueLocked() string {
	tok := uuid.NewString()
	s.tokens[tok] = &tokenEntry{expires: s.now().Add(s.ttl)}
	return tok
}

// validLocked reports whether tok is known and unexpired. Caller holds mu.
func (s *server) validLocked(tok string) bool {
	e, ok := s.tokens[tok]
	return ok && s.now().Before(e.expires)
}

// currentLocked follows renewals from tok to the newest token. Caller holds mu.
func (s *server) currentLocked(tok string) (string, bool) {
	e, ok := s.tokens[tok]
	if !ok {
		return "", false
	}
	for e.successor != "" {
		tok = e.successor
		e = s.tokens[tok]
	}
	return tok, true
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(api.PathCheckExpiry, s.handleCheckExpiry)
	mux.HandleFunc(api.PathRenew, s.handleRenew)
	mux.HandleFunc(api.PathHeartbeat, s.handleHeartbeat)
	mux.HandleFunc("/socket", s.handleSocket)
	return mux
}

func writeEnvelope(w http.ResponseWriter, flag bool, data any, message string) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(api.Envelope{Flag: flag, Data: raw, Message: message})
}

func (s *server) handleCheckExpiry(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("wsToken")

	s.mu.Lock()
	e, ok := s.tokens[tok]
	var minutes float64
	if ok {
		minutes = e.expires.Sub(s.now()).Minutes()
	}
	s.mu.Unlock()

	if !ok {
		writeEnvelope(w, false, nil, "unknown token")
		return
	}
	if minutes < 0 {
		minutes = 0
	}
	writeEnvelope(w, true, minutes, "")
}

func (s *server) handleRenew(w http.ResponseWriter, r *http.Request) {
	old := r.URL.Query().Get("oldToken")

	s.mu.Lock()
	if !s.validLocked(old) {
		s.mu.Unlock()
		writeEnvelope(w, false, nil, "token expired or unknown")
		return
	}
	next := s.issueLocked()
	s.tokens[old].successor = next
	s.mu.Unlock()

	s.logger.Info("token renewed")
	writeEnvelope(w, true, next, "")
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("wsToken")

	s.mu.Lock()
	current, ok := s.currentLocked(tok)
	s.mu.Unlock()

	if !ok {
		writeEnvelope(w, false, nil, "unknown token")
		return
	}
	writeEnvelope(w, true, current, "")
}

func (s *server) handleSocket(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")

	s.mu.Lock()
	valid := s.validLocked(tok)
	s.mu.Unlock()
	if !valid {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	online := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("client connected", "online", online)
	s.broadcastPresence()

	if s.dropAfter > 0 {
		// Closing without a close frame looks like a network failure to the
		// client.
		timer := time.AfterFunc(s.dropAfter, func() { conn.Close() })
		defer timer.Stop()
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		online := len(s.clients)
		s.mu.Unlock()

		conn.Close()
		s.logger.Info("client disconnected", "online", online)
		s.broadcastPresence()
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		msg, err := model.Decode(data, s.now())
		if err != nil {
			s.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}
		out, err := msg.Encode()
		if err != nil {
			continue
		}
		s.broadcast(out, c)
	}
}

func (s *server) broadcastPresence() {
	s.mu.Lock()
	online := len(s.clients)
	s.mu.Unlock()

	data, err := model.ChatMessage{OnlineCount: online}.Encode()
	if err != nil {
		return
	}
	s.broadcast(data, nil)
}

// broadcast sends data to every client except skip.
func (s *server) broadcast(data []byte, skip *client) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			s.logger.Debug("write failed", "error", err)
		}
	}
}
