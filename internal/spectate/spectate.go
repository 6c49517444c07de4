// Package spectate implements the read-only supplemental spectator and
// operations surface: a websocket feed that mirrors each room's
// Snapshot broadcasts as JSON, plus /health and /stats endpoints for
// load balancers and monitoring dashboards. It never accepts gameplay
// input — it is purely a tap on the authoritative state C7 already
// computes.
package spectate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instance"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// client is one connected spectator, subscribed to a single room code.
type client struct {
	ws       *websocket.Conn
	roomCode string
	send     chan []byte
	done     chan struct{}
}

// Server serves the spectator websocket feed and the /health and
// /stats HTTP endpoints.
type Server struct {
	cfg    *config.ServerConfig
	logger *zap.Logger

	sessions  *session.Registry
	rooms     *room.Registry
	instances *instancemgr.Manager

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]bool // roomCode -> client set
}

// New constructs a spectator/ops server.
func New(cfg *config.ServerConfig, logger *zap.Logger, sessions *session.Registry, rooms *room.Registry, instances *instancemgr.Manager) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		sessions:  sessions,
		rooms:     rooms,
		instances: instances,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]bool),
	}
}

// Handler builds the HTTP mux to pass to http.Server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	return mux
}

// Run starts the fixed-interval snapshot broadcast loop. It exits when
// stop is closed.
func (s *Server) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.broadcastAll()
		}
	}
}

func (s *Server) broadcastAll() {
	for _, code := range s.instances.GetActiveRoomCodes() {
		in, ok := s.instances.Get(code)
		if !ok {
			continue
		}
		s.broadcastRoom(code, in.Peek())
	}
}

func (s *Server) broadcastRoom(roomCode string, snap instance.Snapshot) {
	s.mu.Lock()
	subs := s.clients[roomCode]
	targets := make([]*client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		s.logger.Warn("spectate: failed to marshal snapshot", zap.Error(err))
		return
	}

	for _, c := range targets {
		select {
		case c.send <- payload:
		case <-c.done:
		default:
			// Slow spectator: drop this tick's frame rather than block
			// the broadcast loop or buffer unboundedly.
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room")
	if roomCode == "" {
		http.Error(w, "missing room query parameter", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("spectate: upgrade failed", zap.Error(err))
		return
	}

	c := &client{ws: ws, roomCode: roomCode, send: make(chan []byte, 8), done: make(chan struct{})}

	s.mu.Lock()
	subs, ok := s.clients[roomCode]
	if !ok {
		subs = make(map[*client]bool)
		s.clients[roomCode] = subs
	}
	subs[c] = true
	s.mu.Unlock()

	go s.writePump(c)
	go s.readPump(c, roomCode)
}

// readPump only drains control frames (pings/pongs/close) so the
// underlying connection stays alive; spectator input is never
// processed or forwarded anywhere.
func (s *Server) readPump(c *client, roomCode string) {
	defer s.cleanup(c, roomCode)

	c.ws.SetReadLimit(512)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) cleanup(c *client, roomCode string) {
	s.mu.Lock()
	if subs, ok := s.clients[roomCode]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.clients, roomCode)
		}
	}
	s.mu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	sessions := len(s.sessions.ListSessions())
	publicRooms := len(s.rooms.GetPublicRooms())
	activeInstances := len(s.instances.GetActiveRoomCodes())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"sessions":%d,"public_rooms":%d,"active_instances":%d}`, sessions, publicRooms, activeInstances)
}
