// Package voice implements C8, the voice relay: an independent UDP
// socket that fans opaque audio frames out to every other member of a
// room, entirely decoupled from game-session state (spec.md §4.8).
package voice

import (
	"net"
	"sync"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/ratelimit"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/wire"
	"go.uber.org/zap"
)

// member is one endpoint's voice-relay membership within a room. muted
// tracks which other players' frames this member has asked not to
// receive — mute is a per-listener filter, not a room-wide broadcast.
type member struct {
	addr     *net.UDPAddr
	playerID uint8
	muted    map[uint8]bool
}

// Server is the C8 voice relay. Membership is tracked independently of
// internal/session's UDP binding — VoiceJoin validates a token with
// IsTokenValid, never ValidateAndBindUDP, since a player's voice socket
// and game socket are two different endpoints (SPEC_FULL.md §4, Open
// Question decision).
type Server struct {
	cfg    *config.ServerConfig
	logger *zap.Logger

	sessions *session.Registry
	limiter  *ratelimit.PerEndpoint

	conn *net.UDPConn

	mu    sync.Mutex
	rooms map[string]map[string]*member // roomCode -> endpoint key -> member
}

// New constructs a voice relay server.
func New(cfg *config.ServerConfig, logger *zap.Logger, sessions *session.Registry) *Server {
	return &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		limiter:  ratelimit.NewPerEndpoint(50, 100),
		rooms:    make(map[string]map[string]*member),
	}
}

// Serve runs the relay's receive loop until conn is closed.
func (s *Server) Serve(conn *net.UDPConn) error {
	s.conn = conn

	buf := make([]byte, config.DatagramMaxSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		if !s.limiter.Allow(addr.String()) {
			continue
		}

		frame, err := wire.UnmarshalDatagram(buf[:n])
		if err != nil {
			continue
		}
		s.dispatch(addr, frame)
	}
}

func (s *Server) dispatch(addr *net.UDPAddr, f wire.DatagramFrame) {
	switch f.Header.Type {
	case wire.MsgVoiceJoin:
		s.handleVoiceJoin(addr, f.Payload)
	case wire.MsgVoiceLeave:
		s.handleVoiceLeave(addr)
	case wire.MsgVoiceFrame:
		s.handleVoiceFrame(addr, f.Payload)
	case wire.MsgVoiceMute:
		s.handleVoiceMute(addr, f.Payload)
	}
}

func (s *Server) handleVoiceJoin(addr *net.UDPAddr, raw []byte) {
	p, err := wire.UnmarshalVoiceJoin(raw)
	if err != nil {
		return
	}

	identity, ok := s.sessions.IsTokenValid(session.Token(p.Token))
	if !ok {
		return
	}
	playerID, _ := s.sessions.GetPlayerIDByEmail(identity.Email)

	s.mu.Lock()
	room, ok := s.rooms[p.RoomCode]
	if !ok {
		room = make(map[string]*member)
		s.rooms[p.RoomCode] = room
	}
	room[addr.String()] = &member{addr: addr, playerID: playerID, muted: make(map[uint8]bool)}
	s.mu.Unlock()

	s.sendTo(addr, wire.MsgVoiceJoinAck, wire.EmptyPayload{})
}

func (s *Server) handleVoiceLeave(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	for code, room := range s.rooms {
		if _, ok := room[key]; ok {
			delete(room, key)
			if len(room) == 0 {
				delete(s.rooms, code)
			}
			s.limiter.Forget(key)
			return
		}
	}
}

func (s *Server) handleVoiceFrame(addr *net.UDPAddr, raw []byte) {
	key := addr.String()

	s.mu.Lock()
	var room map[string]*member
	var self *member
	for _, rm := range s.rooms {
		if m, ok := rm[key]; ok {
			room, self = rm, m
			break
		}
	}
	var targets []*net.UDPAddr
	if room != nil {
		for k, m := range room {
			if k == key || m.muted[self.playerID] {
				continue
			}
			targets = append(targets, m.addr)
		}
	}
	s.mu.Unlock()

	if self == nil {
		return
	}

	payload := wire.VoiceFramePayload{Data: raw}
	for _, t := range targets {
		s.sendTo(t, wire.MsgVoiceFrame, payload)
	}
}

// handleVoiceMute records the caller's own preference to stop (or
// resume) hearing frames from p.PlayerID. The filter lives on the
// caller's membership record and is consulted only when relaying frames
// the caller would otherwise receive — it has no effect on what other
// listeners hear from that player.
func (s *Server) handleVoiceMute(addr *net.UDPAddr, raw []byte) {
	p, err := wire.UnmarshalVoiceMute(raw)
	if err != nil {
		return
	}
	key := addr.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, room := range s.rooms {
		self, ok := room[key]
		if !ok {
			continue
		}
		self.muted[p.PlayerID] = p.Muted
		return
	}
}

func (s *Server) sendTo(addr *net.UDPAddr, msgType wire.MessageType, payload interface{ MarshalBinary() []byte }) {
	f := wire.NewDatagramFrame(msgType, 0, 0, payload.MarshalBinary())
	s.conn.WriteToUDP(f.MarshalBinary(), addr)
}
