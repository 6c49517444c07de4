// Package datagramserver implements C7, the unreliable gameplay channel:
// a single UDP socket carrying the JoinGame handshake, per-tick player
// input, and the fixed-tick snapshot/event broadcast (spec.md §4.4,
// §4.7). Every inbound datagram is dispatched to the owning room's
// instance actor; nothing here ever touches instance state directly.
package datagramserver

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instance"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/netstats"
	"github.com/rtype/core/internal/ratelimit"
	"github.com/rtype/core/internal/repo"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/wire"
	"go.uber.org/zap"
)

// Server is the C7 datagram-channel server: one UDP socket, a broadcast
// scheduler ticking at config.TickInterval, and an autosave timer.
type Server struct {
	cfg    *config.ServerConfig
	logger *zap.Logger

	sessions    *session.Registry
	rooms       *room.Registry
	instances   *instancemgr.Manager
	leaderboard repo.LeaderboardRepository
	stats       *netstats.Collector

	limiter *ratelimit.PerEndpoint

	conn *net.UDPConn
	seq  uint32
}

// New wires a Server and registers its session-expiry callback, so a
// session the registry reaps (idle timeout) also drops the player from
// its owning instance and finalizes the session's score.
func New(cfg *config.ServerConfig, logger *zap.Logger, sessions *session.Registry, rooms *room.Registry, instances *instancemgr.Manager, leaderboard repo.LeaderboardRepository, stats *netstats.Collector) *Server {
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		sessions:    sessions,
		rooms:       rooms,
		instances:   instances,
		leaderboard: leaderboard,
		stats:       stats,
		limiter:     ratelimit.NewPerEndpoint(60, 120),
	}
	sessions.SetOnPlayerLeave(s.onSessionExpired)
	return s
}

// Serve runs the receive loop plus the broadcast/autosave/expiry
// background tickers until conn is closed.
func (s *Server) Serve(conn *net.UDPConn) error {
	s.conn = conn

	go s.broadcastLoop()
	go s.autosaveLoop()
	go s.expiryLoop()

	buf := make([]byte, config.DatagramMaxSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		if n > config.DatagramMaxSize {
			continue
		}
		if !s.limiter.Allow(addr.String()) {
			continue
		}
		s.stats.AddBytesReceived(addr.String(), n)

		frame, err := wire.UnmarshalDatagram(buf[:n])
		if err != nil {
			continue
		}
		s.dispatch(addr, frame)
	}
}

func (s *Server) dispatch(addr *net.UDPAddr, f wire.DatagramFrame) {
	switch f.Header.Type {
	case wire.MsgHeartbeat:
		s.sessions.UpdateActivity(addr)
		s.recordHeartbeatRTT(addr, f.Header.Timestamp)
		s.sendTo(addr, wire.MsgHeartbeat, uint64(time.Now().UnixMilli()), wire.EmptyPayload{})

	case wire.MsgJoinGame:
		s.handleJoinGame(addr, f.Payload)

	case wire.MsgPlayerInput:
		s.handlePlayerInput(addr, f.Payload)

	case wire.MsgChargeStart:
		s.withPlayer(addr, func(in *instance.Instance, slotID uint8) { in.ChargeStart(slotID) })
	case wire.MsgChargeRelease:
		s.withPlayer(addr, func(in *instance.Instance, slotID uint8) { in.ChargeRelease(slotID) })
	case wire.MsgForceToggle:
		s.withPlayer(addr, func(in *instance.Instance, slotID uint8) { in.ForceToggle(slotID) })

	case wire.MsgPauseRequest:
		vote := len(f.Payload) > 0 && f.Payload[0] != 0
		s.withPlayer(addr, func(in *instance.Instance, slotID uint8) { in.SetPauseVote(slotID, vote) })

		// MsgShootMissile carries no handler of its own: firing is driven by
		// the KeyShoot bit inside PlayerInputPayload, applied every tick by
		// the instance's tick pipeline.
	}
}

// recordHeartbeatRTT derives a one-way-latency estimate from the
// timestamp the client just echoed (the server's own send time from a
// previous frame) and folds it into the per-endpoint network stats
// (spec.md §4.7 step 2). echoedMs of 0 means the client has nothing to
// echo yet (its first heartbeat), so there's no sample to record.
func (s *Server) recordHeartbeatRTT(addr *net.UDPAddr, echoedMs uint64) {
	if echoedMs == 0 {
		return
	}
	rtt := time.Now().UnixMilli() - int64(echoedMs)
	if rtt < 0 {
		rtt = 0
	}
	s.stats.RecordRTT(addr.String(), uint32(rtt/2))
}

// withPlayer resolves addr to its bound player id and owning instance and
// invokes fn, refreshing the session's last-activity stamp. A no-op if
// addr isn't bound to an active player.
func (s *Server) withPlayer(addr *net.UDPAddr, fn func(in *instance.Instance, slotID uint8)) {
	slotID, ok := s.sessions.GetPlayerIDByEndpoint(addr)
	if !ok {
		return
	}
	code, ok := s.sessions.GetRoomCodeByEndpoint(addr)
	if !ok {
		return
	}
	in, ok := s.instances.Get(code)
	if !ok {
		return
	}
	s.sessions.UpdateActivity(addr)
	fn(in, slotID)
}

func (s *Server) handlePlayerInput(addr *net.UDPAddr, raw []byte) {
	p, err := wire.UnmarshalPlayerInput(raw)
	if err != nil {
		return
	}
	s.withPlayer(addr, func(in *instance.Instance, slotID uint8) {
		in.ApplyInput(slotID, p.Sequence, p.Keys)
	})
}

func (s *Server) handleJoinGame(addr *net.UDPAddr, raw []byte) {
	p, err := wire.UnmarshalJoinGame(raw)
	if err != nil {
		s.logger.Debug("malformed JoinGame datagram", zap.String("addr", addr.String()), zap.Error(err))
		return
	}

	identity, ok := s.sessions.ValidateAndBindUDP(session.Token(p.Token), addr)
	if !ok {
		s.sendTo(addr, wire.MsgJoinGameNack, 0, wire.JoinGameNackPayload{Reason: wire.JoinNackInvalidToken})
		return
	}

	snap, err := s.rooms.Snapshot(p.RoomCode)
	if err != nil {
		s.sendTo(addr, wire.MsgJoinGameNack, 0, wire.JoinGameNackPayload{Reason: wire.JoinNackRoomNotFound})
		return
	}

	in := s.instances.GetOrCreate(p.RoomCode, snap.GameSpeedPercent)
	slotID, ok := in.JoinPlayer(identity.Email, addr.String(), p.ShipSkin)
	if !ok {
		s.sendTo(addr, wire.MsgJoinGameNack, 0, wire.JoinGameNackPayload{Reason: wire.JoinNackRoomFull})
		return
	}

	s.sessions.AssignPlayerID(addr, slotID)
	s.sessions.SetRoomCode(identity.Email, p.RoomCode)
	s.rooms.SetInGame(p.RoomCode)
	s.stats.Register(addr.String())

	s.sendTo(addr, wire.MsgJoinGameAck, 0, wire.JoinGameAckPayload{PlayerID: slotID})
	s.broadcast(in.Endpoints(), wire.MsgPlayerJoin, wire.PlayerIDPayload{PlayerID: slotID})
}

// onSessionExpired is session.Registry's PlayerLeaveCallback: a session
// reaped by the inactivity timer had an assigned player id, so drop that
// player from its instance, broadcast PlayerLeave to the rest of the
// room, and persist its final score.
func (s *Server) onSessionExpired(email, roomCode string, playerID uint8) {
	in, ok := s.instances.Get(roomCode)
	if !ok {
		return
	}
	endpoint := in.Endpoints()[playerID]
	wave := in.CurrentWave()
	score, found, _ := in.RemovePlayer(playerID)
	if !found {
		return
	}
	s.stats.Unregister(endpoint)
	s.broadcast(in.Endpoints(), wire.MsgPlayerLeave, wire.PlayerIDPayload{PlayerID: playerID})
	s.leaderboard.FinalizeGameSession(context.Background(), repo.SessionStats{
		Email: email, RoomCode: roomCode, Score: score, Wave: wave, UpdatedAt: time.Now(),
	})
}

// KickPlayer locates email's current in-game binding, if any, across
// the instance it is live in (the slot id alone isn't globally unique,
// so the room code recorded on the session picks out the right
// instance): it clears the C2 endpoint binding, drops the player from
// the instance, and broadcasts PlayerLeave to the remaining occupants
// (spec.md §4.7 "Kick"). Reports whether a binding was found and
// cleared.
func (s *Server) KickPlayer(email string) bool {
	roomCode, playerID, ok := s.sessions.UnbindForKick(email)
	if !ok {
		return false
	}
	in, ok := s.instances.Get(roomCode)
	if !ok {
		return false
	}
	endpoint := in.Endpoints()[playerID]
	if _, found, _ := in.RemovePlayer(playerID); !found {
		return false
	}
	s.stats.Unregister(endpoint)
	s.broadcast(in.Endpoints(), wire.MsgPlayerLeave, wire.PlayerIDPayload{PlayerID: playerID})
	return true
}

// broadcastLoop drives the fixed-tick simulation for every active
// instance and fans its snapshot + event deltas out to occupants.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		for _, code := range s.instances.GetActiveRoomCodes() {
			in, ok := s.instances.Get(code)
			if !ok {
				continue
			}
			snap := in.Tick(config.TickInterval, now)
			endpoints := in.Endpoints()
			s.broadcastSnapshot(endpoints, snap)
		}
	}
}

func (s *Server) broadcastSnapshot(endpoints map[uint8]string, snap instance.Snapshot) {
	payload := wire.SnapshotPayload{
		Tick:    snap.Tick,
		HasBoss: snap.HasBoss,
		BossHP:  snap.BossHP,
		BossMax: snap.BossMax,
	}
	for _, p := range snap.Players {
		payload.Players = append(payload.Players, wire.PlayerRecord{
			PlayerID: p.SlotID, X: p.X, Y: p.Y, HP: int8(p.HP), Alive: p.Alive,
			Weapon: uint8(p.CurrentWeapon), WeaponLevel: p.WeaponLevel, Score: uint32(p.Score),
		})
	}
	for _, m := range snap.Missiles {
		payload.Missiles = append(payload.Missiles, wire.MissileRecord{EntityID: m.ID, X: m.X, Y: m.Y})
	}
	for _, e := range snap.Enemies {
		payload.Enemies = append(payload.Enemies, wire.EnemyRecord{EntityID: e.ID, Kind: uint8(e.Kind), X: e.X, Y: e.Y, HP: e.HP})
	}

	s.broadcast(endpoints, wire.MsgSnapshot, payload)

	if snap.Paused || snap.PauseVotes > 0 {
		s.broadcast(endpoints, wire.MsgPauseStateSync, wire.PauseStateSyncPayload{
			Paused: snap.Paused, Voters: uint8(snap.PauseVotes), Total: uint8(snap.PauseTotal),
		})
	}

	for _, ev := range snap.Events {
		s.broadcastEvent(endpoints, ev)
	}
}

func (s *Server) broadcastEvent(endpoints map[uint8]string, ev instance.Event) {
	msgType, ok := eventMessageType(ev.Kind)
	if !ok {
		return
	}
	payload := wire.EntityEventPayload{
		EntityID: ev.EntityID, SlotID: ev.SlotID, Damage: ev.Damage, SubKind: uint8(ev.Kind2),
	}
	s.broadcast(endpoints, msgType, payload)
}

func eventMessageType(kind instance.EventKind) (wire.MessageType, bool) {
	switch kind {
	case instance.EventMissileDestroyed:
		return wire.MsgMissileDestroyed, true
	case instance.EventEnemyDestroyed:
		return wire.MsgEnemyDestroyed, true
	case instance.EventPlayerDamaged:
		return wire.MsgPlayerDamaged, true
	case instance.EventPlayerDied:
		return wire.MsgPlayerDied, true
	case instance.EventPowerUpSpawned:
		return wire.MsgPowerUpSpawned, true
	case instance.EventPowerUpCollected:
		return wire.MsgPowerUpCollected, true
	case instance.EventPowerUpExpired:
		return wire.MsgPowerUpExpired, true
	case instance.EventWaveCannonFired:
		return wire.MsgWaveCannonFired, true
	default:
		return 0, false
	}
}

// autosaveLoop persists every active instance's live player scores on a
// fixed cadence (spec.md §4.7 "Incremental persistence").
func (s *Server) autosaveLoop() {
	ticker := time.NewTicker(config.AutosaveInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		for _, code := range s.instances.GetActiveRoomCodes() {
			in, ok := s.instances.Get(code)
			if !ok {
				continue
			}
			emails := in.Emails()
			snap := in.Peek()
			for _, p := range snap.Players {
				email, ok := emails[p.SlotID]
				if !ok {
					continue
				}
				s.leaderboard.UpsertSessionStats(context.Background(), repo.SessionStats{
					Email:    email,
					RoomCode: code,
					Score: instance.ScoreState{
						Score: p.Score,
					},
					UpdatedAt: now,
				})
			}
		}
	}
}

// expiryLoop periodically reaps sessions that have gone quiet, so a
// client that vanished without a clean leave doesn't pin its slot open
// forever (spec.md §4.2 "Expiry").
func (s *Server) expiryLoop() {
	ticker := time.NewTicker(config.ActiveInactivityWindow / 2)
	defer ticker.Stop()

	for range ticker.C {
		s.sessions.CleanupExpiredSessions()
	}
}

func (s *Server) sendTo(addr *net.UDPAddr, msgType wire.MessageType, echoTimestamp uint64, payload interface{ MarshalBinary() []byte }) {
	seq := uint16(atomic.AddUint32(&s.seq, 1))
	f := wire.NewDatagramFrame(msgType, seq, echoTimestamp, payload.MarshalBinary())
	raw := f.MarshalBinary()
	s.conn.WriteToUDP(raw, addr)
	s.stats.AddBytesSent(addr.String(), len(raw))
}

func (s *Server) broadcast(endpoints map[uint8]string, msgType wire.MessageType, payload interface{ MarshalBinary() []byte }) {
	seq := uint16(atomic.AddUint32(&s.seq, 1))
	now := uint64(time.Now().UnixMilli())
	f := wire.NewDatagramFrame(msgType, seq, now, payload.MarshalBinary())
	raw := f.MarshalBinary()

	for _, key := range endpoints {
		addr, err := net.ResolveUDPAddr("udp", key)
		if err != nil {
			continue
		}
		s.conn.WriteToUDP(raw, addr)
		s.stats.AddBytesSent(key, len(raw))
	}
}
