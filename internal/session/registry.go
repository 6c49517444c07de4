package session

import (
	"net"
	"sync"
	"time"

	"github.com/rtype/core/config"
)

// PlayerLeaveCallback is invoked when CleanupExpiredSessions reaps a
// session that had an assigned player id, so the caller can tell the
// owning game instance to drop that player. RemoveSession and BanUser do
// not invoke it. Invoked outside the registry lock (spec.md §4.2).
type PlayerLeaveCallback func(email string, roomCode string, playerID uint8)

// GodModeCallback is invoked when a session's GodMode hidden flag
// changes, outside the registry lock.
type GodModeCallback func(email string, enabled bool)

// Registry is the C2 session registry. A single mutex protects every
// index; callbacks are captured under the lock and invoked after it is
// released, per spec.md §4.2/§5.
type Registry struct {
	mu sync.Mutex

	byEmail    map[string]*Session
	byTokenHex map[string]*Session
	byEndpoint map[string]*Session // key: endpoint.String()
	banned     map[string]string   // email -> captured display name

	onPlayerLeave PlayerLeaveCallback
	onGodMode     GodModeCallback

	now func() time.Time
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byEmail:    make(map[string]*Session),
		byTokenHex: make(map[string]*Session),
		byEndpoint: make(map[string]*Session),
		banned:     make(map[string]string),
		now:        time.Now,
	}
}

// SetOnPlayerLeave registers the callback fired when cleanup removes a
// session that had an assigned player id.
func (r *Registry) SetOnPlayerLeave(cb PlayerLeaveCallback) {
	r.mu.Lock()
	r.onPlayerLeave = cb
	r.mu.Unlock()
}

// SetOnGodModeChanged registers the callback fired when a session's
// GodMode flag flips.
func (r *Registry) SetOnGodModeChanged(cb GodModeCallback) {
	r.mu.Lock()
	r.onGodMode = cb
	r.mu.Unlock()
}

// CreateSession issues a new Pending session for identity, unless one
// already exists (non-Expired) or the identity is banned.
func (r *Registry) CreateSession(email, displayName string) (Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, banned := r.banned[email]; banned {
		return Token{}, false
	}
	if existing, ok := r.byEmail[email]; ok && existing.Status != StatusExpired {
		return Token{}, false
	}

	var token Token
	for {
		t, err := generateToken()
		if err != nil {
			return Token{}, false
		}
		if _, collide := r.byTokenHex[t.Hex()]; collide {
			continue
		}
		token = t
		break
	}

	s := newSession(Identity{Email: email, DisplayName: displayName}, token, r.now())
	r.byEmail[email] = s
	r.byTokenHex[token.Hex()] = s

	return token, true
}

// ValidateAndBindUDP binds a datagram endpoint to the session owning
// token, transitioning Pending -> Active. Fails if the token is unknown,
// the pending window has elapsed, or the session is already bound to a
// different endpoint.
func (r *Registry) ValidateAndBindUDP(token Token, endpoint *net.UDPAddr) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTokenHex[token.Hex()]
	if !ok || s.Status == StatusExpired {
		return Identity{}, false
	}

	now := r.now()
	key := endpoint.String()

	switch s.Status {
	case StatusPending:
		if now.Sub(s.CreatedAt) > config.PendingSessionWindow {
			r.expireLocked(s)
			return Identity{}, false
		}
	case StatusActive:
		if s.Endpoint != nil && s.Endpoint.String() != key {
			return Identity{}, false
		}
	}

	if s.Endpoint != nil {
		delete(r.byEndpoint, s.Endpoint.String())
	}
	s.Endpoint = endpoint
	s.Status = StatusActive
	s.LastActivity = now
	r.byEndpoint[key] = s

	return s.Identity, true
}

// IsTokenValid reports whether token belongs to a live (non-Expired)
// session, without binding or mutating anything. Used by the voice
// relay, whose validation is explicitly distinct from the game-path
// bind (SPEC_FULL.md §4, Open Question decision).
func (r *Registry) IsTokenValid(token Token) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byTokenHex[token.Hex()]
	if !ok || s.Status == StatusExpired {
		return Identity{}, false
	}
	return s.Identity, true
}

// AssignPlayerID stores the instance-assigned slot id on the session
// bound to endpoint, for fast reverse lookup on every game packet.
func (r *Registry) AssignPlayerID(endpoint *net.UDPAddr, playerID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byEndpoint[endpoint.String()]; ok {
		id := playerID
		s.PlayerID = &id
	}
}

// GetPlayerIDByEndpoint returns the slot id bound to endpoint, if any.
func (r *Registry) GetPlayerIDByEndpoint(endpoint *net.UDPAddr) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEndpoint[endpoint.String()]
	if !ok || s.PlayerID == nil {
		return 0, false
	}
	return *s.PlayerID, true
}

// GetPlayerIDByEmail returns the slot id assigned to the identity's
// active game session, if any. Used by the voice relay, whose socket is
// bound on a separate endpoint from the game session's UDP binding, so it
// cannot resolve a player id by endpoint the way C7 does.
func (r *Registry) GetPlayerIDByEmail(email string) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEmail[email]
	if !ok || s.PlayerID == nil {
		return 0, false
	}
	return *s.PlayerID, true
}

// GetRoomCodeByEndpoint returns the room code of the session bound to
// endpoint, if any.
func (r *Registry) GetRoomCodeByEndpoint(endpoint *net.UDPAddr) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEndpoint[endpoint.String()]
	if !ok || s.RoomCode == "" {
		return "", false
	}
	return s.RoomCode, true
}

// ListSessions returns a snapshot copy of every live (non-Expired)
// session, for the admin "sessions" command.
func (r *Registry) ListSessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.byEmail))
	for _, s := range r.byEmail {
		out = append(out, *s)
	}
	return out
}

// ListBanned returns the email -> captured display name map of every
// banned identity, for the admin "bans" command.
func (r *Registry) ListBanned() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.banned))
	for email, name := range r.banned {
		out[email] = name
	}
	return out
}

// GetSessionByEndpoint returns a snapshot copy of the session bound to
// endpoint.
func (r *Registry) GetSessionByEndpoint(endpoint *net.UDPAddr) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEndpoint[endpoint.String()]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// UpdateActivity stamps LastActivity for the session bound to endpoint.
// Called on every datagram received from a bound endpoint.
func (r *Registry) UpdateActivity(endpoint *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byEndpoint[endpoint.String()]; ok {
		s.LastActivity = r.now()
	}
}

// SetRoomCode records the room an identity has joined, or clears it
// when code is "".
func (r *Registry) SetRoomCode(email, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byEmail[email]; ok {
		s.RoomCode = code
	}
}

// SetFlag sets a hidden per-session flag (e.g. "GodMode") and fires the
// registered callback outside the lock if the value actually changed.
func (r *Registry) SetFlag(email, name string, value bool) {
	r.mu.Lock()
	s, ok := r.byEmail[email]
	var cb GodModeCallback
	changed := false
	if ok {
		if s.Flags[name] != value {
			changed = true
			s.Flags[name] = value
		}
		cb = r.onGodMode
	}
	r.mu.Unlock()

	if changed && name == "GodMode" && cb != nil {
		cb(email, value)
	}
}

// ClearUDPBinding drops the endpoint binding but leaves the session
// itself intact (used when a player leaves a room without logging out).
func (r *Registry) ClearUDPBinding(endpoint *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEndpoint[endpoint.String()]
	if !ok {
		return
	}
	delete(r.byEndpoint, endpoint.String())
	s.Endpoint = nil
	s.PlayerID = nil
}

// UnbindForKick clears the UDP endpoint binding and player id for
// email's session, if it has one bound, and returns the room code and
// player id that were cleared so the caller can drop the player from
// its owning instance (spec.md §4.7 "Kick"). The session itself (and
// any lobby membership) is left intact — only its in-game binding is
// torn down.
func (r *Registry) UnbindForKick(email string) (roomCode string, playerID uint8, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.byEmail[email]
	if !exists || s.PlayerID == nil {
		return "", 0, false
	}

	roomCode = s.RoomCode
	playerID = *s.PlayerID
	if s.Endpoint != nil {
		delete(r.byEndpoint, s.Endpoint.String())
		s.Endpoint = nil
	}
	s.PlayerID = nil
	return roomCode, playerID, true
}

// RemoveSession tears down the session for an identity entirely,
// regardless of its status. Used on stream-channel teardown (logout)
// and internally by BanUser.
func (r *Registry) RemoveSession(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byEmail[email]
	if !ok {
		return
	}
	r.removeLocked(s)
}

// BanUser adds email to the ban list, capturing its current display
// name, and tears down any live session for that identity.
func (r *Registry) BanUser(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := email
	if s, ok := r.byEmail[email]; ok {
		name = s.Identity.DisplayName
		r.removeLocked(s)
	}
	r.banned[email] = name
}

// UnbanUser removes email from the ban list.
func (r *Registry) UnbanUser(email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, email)
}

// IsBanned reports whether email is on the ban list.
func (r *Registry) IsBanned(email string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.banned[email]
	return ok
}

// CleanupExpiredSessions scans every session; anything Pending past the
// pending window or Active past the inactivity window is expired and
// removed from all indexes. Returns the player ids (if assigned) of
// removed sessions so callers can notify the owning game instance.
func (r *Registry) CleanupExpiredSessions() []uint8 {
	r.mu.Lock()

	now := r.now()
	type leaver struct {
		email    string
		roomCode string
		playerID uint8
	}
	var leavers []leaver
	var playerIDs []uint8

	for _, s := range r.byEmail {
		expired := false
		switch s.Status {
		case StatusPending:
			expired = now.Sub(s.CreatedAt) > config.PendingSessionWindow
		case StatusActive:
			expired = now.Sub(s.LastActivity) > config.ActiveInactivityWindow
		}
		if !expired {
			continue
		}
		if s.PlayerID != nil {
			playerIDs = append(playerIDs, *s.PlayerID)
			leavers = append(leavers, leaver{email: s.Identity.Email, roomCode: s.RoomCode, playerID: *s.PlayerID})
		}
		r.removeLocked(s)
	}

	cb := r.onPlayerLeave
	r.mu.Unlock()

	if cb != nil {
		for _, l := range leavers {
			cb(l.email, l.roomCode, l.playerID)
		}
	}

	return playerIDs
}

// expireLocked marks s Expired and removes it from all indexes. Caller
// must hold r.mu.
func (r *Registry) expireLocked(s *Session) {
	s.Status = StatusExpired
	r.removeLocked(s)
}

// removeLocked deletes s from every index. Caller must hold r.mu.
func (r *Registry) removeLocked(s *Session) {
	delete(r.byEmail, s.Identity.Email)
	delete(r.byTokenHex, s.Token.Hex())
	if s.Endpoint != nil {
		delete(r.byEndpoint, s.Endpoint.String())
	}
}
