package room

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/rtype/core/config"
)

// Errors surfaced to the stream-channel handler, which maps them to
// LobbyNackCode values (spec.md §7, "Conflict failures").
var (
	ErrRoomNotFound   = errors.New("room: not found")
	ErrRoomFull       = errors.New("room: full")
	ErrRoomNotWaiting = errors.New("room: not waiting")
	ErrAlreadyInRoom  = errors.New("room: already in a room")
	ErrNotHost        = errors.New("room: caller is not host")
	ErrNotMember      = errors.New("room: caller is not a member")
	ErrCannotStart    = errors.New("room: cannot start")
	ErrServerFull     = errors.New("room: server at room capacity")
	ErrCannotKickSelf = errors.New("room: cannot kick self")
)

// UpdateCallback pushes a room snapshot to a single occupant's stream
// connection. Invoked outside Registry.mu.
type UpdateCallback func(email string, snap Snapshot)

// KickCallback notifies a kicked occupant's stream connection. Invoked
// outside Registry.mu.
type KickCallback func(email string, code string)

// ChatCallback fans a chat entry out to a single occupant. Invoked
// outside Registry.mu.
type ChatCallback func(email string, roomCode string, entry ChatEntry)

// Registry is the C3 room registry: a single mutex guarding the
// code->room map and the identity->room-code index.
type Registry struct {
	mu sync.Mutex

	rooms    map[string]*Room
	memberOf map[string]string // email -> room code

	onUpdate UpdateCallback
	onKick   KickCallback
	onChat   ChatCallback
}

// NewRegistry constructs an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		memberOf: make(map[string]string),
	}
}

// SetOnUpdate registers the per-occupant RoomUpdate push callback.
func (r *Registry) SetOnUpdate(cb UpdateCallback) {
	r.mu.Lock()
	r.onUpdate = cb
	r.mu.Unlock()
}

// SetOnKick registers the per-target kick-notification callback.
func (r *Registry) SetOnKick(cb KickCallback) {
	r.mu.Lock()
	r.onKick = cb
	r.mu.Unlock()
}

// SetOnChat registers the per-occupant chat fan-out callback.
func (r *Registry) SetOnChat(cb ChatCallback) {
	r.mu.Lock()
	r.onChat = cb
	r.mu.Unlock()
}

// generateRoomCode draws config.RoomCodeLength characters from
// config.RoomCodeAlphabet using a cryptographic RNG.
func generateRoomCode() (string, error) {
	alphabet := config.RoomCodeAlphabet
	n := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, config.RoomCodeLength)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		buf[i] = alphabet[idx.Int64()]
	}
	return string(buf), nil
}

// CreateRoom creates a room hosted by hostEmail, inserting the host as
// occupant 0 (auto-ready, auto-host). Fails if hostEmail is already in a
// room or the server is at its room-count capacity.
func (r *Registry) CreateRoom(hostEmail, hostName, name string, max int, private bool, shipSkin uint8) (Snapshot, error) {
	r.mu.Lock()

	if _, already := r.memberOf[hostEmail]; already {
		r.mu.Unlock()
		return Snapshot{}, ErrAlreadyInRoom
	}
	if len(r.rooms) >= config.MaxRoomsPerServer {
		r.mu.Unlock()
		return Snapshot{}, ErrServerFull
	}
	if max < 1 || max > config.MaxSlotsPerRoom {
		max = config.MaxSlotsPerRoom
	}

	var code string
	for {
		c, err := generateRoomCode()
		if err != nil {
			r.mu.Unlock()
			return Snapshot{}, err
		}
		if _, exists := r.rooms[c]; !exists {
			code = c
			break
		}
	}

	rm := newRoom(code, name, max, private)
	rm.Slots[0] = Slot{Occupied: true, Email: hostEmail, Name: hostName, Ready: true, Host: true, ShipSkin: shipSkin}
	rm.HostEmail = hostEmail
	r.rooms[code] = rm
	r.memberOf[hostEmail] = code

	snap := rm.snapshot()
	r.mu.Unlock()
	return snap, nil
}

// JoinRoomByCode adds email to the room identified by code. Refuses if
// the player is already in any room, the room is missing, full, or not
// Waiting.
func (r *Registry) JoinRoomByCode(code, email, name string, shipSkin uint8) (Snapshot, error) {
	r.mu.Lock()

	if _, already := r.memberOf[email]; already {
		r.mu.Unlock()
		return Snapshot{}, ErrAlreadyInRoom
	}
	rm, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, ErrRoomNotFound
	}
	if rm.State != StateWaiting {
		r.mu.Unlock()
		return Snapshot{}, ErrRoomNotWaiting
	}

	slotIdx := -1
	for i, s := range rm.Slots {
		if !s.Occupied {
			slotIdx = i
			break
		}
	}
	if slotIdx == -1 {
		r.mu.Unlock()
		return Snapshot{}, ErrRoomFull
	}

	autoReady := rm.OccupiedCount() == 0
	rm.Slots[slotIdx] = Slot{Occupied: true, Email: email, Name: name, Ready: autoReady, ShipSkin: shipSkin}
	if autoReady {
		rm.Slots[slotIdx].Host = true
		rm.HostEmail = email
	}
	r.memberOf[email] = code

	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	cb := r.onUpdate
	r.mu.Unlock()

	broadcastUpdate(cb, occupants, snap)
	return snap, nil
}

// LeaveRoom clears email's slot, re-electing a host if needed, and
// removes the room entirely once it is empty.
func (r *Registry) LeaveRoom(email string) error {
	r.mu.Lock()

	code, ok := r.memberOf[email]
	if !ok {
		r.mu.Unlock()
		return ErrNotMember
	}
	rm, ok := r.rooms[code]
	if !ok {
		delete(r.memberOf, email)
		r.mu.Unlock()
		return nil
	}

	for i, s := range rm.Slots {
		if s.Occupied && s.Email == email {
			rm.Slots[i] = Slot{}
			break
		}
	}
	delete(r.memberOf, email)

	wasHost := rm.HostEmail == email
	if wasHost {
		rm.HostEmail = ""
		for i := range rm.Slots {
			if rm.Slots[i].Occupied {
				rm.Slots[i].Host = true
				rm.HostEmail = rm.Slots[i].Email
				break
			}
		}
	}

	if rm.IsEmpty() {
		delete(r.rooms, code)
		r.mu.Unlock()
		return nil
	}

	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	cb := r.onUpdate
	r.mu.Unlock()

	broadcastUpdate(cb, occupants, snap)
	return nil
}

// SetReady toggles email's ready flag within their room.
func (r *Registry) SetReady(email string, ready bool) error {
	r.mu.Lock()

	code, ok := r.memberOf[email]
	if !ok {
		r.mu.Unlock()
		return ErrNotMember
	}
	rm := r.rooms[code]
	found := false
	for i, s := range rm.Slots {
		if s.Occupied && s.Email == email {
			rm.Slots[i].Ready = ready
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return ErrNotMember
	}

	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	cb := r.onUpdate
	r.mu.Unlock()

	broadcastUpdate(cb, occupants, snap)
	return nil
}

// TryStartGame validates hostEmail is the host and rm.CanStart(), then
// transitions Waiting -> Starting.
func (r *Registry) TryStartGame(hostEmail string) (Snapshot, error) {
	r.mu.Lock()

	code, ok := r.memberOf[hostEmail]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, ErrNotMember
	}
	rm := r.rooms[code]
	if rm.HostEmail != hostEmail {
		r.mu.Unlock()
		return Snapshot{}, ErrNotHost
	}
	if !rm.CanStart() {
		r.mu.Unlock()
		return Snapshot{}, ErrCannotStart
	}

	rm.State = StateStarting
	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	cb := r.onUpdate
	r.mu.Unlock()

	broadcastUpdate(cb, occupants, snap)
	return snap, nil
}

// SetInGame transitions a Starting room to InGame, called once the
// owning game instance has been created.
func (r *Registry) SetInGame(code string) {
	r.mu.Lock()
	if rm, ok := r.rooms[code]; ok {
		rm.State = StateInGame
	}
	r.mu.Unlock()
}

// SetRoomConfig updates the game-speed percentage for a host's room.
func (r *Registry) SetRoomConfig(hostEmail string, gameSpeedPercent int) error {
	r.mu.Lock()

	code, ok := r.memberOf[hostEmail]
	if !ok {
		r.mu.Unlock()
		return ErrNotMember
	}
	rm := r.rooms[code]
	if rm.HostEmail != hostEmail {
		r.mu.Unlock()
		return ErrNotHost
	}
	rm.GameSpeedPercent = config.ClampGameSpeed(gameSpeedPercent)

	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	cb := r.onUpdate
	r.mu.Unlock()

	broadcastUpdate(cb, occupants, snap)
	return nil
}

// KickPlayer removes targetEmail from hostEmail's room. Only the host
// may kick, and a host may not kick themselves.
func (r *Registry) KickPlayer(hostEmail, targetEmail string) error {
	if hostEmail == targetEmail {
		return ErrCannotKickSelf
	}

	r.mu.Lock()

	code, ok := r.memberOf[hostEmail]
	if !ok {
		r.mu.Unlock()
		return ErrNotMember
	}
	rm := r.rooms[code]
	if rm.HostEmail != hostEmail {
		r.mu.Unlock()
		return ErrNotHost
	}
	if _, ok := r.memberOf[targetEmail]; !ok || r.memberOf[targetEmail] != code {
		r.mu.Unlock()
		return ErrNotMember
	}

	for i, s := range rm.Slots {
		if s.Occupied && s.Email == targetEmail {
			rm.Slots[i] = Slot{}
			break
		}
	}
	delete(r.memberOf, targetEmail)

	snap := rm.snapshot()
	occupants := occupantEmails(rm)
	updateCB := r.onUpdate
	kickCB := r.onKick
	r.mu.Unlock()

	if kickCB != nil {
		kickCB(targetEmail, code)
	}
	broadcastUpdate(updateCB, occupants, snap)
	return nil
}

// GetPublicRooms returns a snapshot of every Waiting, non-private,
// non-full room.
func (r *Registry) GetPublicRooms() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Snapshot
	for _, rm := range r.rooms {
		if rm.State == StateWaiting && !rm.Private && !rm.IsFull() {
			out = append(out, rm.snapshot())
		}
	}
	return out
}

// QuickJoin picks uniformly at random among public rooms under the
// lock, then re-enters JoinRoomByCode (re-acquiring the lock) for the
// actual join.
func (r *Registry) QuickJoin(email, name string, shipSkin uint8) (Snapshot, error) {
	r.mu.Lock()
	var candidates []string
	for code, rm := range r.rooms {
		if rm.State == StateWaiting && !rm.Private && !rm.IsFull() {
			candidates = append(candidates, code)
		}
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return Snapshot{}, ErrRoomNotFound
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return Snapshot{}, err
	}
	return r.JoinRoomByCode(candidates[idx.Int64()], email, name, shipSkin)
}

// SendChatMessage appends entry to code's retained ring and fans it out
// to every occupant (best-effort cache; durable persistence is an
// external repository's concern, see internal/repo).
func (r *Registry) SendChatMessage(code, displayName, text string, at time.Time) error {
	r.mu.Lock()

	rm, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	entry := ChatEntry{DisplayName: displayName, Text: text, Timestamp: at}
	rm.appendChat(entry, config.ChatHistoryCap)

	occupants := occupantEmails(rm)
	cb := r.onChat
	r.mu.Unlock()

	if cb != nil {
		for _, e := range occupants {
			cb(e, code, entry)
		}
	}
	return nil
}

// ChatHistory returns the retained chat ring for code.
func (r *Registry) ChatHistory(code string) ([]ChatEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm.ChatHistory(), nil
}

// RoomCodeOf returns the room code email currently occupies, if any.
func (r *Registry) RoomCodeOf(email string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.memberOf[email]
	return code, ok
}

// Snapshot returns a point-in-time view of a room by code.
func (r *Registry) Snapshot(code string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[code]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}
	return rm.snapshot(), nil
}

func occupantEmails(rm *Room) []string {
	out := make([]string, 0, len(rm.Slots))
	for _, s := range rm.Slots {
		if s.Occupied {
			out = append(out, s.Email)
		}
	}
	return out
}

func broadcastUpdate(cb UpdateCallback, occupants []string, snap Snapshot) {
	if cb == nil {
		return
	}
	for _, e := range occupants {
		cb(e, snap)
	}
}
