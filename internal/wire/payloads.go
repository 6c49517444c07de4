package wire

import (
	"encoding/binary"
	"math"
)

func float32bits(v float32) uint32     { return math.Float32bits(v) }
func float32frombits(v uint32) float32 { return math.Float32frombits(v) }

// byteWriter is a tiny growable-buffer helper used by every payload
// encoder below; it mirrors the teacher's direct []byte slicing style
// but centralizes the repeated bounds bookkeeping.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) bytes(v []byte) { w.buf = append(w.buf, v...) }

func (w *byteWriter) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *byteWriter) i16(v int16) { w.u16(uint16(v)) }
func (w *byteWriter) f32(v float32) {
	w.u32(float32bits(v))
}

// varString writes a u8 length prefix followed by the raw bytes. Used
// for human-entered, variable-length text (chat, names, emails).
func (w *byteWriter) varString(s string) {
	b := []byte(s)
	if len(b) > 255 {
		b = b[:255]
	}
	w.u8(uint8(len(b)))
	w.bytes(b)
}

// byteReader mirrors byteWriter for decoding, returning ErrShortFrame
// whenever the buffer runs out early.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.off }

func (r *byteReader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, ErrShortFrame
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *byteReader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrShortFrame
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *byteReader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, ErrShortFrame
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *byteReader) u64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, ErrShortFrame
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *byteReader) i16() (int16, error) {
	v, err := r.u16()
	return int16(v), err
}

func (r *byteReader) f32() (float32, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	return float32frombits(v), nil
}

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrShortFrame
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *byteReader) varString() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EmptyPayload marshals to zero bytes; used for message types that carry
// no data of their own (Heartbeat, LobbyAck, GameStarting, PlayerKicked,
// VoiceJoinAck).
type EmptyPayload struct{}

func (EmptyPayload) MarshalBinary() []byte { return nil }

// --- Auth ---

// LoginPayload / RegisterPayload both carry {email, password}; Register
// additionally carries a display name.
type LoginPayload struct {
	Email    string
	Password string
}

func (p LoginPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Email)
	w.varString(p.Password)
	return w.buf
}

func UnmarshalLogin(buf []byte) (LoginPayload, error) {
	r := &byteReader{buf: buf}
	email, err := r.varString()
	if err != nil {
		return LoginPayload{}, err
	}
	pass, err := r.varString()
	if err != nil {
		return LoginPayload{}, err
	}
	return LoginPayload{Email: email, Password: pass}, nil
}

type RegisterPayload struct {
	Email       string
	Password    string
	DisplayName string
}

func (p RegisterPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Email)
	w.varString(p.Password)
	w.varString(p.DisplayName)
	return w.buf
}

func UnmarshalRegister(buf []byte) (RegisterPayload, error) {
	r := &byteReader{buf: buf}
	email, err := r.varString()
	if err != nil {
		return RegisterPayload{}, err
	}
	pass, err := r.varString()
	if err != nil {
		return RegisterPayload{}, err
	}
	name, err := r.varString()
	if err != nil {
		return RegisterPayload{}, err
	}
	return RegisterPayload{Email: email, Password: pass, DisplayName: name}, nil
}

// AuthAckPayload is the Login/Register response. On success Token is
// the 32-byte session token; on failure ErrorCode names the reason.
type AuthAckPayload struct {
	Success     bool
	Token       [32]byte
	DisplayName string
	ErrorCode   AuthErrorCode
}

func (p AuthAckPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	if p.Success {
		w.u8(1)
		w.bytes(p.Token[:])
		w.varString(p.DisplayName)
	} else {
		w.u8(0)
		w.u8(uint8(p.ErrorCode))
	}
	return w.buf
}

func UnmarshalAuthAck(buf []byte) (AuthAckPayload, error) {
	r := &byteReader{buf: buf}
	success, err := r.u8()
	if err != nil {
		return AuthAckPayload{}, err
	}
	if success == 0 {
		code, err := r.u8()
		if err != nil {
			return AuthAckPayload{}, err
		}
		return AuthAckPayload{Success: false, ErrorCode: AuthErrorCode(code)}, nil
	}
	tokenBytes, err := r.bytes(32)
	if err != nil {
		return AuthAckPayload{}, err
	}
	name, err := r.varString()
	if err != nil {
		return AuthAckPayload{}, err
	}
	var tok [32]byte
	copy(tok[:], tokenBytes)
	return AuthAckPayload{Success: true, Token: tok, DisplayName: name}, nil
}

// --- Lobby ---

type CreateRoomPayload struct {
	Name      string
	MaxPlayers uint8
	Private   bool
	ShipSkin  uint8
}

func (p CreateRoomPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Name)
	w.u8(p.MaxPlayers)
	if p.Private {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.u8(p.ShipSkin)
	return w.buf
}

func UnmarshalCreateRoom(buf []byte) (CreateRoomPayload, error) {
	r := &byteReader{buf: buf}
	name, err := r.varString()
	if err != nil {
		return CreateRoomPayload{}, err
	}
	max, err := r.u8()
	if err != nil {
		return CreateRoomPayload{}, err
	}
	priv, err := r.u8()
	if err != nil {
		return CreateRoomPayload{}, err
	}
	skin, err := r.u8()
	if err != nil {
		return CreateRoomPayload{}, err
	}
	return CreateRoomPayload{Name: name, MaxPlayers: max, Private: priv != 0, ShipSkin: skin}, nil
}

type JoinRoomByCodePayload struct {
	Code     string
	ShipSkin uint8
}

func (p JoinRoomByCodePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Code)
	w.u8(p.ShipSkin)
	return w.buf
}

func UnmarshalJoinRoomByCode(buf []byte) (JoinRoomByCodePayload, error) {
	r := &byteReader{buf: buf}
	code, err := r.varString()
	if err != nil {
		return JoinRoomByCodePayload{}, err
	}
	skin, err := r.u8()
	if err != nil {
		return JoinRoomByCodePayload{}, err
	}
	return JoinRoomByCodePayload{Code: code, ShipSkin: skin}, nil
}

// KickPlayerPayload names the occupant the host wants removed.
type KickPlayerPayload struct {
	TargetEmail string
}

func (p KickPlayerPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.TargetEmail)
	return w.buf
}

func UnmarshalKickPlayer(buf []byte) (KickPlayerPayload, error) {
	r := &byteReader{buf: buf}
	email, err := r.varString()
	if err != nil {
		return KickPlayerPayload{}, err
	}
	return KickPlayerPayload{TargetEmail: email}, nil
}

// SetRoomConfigPayload carries the host's requested game-speed
// percentage (config.ClampGameSpeed enforces the allowed range).
type SetRoomConfigPayload struct {
	GameSpeedPercent int32
}

func (p SetRoomConfigPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u32(uint32(p.GameSpeedPercent))
	return w.buf
}

func UnmarshalSetRoomConfig(buf []byte) (SetRoomConfigPayload, error) {
	r := &byteReader{buf: buf}
	v, err := r.u32()
	if err != nil {
		return SetRoomConfigPayload{}, err
	}
	return SetRoomConfigPayload{GameSpeedPercent: int32(v)}, nil
}

// SlotView is one occupant entry inside a RoomUpdate broadcast.
type SlotView struct {
	Occupied bool
	Name     string
	Ready    bool
	Host     bool
	ShipSkin uint8
}

type RoomUpdatePayload struct {
	Code    string
	Name    string
	Max     uint8
	Slots   []SlotView
}

func (p RoomUpdatePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Code)
	w.varString(p.Name)
	w.u8(p.Max)
	w.u8(uint8(len(p.Slots)))
	for _, s := range p.Slots {
		flags := uint8(0)
		if s.Occupied {
			flags |= 1
		}
		if s.Ready {
			flags |= 2
		}
		if s.Host {
			flags |= 4
		}
		w.u8(flags)
		w.varString(s.Name)
		w.u8(s.ShipSkin)
	}
	return w.buf
}

func UnmarshalRoomUpdate(buf []byte) (RoomUpdatePayload, error) {
	r := &byteReader{buf: buf}
	code, err := r.varString()
	if err != nil {
		return RoomUpdatePayload{}, err
	}
	name, err := r.varString()
	if err != nil {
		return RoomUpdatePayload{}, err
	}
	max, err := r.u8()
	if err != nil {
		return RoomUpdatePayload{}, err
	}
	n, err := r.u8()
	if err != nil {
		return RoomUpdatePayload{}, err
	}
	slots := make([]SlotView, 0, n)
	for i := 0; i < int(n); i++ {
		flags, err := r.u8()
		if err != nil {
			return RoomUpdatePayload{}, err
		}
		sname, err := r.varString()
		if err != nil {
			return RoomUpdatePayload{}, err
		}
		skin, err := r.u8()
		if err != nil {
			return RoomUpdatePayload{}, err
		}
		slots = append(slots, SlotView{
			Occupied: flags&1 != 0,
			Ready:    flags&2 != 0,
			Host:     flags&4 != 0,
			Name:     sname,
			ShipSkin: skin,
		})
	}
	return RoomUpdatePayload{Code: code, Name: name, Max: max, Slots: slots}, nil
}

// LobbyNackPayload carries the refused message type and a reason code.
type LobbyNackPayload struct {
	Refused MessageType
	Reason  LobbyNackCode
}

func (p LobbyNackPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u16(uint16(p.Refused))
	w.u8(uint8(p.Reason))
	return w.buf
}

func UnmarshalLobbyNack(buf []byte) (LobbyNackPayload, error) {
	r := &byteReader{buf: buf}
	refused, err := r.u16()
	if err != nil {
		return LobbyNackPayload{}, err
	}
	reason, err := r.u8()
	if err != nil {
		return LobbyNackPayload{}, err
	}
	return LobbyNackPayload{Refused: MessageType(refused), Reason: LobbyNackCode(reason)}, nil
}

// ChatMessagePayload is both the client->server send and the
// server->client fan-out; Sender/Timestamp are only populated on the
// fan-out direction.
type ChatMessagePayload struct {
	Sender    string
	Text      string
	Timestamp uint64
}

func (p ChatMessagePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Sender)
	w.varString(p.Text)
	w.u64(p.Timestamp)
	return w.buf
}

func UnmarshalChatMessage(buf []byte) (ChatMessagePayload, error) {
	r := &byteReader{buf: buf}
	sender, err := r.varString()
	if err != nil {
		return ChatMessagePayload{}, err
	}
	text, err := r.varString()
	if err != nil {
		return ChatMessagePayload{}, err
	}
	ts, err := r.u64()
	if err != nil {
		return ChatMessagePayload{}, err
	}
	return ChatMessagePayload{Sender: sender, Text: text, Timestamp: ts}, nil
}

// UserSettingsPayload carries a client's opaque key-value settings blob,
// both as the SaveUserSettings request and the UserSettings response.
type UserSettingsPayload struct {
	Values map[string]string
}

func (p UserSettingsPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u16(uint16(len(p.Values)))
	for k, v := range p.Values {
		w.varString(k)
		w.varString(v)
	}
	return w.buf
}

func UnmarshalUserSettings(buf []byte) (UserSettingsPayload, error) {
	r := &byteReader{buf: buf}
	n, err := r.u16()
	if err != nil {
		return UserSettingsPayload{}, err
	}
	values := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := r.varString()
		if err != nil {
			return UserSettingsPayload{}, err
		}
		v, err := r.varString()
		if err != nil {
			return UserSettingsPayload{}, err
		}
		values[k] = v
	}
	return UserSettingsPayload{Values: values}, nil
}

// ChatHistoryEntry is one retained chat line returned by ChatHistory.
type ChatHistoryEntry struct {
	DisplayName string
	Text        string
	Timestamp   uint64
}

// ChatHistoryPayload is the ChatHistory response: the retained ring for
// the caller's current room.
type ChatHistoryPayload struct {
	Entries []ChatHistoryEntry
}

func (p ChatHistoryPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u8(uint8(len(p.Entries)))
	for _, e := range p.Entries {
		w.varString(e.DisplayName)
		w.varString(e.Text)
		w.u64(e.Timestamp)
	}
	return w.buf
}

func UnmarshalChatHistory(buf []byte) (ChatHistoryPayload, error) {
	r := &byteReader{buf: buf}
	n, err := r.u8()
	if err != nil {
		return ChatHistoryPayload{}, err
	}
	entries := make([]ChatHistoryEntry, 0, n)
	for i := 0; i < int(n); i++ {
		name, err := r.varString()
		if err != nil {
			return ChatHistoryPayload{}, err
		}
		text, err := r.varString()
		if err != nil {
			return ChatHistoryPayload{}, err
		}
		ts, err := r.u64()
		if err != nil {
			return ChatHistoryPayload{}, err
		}
		entries = append(entries, ChatHistoryEntry{DisplayName: name, Text: text, Timestamp: ts})
	}
	return ChatHistoryPayload{Entries: entries}, nil
}

// --- Gameplay datagrams ---

// JoinGamePayload is the UDP auth handshake payload: a session token,
// the room code the player is already in (per the stream channel), and
// the ship skin chosen at join time.
type JoinGamePayload struct {
	Token    [32]byte
	RoomCode string
	ShipSkin uint8
}

func (p JoinGamePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.bytes(p.Token[:])
	w.varString(p.RoomCode)
	w.u8(p.ShipSkin)
	return w.buf
}

func UnmarshalJoinGame(buf []byte) (JoinGamePayload, error) {
	r := &byteReader{buf: buf}
	tokenBytes, err := r.bytes(32)
	if err != nil {
		return JoinGamePayload{}, err
	}
	code, err := r.varString()
	if err != nil {
		return JoinGamePayload{}, err
	}
	skin, err := r.u8()
	if err != nil {
		return JoinGamePayload{}, err
	}
	var tok [32]byte
	copy(tok[:], tokenBytes)
	return JoinGamePayload{Token: tok, RoomCode: code, ShipSkin: skin}, nil
}

type JoinGameAckPayload struct {
	PlayerID uint8
}

func (p JoinGameAckPayload) MarshalBinary() []byte {
	return []byte{p.PlayerID}
}

func UnmarshalJoinGameAck(buf []byte) (JoinGameAckPayload, error) {
	if len(buf) < 1 {
		return JoinGameAckPayload{}, ErrShortFrame
	}
	return JoinGameAckPayload{PlayerID: buf[0]}, nil
}

type JoinGameNackPayload struct {
	Reason JoinGameNackCode
}

func (p JoinGameNackPayload) MarshalBinary() []byte {
	return []byte{uint8(p.Reason)}
}

// PlayerInputPayload is the movement/action bitmask plus the client
// sequence number used for latest-wins ordering (spec.md §4.4).
type PlayerInputPayload struct {
	Sequence uint32
	Keys     uint16
}

// Input key bitmask.
const (
	KeyUp uint16 = 1 << iota
	KeyDown
	KeyLeft
	KeyRight
	KeyShoot
	KeyCharge
	KeyForceToggle
	KeyPauseVote
)

func (p PlayerInputPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u32(p.Sequence)
	w.u16(p.Keys)
	return w.buf
}

func UnmarshalPlayerInput(buf []byte) (PlayerInputPayload, error) {
	r := &byteReader{buf: buf}
	seq, err := r.u32()
	if err != nil {
		return PlayerInputPayload{}, err
	}
	keys, err := r.u16()
	if err != nil {
		return PlayerInputPayload{}, err
	}
	return PlayerInputPayload{Sequence: seq, Keys: keys}, nil
}

// PlayerRecord is one compact per-player entry inside a Snapshot.
type PlayerRecord struct {
	PlayerID     uint8
	X, Y         float32
	HP           int8
	Alive        bool
	Weapon       uint8
	WeaponLevel  uint8
	Score        uint32
}

// MissileRecord is one compact missile entry inside a Snapshot.
type MissileRecord struct {
	EntityID uint32
	X, Y     float32
}

// EnemyRecord is one compact enemy entry inside a Snapshot.
type EnemyRecord struct {
	EntityID uint32
	Kind     uint8
	X, Y     float32
	HP       int32
}

// SnapshotPayload is the per-tick world state broadcast (spec.md §4.4
// step 5). Records are intentionally compact fixed-width arrays so the
// datagram stays well under DatagramMaxSize for realistic room sizes
// (<=6 players). Per-tick deltas (damage, kills, pickups) are not carried
// here; they go out as separate event datagrams, see EntityEventPayload.
type SnapshotPayload struct {
	Tick     uint32
	Players  []PlayerRecord
	Missiles []MissileRecord
	Enemies  []EnemyRecord
	HasBoss  bool
	BossHP   int32
	BossMax  int32
}

func (p SnapshotPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u32(p.Tick)

	w.u8(uint8(len(p.Players)))
	for _, pr := range p.Players {
		w.u8(pr.PlayerID)
		w.f32(pr.X)
		w.f32(pr.Y)
		w.u8(uint8(int8(pr.HP)))
		alive := uint8(0)
		if pr.Alive {
			alive = 1
		}
		w.u8(alive)
		w.u8(pr.Weapon)
		w.u8(pr.WeaponLevel)
		w.u32(pr.Score)
	}

	w.u8(uint8(len(p.Missiles)))
	for _, m := range p.Missiles {
		w.u32(m.EntityID)
		w.f32(m.X)
		w.f32(m.Y)
	}

	w.u8(uint8(len(p.Enemies)))
	for _, e := range p.Enemies {
		w.u32(e.EntityID)
		w.u8(e.Kind)
		w.f32(e.X)
		w.f32(e.Y)
		w.u32(uint32(e.HP))
	}

	hasBoss := uint8(0)
	if p.HasBoss {
		hasBoss = 1
	}
	w.u8(hasBoss)
	w.u32(uint32(p.BossHP))
	w.u32(uint32(p.BossMax))

	return w.buf
}

func UnmarshalSnapshot(buf []byte) (SnapshotPayload, error) {
	r := &byteReader{buf: buf}
	tick, err := r.u32()
	if err != nil {
		return SnapshotPayload{}, err
	}

	n, err := r.u8()
	if err != nil {
		return SnapshotPayload{}, err
	}
	players := make([]PlayerRecord, 0, n)
	for i := 0; i < int(n); i++ {
		id, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		x, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		y, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		hp, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		alive, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		weapon, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		level, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		score, err := r.u32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		players = append(players, PlayerRecord{
			PlayerID: id, X: x, Y: y, HP: int8(hp), Alive: alive != 0,
			Weapon: weapon, WeaponLevel: level, Score: score,
		})
	}

	mn, err := r.u8()
	if err != nil {
		return SnapshotPayload{}, err
	}
	missiles := make([]MissileRecord, 0, mn)
	for i := 0; i < int(mn); i++ {
		id, err := r.u32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		x, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		y, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		missiles = append(missiles, MissileRecord{EntityID: id, X: x, Y: y})
	}

	en, err := r.u8()
	if err != nil {
		return SnapshotPayload{}, err
	}
	enemies := make([]EnemyRecord, 0, en)
	for i := 0; i < int(en); i++ {
		id, err := r.u32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		kind, err := r.u8()
		if err != nil {
			return SnapshotPayload{}, err
		}
		x, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		y, err := r.f32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		hp, err := r.u32()
		if err != nil {
			return SnapshotPayload{}, err
		}
		enemies = append(enemies, EnemyRecord{EntityID: id, Kind: kind, X: x, Y: y, HP: int32(hp)})
	}

	hasBoss, err := r.u8()
	if err != nil {
		return SnapshotPayload{}, err
	}
	bossHP, err := r.u32()
	if err != nil {
		return SnapshotPayload{}, err
	}
	bossMax, err := r.u32()
	if err != nil {
		return SnapshotPayload{}, err
	}

	return SnapshotPayload{
		Tick: tick, Players: players, Missiles: missiles, Enemies: enemies,
		HasBoss: hasBoss != 0, BossHP: int32(bossHP), BossMax: int32(bossMax),
	}, nil
}

// EntityEventPayload carries the handful of fields any single per-tick
// event delta needs (spec.md §4.4 step 4): which entity/slot it concerns,
// how much damage applied, and a kind-specific sub-code (power-up kind
// for PowerUp* events, charge level for WaveCannonFired). Reused across
// every MsgMissileDestroyed/EnemyDestroyed/PlayerDamaged/PlayerDied/
// PowerUpSpawned/PowerUpCollected/PowerUpExpired/WaveCannonFired message.
type EntityEventPayload struct {
	EntityID uint32
	SlotID   uint8
	Damage   int32
	SubKind  uint8
}

func (p EntityEventPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u32(p.EntityID)
	w.u8(p.SlotID)
	w.u32(uint32(p.Damage))
	w.u8(p.SubKind)
	return w.buf
}

func UnmarshalEntityEvent(buf []byte) (EntityEventPayload, error) {
	r := &byteReader{buf: buf}
	id, err := r.u32()
	if err != nil {
		return EntityEventPayload{}, err
	}
	slot, err := r.u8()
	if err != nil {
		return EntityEventPayload{}, err
	}
	dmg, err := r.u32()
	if err != nil {
		return EntityEventPayload{}, err
	}
	sub, err := r.u8()
	if err != nil {
		return EntityEventPayload{}, err
	}
	return EntityEventPayload{EntityID: id, SlotID: slot, Damage: int32(dmg), SubKind: sub}, nil
}

// PauseStateSyncPayload carries the (isPaused, voters, total) triple
// from spec.md §4.4 "Pause".
type PauseStateSyncPayload struct {
	Paused bool
	Voters uint8
	Total  uint8
}

func (p PauseStateSyncPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	paused := uint8(0)
	if p.Paused {
		paused = 1
	}
	w.u8(paused)
	w.u8(p.Voters)
	w.u8(p.Total)
	return w.buf
}

func UnmarshalPauseStateSync(buf []byte) (PauseStateSyncPayload, error) {
	r := &byteReader{buf: buf}
	paused, err := r.u8()
	if err != nil {
		return PauseStateSyncPayload{}, err
	}
	voters, err := r.u8()
	if err != nil {
		return PauseStateSyncPayload{}, err
	}
	total, err := r.u8()
	if err != nil {
		return PauseStateSyncPayload{}, err
	}
	return PauseStateSyncPayload{Paused: paused != 0, Voters: voters, Total: total}, nil
}

// PlayerJoinPayload / PlayerLeavePayload / PlayerDiedPayload are all a
// bare player id.
type PlayerIDPayload struct {
	PlayerID uint8
}

func (p PlayerIDPayload) MarshalBinary() []byte { return []byte{p.PlayerID} }

func UnmarshalPlayerID(buf []byte) (PlayerIDPayload, error) {
	if len(buf) < 1 {
		return PlayerIDPayload{}, ErrShortFrame
	}
	return PlayerIDPayload{PlayerID: buf[0]}, nil
}

// --- Voice relay ---

type VoiceJoinPayload struct {
	Token    [32]byte
	RoomCode string
}

func (p VoiceJoinPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.bytes(p.Token[:])
	w.varString(p.RoomCode)
	return w.buf
}

func UnmarshalVoiceJoin(buf []byte) (VoiceJoinPayload, error) {
	r := &byteReader{buf: buf}
	tokenBytes, err := r.bytes(32)
	if err != nil {
		return VoiceJoinPayload{}, err
	}
	code, err := r.varString()
	if err != nil {
		return VoiceJoinPayload{}, err
	}
	var tok [32]byte
	copy(tok[:], tokenBytes)
	return VoiceJoinPayload{Token: tok, RoomCode: code}, nil
}

// VoiceFramePayload wraps an opaque audio payload. The relay never
// inspects Data's contents.
type VoiceFramePayload struct {
	Data []byte
}

func (p VoiceFramePayload) MarshalBinary() []byte { return p.Data }

func UnmarshalVoiceFrame(buf []byte) (VoiceFramePayload, error) {
	data := make([]byte, len(buf))
	copy(data, buf)
	return VoiceFramePayload{Data: data}, nil
}

type VoiceMutePayload struct {
	PlayerID uint8
	Muted    bool
}

func (p VoiceMutePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u8(p.PlayerID)
	muted := uint8(0)
	if p.Muted {
		muted = 1
	}
	w.u8(muted)
	return w.buf
}

func UnmarshalVoiceMute(buf []byte) (VoiceMutePayload, error) {
	r := &byteReader{buf: buf}
	id, err := r.u8()
	if err != nil {
		return VoiceMutePayload{}, err
	}
	muted, err := r.u8()
	if err != nil {
		return VoiceMutePayload{}, err
	}
	return VoiceMutePayload{PlayerID: id, Muted: muted != 0}, nil
}

// --- Social graph (blocks, friends, private messages) ---

// TargetPayload names a peer by email; it is BlockUser's, SendFriendRequest's,
// and AcceptFriendRequest's only field.
type TargetPayload struct {
	Target string
}

func (p TargetPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Target)
	return w.buf
}

func UnmarshalTarget(buf []byte) (TargetPayload, error) {
	r := &byteReader{buf: buf}
	target, err := r.varString()
	if err != nil {
		return TargetPayload{}, err
	}
	return TargetPayload{Target: target}, nil
}

// FriendsListPayload is ListFriends' response: the caller's accepted
// friendships.
type FriendsListPayload struct {
	Friends []string
}

func (p FriendsListPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u8(uint8(len(p.Friends)))
	for _, f := range p.Friends {
		w.varString(f)
	}
	return w.buf
}

func UnmarshalFriendsList(buf []byte) (FriendsListPayload, error) {
	r := &byteReader{buf: buf}
	n, err := r.u8()
	if err != nil {
		return FriendsListPayload{}, err
	}
	friends := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		f, err := r.varString()
		if err != nil {
			return FriendsListPayload{}, err
		}
		friends = append(friends, f)
	}
	return FriendsListPayload{Friends: friends}, nil
}

// PrivateMessagePayload is both the client->server send and the
// server->client fan-out / history entry; FromEmail/Timestamp are only
// populated on the latter.
type PrivateMessagePayload struct {
	FromEmail string
	ToEmail   string
	Text      string
	Timestamp uint64
}

func (p PrivateMessagePayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.FromEmail)
	w.varString(p.ToEmail)
	w.varString(p.Text)
	w.u64(p.Timestamp)
	return w.buf
}

func UnmarshalPrivateMessage(buf []byte) (PrivateMessagePayload, error) {
	r := &byteReader{buf: buf}
	from, err := r.varString()
	if err != nil {
		return PrivateMessagePayload{}, err
	}
	to, err := r.varString()
	if err != nil {
		return PrivateMessagePayload{}, err
	}
	text, err := r.varString()
	if err != nil {
		return PrivateMessagePayload{}, err
	}
	ts, err := r.u64()
	if err != nil {
		return PrivateMessagePayload{}, err
	}
	return PrivateMessagePayload{FromEmail: from, ToEmail: to, Text: text, Timestamp: ts}, nil
}

// ListPrivateMessagesPayload requests the DM history with Peer (most
// recent Limit entries).
type ListPrivateMessagesPayload struct {
	Peer  string
	Limit uint8
}

func (p ListPrivateMessagesPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.varString(p.Peer)
	w.u8(p.Limit)
	return w.buf
}

func UnmarshalListPrivateMessages(buf []byte) (ListPrivateMessagesPayload, error) {
	r := &byteReader{buf: buf}
	peer, err := r.varString()
	if err != nil {
		return ListPrivateMessagesPayload{}, err
	}
	limit, err := r.u8()
	if err != nil {
		return ListPrivateMessagesPayload{}, err
	}
	return ListPrivateMessagesPayload{Peer: peer, Limit: limit}, nil
}

// PrivateMessageHistoryPayload is ListPrivateMessages' response.
type PrivateMessageHistoryPayload struct {
	Entries []PrivateMessagePayload
}

func (p PrivateMessageHistoryPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u8(uint8(len(p.Entries)))
	for _, e := range p.Entries {
		w.varString(e.FromEmail)
		w.varString(e.ToEmail)
		w.varString(e.Text)
		w.u64(e.Timestamp)
	}
	return w.buf
}

func UnmarshalPrivateMessageHistory(buf []byte) (PrivateMessageHistoryPayload, error) {
	r := &byteReader{buf: buf}
	n, err := r.u8()
	if err != nil {
		return PrivateMessageHistoryPayload{}, err
	}
	entries := make([]PrivateMessagePayload, 0, n)
	for i := 0; i < int(n); i++ {
		from, err := r.varString()
		if err != nil {
			return PrivateMessageHistoryPayload{}, err
		}
		to, err := r.varString()
		if err != nil {
			return PrivateMessageHistoryPayload{}, err
		}
		text, err := r.varString()
		if err != nil {
			return PrivateMessageHistoryPayload{}, err
		}
		ts, err := r.u64()
		if err != nil {
			return PrivateMessageHistoryPayload{}, err
		}
		entries = append(entries, PrivateMessagePayload{FromEmail: from, ToEmail: to, Text: text, Timestamp: ts})
	}
	return PrivateMessageHistoryPayload{Entries: entries}, nil
}

// SocialNackPayload refuses a block/friend/message request, naming which
// operation was refused and why.
type SocialNackPayload struct {
	Refused MessageType
	Reason  SocialNackCode
}

func (p SocialNackPayload) MarshalBinary() []byte {
	w := &byteWriter{}
	w.u16(uint16(p.Refused))
	w.u8(uint8(p.Reason))
	return w.buf
}

func UnmarshalSocialNack(buf []byte) (SocialNackPayload, error) {
	r := &byteReader{buf: buf}
	refused, err := r.u16()
	if err != nil {
		return SocialNackPayload{}, err
	}
	reason, err := r.u8()
	if err != nil {
		return SocialNackPayload{}, err
	}
	return SocialNackPayload{Refused: MessageType(refused), Reason: SocialNackCode(reason)}, nil
}
