// Package room implements the C3 room registry: lobby lifecycle, code
// generation, join/leave/ready, host election, public browsing,
// quick-join, and chat history retention (spec.md §4.3).
package room

import "time"

// State is a room's lobby/game lifecycle state.
type State int

const (
	StateWaiting State = iota
	StateStarting
	StateInGame
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateStarting:
		return "starting"
	case StateInGame:
		return "in_game"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Slot is one occupant seat. The zero value is an empty slot.
type Slot struct {
	Occupied bool
	Email    string
	Name     string
	Ready    bool
	Host     bool
	ShipSkin uint8
}

// ChatEntry is one retained chat line.
type ChatEntry struct {
	DisplayName string
	Text        string
	Timestamp   time.Time
}

// Room is a lobby container. All mutation happens through Registry
// methods, which hold Registry.mu for the duration.
type Room struct {
	Code     string
	Name     string
	Max      int
	Private  bool
	State    State
	HostEmail string
	GameSpeedPercent int

	Slots []Slot

	chat []ChatEntry
}

// newRoom constructs an empty Waiting room with Max slots.
func newRoom(code, name string, max int, private bool) *Room {
	if max < 1 {
		max = 1
	}
	return &Room{
		Code:             code,
		Name:             name,
		Max:              max,
		Private:          private,
		State:            StateWaiting,
		GameSpeedPercent: 100,
		Slots:            make([]Slot, max),
	}
}

// OccupiedCount returns the number of occupied slots.
func (r *Room) OccupiedCount() int {
	n := 0
	for _, s := range r.Slots {
		if s.Occupied {
			n++
		}
	}
	return n
}

// ReadyCount returns the number of occupied, ready slots.
func (r *Room) ReadyCount() int {
	n := 0
	for _, s := range r.Slots {
		if s.Occupied && s.Ready {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the room has no occupants.
func (r *Room) IsEmpty() bool { return r.OccupiedCount() == 0 }

// IsFull reports whether every slot is occupied.
func (r *Room) IsFull() bool { return r.OccupiedCount() >= r.Max }

// CanStart implements spec.md's invariant: Waiting, occupancy>=2,
// ready-count>=2.
func (r *Room) CanStart() bool {
	return r.State == StateWaiting && r.OccupiedCount() >= 2 && r.ReadyCount() >= 2
}

// appendChat appends an entry, evicting the oldest beyond the retention
// cap.
func (r *Room) appendChat(entry ChatEntry, cap int) {
	r.chat = append(r.chat, entry)
	if len(r.chat) > cap {
		r.chat = r.chat[len(r.chat)-cap:]
	}
}

// ChatHistory returns a snapshot copy of the retained chat ring.
func (r *Room) ChatHistory() []ChatEntry {
	out := make([]ChatEntry, len(r.chat))
	copy(out, r.chat)
	return out
}

// Snapshot is an immutable view of room state for broadcast/browse use,
// decoupled from the live Room so callers never retain a pointer into
// registry-owned memory.
type Snapshot struct {
	Code             string
	Name             string
	Max              int
	Private          bool
	State            State
	GameSpeedPercent int
	Slots            []Slot
}

func (r *Room) snapshot() Snapshot {
	slots := make([]Slot, len(r.Slots))
	copy(slots, r.Slots)
	return Snapshot{
		Code: r.Code, Name: r.Name, Max: r.Max, Private: r.Private,
		State: r.State, GameSpeedPercent: r.GameSpeedPercent, Slots: slots,
	}
}
