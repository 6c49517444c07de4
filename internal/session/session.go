// Package session implements the session registry (spec.md §4.2, C2):
// token issuance, token/endpoint/identity indexing, activity tracking,
// expiry, and the ban list.
package session

import (
	"net"
	"time"
)

// Status is the session lifecycle state (spec.md §4.2).
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Identity is the stable user identity: an immutable email plus a
// mutable display name.
type Identity struct {
	Email       string
	DisplayName string
}

// Session is one user's session. All fields are only ever mutated while
// the registry's single lock is held (see Registry).
type Session struct {
	Identity Identity
	Token    Token

	CreatedAt    time.Time
	LastActivity time.Time
	Status       Status

	Endpoint  *net.UDPAddr // nil until validateAndBindUDP succeeds
	PlayerID  *uint8       // nil until assignPlayerId
	RoomCode  string       // "" if not in a room

	// Hidden per-session flags (e.g. GodMode), keyed by name.
	Flags map[string]bool
}

func newSession(identity Identity, token Token, now time.Time) *Session {
	return &Session{
		Identity:     identity,
		Token:        token,
		CreatedAt:    now,
		LastActivity: now,
		Status:       StatusPending,
		Flags:        make(map[string]bool),
	}
}

// HasFlag reports whether a hidden flag is set on the session.
func (s *Session) HasFlag(name string) bool { return s.Flags[name] }
