// Package instance implements the per-room authoritative game instance
// (spec.md §4.4, C4): player entities, missiles, enemies, boss, power-ups,
// wave-cannon shots, force pods/bit devices, the wave controller, and the
// fixed-tick pipeline that advances and resolves them.
package instance

import (
	"time"

	"github.com/rtype/core/config"
)

// Weapon identifies one of the four independently-leveled weapons.
type Weapon uint8

const (
	WeaponStandard Weapon = iota
	WeaponSpread
	WeaponLaser
	WeaponMissile
)

func (w Weapon) cooldown() time.Duration {
	switch w {
	case WeaponSpread:
		return config.ShootCooldownSpread
	case WeaponLaser:
		return config.ShootCooldownLaser
	case WeaponMissile:
		return config.ShootCooldownMissile
	default:
		return config.ShootCooldownStandard
	}
}

// Vec2 is a 2D float position/velocity.
type Vec2 struct {
	X, Y float32
}

// ScoreState is the cumulative per-session score carried by a player for
// the lifetime of one game (spec.md §4.4 "Scoring").
type ScoreState struct {
	Score           int32
	Kills           int32
	Deaths          int32
	KillsByWeapon   [config.WeaponCount]int32
	BossKills       int32
	BestComboX10    int32
	KillStreak      int32
	WaveStreak      int32
	PerfectWaves    int32
	DamageDealt     int32
	GameStartedAt   time.Time
}

// ForceState is the state of a player's attachable force pod.
type ForceState struct {
	Attached bool
	Docked   bool // true while riding on the ship nose
	Pos      Vec2
}

// BitState is the state of a player's orbiting bit device.
type BitState struct {
	Attached bool
	Angle    float32
}

// Player is one occupant's live entity within the instance. Only the
// owning instance's serial execution context ever mutates a Player.
type Player struct {
	SlotID   uint8
	Email    string
	Endpoint string // UDP endpoint key, for C7 fan-out bookkeeping
	ShipSkin uint8

	Pos Vec2
	Vel Vec2
	HP  int32

	Alive bool

	CurrentWeapon Weapon
	WeaponLevels  [config.WeaponCount]uint8
	ShootReadyAt  time.Time

	ChargeStartedAt time.Time
	Charging        bool

	Force ForceState
	Bit   BitState

	Score ScoreState

	PauseVote bool
	GodMode   bool

	PendingInput PlayerInput

	LastActivity time.Time
}

// PlayerInput is the most recently applied input for a player, latest
// sequence wins per tick (spec.md §4.4 "Player input").
type PlayerInput struct {
	Seq  uint32
	Keys uint16
}

// Missile is a standard projectile fired by a player.
type Missile struct {
	ID      uint32
	Owner   uint8
	Pos     Vec2
	Vel     Vec2
	Weapon  Weapon
	Damage  int32
	Homing  bool
	TargetID uint32 // enemy id, 0 if none
}

// EnemyKind distinguishes AI behaviors.
type EnemyKind uint8

const (
	EnemyGrunt EnemyKind = iota
	EnemyZigzag
	EnemyTurret
)

// Enemy is a hostile AI-controlled entity.
type Enemy struct {
	ID     uint32
	Kind   EnemyKind
	Pos    Vec2
	Vel    Vec2
	HP     int32
	Reward int32

	aiElapsed time.Duration
}

// Boss is the optional per-wave singleton.
type Boss struct {
	ID        uint32
	Pos       Vec2
	Vel       Vec2
	HP        int32
	MaxHP     int32
	Phase     int32
}

// PowerUpKind identifies the effect granted on pickup.
type PowerUpKind uint8

const (
	PowerUpWeaponUpgrade PowerUpKind = iota
	PowerUpForce
	PowerUpBit
	PowerUpHealth
)

// PowerUp is a collectible spawned on enemy death or schedule.
type PowerUp struct {
	ID       uint32
	Kind     PowerUpKind
	Pos      Vec2
	Lifetime time.Duration
}

// WaveCannonShot is a charged projectile spawned on charge release.
type WaveCannonShot struct {
	ID          uint32
	Owner       uint8
	Pos         Vec2
	Vel         Vec2
	ChargeLevel int32
	Width       float32
	Damage      int32
}
