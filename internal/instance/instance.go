package instance

import (
	"time"

	"github.com/rtype/core/config"
)

// EmptyCallback notifies the instance manager that an instance has no
// occupants left and may be torn down (spec.md §4.4 "Cleanup").
type EmptyCallback func(code string)

// AutosaveCallback is the shape of a per-player score-save hook. New
// stores it, but the instance never invokes it: session scores are
// persisted by the datagram server's timer-driven autosave loop, and no
// save is triggered by a player's death.
type AutosaveCallback func(email string, score ScoreState)

// Instance is the per-room authoritative simulation (C4). All mutation
// happens on a single goroutine draining inbox — its "serial execution
// context" — so independent instances run in parallel while a given
// instance never races against itself.
type Instance struct {
	Code string

	inbox chan func()
	done  chan struct{}

	gameSpeedPercent int

	players  map[uint8]*Player
	missiles map[uint32]*Missile
	enemies  map[uint32]*Enemy
	boss     *Boss
	powerups map[uint32]*PowerUp
	shots    map[uint32]*WaveCannonShot

	nextEntityID uint32
	wave         *waveController

	paused bool

	tick uint32

	onEmpty   EmptyCallback
	onAutosave AutosaveCallback
}

// New constructs an instance for roomCode at the given game-speed
// percent (applied once, at construction, per spec.md §4.4 "Game
// speed") and starts its serial execution goroutine.
func New(roomCode string, gameSpeedPercent int, onEmpty EmptyCallback, onAutosave AutosaveCallback) *Instance {
	in := &Instance{
		Code:             roomCode,
		inbox:            make(chan func(), 64),
		done:             make(chan struct{}),
		gameSpeedPercent: config.ClampGameSpeed(gameSpeedPercent),
		players:          make(map[uint8]*Player),
		missiles:         make(map[uint32]*Missile),
		enemies:          make(map[uint32]*Enemy),
		powerups:         make(map[uint32]*PowerUp),
		shots:            make(map[uint32]*WaveCannonShot),
		wave:             newWaveController(),
		onEmpty:          onEmpty,
		onAutosave:       onAutosave,
	}
	go in.run()
	return in
}

// run drains the inbox until Close is called. This is the instance's
// serial execution context; every closure here executes strictly
// in-order and never concurrently with another closure from this
// instance.
func (in *Instance) run() {
	for {
		select {
		case fn := <-in.inbox:
			fn()
		case <-in.done:
			// Drain whatever was queued before close so callers blocked
			// on post() below are not left hanging.
			for {
				select {
				case fn := <-in.inbox:
					fn()
				default:
					return
				}
			}
		}
	}
}

// post enqueues fn onto the serial context. Returns false if the
// instance has already been closed.
func (in *Instance) post(fn func()) bool {
	select {
	case in.inbox <- fn:
		return true
	case <-in.done:
		return false
	}
}

// call posts fn and blocks until it has run.
func (in *Instance) call(fn func()) bool {
	result := make(chan struct{})
	if !in.post(func() { fn(); close(result) }) {
		return false
	}
	<-result
	return true
}

// Close tears down the serial execution context. Safe to call once.
func (in *Instance) Close() {
	close(in.done)
}

func (in *Instance) nextID() uint32 {
	in.nextEntityID++
	return in.nextEntityID
}

// JoinPlayer allocates a free slot for email, applies the instance's
// game-speed and the given ship skin, and returns the assigned slot id.
// Fails if the instance has no free slot or has been closed.
func (in *Instance) JoinPlayer(email, endpoint string, shipSkin uint8) (uint8, bool) {
	var slotID uint8
	var ok bool

	ran := in.call(func() {
		if len(in.players) >= config.MaxSlotsPerRoom {
			return
		}
		for id := uint8(0); id < config.MaxSlotsPerRoom; id++ {
			if _, taken := in.players[id]; !taken {
				slotID = id
				ok = true
				break
			}
		}
		if !ok {
			return
		}
		in.players[slotID] = &Player{
			SlotID:        slotID,
			Email:         email,
			Endpoint:      endpoint,
			ShipSkin:      shipSkin,
			Pos:           Vec2{X: config.PlayerStartX, Y: config.PlayerStartY},
			HP:            config.PlayerStartHP,
			Alive:         true,
			CurrentWeapon: WeaponStandard,
			LastActivity:  time.Now(),
			Score:         ScoreState{GameStartedAt: time.Now()},
		}
	})
	if !ran {
		return 0, false
	}
	return slotID, ok
}

// RemovePlayer drops a player entity. Returns the player's final score
// (for finalizeGameSession), whether slotID held a player, and whether
// the instance is now empty.
func (in *Instance) RemovePlayer(slotID uint8) (ScoreState, bool, bool) {
	var score ScoreState
	var found bool
	var empty bool

	in.call(func() {
		p, ok := in.players[slotID]
		if !ok {
			return
		}
		found = true
		score = p.Score
		delete(in.players, slotID)
		empty = len(in.players) == 0
	})

	if empty && in.onEmpty != nil {
		in.onEmpty(in.Code)
	}
	return score, found, empty
}

// ApplyInput records the latest player input. Inputs with a seq older
// than the currently applied one are ignored (spec.md §4.4 "Player
// input": "the server applies the latest seq per player per tick and
// never rewinds").
func (in *Instance) ApplyInput(slotID uint8, seq uint32, keys uint16) {
	in.post(func() {
		p, ok := in.players[slotID]
		if !ok || !p.Alive {
			return
		}
		if seq < p.PendingInput.Seq {
			return
		}
		p.PendingInput = PlayerInput{Seq: seq, Keys: keys}
		p.LastActivity = time.Now()
	})
}

// SetPauseVote records a player's pause vote (spec.md §4.4 "Pause").
func (in *Instance) SetPauseVote(slotID uint8, vote bool) {
	in.post(func() {
		if p, ok := in.players[slotID]; ok {
			p.PauseVote = vote
		}
	})
}

// ChargeStart/ChargeRelease/ForceToggle are posted directly from the
// datagram server on receipt of the corresponding message type.

// ChargeStart begins a wave-cannon charge for slotID.
func (in *Instance) ChargeStart(slotID uint8) {
	in.post(func() {
		p, ok := in.players[slotID]
		if !ok || !p.Alive || p.Charging {
			return
		}
		p.Charging = true
		p.ChargeStartedAt = time.Now()
	})
}

// ChargeRelease ends a charge, spawning a WaveCannonShot if the charge
// duration met the minimum (spec.md §4.4 "Wave cannon").
func (in *Instance) ChargeRelease(slotID uint8) {
	in.post(func() {
		p, ok := in.players[slotID]
		if !ok || !p.Charging {
			return
		}
		p.Charging = false
		held := time.Since(p.ChargeStartedAt)
		if held < config.ChargeMinForFire {
			return
		}
		level := int32(held / config.ChargeLevelPeriod)
		if level > config.ChargeMaxLevel {
			level = config.ChargeMaxLevel
		}
		id := in.nextID()
		in.shots[id] = &WaveCannonShot{
			ID:          id,
			Owner:       slotID,
			Pos:         p.Pos,
			Vel:         Vec2{X: 600, Y: 0},
			ChargeLevel: level,
			Width:       8 + float32(level)*6,
			Damage:      2 + level,
		}
	})
}

// ForceToggle attaches/detaches a player's force pod.
func (in *Instance) ForceToggle(slotID uint8) {
	in.post(func() {
		if p, ok := in.players[slotID]; ok {
			p.Force.Attached = !p.Force.Attached
			p.Force.Docked = p.Force.Attached
		}
	})
}

// OccupantCount returns the number of live player entities.
func (in *Instance) OccupantCount() int {
	var n int
	in.call(func() { n = len(in.players) })
	return n
}

// Endpoints returns the slot id -> UDP endpoint key mapping for every
// current occupant, so C7's broadcast scheduler knows where to send each
// tick's snapshot.
func (in *Instance) Endpoints() map[uint8]string {
	out := make(map[uint8]string)
	in.call(func() {
		for id, p := range in.players {
			out[id] = p.Endpoint
		}
	})
	return out
}

// Emails returns the slot id -> owning email mapping for every current
// occupant, so C7's autosave timer can key leaderboard writes without
// threading an email through the tick pipeline.
func (in *Instance) Emails() map[uint8]string {
	out := make(map[uint8]string)
	in.call(func() {
		for id, p := range in.players {
			out[id] = p.Email
		}
	})
	return out
}

// CurrentWave returns the wave number the instance has reached, for
// achievement checks (Survivor, Speed Demon) run when a player's session
// is finalized.
func (in *Instance) CurrentWave() int32 {
	var wave int32
	in.call(func() { wave = in.wave.wave })
	return wave
}

// Peek returns the current world state without advancing the
// simulation, for callers (the autosave timer) that need player scores
// between ticks without perturbing physics.
func (in *Instance) Peek() Snapshot {
	var snap Snapshot
	in.call(func() {
		snap = in.buildSnapshot(nil)
	})
	return snap
}

// Tick runs one iteration of the tick pipeline and returns the resulting
// snapshot, or advances time without simulating while paused (spec.md
// §4.4: "skipped entirely while paused" except step 1). Invoked by C7's
// broadcast scheduler.
func (in *Instance) Tick(dt time.Duration, now time.Time) Snapshot {
	var snap Snapshot
	in.call(func() {
		snap = in.tickLocked(dt, now)
	})
	return snap
}
