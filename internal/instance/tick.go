package instance

import (
	"math"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/wire"
)

// tickLocked runs one iteration of the pipeline described in spec.md
// §4.4. Caller must be running on the instance's serial execution
// context (i.e. called from inside a post()/call() closure).
func (in *Instance) tickLocked(dt time.Duration, now time.Time) Snapshot {
	var events []Event

	// Step 1: timeout expired players, even while paused. A player who
	// stops sending input entirely (connection stalled, client crashed
	// without a clean leave) is eliminated rather than left as a frozen
	// obstacle.
	for _, p := range in.players {
		if p.Alive && now.Sub(p.LastActivity) > config.ActiveInactivityWindow {
			in.killPlayer(p, &events)
		}
	}

	if in.updatePause() {
		in.tick++
		return in.buildSnapshot(events)
	}

	scaledDt := time.Duration(int64(dt) * int64(in.gameSpeedPercent) / 100)

	// Step 2: apply buffered input.
	for _, p := range in.players {
		if !p.Alive {
			continue
		}
		in.applyPlayerInput(p, scaledDt, &events)
	}

	// Step 3: advance everything, then resolve collisions in the fixed
	// order spec.md §4.4 names.
	in.advanceMissiles(scaledDt)
	in.advanceEnemies(scaledDt, &events)
	in.advanceBoss(scaledDt)
	in.advanceShots(scaledDt)
	in.advancePowerUps(scaledDt, &events)
	in.spawnWaveEntities(dt)

	in.resolveMissileEnemyCollisions(&events)
	in.resolveMissileBossCollisions(&events)
	in.resolveEnemyPlayerCollisions(&events)
	in.resolvePowerUpPlayerCollisions(&events)
	in.resolveForceBitEnemyCollisions(&events)

	in.tick++
	return in.buildSnapshot(events)
}

// updatePause applies the vote rule from spec.md §4.4 ("Pause") and
// reports whether the tick should be skipped.
func (in *Instance) updatePause() bool {
	total := len(in.players)
	if total == 0 {
		return in.paused
	}
	votes := 0
	for _, p := range in.players {
		if p.PauseVote {
			votes++
		}
	}
	if total == 1 {
		// A single vote toggles; absence of further votes keeps state.
		in.paused = votes > 0
	} else {
		if !in.paused && votes == total {
			in.paused = true
		} else if in.paused && votes < total {
			in.paused = false
		}
	}
	return in.paused
}

func (in *Instance) killPlayer(p *Player, events *[]Event) {
	if !p.Alive {
		return
	}
	p.Alive = false
	p.HP = 0
	p.Score.Deaths++
	p.Score.KillStreak = 0
	*events = append(*events, Event{Kind: EventPlayerDied, SlotID: p.SlotID})
}

func (in *Instance) applyPlayerInput(p *Player, dt time.Duration, events *[]Event) {
	keys := p.PendingInput.Keys
	speed := float32(config.PlayerSpeed)

	var vx, vy float32
	if keys&wire.KeyUp != 0 {
		vy -= speed
	}
	if keys&wire.KeyDown != 0 {
		vy += speed
	}
	if keys&wire.KeyLeft != 0 {
		vx -= speed
	}
	if keys&wire.KeyRight != 0 {
		vx += speed
	}
	p.Vel = Vec2{X: vx, Y: vy}
	secs := float32(dt.Seconds())
	p.Pos.X += p.Vel.X * secs
	p.Pos.Y += p.Vel.Y * secs

	if keys&wire.KeyPauseVote != 0 {
		p.PauseVote = true
	}
	p.Force.Attached = keys&wire.KeyForceToggle != 0 || p.Force.Attached

	if keys&wire.KeyShoot != 0 {
		in.tryShoot(p)
	}
}

func (in *Instance) tryShoot(p *Player) {
	now := time.Now()
	if now.Before(p.ShootReadyAt) {
		return
	}
	cd := p.CurrentWeapon.cooldown()
	scaled := time.Duration(int64(cd) * int64(in.gameSpeedPercent) / 100)
	p.ShootReadyAt = now.Add(scaled)

	level := p.WeaponLevels[p.CurrentWeapon]
	id := in.nextID()
	in.missiles[id] = &Missile{
		ID:     id,
		Owner:  p.SlotID,
		Pos:    p.Pos,
		Vel:    Vec2{X: 500 + float32(level)*60, Y: 0},
		Weapon: p.CurrentWeapon,
		Damage: 1 + int32(level),
		Homing: p.CurrentWeapon == WeaponMissile,
	}
}

func (in *Instance) advanceMissiles(dt time.Duration) {
	secs := float32(dt.Seconds())
	for id, m := range in.missiles {
		if m.Homing && m.TargetID != 0 {
			if target, ok := in.enemies[m.TargetID]; ok {
				dx, dy := target.Pos.X-m.Pos.X, target.Pos.Y-m.Pos.Y
				m.Vel.Y += clampf(dy, -80, 80) * 0.02
				_ = dx
			}
		}
		m.Pos.X += m.Vel.X * secs
		m.Pos.Y += m.Vel.Y * secs
		if m.Pos.X > 2000 || m.Pos.X < -100 {
			delete(in.missiles, id)
		}
	}
}

func (in *Instance) advanceEnemies(dt time.Duration, events *[]Event) {
	secs := float32(dt.Seconds())
	for id, e := range in.enemies {
		e.aiElapsed += dt
		switch e.Kind {
		case EnemyZigzag:
			e.Vel.Y = float32(60 * math.Sin(e.aiElapsed.Seconds()*2))
		case EnemyTurret:
			e.Vel = Vec2{}
		default:
			e.Vel = Vec2{X: -90, Y: 0}
		}
		e.Pos.X += e.Vel.X * secs
		e.Pos.Y += e.Vel.Y * secs
		if e.Pos.X < -100 {
			delete(in.enemies, id)
		}
	}
}

func (in *Instance) advanceBoss(dt time.Duration) {
	if in.boss == nil {
		return
	}
	secs := float32(dt.Seconds())
	in.boss.Pos.Y += in.boss.Vel.Y * secs
}

func (in *Instance) advanceShots(dt time.Duration) {
	secs := float32(dt.Seconds())
	for id, s := range in.shots {
		s.Pos.X += s.Vel.X * secs
		if s.Pos.X > 2000 {
			delete(in.shots, id)
		}
	}
}

func (in *Instance) advancePowerUps(dt time.Duration, events *[]Event) {
	for id, pu := range in.powerups {
		pu.Lifetime -= dt
		if pu.Lifetime <= 0 {
			delete(in.powerups, id)
			*events = append(*events, Event{Kind: EventPowerUpExpired, EntityID: id})
		}
	}
}

func (in *Instance) spawnWaveEntities(dt time.Duration) {
	spawnGrunt, startBoss := in.wave.advance(dt, in.gameSpeedPercent)
	if spawnGrunt {
		id := in.nextID()
		in.enemies[id] = &Enemy{ID: id, Kind: EnemyGrunt, Pos: Vec2{X: 1400, Y: 200}, HP: 3, Reward: 10}
	}
	if startBoss && in.boss == nil {
		id := in.nextID()
		in.boss = &Boss{ID: id, Pos: Vec2{X: 1300, Y: 270}, HP: 200, MaxHP: 200}
	}
}

func (in *Instance) resolveMissileEnemyCollisions(events *[]Event) {
	for mid, m := range in.missiles {
		for eid, e := range in.enemies {
			if !overlaps(m.Pos, 8, e.Pos, 20) {
				continue
			}
			e.HP -= m.Damage
			delete(in.missiles, mid)
			*events = append(*events, Event{Kind: EventMissileDestroyed, EntityID: mid})
			if e.HP <= 0 {
				pos := e.Pos
				delete(in.enemies, eid)
				*events = append(*events, Event{Kind: EventEnemyDestroyed, EntityID: eid})
				in.creditKill(m.Owner, m.Weapon, e.Reward)
				in.maybeSpawnPowerUp(pos, events)
			}
			break
		}
	}
}

func (in *Instance) resolveMissileBossCollisions(events *[]Event) {
	if in.boss == nil {
		return
	}
	for mid, m := range in.missiles {
		if !overlaps(m.Pos, 8, in.boss.Pos, 48) {
			continue
		}
		in.boss.HP -= m.Damage
		delete(in.missiles, mid)
		*events = append(*events, Event{Kind: EventMissileDestroyed, EntityID: mid})
		if in.boss.HP <= 0 {
			if p, ok := in.players[m.Owner]; ok {
				p.Score.BossKills++
			}
			*events = append(*events, Event{Kind: EventEnemyDestroyed, EntityID: in.boss.ID})
			in.boss = nil
			in.wave.nextWave()
		}
	}
}

func (in *Instance) resolveEnemyPlayerCollisions(events *[]Event) {
	for _, p := range in.players {
		if !p.Alive || p.GodMode {
			continue
		}
		for eid, e := range in.enemies {
			if !overlaps(p.Pos, 16, e.Pos, 20) {
				continue
			}
			p.HP -= 1
			p.Score.DamageDealt++
			*events = append(*events, Event{Kind: EventPlayerDamaged, SlotID: p.SlotID, Damage: 1})
			delete(in.enemies, eid)
			*events = append(*events, Event{Kind: EventEnemyDestroyed, EntityID: eid})
			if p.HP <= 0 {
				in.killPlayer(p, events)
			}
		}
	}
}

func (in *Instance) resolvePowerUpPlayerCollisions(events *[]Event) {
	for _, p := range in.players {
		if !p.Alive {
			continue
		}
		for id, pu := range in.powerups {
			if !overlaps(p.Pos, 16, pu.Pos, 12) {
				continue
			}
			in.applyPowerUp(p, pu)
			delete(in.powerups, id)
			*events = append(*events, Event{Kind: EventPowerUpCollected, EntityID: id, SlotID: p.SlotID, Kind2: pu.Kind})
		}
	}
}

func (in *Instance) resolveForceBitEnemyCollisions(events *[]Event) {
	for _, p := range in.players {
		if !p.Force.Attached {
			continue
		}
		for eid, e := range in.enemies {
			if !overlaps(p.Pos, 12, e.Pos, 20) {
				continue
			}
			e.HP -= 1
			if e.HP <= 0 {
				delete(in.enemies, eid)
				*events = append(*events, Event{Kind: EventEnemyDestroyed, EntityID: eid})
				in.creditKill(p.SlotID, p.CurrentWeapon, e.Reward)
			}
		}
	}
}

// applyPowerUp applies a pickup's effect. Weapon upgrades attach to the
// player's *current* weapon only, preserving independence between
// weapons (spec.md §4.4 "Weapons").
func (in *Instance) applyPowerUp(p *Player, pu *PowerUp) {
	switch pu.Kind {
	case PowerUpWeaponUpgrade:
		lvl := p.WeaponLevels[p.CurrentWeapon]
		if lvl < config.WeaponLevelMax {
			p.WeaponLevels[p.CurrentWeapon] = lvl + 1
		}
	case PowerUpForce:
		p.Force.Attached = true
	case PowerUpBit:
		p.Bit.Attached = true
	case PowerUpHealth:
		p.HP = config.PlayerStartHP
	}
}

// maybeSpawnPowerUp drops a weapon-upgrade power-up at the enemy's last
// position when the kill is resolved on a tick whose number is a
// multiple of three; kills on other ticks drop nothing.
func (in *Instance) maybeSpawnPowerUp(pos Vec2, events *[]Event) {
	if in.tick%3 != 0 {
		return
	}
	id := in.nextID()
	in.powerups[id] = &PowerUp{ID: id, Kind: PowerUpWeaponUpgrade, Pos: pos, Lifetime: 8 * time.Second}
	*events = append(*events, Event{Kind: EventPowerUpSpawned, EntityID: id})
}

func (in *Instance) creditKill(slotID uint8, weapon Weapon, reward int32) {
	p, ok := in.players[slotID]
	if !ok {
		return
	}
	p.Score.Score += reward
	p.Score.Kills++
	p.Score.KillsByWeapon[weapon]++
	p.Score.KillStreak++
	combo := p.Score.KillStreak * 10
	if combo > p.Score.BestComboX10 {
		p.Score.BestComboX10 = combo
	}
}

func (in *Instance) buildSnapshot(events []Event) Snapshot {
	snap := Snapshot{Tick: in.tick, Paused: in.paused, Events: events}

	for _, p := range in.players {
		snap.Players = append(snap.Players, PlayerRecord{
			SlotID:        p.SlotID,
			X:             p.Pos.X,
			Y:             p.Pos.Y,
			HP:            p.HP,
			Alive:         p.Alive,
			CurrentWeapon: p.CurrentWeapon,
			WeaponLevel:   p.WeaponLevels[p.CurrentWeapon],
			Score:         p.Score.Score,
		})
		if p.PauseVote {
			snap.PauseVotes++
		}
	}
	snap.PauseTotal = len(in.players)

	for _, m := range in.missiles {
		snap.Missiles = append(snap.Missiles, MissileRecord{ID: m.ID, X: m.Pos.X, Y: m.Pos.Y})
	}
	for _, e := range in.enemies {
		snap.Enemies = append(snap.Enemies, EnemyRecord{ID: e.ID, Kind: e.Kind, X: e.Pos.X, Y: e.Pos.Y, HP: e.HP})
	}
	if in.boss != nil {
		snap.HasBoss = true
		snap.BossHP = in.boss.HP
		snap.BossMax = in.boss.MaxHP
	}
	return snap
}

func overlaps(a Vec2, ra float32, b Vec2, rb float32) bool {
	dx, dy := a.X-b.X, a.Y-b.Y
	r := ra + rb
	return dx*dx+dy*dy <= r*r
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
