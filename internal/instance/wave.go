package instance

import "time"

// waveController tracks wave number, spawn schedule, and elapsed time for
// enemy/boss spawning (spec.md §3, "Wave controller").
type waveController struct {
	wave    int32
	elapsed time.Duration

	spawnEvery  time.Duration
	spawnedThis int32
	perWaveCap  int32

	bossWave bool
}

func newWaveController() *waveController {
	return &waveController{
		wave:       1,
		spawnEvery: 2 * time.Second,
		perWaveCap: 8,
	}
}

// advance reports whether a grunt should spawn this tick and whether the
// wave's boss should start (once the grunt quota is spent), with elapsed
// time scaled by the instance's game-speed percent (rates only, per
// spec.md §4.4).
func (w *waveController) advance(dt time.Duration, gameSpeedPercent int) (spawnGrunt bool, startBoss bool) {
	scaled := time.Duration(int64(dt) * int64(gameSpeedPercent) / 100)
	w.elapsed += scaled

	if w.spawnedThis >= w.perWaveCap {
		if !w.bossWave {
			w.bossWave = true
			return false, true
		}
		return false, false
	}

	if w.elapsed >= w.spawnEvery {
		w.elapsed -= w.spawnEvery
		w.spawnedThis++
		return true, false
	}
	return false, false
}

// nextWave resets per-wave counters once the current wave's boss is
// destroyed.
func (w *waveController) nextWave() {
	w.wave++
	w.spawnedThis = 0
	w.elapsed = 0
	w.bossWave = false
}
