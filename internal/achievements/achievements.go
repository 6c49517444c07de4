// Package achievements checks a just-finished game session against a
// player's updated cumulative stats and reports newly-unlocked
// milestones, grounded on original_source's
// application/services/AchievementChecker.{hpp,cpp}.
package achievements

import (
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/repo"
)

// Threshold constants, carried over from AchievementChecker.hpp.
const (
	killsForExterminator    = 1000
	comboForMaster          = 30 // 3.0x, encoded x10
	waveForSurvivor         = 20
	durationForSpeedDemon   = 300 * time.Second
	waveForSpeedDemon       = 10
	gamesForVeteran         = 100
	killsPerWeaponForMaster = 100
)

// GameResult is the data one just-completed session contributes to the
// achievement checks, mirrored from instance.ScoreState plus the wave
// number the instance reached (original_source's GameHistoryEntry).
type GameResult struct {
	Score    repo.SessionStats
	Duration time.Duration
}

// CheckAndUnlock compares cum — a player's cumulative stats, already
// folded in with this game's contribution by FinalizeGameSession —
// against the just-finished game's result and returns any achievement
// not already present in cum.Achievements.
func CheckAndUnlock(cum repo.CumulativeStats, result GameResult) []repo.Achievement {
	already := make(map[repo.Achievement]bool, len(cum.Achievements))
	for _, a := range cum.Achievements {
		already[a] = true
	}

	score := result.Score.Score
	wave := result.Score.Wave
	tookDamage := score.DamageDealt > 0
	killedBoss := score.BossKills > 0

	candidates := [...]struct {
		achievement repo.Achievement
		unlocked    bool
	}{
		{repo.AchievementFirstBlood, cum.TotalKills >= 1},
		{repo.AchievementExterminator, cum.TotalKills >= killsForExterminator},
		{repo.AchievementComboMaster, int64(score.BestComboX10) >= comboForMaster},
		{repo.AchievementBossSlayer, killedBoss},
		{repo.AchievementSurvivor, wave >= waveForSurvivor && score.Deaths == 0},
		{repo.AchievementSpeedDemon, wave >= waveForSpeedDemon && result.Duration <= durationForSpeedDemon},
		{repo.AchievementPerfectionist, !tookDamage && wave >= 1},
		{repo.AchievementVeteran, cum.GamesPlayed >= gamesForVeteran},
		{repo.AchievementUntouchable, score.Deaths == 0 && wave >= 1},
		{repo.AchievementWeaponMaster, weaponMaster(cum.KillsByWeapon)},
	}

	var unlocked []repo.Achievement
	for _, c := range candidates {
		if c.unlocked && !already[c.achievement] {
			unlocked = append(unlocked, c.achievement)
		}
	}
	return unlocked
}

func weaponMaster(kills [config.WeaponCount]int64) bool {
	for _, k := range kills {
		if k < killsPerWeaponForMaster {
			return false
		}
	}
	return true
}
