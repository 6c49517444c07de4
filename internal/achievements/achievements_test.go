package achievements

import (
	"testing"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instance"
	"github.com/rtype/core/internal/repo"
	"github.com/stretchr/testify/require"
)

func TestFirstBloodUnlocksOnFirstKill(t *testing.T) {
	cum := repo.CumulativeStats{TotalKills: 1}
	result := GameResult{Score: repo.SessionStats{Score: instance.ScoreState{Kills: 1}}}

	unlocked := CheckAndUnlock(cum, result)
	require.Contains(t, unlocked, repo.AchievementFirstBlood)
}

func TestAlreadyUnlockedIsNotRepeated(t *testing.T) {
	cum := repo.CumulativeStats{TotalKills: 5, Achievements: []repo.Achievement{repo.AchievementFirstBlood}}
	result := GameResult{Score: repo.SessionStats{Score: instance.ScoreState{Kills: 1}}}

	unlocked := CheckAndUnlock(cum, result)
	require.NotContains(t, unlocked, repo.AchievementFirstBlood)
}

func TestSurvivorRequiresWaveTwentyAndNoDeaths(t *testing.T) {
	cum := repo.CumulativeStats{}

	noDeaths := GameResult{Score: repo.SessionStats{Wave: 20, Score: instance.ScoreState{Deaths: 0}}}
	require.Contains(t, CheckAndUnlock(cum, noDeaths), repo.AchievementSurvivor)

	diedOnce := GameResult{Score: repo.SessionStats{Wave: 20, Score: instance.ScoreState{Deaths: 1}}}
	require.NotContains(t, CheckAndUnlock(cum, diedOnce), repo.AchievementSurvivor)
}

func TestSpeedDemonRequiresWaveTenUnderFiveMinutes(t *testing.T) {
	cum := repo.CumulativeStats{}

	fast := GameResult{Score: repo.SessionStats{Wave: 10}, Duration: 4 * time.Minute}
	require.Contains(t, CheckAndUnlock(cum, fast), repo.AchievementSpeedDemon)

	slow := GameResult{Score: repo.SessionStats{Wave: 10}, Duration: 6 * time.Minute}
	require.NotContains(t, CheckAndUnlock(cum, slow), repo.AchievementSpeedDemon)
}

func TestWeaponMasterRequiresAllFourWeaponsAtThreshold(t *testing.T) {
	var kills [config.WeaponCount]int64
	for i := range kills {
		kills[i] = 100
	}
	cum := repo.CumulativeStats{KillsByWeapon: kills}
	require.Contains(t, CheckAndUnlock(cum, GameResult{}), repo.AchievementWeaponMaster)

	kills[0] = 50
	cum.KillsByWeapon = kills
	require.NotContains(t, CheckAndUnlock(cum, GameResult{}), repo.AchievementWeaponMaster)
}

func TestPerfectionistRequiresNoDamageTaken(t *testing.T) {
	cum := repo.CumulativeStats{}

	clean := GameResult{Score: repo.SessionStats{Wave: 1, Score: instance.ScoreState{DamageDealt: 0}}}
	require.Contains(t, CheckAndUnlock(cum, clean), repo.AchievementPerfectionist)

	hit := GameResult{Score: repo.SessionStats{Wave: 1, Score: instance.ScoreState{DamageDealt: 1}}}
	require.NotContains(t, CheckAndUnlock(cum, hit), repo.AchievementPerfectionist)
}
