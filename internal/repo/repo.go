// Package repo defines the capability-record repository interfaces the
// core depends on for every piece of state spec.md §6 calls "external
// collaborators": accounts, settings, the leaderboard, chat history, and
// social graph state. The core never touches a schema directly — it
// only calls these functions, so a repository can be backed by Mongo,
// a SQL store, or an in-memory fake in tests.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instance"
)

// ErrNotFound is returned by any lookup method when the record does not
// exist. Callers translate it into a protocol-level Nack or SERVER_ERROR
// per spec.md §7.
var ErrNotFound = errors.New("repo: not found")

// Account is a persisted user identity plus its password hash.
type Account struct {
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountRepository owns user accounts. Implementations must guarantee
// uniqueness of Email and Username (spec.md's USERNAME_EXISTS /
// EMAIL_EXISTS nack codes depend on it).
type AccountRepository interface {
	Create(ctx context.Context, acct Account) error
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByUsername(ctx context.Context, username string) (Account, error)
}

// UserSettings is an opaque per-user settings blob (key-value), owned
// entirely by the client; the core only stores and returns it.
type UserSettings struct {
	Email  string
	Values map[string]string
}

// SettingsRepository persists per-user client settings.
type SettingsRepository interface {
	Get(ctx context.Context, email string) (UserSettings, error)
	Save(ctx context.Context, settings UserSettings) error
}

// SessionStats is the mid-game score snapshot written incrementally by
// C7's autosave timer (spec.md §4.7 "Incremental persistence").
type SessionStats struct {
	Email     string
	RoomCode  string
	Score     instance.ScoreState
	Wave      int32
	UpdatedAt time.Time
}

// Achievement is one of the fixed set of milestone unlocks a player can
// earn, checked on FinalizeGameSession (original_source's
// AchievementChecker).
type Achievement string

const (
	AchievementFirstBlood    Achievement = "first_blood"
	AchievementExterminator  Achievement = "exterminator"
	AchievementComboMaster   Achievement = "combo_master"
	AchievementBossSlayer    Achievement = "boss_slayer"
	AchievementSurvivor      Achievement = "survivor"
	AchievementSpeedDemon    Achievement = "speed_demon"
	AchievementPerfectionist Achievement = "perfectionist"
	AchievementVeteran       Achievement = "veteran"
	AchievementUntouchable   Achievement = "untouchable"
	AchievementWeaponMaster  Achievement = "weapon_master"
)

// CumulativeStats is a player's all-time totals, folded in by
// FinalizeGameSession when a session ends.
type CumulativeStats struct {
	Email         string
	TotalScore    int64
	TotalKills    int64
	TotalDeaths   int64
	BossKills     int64
	GamesPlayed   int64
	KillsByWeapon [config.WeaponCount]int64
	Achievements  []Achievement
}

// LeaderboardEntry is one ranked row for BrowsePublicRooms-adjacent
// leaderboard queries.
type LeaderboardEntry struct {
	Email      string
	TotalScore int64
	Rank       int
}

// LeaderboardRepository persists both the live (in-progress) session
// score and the cumulative all-time stats it folds into on completion.
type LeaderboardRepository interface {
	// UpsertSessionStats is called by the autosave timer (every ~1s); no
	// extra call is made on player death. It always overwrites, never
	// accumulates (spec.md §4.7).
	UpsertSessionStats(ctx context.Context, stats SessionStats) error

	// FinalizeGameSession transfers a session's final score into the
	// cumulative store and deletes the session record.
	FinalizeGameSession(ctx context.Context, stats SessionStats) error

	GetCumulative(ctx context.Context, email string) (CumulativeStats, error)
	TopN(ctx context.Context, n int) ([]LeaderboardEntry, error)
}

// ChatMessageRecord is one durable chat line, keyed by room code.
type ChatMessageRecord struct {
	RoomCode    string
	DisplayName string
	Text        string
	SentAt      time.Time
}

// ChatRepository durably persists chat messages; the in-memory ring in
// internal/room is a best-effort cache for late joiners, not the
// source of truth.
type ChatRepository interface {
	Append(ctx context.Context, msg ChatMessageRecord) error
	Recent(ctx context.Context, roomCode string, limit int) ([]ChatMessageRecord, error)
}

// FriendRequest is a pending social connection request.
type FriendRequest struct {
	FromEmail string
	ToEmail   string
	SentAt    time.Time
}

// PrivateMessage is a direct message between two accounts.
type PrivateMessage struct {
	FromEmail string
	ToEmail   string
	Text      string
	SentAt    time.Time
}

// SocialRepository owns blocks, friend requests, friendships, and
// private messages (spec.md §6's social-graph persisted state).
type SocialRepository interface {
	BlockUser(ctx context.Context, byEmail, target string) error
	IsBlocked(ctx context.Context, byEmail, target string) (bool, error)

	SendFriendRequest(ctx context.Context, req FriendRequest) error
	AcceptFriendRequest(ctx context.Context, fromEmail, toEmail string) error
	ListFriends(ctx context.Context, email string) ([]string, error)

	SendPrivateMessage(ctx context.Context, msg PrivateMessage) error
	ListPrivateMessages(ctx context.Context, a, b string, limit int) ([]PrivateMessage, error)
}
