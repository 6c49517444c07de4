// Package memory provides in-process implementations of internal/repo's
// interfaces, used by unit tests and by the game server as its fallback
// store when MongoDB is unavailable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rtype/core/internal/achievements"
	"github.com/rtype/core/internal/repo"
)

// Store bundles one in-memory table per repository interface behind a
// single mutex; production wiring uses internal/repo/mongo instead.
type Store struct {
	mu sync.Mutex

	accounts     map[string]repo.Account // by email
	usernames    map[string]string       // username -> email
	settings     map[string]repo.UserSettings
	sessions     map[string]repo.SessionStats
	cumulative   map[string]repo.CumulativeStats
	chat         map[string][]repo.ChatMessageRecord
	blocks       map[string]map[string]bool
	friendReqs   []repo.FriendRequest
	friendships  map[string]map[string]bool
	privateMsgs  []repo.PrivateMessage
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]repo.Account),
		usernames:   make(map[string]string),
		settings:    make(map[string]repo.UserSettings),
		sessions:    make(map[string]repo.SessionStats),
		cumulative:  make(map[string]repo.CumulativeStats),
		chat:        make(map[string][]repo.ChatMessageRecord),
		blocks:      make(map[string]map[string]bool),
		friendships: make(map[string]map[string]bool),
	}
}

// Accounts returns the repo.AccountRepository view of this store.
func (s *Store) Accounts() repo.AccountRepository { return (*accountRepo)(s) }

// Settings returns the repo.SettingsRepository view of this store.
func (s *Store) Settings() repo.SettingsRepository { return (*settingsRepo)(s) }

// Leaderboard returns the repo.LeaderboardRepository view of this store.
func (s *Store) Leaderboard() repo.LeaderboardRepository { return (*leaderboardRepo)(s) }

// Chat returns the repo.ChatRepository view of this store.
func (s *Store) Chat() repo.ChatRepository { return (*chatRepo)(s) }

// Social returns the repo.SocialRepository view of this store.
func (s *Store) Social() repo.SocialRepository { return (*socialRepo)(s) }

type accountRepo Store

func (r *accountRepo) Create(_ context.Context, acct repo.Account) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[acct.Email]; exists {
		return repo.ErrNotFound
	}
	if _, taken := s.usernames[acct.Username]; taken {
		return repo.ErrNotFound
	}
	s.accounts[acct.Email] = acct
	s.usernames[acct.Username] = acct.Email
	return nil
}

func (r *accountRepo) FindByEmail(_ context.Context, email string) (repo.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[email]
	if !ok {
		return repo.Account{}, repo.ErrNotFound
	}
	return acct, nil
}

func (r *accountRepo) FindByUsername(_ context.Context, username string) (repo.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.usernames[username]
	if !ok {
		return repo.Account{}, repo.ErrNotFound
	}
	return s.accounts[email], nil
}

type settingsRepo Store

func (r *settingsRepo) Get(_ context.Context, email string) (repo.UserSettings, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.settings[email]; ok {
		return v, nil
	}
	return repo.UserSettings{Email: email, Values: map[string]string{}}, nil
}

func (r *settingsRepo) Save(_ context.Context, settings repo.UserSettings) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.Email] = settings
	return nil
}

type leaderboardRepo Store

func (r *leaderboardRepo) UpsertSessionStats(_ context.Context, stats repo.SessionStats) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[stats.Email] = stats
	return nil
}

func (r *leaderboardRepo) FinalizeGameSession(_ context.Context, stats repo.SessionStats) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	cum := s.cumulative[stats.Email]
	cum.Email = stats.Email
	cum.TotalScore += int64(stats.Score.Score)
	cum.TotalKills += int64(stats.Score.Kills)
	cum.TotalDeaths += int64(stats.Score.Deaths)
	cum.BossKills += int64(stats.Score.BossKills)
	cum.GamesPlayed++
	for i, k := range stats.Score.KillsByWeapon {
		cum.KillsByWeapon[i] += int64(k)
	}

	unlocked := achievements.CheckAndUnlock(cum, achievements.GameResult{
		Score:    stats,
		Duration: time.Since(stats.Score.GameStartedAt),
	})
	cum.Achievements = append(cum.Achievements, unlocked...)

	s.cumulative[stats.Email] = cum

	delete(s.sessions, stats.Email)
	return nil
}

func (r *leaderboardRepo) GetCumulative(_ context.Context, email string) (repo.CumulativeStats, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cumulative[email], nil
}

func (r *leaderboardRepo) TopN(_ context.Context, n int) ([]repo.LeaderboardEntry, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]repo.LeaderboardEntry, 0, len(s.cumulative))
	for _, c := range s.cumulative {
		entries = append(entries, repo.LeaderboardEntry{Email: c.Email, TotalScore: c.TotalScore})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TotalScore > entries[j].TotalScore })
	if len(entries) > n {
		entries = entries[:n]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

type chatRepo Store

func (r *chatRepo) Append(_ context.Context, msg repo.ChatMessageRecord) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chat[msg.RoomCode] = append(s.chat[msg.RoomCode], msg)
	return nil
}

func (r *chatRepo) Recent(_ context.Context, roomCode string, limit int) ([]repo.ChatMessageRecord, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.chat[roomCode]
	if len(all) <= limit {
		out := make([]repo.ChatMessageRecord, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]repo.ChatMessageRecord, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

type socialRepo Store

func (r *socialRepo) BlockUser(_ context.Context, byEmail, target string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blocks[byEmail] == nil {
		s.blocks[byEmail] = make(map[string]bool)
	}
	s.blocks[byEmail][target] = true
	return nil
}

func (r *socialRepo) IsBlocked(_ context.Context, byEmail, target string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[byEmail][target], nil
}

func (r *socialRepo) SendFriendRequest(_ context.Context, req repo.FriendRequest) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendReqs = append(s.friendReqs, req)
	return nil
}

func (r *socialRepo) AcceptFriendRequest(_ context.Context, fromEmail, toEmail string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.friendReqs[:0]
	for _, req := range s.friendReqs {
		if req.FromEmail == fromEmail && req.ToEmail == toEmail {
			continue
		}
		kept = append(kept, req)
	}
	s.friendReqs = kept

	if s.friendships[fromEmail] == nil {
		s.friendships[fromEmail] = make(map[string]bool)
	}
	if s.friendships[toEmail] == nil {
		s.friendships[toEmail] = make(map[string]bool)
	}
	s.friendships[fromEmail][toEmail] = true
	s.friendships[toEmail][fromEmail] = true
	return nil
}

func (r *socialRepo) ListFriends(_ context.Context, email string) ([]string, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.friendships[email]))
	for friend := range s.friendships[email] {
		out = append(out, friend)
	}
	sort.Strings(out)
	return out, nil
}

func (r *socialRepo) SendPrivateMessage(_ context.Context, msg repo.PrivateMessage) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privateMsgs = append(s.privateMsgs, msg)
	return nil
}

func (r *socialRepo) ListPrivateMessages(_ context.Context, a, b string, limit int) ([]repo.PrivateMessage, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []repo.PrivateMessage
	for _, m := range s.privateMsgs {
		if (m.FromEmail == a && m.ToEmail == b) || (m.FromEmail == b && m.ToEmail == a) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
