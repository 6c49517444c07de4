package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rtype/core/internal/instance"
	"github.com/rtype/core/internal/repo"
	"github.com/stretchr/testify/require"
)

func TestAccountCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Accounts().Create(ctx, repo.Account{Email: "a@example.com", Username: "alice"}))

	got, err := s.Accounts().FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "alice", got.Username)

	got, err = s.Accounts().FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", got.Email)

	_, err = s.Accounts().FindByEmail(ctx, "missing@example.com")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAccountCreateRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Accounts().Create(ctx, repo.Account{Email: "a@example.com", Username: "alice"}))
	require.Error(t, s.Accounts().Create(ctx, repo.Account{Email: "a@example.com", Username: "alice2"}))
}

func TestFinalizeGameSessionFoldsIntoCumulativeAndDeletesSession(t *testing.T) {
	ctx := context.Background()
	s := New()

	stats := repo.SessionStats{
		Email:    "a@example.com",
		RoomCode: "ABCDEF",
		Score:    instance.ScoreState{Score: 100, Kills: 5},
	}
	require.NoError(t, s.Leaderboard().UpsertSessionStats(ctx, stats))
	require.NoError(t, s.Leaderboard().FinalizeGameSession(ctx, stats))

	cum, err := s.Leaderboard().GetCumulative(ctx, "a@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 100, cum.TotalScore)
	require.EqualValues(t, 5, cum.TotalKills)
	require.EqualValues(t, 1, cum.GamesPlayed)
}

func TestChatRecentRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := New()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Chat().Append(ctx, repo.ChatMessageRecord{RoomCode: "ABCDEF", Text: "hi", SentAt: time.Now()}))
	}

	recent, err := s.Chat().Recent(ctx, "ABCDEF", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestSocialBlockAndFriendFlow(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Social().BlockUser(ctx, "a@example.com", "spammer@example.com"))
	blocked, err := s.Social().IsBlocked(ctx, "a@example.com", "spammer@example.com")
	require.NoError(t, err)
	require.True(t, blocked)

	require.NoError(t, s.Social().SendFriendRequest(ctx, repo.FriendRequest{FromEmail: "a@example.com", ToEmail: "b@example.com"}))
	require.NoError(t, s.Social().AcceptFriendRequest(ctx, "a@example.com", "b@example.com"))

	friends, err := s.Social().ListFriends(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"b@example.com"}, friends)
}
