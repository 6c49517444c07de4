package session

import (
	"net"
	"testing"
	"time"

	"github.com/rtype/core/config"
	"github.com/stretchr/testify/require"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func TestCreateSessionRejectsDoubleLogin(t *testing.T) {
	r := NewRegistry()

	_, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)

	_, ok = r.CreateSession("alice@example.com", "alice")
	require.False(t, ok, "a second session for the same identity must be refused")
}

func TestCreateRemoveCreateYieldsDifferentTokens(t *testing.T) {
	r := NewRegistry()

	tok1, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)

	r.RemoveSession("alice@example.com")

	tok2, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)
	require.NotEqual(t, tok1, tok2)
}

func TestBannedUserCannotCreateSession(t *testing.T) {
	r := NewRegistry()
	r.BanUser("alice@example.com")

	_, ok := r.CreateSession("alice@example.com", "alice")
	require.False(t, ok)
	require.True(t, r.IsBanned("alice@example.com"))
}

func TestBanRemovesLiveSession(t *testing.T) {
	r := NewRegistry()
	tok, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)

	addr := udpAddr(t, "127.0.0.1:9000")
	_, ok = r.ValidateAndBindUDP(tok, addr)
	require.True(t, ok)

	r.BanUser("alice@example.com")

	_, ok = r.GetSessionByEndpoint(addr)
	require.False(t, ok, "banning must tear down the endpoint binding too")
}

func TestValidateAndBindUDPRejectsUnknownToken(t *testing.T) {
	r := NewRegistry()
	_, ok := r.ValidateAndBindUDP(Token{1, 2, 3}, udpAddr(t, "127.0.0.1:9000"))
	require.False(t, ok)
}

func TestValidateAndBindUDPRejectsStalePending(t *testing.T) {
	r := NewRegistry()
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	tok, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)

	fakeNow = fakeNow.Add(6 * time.Minute)
	_, ok = r.ValidateAndBindUDP(tok, udpAddr(t, "127.0.0.1:9000"))
	require.False(t, ok)
}

func TestValidateAndBindUDPRejectsRebindToDifferentEndpoint(t *testing.T) {
	r := NewRegistry()
	tok, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)

	_, ok = r.ValidateAndBindUDP(tok, udpAddr(t, "127.0.0.1:9000"))
	require.True(t, ok)

	_, ok = r.ValidateAndBindUDP(tok, udpAddr(t, "127.0.0.1:9001"))
	require.False(t, ok)
}

func TestCleanupExpiredSessionsReturnsPlayerIDs(t *testing.T) {
	r := NewRegistry()
	fakeNow := time.Now()
	r.now = func() time.Time { return fakeNow }

	tok, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)
	addr := udpAddr(t, "127.0.0.1:9000")
	_, ok = r.ValidateAndBindUDP(tok, addr)
	require.True(t, ok)
	r.AssignPlayerID(addr, 3)

	fakeNow = fakeNow.Add(config.ActiveInactivityWindow + time.Second)

	ids := r.CleanupExpiredSessions()
	require.Equal(t, []uint8{3}, ids)

	_, ok = r.GetSessionByEndpoint(addr)
	require.False(t, ok)
}

func TestClearUDPBindingLeavesSessionIntact(t *testing.T) {
	r := NewRegistry()
	tok, ok := r.CreateSession("alice@example.com", "alice")
	require.True(t, ok)
	addr := udpAddr(t, "127.0.0.1:9000")
	_, ok = r.ValidateAndBindUDP(tok, addr)
	require.True(t, ok)

	r.ClearUDPBinding(addr)

	_, ok = r.GetSessionByEndpoint(addr)
	require.False(t, ok)

	// The identity index still resolves; a fresh bind succeeds.
	_, ok = r.ValidateAndBindUDP(tok, addr)
	require.True(t, ok)
}

func TestTokenGenerationAvoidsDegenerateValues(t *testing.T) {
	for i := 0; i < 1000; i++ {
		tok, err := generateToken()
		require.NoError(t, err)
		require.False(t, isDegenerate(tok))
	}
}
