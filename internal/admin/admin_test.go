package admin

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/netstats"
	"github.com/rtype/core/internal/repo/memory"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T, token string) (net.Listener, *session.Registry) {
	t.Helper()
	logger, err := telemetry.NewLogger(true)
	require.NoError(t, err)

	cfg := config.DefaultServerConfig()
	cfg.AdminToken = token

	sessions := session.NewRegistry()
	rooms := room.NewRegistry()
	instances := instancemgr.New(nil)
	store := memory.New()

	s := New(cfg, logger, sessions, rooms, instances, store.Leaderboard(), netstats.New())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)

	return ln, sessions
}

func roundTrip(t *testing.T, conn net.Conn, req request) response {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write(append(raw, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	require.True(t, scanner.Scan())

	var resp response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestAdminRejectsBadToken(t *testing.T) {
	ln, _ := newTestAdmin(t, "secret")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Cmd: "status", Token: "wrong"})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "unauthorized")
}

func TestAdminRefusesQuitAndInteractiveCommandsRemotely(t *testing.T) {
	ln, _ := newTestAdmin(t, "secret")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Cmd: "quit", Token: "secret"})
	require.False(t, resp.Success)

	resp = roundTrip(t, conn, request{Cmd: "zoom", Token: "secret"})
	require.False(t, resp.Success)
	require.Contains(t, resp.Error, "local UI")
}

func TestAdminStatusAndSessionsReflectRegistry(t *testing.T) {
	ln, sessions := newTestAdmin(t, "secret")
	defer ln.Close()

	_, ok := sessions.CreateSession("a@example.com", "alice")
	require.True(t, ok)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Cmd: "status", Token: "secret"})
	require.True(t, resp.Success)
	require.Len(t, resp.Output, 3)

	resp = roundTrip(t, conn, request{Cmd: "sessions", Token: "secret"})
	require.True(t, resp.Success)
	require.Len(t, resp.Output, 1)
	require.Contains(t, resp.Output[0], "a@example.com")
}

func TestAdminBanThenUnban(t *testing.T) {
	ln, sessions := newTestAdmin(t, "secret")
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, request{Cmd: "ban", Args: "cheater@example.com", Token: "secret"})
	require.True(t, resp.Success)
	require.True(t, sessions.IsBanned("cheater@example.com"))

	resp = roundTrip(t, conn, request{Cmd: "bans", Token: "secret"})
	require.True(t, resp.Success)
	require.Len(t, resp.Output, 1)

	resp = roundTrip(t, conn, request{Cmd: "unban", Args: "cheater@example.com", Token: "secret"})
	require.True(t, resp.Success)
	require.False(t, sessions.IsBanned("cheater@example.com"))
}
