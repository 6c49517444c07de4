package datagramserver

import (
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
	"github.com/rtype/core/internal/wire"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *net.UDPConn, *session.Registry, *room.Registry) {
	t.Helper()
	logger, err := telemetry.NewLogger(true)
	require.NoError(t, err)

	store := memory.New()
	sessions := session.NewRegistry()
	rooms := room.NewRegistry()
	instances := instancemgr.New(nil)

	s := New(config.DefaultServerConfig(), logger, sessions, rooms, instances, store.Leaderboard(), netstats.New())

	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)

	go s.Serve(conn)
	return s, conn, sessions, rooms
}

func dialClient(t *testing.T, serverAddr *net.UDPAddr) *net.UDPConn {
	t.Helper()
	local, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", local, serverAddr)
	require.NoError(t, err)
	return conn
}

func recvFrame(t *testing.T, conn *net.UDPConn) wire.DatagramFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, config.DatagramMaxSize)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	f, err := wire.UnmarshalDatagram(buf[:n])
	require.NoError(t, err)
	return f
}

func TestJoinGameAckAssignsPlayerID(t *testing.T) {
	_, conn, sessions, rooms := newTestServer(t)
	defer conn.Close()

	_, err := rooms.CreateRoom("host@example.com", "hostname", "Arena", 4, false, 1)
	require.NoError(t, err)
	token, ok := sessions.CreateSession("host@example.com", "hostname")
	require.True(t, ok)

	client := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer client.Close()

	join := wire.JoinGamePayload{Token: [32]byte(token), RoomCode: "", ShipSkin: 1}
	code, _ := rooms.RoomCodeOf("host@example.com")
	join.RoomCode = code

	f := wire.NewDatagramFrame(wire.MsgJoinGame, 1, 0, join.MarshalBinary())
	_, err = client.Write(f.MarshalBinary())
	require.NoError(t, err)

	resp := recvFrame(t, client)
	require.Equal(t, wire.MsgJoinGameAck, resp.Header.Type)
	ack, err := wire.UnmarshalJoinGameAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, uint8(0), ack.PlayerID)
}

func TestJoinGameRejectsUnknownToken(t *testing.T) {
	_, conn, _, _ := newTestServer(t)
	defer conn.Close()

	client := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer client.Close()

	var bogus session.Token
	join := wire.JoinGamePayload{Token: [32]byte(bogus), RoomCode: "AAAAAA", ShipSkin: 0}
	f := wire.NewDatagramFrame(wire.MsgJoinGame, 1, 0, join.MarshalBinary())
	_, err := client.Write(f.MarshalBinary())
	require.NoError(t, err)

	resp := recvFrame(t, client)
	require.Equal(t, wire.MsgJoinGameNack, resp.Header.Type)
}

func TestHeartbeatReplyCarriesFreshTimestamp(t *testing.T) {
	_, conn, _, _ := newTestServer(t)
	defer conn.Close()

	client := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer client.Close()

	before := uint64(time.Now().UnixMilli())
	f := wire.NewDatagramFrame(wire.MsgHeartbeat, 1, 0, wire.EmptyPayload{}.MarshalBinary())
	_, err := client.Write(f.MarshalBinary())
	require.NoError(t, err)

	resp := recvFrame(t, client)
	require.Equal(t, wire.MsgHeartbeat, resp.Header.Type)
	require.GreaterOrEqual(t, resp.Header.Timestamp, before)
}

func TestHeartbeatEchoFeedsRTTIntoNetworkStats(t *testing.T) {
	s, conn, _, _ := newTestServer(t)
	defer conn.Close()

	client := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer client.Close()

	// First heartbeat has no prior server timestamp to echo, so it records
	// nothing; the server's reply gives the client a timestamp to echo next.
	f := wire.NewDatagramFrame(wire.MsgHeartbeat, 1, 0, wire.EmptyPayload{}.MarshalBinary())
	_, err := client.Write(f.MarshalBinary())
	require.NoError(t, err)
	first := recvFrame(t, client)

	f = wire.NewDatagramFrame(wire.MsgHeartbeat, 2, first.Header.Timestamp, wire.EmptyPayload{}.MarshalBinary())
	_, err = client.Write(f.MarshalBinary())
	require.NoError(t, err)
	recvFrame(t, client)

	addr := client.LocalAddr().(*net.UDPAddr).String()
	require.Eventually(t, func() bool {
		st, ok := s.stats.Get(addr)
		return ok && st.RTTSamples >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestJoinGameBroadcastsPlayerJoin(t *testing.T) {
	_, conn, sessions, rooms := newTestServer(t)
	defer conn.Close()

	_, err := rooms.CreateRoom("host@example.com", "hostname", "Arena", 4, false, 1)
	require.NoError(t, err)
	token, ok := sessions.CreateSession("host@example.com", "hostname")
	require.True(t, ok)

	client := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer client.Close()

	code, _ := rooms.RoomCodeOf("host@example.com")
	join := wire.JoinGamePayload{Token: [32]byte(token), RoomCode: code, ShipSkin: 1}
	f := wire.NewDatagramFrame(wire.MsgJoinGame, 1, 0, join.MarshalBinary())
	_, err = client.Write(f.MarshalBinary())
	require.NoError(t, err)

	ackFrame := recvFrame(t, client)
	require.Equal(t, wire.MsgJoinGameAck, ackFrame.Header.Type)

	joinFrame := recvFrame(t, client)
	require.Equal(t, wire.MsgPlayerJoin, joinFrame.Header.Type)
	payload, err := wire.UnmarshalPlayerID(joinFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, uint8(0), payload.PlayerID)
}

func TestKickPlayerBroadcastsPlayerLeave(t *testing.T) {
	s, conn, sessions, rooms := newTestServer(t)
	defer conn.Close()

	_, err := rooms.CreateRoom("host@example.com", "hostname", "Arena", 4, false, 1)
	require.NoError(t, err)
	hostToken, ok := sessions.CreateSession("host@example.com", "hostname")
	require.True(t, ok)
	code, _ := rooms.RoomCodeOf("host@example.com")

	_, err = rooms.JoinRoomByCode(code, "guest@example.com", "guestname", 2)
	require.NoError(t, err)
	guestToken, ok := sessions.CreateSession("guest@example.com", "guestname")
	require.True(t, ok)

	host := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer host.Close()
	guest := dialClient(t, conn.LocalAddr().(*net.UDPAddr))
	defer guest.Close()

	hostJoin := wire.JoinGamePayload{Token: [32]byte(hostToken), RoomCode: code, ShipSkin: 1}
	f := wire.NewDatagramFrame(wire.MsgJoinGame, 1, 0, hostJoin.MarshalBinary())
	_, err = host.Write(f.MarshalBinary())
	require.NoError(t, err)
	recvFrame(t, host) // JoinGameAck
	recvFrame(t, host) // own PlayerJoin

	guestJoin := wire.JoinGamePayload{Token: [32]byte(guestToken), RoomCode: code, ShipSkin: 2}
	f = wire.NewDatagramFrame(wire.MsgJoinGame, 1, 0, guestJoin.MarshalBinary())
	_, err = guest.Write(f.MarshalBinary())
	require.NoError(t, err)
	recvFrame(t, guest)       // JoinGameAck
	recvFrame(t, guest)       // own PlayerJoin
	recvFrame(t, host)        // host sees guest's PlayerJoin

	require.True(t, s.KickPlayer("guest@example.com"))

	leaveFrame := recvFrame(t, host)
	require.Equal(t, wire.MsgPlayerLeave, leaveFrame.Header.Type)
	payload, err := wire.UnmarshalPlayerID(leaveFrame.Payload)
	require.NoError(t, err)
	require.Equal(t, uint8(1), payload.PlayerID)
}
