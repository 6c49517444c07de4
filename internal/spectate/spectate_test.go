package spectate

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instance"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger, err := telemetry.NewLogger(true)
	require.NoError(t, err)

	sessions := session.NewRegistry()
	rooms := room.NewRegistry()
	instances := instancemgr.New(nil)

	s := New(config.DefaultServerConfig(), logger, sessions, rooms, instances)
	hs := httptest.NewServer(s.Handler())
	return s, hs
}

func TestHealthAndStatsEndpoints(t *testing.T) {
	_, hs := newTestServer(t)
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(hs.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketRequiresRoomQueryParam(t *testing.T) {
	_, hs := newTestServer(t)
	defer hs.Close()

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestWebSocketReceivesBroadcastSnapshot(t *testing.T) {
	s, hs := newTestServer(t)
	defer hs.Close()

	_, err := s.rooms.CreateRoom("host@example.com", "hostname", "Arena", 4, false, 1)
	require.NoError(t, err)
	code, ok := s.rooms.RoomCodeOf("host@example.com")
	require.True(t, ok)

	in := s.instances.GetOrCreate(code, 100)
	_, ok = in.JoinPlayer("host@example.com", "127.0.0.1:9000", 1)
	require.True(t, ok)

	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws?room=" + code
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go s.Run(stop)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap instance.Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Len(t, snap.Players, 1)
}
