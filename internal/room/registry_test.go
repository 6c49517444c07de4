package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRoomAutoHostsAndAutoReadiesFirstOccupant(t *testing.T) {
	r := NewRegistry()

	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)
	require.Equal(t, StateWaiting, snap.State)
	require.True(t, snap.Slots[0].Occupied)
	require.True(t, snap.Slots[0].Host)
	require.True(t, snap.Slots[0].Ready)
	require.Len(t, snap.Code, 6)
}

func TestCreateRoomRejectsDoubleOccupancy(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	_, err = r.CreateRoom("host@example.com", "Host", "Second", 6, false, 0)
	require.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestJoinRoomByCodeFillsNextSlot(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	snap, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 1)
	require.NoError(t, err)
	require.True(t, snap.Slots[1].Occupied)
	require.False(t, snap.Slots[1].Host)
	require.False(t, snap.Slots[1].Ready, "non-first occupants are not auto-readied")
}

func TestJoinRoomByCodeRejectsUnknownCode(t *testing.T) {
	r := NewRegistry()
	_, err := r.JoinRoomByCode("NOPE99", "guest@example.com", "Guest", 0)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomByCodeRejectsFullRoom(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 1, false, 0)
	require.NoError(t, err)

	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRoomByCodeRejectsAlreadyInRoom(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)
	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.NoError(t, err)

	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestLeaveRoomReElectsHost(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)
	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.NoError(t, err)

	require.NoError(t, r.LeaveRoom("host@example.com"))

	got, err := r.Snapshot(snap.Code)
	require.NoError(t, err)
	require.True(t, got.Slots[1].Host, "remaining occupant becomes host")
}

func TestLeaveRoomByLastOccupantReturnsRoomToOriginalState(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	require.NoError(t, r.LeaveRoom("host@example.com"))

	_, err = r.Snapshot(snap.Code)
	require.ErrorIs(t, err, ErrRoomNotFound, "an emptied room is removed entirely")

	_, ok := r.RoomCodeOf("host@example.com")
	require.False(t, ok)
}

func TestLeaveRoomRejectsNonMember(t *testing.T) {
	r := NewRegistry()
	err := r.LeaveRoom("nobody@example.com")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestTryStartGameRequiresHostAndCanStart(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	_, err = r.TryStartGame("host@example.com")
	require.ErrorIs(t, err, ErrCannotStart, "a single ready occupant cannot start")

	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.NoError(t, err)

	_, err = r.TryStartGame("guest@example.com")
	require.ErrorIs(t, err, ErrNotHost)

	_, err = r.TryStartGame("host@example.com")
	require.ErrorIs(t, err, ErrCannotStart, "guest has not readied up yet")

	require.NoError(t, r.SetReady("guest@example.com", true))

	got, err := r.TryStartGame("host@example.com")
	require.NoError(t, err)
	require.Equal(t, StateStarting, got.State)
}

func TestKickPlayerRequiresHostAndRefusesSelfKick(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)
	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.NoError(t, err)

	err = r.KickPlayer("host@example.com", "host@example.com")
	require.ErrorIs(t, err, ErrCannotKickSelf)

	err = r.KickPlayer("guest@example.com", "host@example.com")
	require.ErrorIs(t, err, ErrNotHost)

	var kicked string
	r.SetOnKick(func(email string, code string) { kicked = email })

	require.NoError(t, r.KickPlayer("host@example.com", "guest@example.com"))
	require.Equal(t, "guest@example.com", kicked)

	_, ok := r.RoomCodeOf("guest@example.com")
	require.False(t, ok)
}

func TestGetPublicRoomsExcludesPrivateAndFullRooms(t *testing.T) {
	r := NewRegistry()
	pub, err := r.CreateRoom("a@example.com", "A", "Public", 6, false, 0)
	require.NoError(t, err)
	_, err = r.CreateRoom("b@example.com", "B", "Private", 6, true, 0)
	require.NoError(t, err)
	full, err := r.CreateRoom("c@example.com", "C", "Full", 1, false, 0)
	require.NoError(t, err)

	rooms := r.GetPublicRooms()
	var codes []string
	for _, s := range rooms {
		codes = append(codes, s.Code)
	}
	require.Contains(t, codes, pub.Code)
	require.NotContains(t, codes, full.Code)
	require.Len(t, rooms, 1)
}

func TestQuickJoinPicksAnAvailablePublicRoom(t *testing.T) {
	r := NewRegistry()
	pub, err := r.CreateRoom("a@example.com", "A", "Public", 6, false, 0)
	require.NoError(t, err)

	snap, err := r.QuickJoin("guest@example.com", "Guest", 0)
	require.NoError(t, err)
	require.Equal(t, pub.Code, snap.Code)
}

func TestQuickJoinFailsWithNoPublicRooms(t *testing.T) {
	r := NewRegistry()
	_, err := r.QuickJoin("guest@example.com", "Guest", 0)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestSendChatMessageRetainsHistoryAndFansOut(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	var received []string
	r.SetOnChat(func(email string, roomCode string, entry ChatEntry) {
		received = append(received, email)
	})

	require.NoError(t, r.SendChatMessage(snap.Code, "Host", "gg", time.Now()))

	hist, err := r.ChatHistory(snap.Code)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "gg", hist[0].Text)
	require.Equal(t, []string{"host@example.com"}, received)
}

func TestRoomUpdateBroadcastsReflectMutationOrder(t *testing.T) {
	r := NewRegistry()
	snap, err := r.CreateRoom("host@example.com", "Host", "Lobby", 6, false, 0)
	require.NoError(t, err)

	var observed []State
	r.SetOnUpdate(func(email string, s Snapshot) { observed = append(observed, s.State) })

	_, err = r.JoinRoomByCode(snap.Code, "guest@example.com", "Guest", 0)
	require.NoError(t, err)
	require.NoError(t, r.SetReady("guest@example.com", true))
	_, err = r.TryStartGame("host@example.com")
	require.NoError(t, err)

	require.Equal(t, []State{StateWaiting, StateWaiting, StateStarting}, observed)
}
