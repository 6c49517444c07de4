package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamHeaderRoundTrip(t *testing.T) {
	h := StreamHeader{Type: MsgLogin, Authenticated: true, PayloadSize: 42}
	got, err := UnmarshalStreamHeader(h.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestStreamDecoderAccumulatesAcrossFeeds(t *testing.T) {
	frame := NewStreamFrame(MsgHeartbeat, true, []byte("ping"))
	raw := frame.MarshalBinary()

	var d StreamDecoder
	frames, err := d.Feed(raw[:3])
	require.NoError(t, err)
	require.Empty(t, frames, "short header must not yield a frame yet")

	frames, err = d.Feed(raw[3:6])
	require.NoError(t, err)
	require.Empty(t, frames, "still missing payload bytes")

	frames, err = d.Feed(raw[6:])
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Equal(t, MsgHeartbeat, frames[0].Header.Type)
	require.Equal(t, []byte("ping"), frames[0].Payload)
}

func TestStreamDecoderMultipleFramesInOneFeed(t *testing.T) {
	f1 := NewStreamFrame(MsgHeartbeat, true, []byte("a")).MarshalBinary()
	f2 := NewStreamFrame(MsgHeartbeat, true, []byte("bb")).MarshalBinary()

	var d StreamDecoder
	frames, err := d.Feed(append(f1, f2...))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, []byte("a"), frames[0].Payload)
	require.Equal(t, []byte("bb"), frames[1].Payload)
}

func TestStreamDecoderRejectsOversizedLength(t *testing.T) {
	h := StreamHeader{Type: MsgLogin, PayloadSize: StreamMaxFramePayload + 1}
	var d StreamDecoder
	_, err := d.Feed(h.MarshalBinary())
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDatagramHeaderRoundTrip(t *testing.T) {
	f := NewDatagramFrame(MsgPlayerInput, 7, 123456789, []byte{1, 2, 3})
	got, err := UnmarshalDatagram(f.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, f.Header, got.Header)
	require.Equal(t, f.Payload, got.Payload)
}

func TestDatagramShortBufferIsShortFrame(t *testing.T) {
	_, err := UnmarshalDatagram([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestLoginPayloadRoundTrip(t *testing.T) {
	p := LoginPayload{Email: "alice@example.com", Password: "secret123"}
	got, err := UnmarshalLogin(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestAuthAckSuccessRoundTrip(t *testing.T) {
	var tok [32]byte
	for i := range tok {
		tok[i] = byte(i)
	}
	p := AuthAckPayload{Success: true, Token: tok, DisplayName: "alice_user"}
	got, err := UnmarshalAuthAck(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestAuthAckFailureRoundTrip(t *testing.T) {
	p := AuthAckPayload{Success: false, ErrorCode: ErrAlreadyConnected}
	got, err := UnmarshalAuthAck(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestRoomUpdateRoundTrip(t *testing.T) {
	p := RoomUpdatePayload{
		Code: "ABCDEF",
		Name: "Alice's room",
		Max:  6,
		Slots: []SlotView{
			{Occupied: true, Name: "alice", Ready: true, Host: true, ShipSkin: 1},
			{Occupied: false},
		},
	}
	got, err := UnmarshalRoomUpdate(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestJoinGameRoundTrip(t *testing.T) {
	var tok [32]byte
	tok[0] = 0xAB
	p := JoinGamePayload{Token: tok, RoomCode: "ABCDEF", ShipSkin: 2}
	got, err := UnmarshalJoinGame(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPlayerInputRoundTrip(t *testing.T) {
	p := PlayerInputPayload{Sequence: 99, Keys: KeyUp | KeyShoot}
	got, err := UnmarshalPlayerInput(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := SnapshotPayload{
		Tick: 10,
		Players: []PlayerRecord{
			{PlayerID: 0, X: 80, Y: 270, HP: 5, Alive: true, Weapon: 0, WeaponLevel: 0, Score: 0},
		},
	}
	got, err := UnmarshalSnapshot(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestPauseStateSyncRoundTrip(t *testing.T) {
	p := PauseStateSyncPayload{Paused: false, Voters: 2, Total: 3}
	got, err := UnmarshalPauseStateSync(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestVoiceJoinRoundTrip(t *testing.T) {
	var tok [32]byte
	tok[5] = 9
	p := VoiceJoinPayload{Token: tok, RoomCode: "ABCDEF"}
	got, err := UnmarshalVoiceJoin(p.MarshalBinary())
	require.NoError(t, err)
	require.Equal(t, p, got)
}
