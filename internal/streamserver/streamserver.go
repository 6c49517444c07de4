// Package streamserver implements C6, the reliable stream channel:
// authentication, lobby, settings, and chat (spec.md §4.6). One TCP
// connection carries exactly one identity once authenticated; unreliable
// gameplay traffic never touches this package (see internal/datagramserver).
package streamserver

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/auth"
	"github.com/rtype/core/internal/repo"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/wire"
	"go.uber.org/zap"
)

// Server is the C6 stream-channel server: an accept loop plus a
// read-pump/write-pump pair per connection, in the teacher's duplex
// connection shape.
type Server struct {
	cfg    *config.ServerConfig
	logger *zap.Logger

	sessions *session.Registry
	rooms    *room.Registry

	accounts repo.AccountRepository
	settings repo.SettingsRepository
	chat     repo.ChatRepository
	social   repo.SocialRepository

	mu    sync.Mutex
	conns map[string]*clientConn // by email, once authenticated

	inGameKick func(email string) bool
}

// New wires a Server and registers its push callbacks on rooms, so
// room-registry mutations fan out to the owning stream connections.
func New(cfg *config.ServerConfig, logger *zap.Logger, sessions *session.Registry, rooms *room.Registry, accounts repo.AccountRepository, settings repo.SettingsRepository, chat repo.ChatRepository, social repo.SocialRepository) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: sessions,
		rooms:    rooms,
		accounts: accounts,
		settings: settings,
		chat:     chat,
		social:   social,
		conns:    make(map[string]*clientConn),
	}

	rooms.SetOnUpdate(s.pushRoomUpdate)
	rooms.SetOnKick(s.pushKicked)
	rooms.SetOnChat(s.pushChatMessage)

	return s
}

// SetInGameKickHook wires C7's in-game removal (instance RemovePlayer plus
// PlayerLeave broadcast) so a lobby-level kick also evicts an already
// in-game player, not just the stream-channel occupants.
func (s *Server) SetInGameKickHook(fn func(email string) bool) {
	s.inGameKick = fn
}

// clientConn is one accepted connection's read/write state. email is only
// ever written once, by the goroutine running handleConn, before the
// connection is published into Server.conns — so later reads from other
// goroutines (the push callbacks) are safe without their own lock.
type clientConn struct {
	conn net.Conn
	send chan wire.StreamFrame
	done chan struct{}

	email       string
	displayName string
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	cc := &clientConn{
		conn: netConn,
		send: make(chan wire.StreamFrame, 32),
		done: make(chan struct{}),
	}
	defer s.teardown(cc)

	go s.writePump(cc)

	var decoder wire.StreamDecoder
	buf := make([]byte, 4096)

	for {
		netConn.SetReadDeadline(time.Now().Add(config.StreamIdleTimeout))
		n, err := netConn.Read(buf)
		if err != nil {
			return
		}
		frames, err := decoder.Feed(buf[:n])
		if err != nil {
			s.logger.Debug("malformed stream frame, closing", zap.Error(err))
			return
		}
		for _, f := range frames {
			s.dispatch(cc, f)
		}
	}
}

func (s *Server) writePump(cc *clientConn) {
	for {
		select {
		case f := <-cc.send:
			cc.conn.SetWriteDeadline(time.Now().Add(config.StreamIdleTimeout))
			if _, err := cc.conn.Write(f.MarshalBinary()); err != nil {
				close(cc.done)
				return
			}
		case <-cc.done:
			return
		}
	}
}

// teardown runs once, when handleConn's read loop returns for any reason:
// it closes the socket, drops the connection from the email index, and
// removes the caller's session and room membership.
func (s *Server) teardown(cc *clientConn) {
	select {
	case <-cc.done:
	default:
		close(cc.done)
	}
	cc.conn.Close()

	if cc.email == "" {
		return
	}

	s.mu.Lock()
	if s.conns[cc.email] == cc {
		delete(s.conns, cc.email)
	}
	s.mu.Unlock()

	s.rooms.LeaveRoom(cc.email)
	s.sessions.RemoveSession(cc.email)
}

func (s *Server) send(cc *clientConn, msgType wire.MessageType, payload interface{ MarshalBinary() []byte }) {
	f := wire.NewStreamFrame(msgType, cc.email != "", payload.MarshalBinary())
	select {
	case cc.send <- f:
	case <-cc.done:
	}
}

func (s *Server) sendTo(email string, msgType wire.MessageType, payload interface{ MarshalBinary() []byte }) {
	s.mu.Lock()
	cc, ok := s.conns[email]
	s.mu.Unlock()
	if ok {
		s.send(cc, msgType, payload)
	}
}

func (s *Server) dispatch(cc *clientConn, f wire.StreamFrame) {
	switch f.Header.Type {
	case wire.MsgHeartbeat:
		s.send(cc, wire.MsgHeartbeat, wire.EmptyPayload{})

	case wire.MsgLogin:
		s.handleLogin(cc, f.Payload)
	case wire.MsgRegister:
		s.handleRegister(cc, f.Payload)

	case wire.MsgCreateRoom:
		s.handleCreateRoom(cc, f.Payload)
	case wire.MsgJoinRoomByCode:
		s.handleJoinRoomByCode(cc, f.Payload)
	case wire.MsgLeaveRoom:
		s.handleLeaveRoom(cc)
	case wire.MsgSetReady:
		s.handleSetReady(cc, f.Payload)
	case wire.MsgStartGame:
		s.handleStartGame(cc)
	case wire.MsgKickPlayer:
		s.handleKickPlayer(cc, f.Payload)
	case wire.MsgSetRoomConfig:
		s.handleSetRoomConfig(cc, f.Payload)
	case wire.MsgBrowsePublicRooms:
		s.handleBrowsePublicRooms(cc)
	case wire.MsgQuickJoin:
		s.handleQuickJoin(cc, f.Payload)

	case wire.MsgGetUserSettings:
		s.handleGetUserSettings(cc)
	case wire.MsgSaveUserSettings:
		s.handleSaveUserSettings(cc, f.Payload)

	case wire.MsgSendChatMessage:
		s.handleSendChatMessage(cc, f.Payload)
	case wire.MsgChatHistory:
		s.handleChatHistory(cc)

	case wire.MsgBlockUser:
		s.handleBlockUser(cc, f.Payload)
	case wire.MsgSendFriendRequest:
		s.handleSendFriendRequest(cc, f.Payload)
	case wire.MsgAcceptFriendRequest:
		s.handleAcceptFriendRequest(cc, f.Payload)
	case wire.MsgListFriends:
		s.handleListFriends(cc)
	case wire.MsgSendPrivateMessage:
		s.handleSendPrivateMessage(cc, f.Payload)
	case wire.MsgListPrivateMessages:
		s.handleListPrivateMessages(cc, f.Payload)
	}
}

// --- Auth ---

func (s *Server) handleLogin(cc *clientConn, raw []byte) {
	p, err := wire.UnmarshalLogin(raw)
	if err != nil {
		return
	}

	acct, err := s.accounts.FindByEmail(context.Background(), p.Email)
	if err != nil || !auth.VerifyPassword(p.Password, acct.PasswordHash, s.cfg) {
		s.sendAuthFailure(cc, wire.ErrInvalidCredentials)
		return
	}
	s.finishAuth(cc, acct.Email, acct.Username)
}

func (s *Server) handleRegister(cc *clientConn, raw []byte) {
	p, err := wire.UnmarshalRegister(raw)
	if err != nil {
		return
	}

	if !auth.ValidateEmail(p.Email) {
		s.sendAuthFailure(cc, wire.ErrInvalidEmail)
		return
	}
	if !auth.ValidateUsername(p.DisplayName) {
		s.sendAuthFailure(cc, wire.ErrInvalidUsername)
		return
	}
	if !auth.ValidatePassword(p.Password) {
		s.sendAuthFailure(cc, wire.ErrInvalidPassword)
		return
	}

	ctx := context.Background()
	if _, err := s.accounts.FindByEmail(ctx, p.Email); err == nil {
		s.sendAuthFailure(cc, wire.ErrEmailExists)
		return
	}
	if _, err := s.accounts.FindByUsername(ctx, p.DisplayName); err == nil {
		s.sendAuthFailure(cc, wire.ErrUsernameExists)
		return
	}

	hash, err := auth.HashPassword(p.Password, s.cfg)
	if err != nil {
		s.sendAuthFailure(cc, wire.ErrServerError)
		return
	}
	acct := repo.Account{Email: p.Email, Username: p.DisplayName, PasswordHash: hash, CreatedAt: time.Now()}
	if err := s.accounts.Create(ctx, acct); err != nil {
		s.sendAuthFailure(cc, wire.ErrServerError)
		return
	}

	s.finishAuth(cc, acct.Email, acct.Username)
}

func (s *Server) finishAuth(cc *clientConn, email, displayName string) {
	if s.sessions.IsBanned(email) {
		s.sendAuthFailure(cc, wire.ErrInvalidCredentials)
		return
	}

	s.mu.Lock()
	_, already := s.conns[email]
	s.mu.Unlock()
	if already {
		s.sendAuthFailure(cc, wire.ErrAlreadyConnected)
		return
	}

	token, ok := s.sessions.CreateSession(email, displayName)
	if !ok {
		s.sendAuthFailure(cc, wire.ErrAlreadyConnected)
		return
	}

	cc.email = email
	cc.displayName = displayName

	s.mu.Lock()
	s.conns[email] = cc
	s.mu.Unlock()

	s.send(cc, wire.MsgAuthAck, wire.AuthAckPayload{Success: true, Token: token, DisplayName: displayName})
}

func (s *Server) sendAuthFailure(cc *clientConn, code wire.AuthErrorCode) {
	s.send(cc, wire.MsgAuthAck, wire.AuthAckPayload{Success: false, ErrorCode: code})
}

// --- Lobby ---

func lobbyNackFor(err error) wire.LobbyNackCode {
	switch err {
	case room.ErrRoomNotFound:
		return wire.NackRoomNotFound
	case room.ErrRoomFull:
		return wire.NackRoomFull
	case room.ErrRoomNotWaiting:
		return wire.NackRoomNotWaiting
	case room.ErrAlreadyInRoom:
		return wire.NackAlreadyInRoom
	case room.ErrNotHost, room.ErrCannotKickSelf:
		return wire.NackNotHost
	case room.ErrNotMember:
		return wire.NackNotMember
	case room.ErrCannotStart:
		return wire.NackCannotStart
	case room.ErrServerFull:
		return wire.NackServerFull
	default:
		return wire.NackRoomNotFound
	}
}

func (s *Server) lobbyNack(cc *clientConn, refused wire.MessageType, err error) {
	s.send(cc, wire.MsgLobbyNack, wire.LobbyNackPayload{Refused: refused, Reason: lobbyNackFor(err)})
}

func (s *Server) handleCreateRoom(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalCreateRoom(raw)
	if err != nil {
		return
	}
	snap, err := s.rooms.CreateRoom(cc.email, cc.displayName, p.Name, int(p.MaxPlayers), p.Private, p.ShipSkin)
	if err != nil {
		s.lobbyNack(cc, wire.MsgCreateRoom, err)
		return
	}
	s.sessions.SetRoomCode(cc.email, snap.Code)
	s.send(cc, wire.MsgLobbyAck, wire.EmptyPayload{})
}

func (s *Server) handleJoinRoomByCode(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalJoinRoomByCode(raw)
	if err != nil {
		return
	}
	snap, err := s.rooms.JoinRoomByCode(p.Code, cc.email, cc.displayName, p.ShipSkin)
	if err != nil {
		s.lobbyNack(cc, wire.MsgJoinRoomByCode, err)
		return
	}
	s.sessions.SetRoomCode(cc.email, snap.Code)
	s.send(cc, wire.MsgLobbyAck, wire.EmptyPayload{})
}

func (s *Server) handleLeaveRoom(cc *clientConn) {
	if cc.email == "" {
		return
	}
	if err := s.rooms.LeaveRoom(cc.email); err != nil {
		s.lobbyNack(cc, wire.MsgLeaveRoom, err)
		return
	}
	s.sessions.SetRoomCode(cc.email, "")
	s.send(cc, wire.MsgLobbyAck, wire.EmptyPayload{})
}

func (s *Server) handleSetReady(cc *clientConn, raw []byte) {
	if cc.email == "" || len(raw) < 1 {
		return
	}
	ready := raw[0] != 0
	if err := s.rooms.SetReady(cc.email, ready); err != nil {
		s.lobbyNack(cc, wire.MsgSetReady, err)
	}
}

func (s *Server) handleStartGame(cc *clientConn) {
	if cc.email == "" {
		return
	}
	snap, err := s.rooms.TryStartGame(cc.email)
	if err != nil {
		s.lobbyNack(cc, wire.MsgStartGame, err)
		return
	}
	for _, slot := range snap.Slots {
		if slot.Occupied {
			s.sendTo(slot.Email, wire.MsgGameStarting, wire.EmptyPayload{})
		}
	}
}

func (s *Server) handleKickPlayer(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalKickPlayer(raw)
	if err != nil {
		return
	}
	if err := s.rooms.KickPlayer(cc.email, p.TargetEmail); err != nil {
		s.lobbyNack(cc, wire.MsgKickPlayer, err)
	}
}

func (s *Server) handleSetRoomConfig(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalSetRoomConfig(raw)
	if err != nil {
		return
	}
	if err := s.rooms.SetRoomConfig(cc.email, int(p.GameSpeedPercent)); err != nil {
		s.lobbyNack(cc, wire.MsgSetRoomConfig, err)
	}
}

func (s *Server) handleBrowsePublicRooms(cc *clientConn) {
	if cc.email == "" {
		return
	}
	for _, snap := range s.rooms.GetPublicRooms() {
		s.send(cc, wire.MsgRoomUpdate, toRoomUpdatePayload(snap))
	}
}

func (s *Server) handleQuickJoin(cc *clientConn, raw []byte) {
	if cc.email == "" || len(raw) < 1 {
		return
	}
	shipSkin := raw[0]
	snap, err := s.rooms.QuickJoin(cc.email, cc.displayName, shipSkin)
	if err != nil {
		s.lobbyNack(cc, wire.MsgQuickJoin, err)
		return
	}
	s.sessions.SetRoomCode(cc.email, snap.Code)
	s.send(cc, wire.MsgLobbyAck, wire.EmptyPayload{})
}

func toRoomUpdatePayload(snap room.Snapshot) wire.RoomUpdatePayload {
	slots := make([]wire.SlotView, len(snap.Slots))
	for i, sl := range snap.Slots {
		slots[i] = wire.SlotView{Occupied: sl.Occupied, Name: sl.Name, Ready: sl.Ready, Host: sl.Host, ShipSkin: sl.ShipSkin}
	}
	return wire.RoomUpdatePayload{Code: snap.Code, Name: snap.Name, Max: uint8(snap.Max), Slots: slots}
}

// pushRoomUpdate is room.Registry's UpdateCallback, invoked outside its
// lock for each occupant whenever a room mutates.
func (s *Server) pushRoomUpdate(email string, snap room.Snapshot) {
	s.sendTo(email, wire.MsgRoomUpdate, toRoomUpdatePayload(snap))
}

// pushKicked is room.Registry's KickCallback. A lobby-level kick also
// evicts the player from their live game instance, if any.
func (s *Server) pushKicked(email, code string) {
	s.sendTo(email, wire.MsgPlayerKicked, wire.EmptyPayload{})
	if s.inGameKick != nil {
		s.inGameKick(email)
	}
}

// --- Settings ---

func (s *Server) handleGetUserSettings(cc *clientConn) {
	if cc.email == "" {
		return
	}
	settings, err := s.settings.Get(context.Background(), cc.email)
	if err != nil {
		return
	}
	s.send(cc, wire.MsgUserSettings, wire.UserSettingsPayload{Values: settings.Values})
}

func (s *Server) handleSaveUserSettings(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalUserSettings(raw)
	if err != nil {
		return
	}
	s.settings.Save(context.Background(), repo.UserSettings{Email: cc.email, Values: p.Values})
}

// --- Chat ---

func (s *Server) handleSendChatMessage(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalChatMessage(raw)
	if err != nil {
		return
	}
	code, ok := s.rooms.RoomCodeOf(cc.email)
	if !ok {
		return
	}
	now := time.Now()
	s.rooms.SendChatMessage(code, cc.displayName, p.Text, now)
	s.chat.Append(context.Background(), repo.ChatMessageRecord{RoomCode: code, DisplayName: cc.displayName, Text: p.Text, SentAt: now})
}

// pushChatMessage is room.Registry's ChatCallback.
func (s *Server) pushChatMessage(email, roomCode string, entry room.ChatEntry) {
	s.sendTo(email, wire.MsgChatMessage, wire.ChatMessagePayload{
		Sender: entry.DisplayName, Text: entry.Text, Timestamp: uint64(entry.Timestamp.UnixMilli()),
	})
}

func (s *Server) handleChatHistory(cc *clientConn) {
	if cc.email == "" {
		return
	}
	code, ok := s.rooms.RoomCodeOf(cc.email)
	if !ok {
		return
	}
	history, err := s.rooms.ChatHistory(code)
	if err != nil {
		return
	}
	entries := make([]wire.ChatHistoryEntry, len(history))
	for i, e := range history {
		entries[i] = wire.ChatHistoryEntry{DisplayName: e.DisplayName, Text: e.Text, Timestamp: uint64(e.Timestamp.UnixMilli())}
	}
	s.send(cc, wire.MsgChatHistory, wire.ChatHistoryPayload{Entries: entries})
}

// --- Social graph (blocks, friends, private messages) ---

func (s *Server) sendSocialNack(cc *clientConn, refused wire.MessageType, reason wire.SocialNackCode) {
	s.send(cc, wire.MsgSocialNack, wire.SocialNackPayload{Refused: refused, Reason: reason})
}

func (s *Server) handleBlockUser(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalTarget(raw)
	if err != nil {
		return
	}
	if err := s.social.BlockUser(context.Background(), cc.email, p.Target); err != nil {
		s.sendSocialNack(cc, wire.MsgBlockUser, wire.NackTargetNotFound)
		return
	}
	s.send(cc, wire.MsgSocialAck, wire.EmptyPayload{})
}

func (s *Server) handleSendFriendRequest(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalTarget(raw)
	if err != nil {
		return
	}
	if blocked, _ := s.social.IsBlocked(context.Background(), p.Target, cc.email); blocked {
		s.sendSocialNack(cc, wire.MsgSendFriendRequest, wire.NackTargetBlocked)
		return
	}
	if err := s.social.SendFriendRequest(context.Background(), repo.FriendRequest{
		FromEmail: cc.email, ToEmail: p.Target, SentAt: time.Now(),
	}); err != nil {
		s.sendSocialNack(cc, wire.MsgSendFriendRequest, wire.NackTargetNotFound)
		return
	}
	s.send(cc, wire.MsgSocialAck, wire.EmptyPayload{})
}

func (s *Server) handleAcceptFriendRequest(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalTarget(raw)
	if err != nil {
		return
	}
	if err := s.social.AcceptFriendRequest(context.Background(), p.Target, cc.email); err != nil {
		s.sendSocialNack(cc, wire.MsgAcceptFriendRequest, wire.NackTargetNotFound)
		return
	}
	s.send(cc, wire.MsgSocialAck, wire.EmptyPayload{})
}

func (s *Server) handleListFriends(cc *clientConn) {
	if cc.email == "" {
		return
	}
	friends, err := s.social.ListFriends(context.Background(), cc.email)
	if err != nil {
		return
	}
	s.send(cc, wire.MsgFriendsList, wire.FriendsListPayload{Friends: friends})
}

func (s *Server) handleSendPrivateMessage(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalPrivateMessage(raw)
	if err != nil {
		return
	}
	if blocked, _ := s.social.IsBlocked(context.Background(), p.ToEmail, cc.email); blocked {
		s.sendSocialNack(cc, wire.MsgSendPrivateMessage, wire.NackTargetBlocked)
		return
	}
	now := time.Now()
	if err := s.social.SendPrivateMessage(context.Background(), repo.PrivateMessage{
		FromEmail: cc.email, ToEmail: p.ToEmail, Text: p.Text, SentAt: now,
	}); err != nil {
		s.sendSocialNack(cc, wire.MsgSendPrivateMessage, wire.NackTargetNotFound)
		return
	}
	s.sendTo(p.ToEmail, wire.MsgPrivateMessage, wire.PrivateMessagePayload{
		FromEmail: cc.email, ToEmail: p.ToEmail, Text: p.Text, Timestamp: uint64(now.UnixMilli()),
	})
}

func (s *Server) handleListPrivateMessages(cc *clientConn, raw []byte) {
	if cc.email == "" {
		return
	}
	p, err := wire.UnmarshalListPrivateMessages(raw)
	if err != nil {
		return
	}
	msgs, err := s.social.ListPrivateMessages(context.Background(), cc.email, p.Peer, int(p.Limit))
	if err != nil {
		return
	}
	entries := make([]wire.PrivateMessagePayload, len(msgs))
	for i, m := range msgs {
		entries[i] = wire.PrivateMessagePayload{
			FromEmail: m.FromEmail, ToEmail: m.ToEmail, Text: m.Text, Timestamp: uint64(m.SentAt.UnixMilli()),
		}
	}
	s.send(cc, wire.MsgPrivateMessageHistory, wire.PrivateMessageHistoryPayload{Entries: entries})
}
