// Package admin implements the localhost-only JSON-RPC admin endpoint
// (spec.md §6): one JSON object per line in, one JSON object per line
// out, token-gated, with a fixed set of remote-safe commands.
package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/netstats"
	"github.com/rtype/core/internal/repo"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"go.uber.org/zap"
)

// remoteOnlyDenied lists commands the reference admin console reserves
// for its local interactive UI; a remote caller asking for one of these
// gets a clear rejection instead of a cryptic "unknown command".
var remoteOnlyDenied = map[string]string{
	"zoom":     "zoom",
	"interact": "interact",
	"net":      "net",
}

// request is one line of admin input: {"cmd":"...","args":"...","token":"..."}.
type request struct {
	Cmd   string `json:"cmd"`
	Args  string `json:"args"`
	Token string `json:"token"`
}

// response is one line of admin output.
type response struct {
	Success bool     `json:"success"`
	Output  []string `json:"output"`
	Error   string   `json:"error,omitempty"`
}

// Server is the C-admin JSON-RPC listener. It binds loopback only,
// regardless of cfg.Host, since remote admin access must go through an
// operator's own SSH tunnel or VPN, never the public game ports.
type Server struct {
	cfg    *config.ServerConfig
	logger *zap.Logger

	sessions  *session.Registry
	rooms     *room.Registry
	instances *instancemgr.Manager
	board     repo.LeaderboardRepository
	stats     *netstats.Collector

	inGameKick func(email string) bool
}

// New constructs an admin server.
func New(cfg *config.ServerConfig, logger *zap.Logger, sessions *session.Registry, rooms *room.Registry, instances *instancemgr.Manager, board repo.LeaderboardRepository, stats *netstats.Collector) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger,
		sessions:  sessions,
		rooms:     rooms,
		instances: instances,
		board:     board,
		stats:     stats,
	}
}

// SetInGameKickHook wires C7's in-game removal into the "kick" command, so
// an operator kick evicts an already in-game player, not just the session.
func (s *Server) SetInGameKickHook(fn func(email string) bool) {
	s.inGameKick = fn
}

// Serve accepts admin connections until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reqID := uuid.NewString()
	logger := s.logger.With(zap.String("admin_request_id", reqID), zap.String("remote", conn.RemoteAddr().String()))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 65536)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			enc.Encode(response{Success: false, Error: "malformed JSON request"})
			continue
		}

		resp := s.dispatch(req, logger)
		if err := enc.Encode(resp); err != nil {
			logger.Debug("admin write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) dispatch(req request, logger *zap.Logger) response {
	if s.cfg.AdminToken == "" || req.Token != s.cfg.AdminToken {
		logger.Warn("admin request rejected: bad token")
		return response{Success: false, Error: "unauthorized: invalid or missing token"}
	}

	cmd := strings.ToLower(strings.TrimSpace(req.Cmd))
	if cmd == "" {
		return response{Success: false, Error: "missing 'cmd' field"}
	}
	if cmd == "quit" || cmd == "exit" {
		return response{Success: false, Error: "command 'quit/exit' not allowed via remote admin"}
	}
	if _, denied := remoteOnlyDenied[cmd]; denied {
		return response{Success: false, Error: fmt.Sprintf("command %q requires the local UI", cmd)}
	}

	logger.Info("admin command", zap.String("cmd", cmd), zap.String("args", req.Args))

	out, err := s.execute(cmd, req.Args)
	if err != nil {
		return response{Success: false, Error: err.Error()}
	}
	return response{Success: true, Output: out}
}

func (s *Server) execute(cmd, args string) ([]string, error) {
	switch cmd {
	case "help":
		return []string{
			"help", "status", "sessions", "rooms", "bans",
			"kick <email>", "ban <email>", "unban <email>",
			"leaderboard [n]", "stats <email>",
		}, nil
	case "status":
		return s.cmdStatus(), nil
	case "sessions":
		return s.cmdSessions(), nil
	case "rooms":
		return s.cmdRooms(), nil
	case "bans":
		return s.cmdBans(), nil
	case "kick":
		return s.cmdKick(args)
	case "ban":
		return s.cmdBan(args)
	case "unban":
		return s.cmdUnban(args)
	case "leaderboard":
		return s.cmdLeaderboard(args)
	case "stats":
		return s.cmdPlayerStats(args)
	default:
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}

func (s *Server) cmdStatus() []string {
	out := []string{
		fmt.Sprintf("active sessions: %d", len(s.sessions.ListSessions())),
		fmt.Sprintf("active rooms: %d", len(s.instances.GetActiveRoomCodes())),
	}
	if s.stats != nil {
		out = append(out, fmt.Sprintf("network: bytes_sent=%d bytes_received=%d avg_rtt_ms=%d tracked_endpoints=%d",
			s.stats.TotalBytesSent(), s.stats.TotalBytesReceived(), s.stats.GlobalAverageRTT(), s.stats.TrackedEndpoints()))
	}
	return out
}

func (s *Server) cmdSessions() []string {
	sessions := s.sessions.ListSessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Identity.Email < sessions[j].Identity.Email })

	out := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, fmt.Sprintf("%s (%s) status=%s room=%s", sess.Identity.Email, sess.Identity.DisplayName, sess.Status, sess.RoomCode))
	}
	return out
}

func (s *Server) cmdRooms() []string {
	codes := s.instances.GetActiveRoomCodes()
	sort.Strings(codes)

	out := make([]string, 0, len(codes))
	for _, code := range codes {
		snap, err := s.rooms.Snapshot(code)
		if err != nil {
			out = append(out, fmt.Sprintf("%s (lobby record gone, instance still live)", code))
			continue
		}
		out = append(out, fmt.Sprintf("%s %q slots=%d/%d state=%s", snap.Code, snap.Name, len(snap.Slots), snap.Max, snap.State))
	}
	return out
}

func (s *Server) cmdBans() []string {
	banned := s.sessions.ListBanned()
	out := make([]string, 0, len(banned))
	for email, name := range banned {
		out = append(out, fmt.Sprintf("%s (%s)", email, name))
	}
	sort.Strings(out)
	return out
}

func (s *Server) cmdKick(args string) ([]string, error) {
	email := strings.TrimSpace(args)
	if email == "" {
		return nil, fmt.Errorf("usage: kick <email>")
	}
	if s.inGameKick != nil {
		s.inGameKick(email)
	}
	s.sessions.RemoveSession(email)
	return []string{fmt.Sprintf("kicked %s", email)}, nil
}

func (s *Server) cmdBan(args string) ([]string, error) {
	email := strings.TrimSpace(args)
	if email == "" {
		return nil, fmt.Errorf("usage: ban <email>")
	}
	s.sessions.BanUser(email)
	return []string{fmt.Sprintf("banned %s", email)}, nil
}

func (s *Server) cmdUnban(args string) ([]string, error) {
	email := strings.TrimSpace(args)
	if email == "" {
		return nil, fmt.Errorf("usage: unban <email>")
	}
	s.sessions.UnbanUser(email)
	return []string{fmt.Sprintf("unbanned %s", email)}, nil
}

func (s *Server) cmdLeaderboard(args string) ([]string, error) {
	n := 10
	if v := strings.TrimSpace(args); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
			return nil, fmt.Errorf("usage: leaderboard [n]")
		}
	}

	entries, err := s.board.TopN(context.Background(), n)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, fmt.Sprintf("#%d %s score=%d", e.Rank, e.Email, e.TotalScore))
	}
	return out, nil
}

func (s *Server) cmdPlayerStats(args string) ([]string, error) {
	email := strings.TrimSpace(args)
	if email == "" {
		return nil, fmt.Errorf("usage: stats <email>")
	}
	cum, err := s.board.GetCumulative(context.Background(), email)
	if err != nil {
		return nil, err
	}
	out := []string{fmt.Sprintf("%s total_score=%d kills=%d deaths=%d boss_kills=%d games=%d",
		cum.Email, cum.TotalScore, cum.TotalKills, cum.TotalDeaths, cum.BossKills, cum.GamesPlayed)}
	if len(cum.Achievements) > 0 {
		names := make([]string, len(cum.Achievements))
		for i, a := range cum.Achievements {
			names[i] = string(a)
		}
		out = append(out, fmt.Sprintf("achievements: %s", strings.Join(names, ", ")))
	}
	return out, nil
}
