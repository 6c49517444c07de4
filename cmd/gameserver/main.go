// Package main boots the R-Type authoritative game server: the
// reliable stream channel (auth/lobby/chat), the unreliable datagram
// channel (gameplay), the voice relay, the admin JSON-RPC endpoint, and
// the supplemental spectator/ops HTTP surface, all sharing the same
// session registry, room registry, and instance manager.
//
// Connection flow:
//  1. Client authenticates and joins a lobby over the stream channel (TCP).
//  2. Once the room starts, the client binds its UDP token via JoinGame
//     on the datagram channel and starts sending PlayerInput.
//  3. The owning instance actor ticks at config.TickRate and the
//     datagram channel broadcasts Snapshot/event frames back.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rtype/core/config"
	"github.com/rtype/core/internal/admin"
	"github.com/rtype/core/internal/datagramserver"
	"github.com/rtype/core/internal/instancemgr"
	"github.com/rtype/core/internal/netstats"
	"github.com/rtype/core/internal/repo"
	"github.com/rtype/core/internal/repo/memory"
	"github.com/rtype/core/internal/repo/mongo"
	"github.com/rtype/core/internal/room"
	"github.com/rtype/core/internal/session"
	"github.com/rtype/core/internal/spectate"
	"github.com/rtype/core/internal/streamserver"
	"github.com/rtype/core/internal/telemetry"
	"github.com/rtype/core/internal/voice"
	"go.uber.org/zap"
)

// services bundles every long-lived dependency the five network-facing
// servers share, built once in main and threaded through explicitly —
// no package-level globals.
type services struct {
	logger    *zap.Logger
	sessions  *session.Registry
	rooms     *room.Registry
	instances *instancemgr.Manager

	accounts    repo.AccountRepository
	settings    repo.SettingsRepository
	chat        repo.ChatRepository
	social      repo.SocialRepository
	leaderboard repo.LeaderboardRepository

	mongoStore *mongo.Store // nil when running against the in-memory store
}

func main() {
	cfg := config.LoadServerConfig()

	logger, err := telemetry.NewLogger(os.Getenv("RTYPE_ENV") != "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize services", zap.Error(err))
		os.Exit(1)
	}
	if svc.mongoStore != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svc.mongoStore.Disconnect(ctx)
		}()
	}

	if code := run(cfg, svc); code != 0 {
		os.Exit(code)
	}
}

// buildServices wires the repository layer: Mongo when MONGODB_URI
// resolves a live server, the in-memory fake otherwise (local dev and
// environments without a Mongo deployment).
func buildServices(cfg *config.ServerConfig, logger *zap.Logger) (*services, error) {
	svc := &services{
		logger:    logger,
		sessions:  session.NewRegistry(),
		rooms:     room.NewRegistry(),
		instances: nil,
	}

	if cfg.MongoURI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			logger.Warn("mongo unavailable, falling back to in-memory repositories", zap.Error(err))
		} else {
			svc.mongoStore = store
			svc.accounts = mongo.NewAccountRepository(store)
			svc.settings = mongo.NewSettingsRepository(store)
			svc.chat = mongo.NewChatRepository(store)
			svc.social = mongo.NewSocialRepository(store)
			svc.leaderboard = mongo.NewLeaderboardRepository(store)
		}
	}

	if svc.accounts == nil {
		mem := memory.New()
		svc.accounts = mem.Accounts()
		svc.settings = mem.Settings()
		svc.chat = mem.Chat()
		svc.social = mem.Social()
		svc.leaderboard = mem.Leaderboard()
	}

	// Incremental autosave and end-of-session finalization both run on
	// internal/datagramserver's own timers against the leaderboard
	// repository directly (see its autosaveLoop/onSessionExpired), so no
	// per-instance autosave callback is needed here.
	svc.instances = instancemgr.New(nil)
	return svc, nil
}

// run starts every server, blocks until a shutdown signal or a fatal
// listener error, and tears everything down. Returns the process exit
// code (spec.md §6: 0 on clean shutdown, 1 on fatal startup failure).
func run(cfg *config.ServerConfig, svc *services) int {
	logger := svc.logger

	streamLn, err := listenTCP(cfg.Host, cfg.StreamPort, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		logger.Error("failed to bind stream listener", zap.Error(err))
		return 1
	}
	defer streamLn.Close()

	datagramConn, err := listenUDP(cfg.Host, cfg.DatagramPort)
	if err != nil {
		logger.Error("failed to bind datagram socket", zap.Error(err))
		return 1
	}
	defer datagramConn.Close()

	voiceConn, err := listenUDP(cfg.Host, cfg.VoicePort)
	if err != nil {
		logger.Error("failed to bind voice socket", zap.Error(err))
		return 1
	}
	defer voiceConn.Close()

	adminLn, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.AdminPort))
	if err != nil {
		logger.Error("failed to bind admin listener", zap.Error(err))
		return 1
	}
	defer adminLn.Close()

	stats := netstats.New()

	stream := streamserver.New(cfg, logger, svc.sessions, svc.rooms, svc.accounts, svc.settings, svc.chat, svc.social)
	datagram := datagramserver.New(cfg, logger, svc.sessions, svc.rooms, svc.instances, svc.leaderboard, stats)
	voiceRelay := voice.New(cfg, logger, svc.sessions)
	adminSrv := admin.New(cfg, logger, svc.sessions, svc.rooms, svc.instances, svc.leaderboard, stats)
	spectateSrv := spectate.New(cfg, logger, svc.sessions, svc.rooms, svc.instances)

	stream.SetInGameKickHook(datagram.KickPlayer)
	adminSrv.SetInGameKickHook(datagram.KickPlayer)

	spectateHTTP := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.SpectatePort),
		Handler: spectateSrv.Handler(),
	}
	spectateStop := make(chan struct{})

	errCh := make(chan error, 5)
	go func() { errCh <- stream.Serve(streamLn) }()
	go func() { errCh <- datagram.Serve(datagramConn) }()
	go func() { errCh <- voiceRelay.Serve(voiceConn) }()
	go func() { errCh <- adminSrv.Serve(adminLn) }()
	go func() { errCh <- spectateHTTP.ListenAndServe() }()
	go spectateSrv.Run(spectateStop)

	logger.Info("r-type server started",
		zap.String("host", cfg.Host),
		zap.Int("stream_port", cfg.StreamPort),
		zap.Int("datagram_port", cfg.DatagramPort),
		zap.Int("voice_port", cfg.VoicePort),
		zap.Int("admin_port", cfg.AdminPort),
		zap.Int("spectate_port", cfg.SpectatePort),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("a server exited unexpectedly", zap.Error(err))
		close(spectateStop)
		return 1
	}

	close(spectateStop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	spectateHTTP.Shutdown(shutdownCtx)

	return 0
}

func listenTCP(host string, port int, certFile, keyFile string) (net.Listener, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	if certFile == "" || keyFile == "" {
		return net.Listen("tcp", addr)
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS cert/key: %w", err)
	}
	return tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
}

func listenUDP(host string, port int) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}
