// Package config defines the tunable constants and environment-driven
// server configuration shared by every component of the R-Type core.
package config

import (
	"os"
	"strconv"
	"time"
)

// Simulation constants. These must match the client exactly for
// deterministic physics and for the weapon/wave tables to line up.
const (
	MaxSlotsPerRoom   = 6
	MaxRoomsPerServer = 512

	TickRate     = 20 // Hz, ~50ms per tick
	TickInterval = time.Second / TickRate

	PlayerStartHP = 5
	PlayerStartX  = 80.0
	PlayerStartY  = 270.0
	PlayerSpeed   = 260.0 // px/s at 100% game speed

	WeaponLevelMax = 3
	WeaponCount    = 4 // Standard, Spread, Laser, Missile

	ShootCooldownStandard = 250 * time.Millisecond
	ShootCooldownSpread   = 400 * time.Millisecond
	ShootCooldownLaser    = 600 * time.Millisecond
	ShootCooldownMissile  = 900 * time.Millisecond

	ChargeMinForFire  = 400 * time.Millisecond
	ChargeMaxLevel    = 3
	ChargeLevelPeriod = 500 * time.Millisecond

	GameSpeedMin = 50
	GameSpeedMax = 200

	// Session lifecycle.
	PendingSessionWindow   = 5 * time.Minute
	ActiveInactivityWindow = 30 * time.Second

	// Stream channel.
	StreamIdleTimeout = 60 * time.Second
	StreamMaxPayload  = 4096
	StreamHeaderSize  = 7 // u16 type + u8 authFlag + u32 payload_size

	// Datagram channel.
	DatagramHeaderSize = 12 // u16 type + u16 seq + u64 timestamp
	DatagramMaxSize    = 1200

	// Autosave cadence for per-player session stats.
	AutosaveInterval = time.Second

	// Chat retention (best-effort in-memory cache).
	ChatHistoryCap = 50

	// Room code alphabet excludes I, O, 0, 1 to avoid operator confusion.
	RoomCodeLength   = 6
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// Token size, in bytes (256 bits).
	TokenSize = 32
)

// ServerConfig holds the process-level configuration, populated from
// environment variables with sane defaults (mirrors the teacher's
// loadConfig/DefaultServerConfig split).
type ServerConfig struct {
	Host string

	StreamPort   int
	DatagramPort int
	VoicePort    int
	AdminPort    int
	SpectatePort int

	TLSCertFile string
	TLSKeyFile  string

	AdminToken string

	MongoURI string
	MongoDB  string

	// TestHash, when set, overrides bcrypt hashing with a fast stub so
	// integration tests don't pay bcrypt's cost factor. See internal/auth.
	TestHash string
}

// DefaultServerConfig returns the zero-environment configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		StreamPort:   4125,
		DatagramPort: 4124,
		VoicePort:    4126,
		AdminPort:    4127,
		SpectatePort: 4128,
		MongoURI:     "mongodb://localhost:27017",
		MongoDB:      "rtype",
	}
}

// LoadServerConfig reads configuration from the environment, falling back
// to DefaultServerConfig for anything unset.
func LoadServerConfig() *ServerConfig {
	cfg := DefaultServerConfig()

	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("STREAM_PORT"); ok {
		cfg.StreamPort = v
	}
	if v, ok := envInt("DATAGRAM_PORT"); ok {
		cfg.DatagramPort = v
	}
	if v, ok := envInt("VOICE_PORT"); ok {
		cfg.VoicePort = v
	}
	if v, ok := envInt("ADMIN_PORT"); ok {
		cfg.AdminPort = v
	}
	if v, ok := envInt("SPECTATE_PORT"); ok {
		cfg.SpectatePort = v
	}
	cfg.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.TestHash = os.Getenv("RTYPE_TEST_HASH")

	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.MongoURI = v
	}
	if v := os.Getenv("MONGODB_DB"); v != "" {
		cfg.MongoDB = v
	}

	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ClampGameSpeed clamps a requested game-speed percentage to the allowed
// [GameSpeedMin, GameSpeedMax] range.
func ClampGameSpeed(percent int) int {
	if percent < GameSpeedMin {
		return GameSpeedMin
	}
	if percent > GameSpeedMax {
		return GameSpeedMax
	}
	return percent
}
