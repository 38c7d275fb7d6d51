package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/omapi/internal/dispatch"
	"github.com/danmuck/omapi/internal/logging"
	"github.com/danmuck/omapi/internal/peer"
)

var (
	ErrListenPortInvalid   = errors.New("omapi.port must be between 1 and 65535")
	ErrPeerHostRequired    = errors.New("peer.host is required when the peer is enabled")
	ErrPeerPortInvalid     = errors.New("peer.port must be between 1 and 65535")
	ErrBackoffInvalid      = errors.New("peer.backoff multiplier must be at least 1")
	ErrAdminAddrRequired   = errors.New("admin.addr is required when admin is enabled")
	ErrPollIntervalInvalid = errors.New("dispatch.poll_interval must be positive")
	ErrLogLevelInvalid     = errors.New("log.level is not a known level")
)

// ListenConfig controls the OMAPI listener.
type ListenConfig struct {
	Enabled bool
	Addr    string
	Port    int
}

type PeerConfig struct {
	Enabled bool
	peer.Config
}

type AdminConfig struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on every admin route
	// except /health.
	Token string
}

// ClientConfig drives the interface kind.
type ClientConfig struct {
	Interfaces          []string
	Script              string
	ScriptTimeout       time.Duration
	InterfacesRequested bool
	AutoAdd             bool
}

type Config struct {
	OMAPI        ListenConfig
	Peer         PeerConfig
	Admin        AdminConfig
	Client       ClientConfig
	PollInterval time.Duration
	LogLevel     string
}

func Default() Config {
	return Config{
		OMAPI: ListenConfig{Enabled: true, Addr: "127.0.0.1", Port: peer.DefaultPort},
		Peer:  PeerConfig{Config: peer.DefaultConfig()},
		Admin: AdminConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:9180",
			CorsOrigins: []string{"http://localhost:3000"},
		},
		Client: ClientConfig{
			Script:        "/sbin/dhclient-script",
			ScriptTimeout: 30 * time.Second,
		},
		PollInterval: dispatch.DefaultPollInterval,
		LogLevel:     "info",
	}
}

// Load reads path on top of Default. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := raw.apply(meta, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if cfg.OMAPI.Enabled && !validPort(cfg.OMAPI.Port) {
		return ErrListenPortInvalid
	}
	if cfg.Peer.Enabled {
		if strings.TrimSpace(cfg.Peer.Host) == "" {
			return ErrPeerHostRequired
		}
		if !validPort(cfg.Peer.Port) {
			return ErrPeerPortInvalid
		}
		if cfg.Peer.Backoff.InitialDelay > 0 && cfg.Peer.Backoff.Multiplier < 1 {
			return ErrBackoffInvalid
		}
	}
	if cfg.Admin.Enabled && strings.TrimSpace(cfg.Admin.Addr) == "" {
		return ErrAdminAddrRequired
	}
	if cfg.PollInterval <= 0 {
		return ErrPollIntervalInvalid
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", ErrLogLevelInvalid, cfg.LogLevel)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 0xffff
}
