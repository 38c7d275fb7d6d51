package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk shape. Durations are strings such as "250ms".
type fileConfig struct {
	OMAPI    fileListen   `toml:"omapi"`
	Peer     filePeer     `toml:"peer"`
	Admin    fileAdmin    `toml:"admin"`
	Client   fileClient   `toml:"client"`
	Dispatch fileDispatch `toml:"dispatch"`
	Log      fileLog      `toml:"log"`
}

type fileListen struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Port    int    `toml:"port"`
}

type filePeer struct {
	Enabled        bool        `toml:"enabled"`
	Host           string      `toml:"host"`
	Port           int         `toml:"port"`
	ConnectTimeout string      `toml:"connect_timeout"`
	MaxAttempts    int         `toml:"max_attempts"`
	Backoff        fileBackoff `toml:"backoff"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileAdmin struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

type fileClient struct {
	Interfaces          []string `toml:"interfaces"`
	Script              string   `toml:"script"`
	ScriptTimeout       string   `toml:"script_timeout"`
	InterfacesRequested bool     `toml:"interfaces_requested"`
	AutoAdd             bool     `toml:"auto_add"`
}

type fileDispatch struct {
	PollInterval string `toml:"poll_interval"`
}

type fileLog struct {
	Level string `toml:"level"`
}

func (raw fileConfig) apply(meta toml.MetaData, cfg *Config) error {
	if meta.IsDefined("omapi", "enabled") {
		cfg.OMAPI.Enabled = raw.OMAPI.Enabled
	}
	if meta.IsDefined("omapi", "addr") {
		cfg.OMAPI.Addr = strings.TrimSpace(raw.OMAPI.Addr)
	}
	if meta.IsDefined("omapi", "port") {
		cfg.OMAPI.Port = raw.OMAPI.Port
	}

	if meta.IsDefined("peer", "enabled") {
		cfg.Peer.Enabled = raw.Peer.Enabled
	}
	if meta.IsDefined("peer", "host") {
		cfg.Peer.Host = strings.TrimSpace(raw.Peer.Host)
	}
	if meta.IsDefined("peer", "port") {
		cfg.Peer.Port = raw.Peer.Port
	}
	if meta.IsDefined("peer", "connect_timeout") {
		d, err := parseDuration("peer.connect_timeout", raw.Peer.ConnectTimeout)
		if err != nil {
			return err
		}
		cfg.Peer.ConnectTimeout = d
	}
	if meta.IsDefined("peer", "max_attempts") {
		cfg.Peer.MaxAttempts = raw.Peer.MaxAttempts
	}
	if meta.IsDefined("peer", "backoff", "initial_delay") {
		d, err := parseDuration("peer.backoff.initial_delay", raw.Peer.Backoff.InitialDelay)
		if err != nil {
			return err
		}
		cfg.Peer.Backoff.InitialDelay = d
	}
	if meta.IsDefined("peer", "backoff", "multiplier") {
		cfg.Peer.Backoff.Multiplier = raw.Peer.Backoff.Multiplier
	}
	if meta.IsDefined("peer", "backoff", "max_delay") {
		d, err := parseDuration("peer.backoff.max_delay", raw.Peer.Backoff.MaxDelay)
		if err != nil {
			return err
		}
		cfg.Peer.Backoff.MaxDelay = d
	}
	if meta.IsDefined("peer", "backoff", "jitter") {
		cfg.Peer.Backoff.Jitter = raw.Peer.Backoff.Jitter
	}

	if meta.IsDefined("admin", "enabled") {
		cfg.Admin.Enabled = raw.Admin.Enabled
	}
	if meta.IsDefined("admin", "addr") {
		cfg.Admin.Addr = strings.TrimSpace(raw.Admin.Addr)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = normalizeList(raw.Admin.CorsOrigins)
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}

	if meta.IsDefined("client", "interfaces") {
		cfg.Client.Interfaces = normalizeList(raw.Client.Interfaces)
	}
	if meta.IsDefined("client", "script") {
		cfg.Client.Script = strings.TrimSpace(raw.Client.Script)
	}
	if meta.IsDefined("client", "script_timeout") {
		d, err := parseDuration("client.script_timeout", raw.Client.ScriptTimeout)
		if err != nil {
			return err
		}
		cfg.Client.ScriptTimeout = d
	}
	if meta.IsDefined("client", "interfaces_requested") {
		cfg.Client.InterfacesRequested = raw.Client.InterfacesRequested
	}
	if meta.IsDefined("client", "auto_add") {
		cfg.Client.AutoAdd = raw.Client.AutoAdd
	}

	if meta.IsDefined("dispatch", "poll_interval") {
		d, err := parseDuration("dispatch.poll_interval", raw.Dispatch.PollInterval)
		if err != nil {
			return err
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}
	return nil
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		OMAPI: fileListen{Enabled: cfg.OMAPI.Enabled, Addr: cfg.OMAPI.Addr, Port: cfg.OMAPI.Port},
		Peer: filePeer{
			Enabled:        cfg.Peer.Enabled,
			Host:           cfg.Peer.Host,
			Port:           cfg.Peer.Port,
			ConnectTimeout: cfg.Peer.ConnectTimeout.String(),
			MaxAttempts:    cfg.Peer.MaxAttempts,
			Backoff: fileBackoff{
				InitialDelay: cfg.Peer.Backoff.InitialDelay.String(),
				Multiplier:   cfg.Peer.Backoff.Multiplier,
				MaxDelay:     cfg.Peer.Backoff.MaxDelay.String(),
				Jitter:       cfg.Peer.Backoff.Jitter,
			},
		},
		Admin: fileAdmin{
			Enabled:     cfg.Admin.Enabled,
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
		},
		Client: fileClient{
			Interfaces:          cfg.Client.Interfaces,
			Script:              cfg.Client.Script,
			ScriptTimeout:       cfg.Client.ScriptTimeout.String(),
			InterfacesRequested: cfg.Client.InterfacesRequested,
			AutoAdd:             cfg.Client.AutoAdd,
		},
		Dispatch: fileDispatch{PollInterval: cfg.PollInterval.String()},
		Log:      fileLog{Level: cfg.LogLevel},
	}
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
