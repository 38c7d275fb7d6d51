package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/omapi/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "omapi.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplateRoundTripsThroughLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "omapi.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := Default()
	if cfg.OMAPI != def.OMAPI {
		t.Fatalf("omapi section mismatch: %+v vs %+v", cfg.OMAPI, def.OMAPI)
	}
	if cfg.Peer.Config != def.Peer.Config || cfg.Peer.Enabled != def.Peer.Enabled {
		t.Fatalf("peer section mismatch: %+v vs %+v", cfg.Peer, def.Peer)
	}
	if cfg.PollInterval != def.PollInterval || cfg.LogLevel != def.LogLevel {
		t.Fatalf("dispatch/log mismatch: %v %q", cfg.PollInterval, cfg.LogLevel)
	}
	if cfg.Client.Script != def.Client.Script || cfg.Client.ScriptTimeout != def.Client.ScriptTimeout {
		t.Fatalf("client section mismatch: %+v", cfg.Client)
	}
	if len(cfg.Admin.CorsOrigins) != 1 || cfg.Admin.CorsOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins %v", cfg.Admin.CorsOrigins)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	path := writeFile(t, "# existing\n")
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected existing file to be kept")
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "[omapi]") {
		t.Fatalf("template not written:\n%s", data)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
[omapi]
port = 7912

[peer]
enabled = true
host = " omapi.example.net "

[peer.backoff]
initial_delay = "1s"

[client]
interfaces = ["eth0", " ", "wlan0"]
interfaces_requested = true

[dispatch]
poll_interval = "50ms"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.OMAPI.Port != 7912 || cfg.OMAPI.Addr != def.OMAPI.Addr || !cfg.OMAPI.Enabled {
		t.Fatalf("unexpected omapi section %+v", cfg.OMAPI)
	}
	if !cfg.Peer.Enabled || cfg.Peer.Host != "omapi.example.net" || cfg.Peer.Port != def.Peer.Port {
		t.Fatalf("unexpected peer section %+v", cfg.Peer)
	}
	if cfg.Peer.Backoff.InitialDelay != time.Second || cfg.Peer.Backoff.MaxDelay != def.Peer.Backoff.MaxDelay {
		t.Fatalf("unexpected backoff %+v", cfg.Peer.Backoff)
	}
	if len(cfg.Client.Interfaces) != 2 || cfg.Client.Interfaces[1] != "wlan0" || !cfg.Client.InterfacesRequested {
		t.Fatalf("unexpected client section %+v", cfg.Client)
	}
	if cfg.PollInterval != 50*time.Millisecond || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected dispatch/log %v %q", cfg.PollInterval, cfg.LogLevel)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeFile(t, "[dispatch]\npoll_interval = \"soon\"\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "dispatch.poll_interval") {
		t.Fatalf("expected poll_interval parse error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"listen port", func(c *Config) { c.OMAPI.Port = 0 }, ErrListenPortInvalid},
		{"peer host", func(c *Config) { c.Peer.Enabled = true; c.Peer.Host = " " }, ErrPeerHostRequired},
		{"peer port", func(c *Config) { c.Peer.Enabled = true; c.Peer.Port = 70000 }, ErrPeerPortInvalid},
		{"backoff", func(c *Config) { c.Peer.Enabled = true; c.Peer.Backoff.Multiplier = 0.5 }, ErrBackoffInvalid},
		{"admin addr", func(c *Config) { c.Admin.Addr = "" }, ErrAdminAddrRequired},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }, ErrPollIntervalInvalid},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, ErrLogLevelInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := Validate(cfg); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	cfg := Default()
	cfg.OMAPI.Enabled = false
	cfg.OMAPI.Port = 0
	cfg.Peer.Port = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled sections should not be validated: %v", err)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "cmd", "omapictl", "ex.config.toml"))
	if err != nil {
		t.Fatalf("load example config: %v", err)
	}
	if cfg.Peer.Enabled || cfg.Peer.Port != 7912 || len(cfg.Client.Interfaces) != 1 {
		t.Fatalf("unexpected example config %+v", cfg)
	}
}
