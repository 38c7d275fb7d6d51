package dhclient

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/omapi/internal/tools"
	"github.com/rs/zerolog/log"
)

// ScriptRunner runs the client configuration script for one client state.
type ScriptRunner interface {
	Run(ctx context.Context, client *ClientState, reason string) error
}

// Script runs an external configuration script with the reason and
// interface details in its environment.
type Script struct {
	Path    string
	Runner  tools.CommandRunner
	Timeout time.Duration
}

func (s Script) Run(ctx context.Context, client *ClientState, reason string) error {
	if s.Path == "" {
		return nil
	}
	runner := s.Runner
	if runner == nil {
		runner = tools.ExecRunner{Timeout: s.Timeout}
	}
	env := ScriptEnv(client, reason)
	res, err := runner.Run(ctx, env, s.Path)
	if err != nil {
		log.Warn().
			Err(err).
			Str("script", s.Path).
			Str("reason", reason).
			Int32("exit_code", res.ExitCode).
			Str("stderr", strings.TrimSpace(string(res.Stderr))).
			Msg("client script failed")
		return fmt.Errorf("script %s %s: %w", s.Path, reason, err)
	}
	log.Debug().Str("script", s.Path).Str("reason", reason).Msg("client script ran")
	return nil
}

// ScriptEnv builds the script environment for client.
func ScriptEnv(client *ClientState, reason string) []string {
	env := []string{"reason=" + reason}
	if client == nil || client.Interface == nil {
		return env
	}
	env = append(env, "interface="+client.Interface.Name())
	if client.Alias.IsValid() {
		mask := net.CIDRMask(client.Alias.Bits(), client.Alias.Addr().BitLen())
		env = append(env,
			"alias_ip_address="+client.Alias.Addr().String(),
			"alias_subnet_mask="+net.IP(mask).String(),
		)
	}
	return env
}
