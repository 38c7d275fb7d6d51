// Package server assembles the OMAPI runtime into a long-running process:
// object registry, dispatcher, listener, peer, interfaces and the admin
// surface.
package server

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/omapi/internal/admin"
	"github.com/danmuck/omapi/internal/config"
	"github.com/danmuck/omapi/internal/dhclient"
	"github.com/danmuck/omapi/internal/dispatch"
	"github.com/danmuck/omapi/internal/observability"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/omapi/conn"
	"github.com/danmuck/omapi/internal/peer"
	"github.com/danmuck/omapi/internal/tools"
	"github.com/rs/zerolog/log"
)

var (
	ErrListenFailed    = errors.New("omapi listener failed")
	ErrInterfaceFailed = errors.New("interface setup failed")
	ErrPeerFailed      = errors.New("peer setup failed")
)

type Service struct {
	cfg config.Config

	reg     *omapi.Registry
	loop    *dispatch.Dispatcher
	handles *omapi.HandleTable
	generic *omapi.GenericKind
	conns   *conn.Kinds
	ifaces  *dhclient.Kind
	peers   *peer.Kind
	greeter *greeterKind

	owner    omapi.Ref
	listener omapi.Ref
	peer     omapi.Ref
	admin    *admin.Server
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		s.shutdown()
		return err
	}
	return s.serve(ctx)
}

// bootstrap registers every object type and brings up the configured
// listener, interfaces and peer. It runs before the dispatcher loop, so
// loop-side calls are safe here.
func (s *Service) bootstrap() error {
	observability.RegisterMetrics()
	s.loop = dispatch.New(dispatch.Options{PollInterval: s.cfg.PollInterval})
	s.reg = omapi.NewRegistry()
	s.handles = omapi.NewHandleTable()
	s.generic = omapi.SetupGeneric(s.reg)
	s.conns = conn.Setup(s.reg)
	schedule := func(at time.Time, fn func()) { s.loop.AddTimeout(at, fn) }
	connDeps := conn.Deps{Kinds: s.conns, IO: s.loop, Resolver: net.DefaultResolver}

	var scripts dhclient.ScriptRunner
	if s.cfg.Client.Script != "" {
		scripts = dhclient.Script{
			Path:    s.cfg.Client.Script,
			Runner:  tools.ExecRunner{},
			Timeout: s.cfg.Client.ScriptTimeout,
		}
	}
	s.ifaces = dhclient.Setup(s.reg, dhclient.Deps{
		Handles:             s.handles,
		Discoverer:          dhclient.NetDiscoverer{},
		Scripts:             scripts,
		Schedule:            schedule,
		InterfacesRequested: s.cfg.Client.InterfacesRequested,
		AutoAdd:             s.cfg.Client.AutoAdd,
	})
	s.peers = peer.Setup(s.reg, peer.Deps{Conn: connDeps, Schedule: schedule})
	s.greeter = setupGreeter(s.reg, s.ifaces)

	if s.cfg.OMAPI.Enabled {
		if status := s.greeter.New(&s.owner); status != omapi.StatusSuccess {
			return errors.Join(ErrListenFailed, status)
		}
		if status := conn.Listen(connDeps, s.owner.Get(), s.cfg.OMAPI.Addr, s.cfg.OMAPI.Port, &s.listener); status != omapi.StatusSuccess {
			return errors.Join(ErrListenFailed, status)
		}
	}

	for _, name := range s.cfg.Client.Interfaces {
		if err := s.addInterface(name); err != nil {
			return err
		}
	}

	if s.cfg.Peer.Enabled {
		if status := s.peers.New(&s.peer, s.cfg.Peer.Config); status != omapi.StatusSuccess {
			return errors.Join(ErrPeerFailed, status)
		}
		p := s.peer.Get().(*peer.Peer)
		if !s.owner.Empty() {
			p.Announce(s.owner.Get())
		}
		if status := p.Start(); status != omapi.StatusSuccess {
			log.Warn().Str("peer", p.Addr()).Stringer("status", status).Msg("peer not connected yet")
		}
	}

	if s.cfg.Admin.Enabled {
		s.admin = admin.New("omapi-admin", s.cfg.Admin, admin.Deps{
			Loop:       s.loop,
			Generic:    s.generic,
			Interfaces: s.ifaces,
			Handles:    s.handles,
		})
	}

	log.Info().
		Int("types", len(s.reg.Types())).
		Int("interfaces", s.ifaces.Interfaces().Len()).
		Int("registered", s.loop.Len()).
		Msg("omapi bootstrap ready")
	return nil
}

// addInterface creates a requested interface and starts it.
func (s *Service) addInterface(name string) error {
	var ref omapi.Ref
	defer ref.Release()
	if status := s.ifaces.Type().Create(&ref, nil); status != omapi.StatusSuccess {
		return errors.Join(ErrInterfaceFailed, status)
	}
	if status := omapi.SetValue(ref.Get(), nil, "name", omapi.NewString(name)); !status.OK() {
		return errors.Join(ErrInterfaceFailed, status)
	}
	if status := omapi.SendSignal(ref.Get(), omapi.Update{}); !status.OK() {
		return errors.Join(ErrInterfaceFailed, status)
	}
	if _, status := s.handles.Assign(ref.Get()); !status.OK() {
		return errors.Join(ErrInterfaceFailed, status)
	}
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	adminErr := make(chan error, 1)
	if s.admin != nil {
		go func() {
			adminErr <- s.admin.Serve(ctx)
		}()
	}

	err := s.loop.Run(ctx)
	s.shutdown()
	if s.admin != nil {
		if aerr := <-adminErr; aerr != nil {
			log.Error().Err(aerr).Msg("admin server stopped")
			err = errors.Join(err, aerr)
		}
	}
	return err
}

// shutdown releases everything bootstrap built. The dispatcher loop must
// be stopped.
func (s *Service) shutdown() {
	if p, ok := s.peer.Get().(*peer.Peer); ok {
		p.Stop()
	}
	s.peer.Release()
	if l, ok := s.listener.Get().(*conn.Listener); ok {
		l.Close()
	}
	s.listener.Release()
	s.owner.Release()
	if s.ifaces != nil {
		s.ifaces.Interfaces().Clear()
	}
	if s.loop != nil {
		s.loop.Close()
	}
	log.Info().Msg("omapi stopped")
}
