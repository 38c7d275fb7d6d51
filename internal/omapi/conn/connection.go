package conn

import (
	"context"
	"net"
	"net/netip"

	"github.com/danmuck/omapi/internal/observability"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// BufSize is the input buffer capacity and the output chunk size.
const BufSize = 4048

// Resolver looks up candidate addresses for a host name.
// *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Kinds holds the registered connection and listener types.
type Kinds struct {
	Connection *omapi.Type
	Listener   *omapi.Type
}

// Setup registers the "connection" and "listener" types.
func Setup(reg *omapi.Registry) *Kinds {
	return &Kinds{
		Connection: reg.MustRegister("connection", connectionKind{}),
		Listener:   reg.MustRegister("listener", listenerKind{}),
	}
}

// Deps are the collaborators connections are built with.
type Deps struct {
	Kinds    *Kinds
	IO       omapi.IORegistrar
	Resolver Resolver
}

func (d Deps) resolver() Resolver {
	if d.Resolver != nil {
		return d.Resolver
	}
	return net.DefaultResolver
}

func (d Deps) valid() bool {
	return d.Kinds != nil && d.Kinds.Connection != nil && d.IO != nil
}

// Connection is one TCP stream.
type Connection struct {
	omapi.Header

	fd     int
	local  netip.AddrPort
	remote netip.AddrPort
	state  State

	in          []byte
	inBytes     int
	bytesNeeded int

	// out holds *chunk values, oldest first.
	out      *queue.Queue
	outBytes int

	listener   omapi.Ref
	io         omapi.IORegistrar
	registered bool
}

type chunk struct {
	data []byte
}

func newConnection(t *omapi.Type, io omapi.IORegistrar) *Connection {
	return &Connection{
		Header: omapi.NewHeader(t),
		fd:     -1,
		in:     make([]byte, BufSize),
		out:    queue.New(),
		io:     io,
	}
}

func (c *Connection) State() State { return c.state }

func (c *Connection) InBytes() int { return c.inBytes }

func (c *Connection) OutBytes() int { return c.outBytes }

func (c *Connection) BytesNeeded() int { return c.bytesNeeded }

func (c *Connection) LocalAddr() netip.AddrPort { return c.local }

func (c *Connection) RemoteAddr() netip.AddrPort { return c.remote }

// Listener returns the listener that accepted c, if any.
func (c *Connection) Listener() omapi.Object { return c.listener.Get() }

func (c *Connection) setState(s State) {
	if c.state == s {
		return
	}
	log.Debug().
		Stringer("remote", c.remote).
		Stringer("from", c.state).
		Stringer("to", s).
		Msg("connection state")
	c.state = s
	observability.RecordConnectionState(s.String())
}

// Connect opens a connection to host:port for owner and stores it in out.
//
// A numeric host is used directly; anything else goes through the resolver
// and every returned address is tried in order. Name resolution and the
// connect sequence block; the socket is non-blocking once connected.
func Connect(ctx context.Context, deps Deps, owner omapi.Object, host string, port int, out *omapi.Ref) omapi.Status {
	if !deps.valid() || owner == nil || out == nil || port <= 0 || port > 0xffff {
		return omapi.StatusInvalidArgument
	}

	c := newConnection(deps.Kinds.Connection, deps.IO)
	var self omapi.Ref
	if status := self.Acquire(c); status != omapi.StatusSuccess {
		return status
	}
	defer self.Release()

	if status := omapi.Link(c, owner); status != omapi.StatusSuccess {
		return status
	}

	candidates, status := resolve(ctx, deps.resolver(), host)
	if status != omapi.StatusSuccess {
		return status
	}

	c.setState(StateConnecting)
	var lastErr error
	for _, addr := range candidates {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		remote := netip.AddrPortFrom(addr, uint16(port))
		fd, err := dial(remote)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Stringer("remote", remote).Msg("connect attempt failed")
			if s := statusFromErr(err); s == omapi.StatusNoResources || s == omapi.StatusNoMemory {
				break
			}
			continue
		}
		c.fd = fd
		c.remote = remote
		lastErr = nil
		break
	}
	if c.fd < 0 {
		c.setState(StateClosed)
		log.Warn().Err(lastErr).Str("host", host).Int("port", port).Msg("connect failed")
		return statusFromErr(lastErr)
	}

	c.local = localAddr(c.fd)
	if err := unix.SetNonblock(c.fd, true); err != nil {
		log.Error().Err(err).Stringer("remote", c.remote).Msg("set non-blocking failed")
		c.closeFD()
		c.setState(StateClosed)
		return omapi.StatusUnexpected
	}
	c.setState(StateConnected)

	if status := c.register(); status != omapi.StatusSuccess {
		c.closeFD()
		c.setState(StateClosed)
		return status
	}
	if status := out.Acquire(c); status != omapi.StatusSuccess {
		return status
	}
	log.Info().Stringer("local", c.local).Stringer("remote", c.remote).Msg("connected")
	omapi.SendSignal(c, omapi.Connect{Conn: c})
	return omapi.StatusSuccess
}

func resolve(ctx context.Context, r Resolver, host string) ([]netip.Addr, omapi.Status) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, omapi.StatusSuccess
	}
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil || len(addrs) == 0 {
		log.Warn().Err(err).Str("host", host).Msg("host lookup failed")
		return nil, omapi.StatusHostUnknown
	}
	return addrs, omapi.StatusSuccess
}

func dial(remote netip.AddrPort) (int, error) {
	sa, family := sockaddrOf(remote)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// adopt wraps an already connected, non-blocking descriptor.
func adopt(deps Deps, owner omapi.Object, fd int, out *omapi.Ref) omapi.Status {
	if !deps.valid() || fd < 0 || out == nil {
		return omapi.StatusInvalidArgument
	}
	c := newConnection(deps.Kinds.Connection, deps.IO)
	c.fd = fd
	var self omapi.Ref
	if status := self.Acquire(c); status != omapi.StatusSuccess {
		return status
	}
	defer self.Release()
	if owner != nil {
		if status := omapi.Link(c, owner); status != omapi.StatusSuccess {
			c.closeFD()
			return status
		}
	}
	c.local = localAddr(fd)
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remote = addrPortOf(sa)
	}
	c.setState(StateConnected)
	if status := c.register(); status != omapi.StatusSuccess {
		c.closeFD()
		c.setState(StateClosed)
		return status
	}
	return out.Acquire(c)
}

func (c *Connection) register() omapi.Status {
	if status := c.io.RegisterIO(c); status != omapi.StatusSuccess {
		return status
	}
	c.registered = true
	return omapi.StatusSuccess
}

func (c *Connection) closeFD() {
	if c.fd < 0 {
		return
	}
	if err := unix.Close(c.fd); err != nil {
		log.Debug().Err(err).Int("fd", c.fd).Msg("close failed")
	}
	c.fd = -1
}

// Disconnect closes the connection. A graceful disconnect half-closes the
// socket first and, while output is still queued, only moves to
// StateDisconnecting; the reaper finishes the close once the queue drains.
// A forced disconnect closes at once. Reaching StateClosed raises exactly
// one Disconnect signal down the chain.
func (c *Connection) Disconnect(force bool) omapi.Status {
	if c.state == StateClosed {
		return omapi.StatusSuccess
	}
	if !force {
		if c.state == StateDisconnecting {
			return omapi.StatusSuccess
		}
		if c.fd >= 0 {
			if err := unix.Shutdown(c.fd, unix.SHUT_RD); err == nil && c.outBytes > 0 {
				c.setState(StateDisconnecting)
				return omapi.StatusSuccess
			}
		}
	}

	// Hold c while the registration is dropped and the signal runs.
	var self omapi.Ref
	if !c.Destroying() {
		self.Acquire(c)
	}
	defer self.Release()

	c.closeFD()
	c.setState(StateClosed)
	if c.registered {
		c.registered = false
		if status := c.io.UnregisterIO(c); !status.OK() {
			log.Warn().Stringer("status", status).Msg("unregister connection failed")
		}
	}
	log.Info().Stringer("remote", c.remote).Bool("forced", force).Msg("disconnected")
	omapi.SendSignal(c, omapi.Disconnect{Conn: c})
	return omapi.StatusSuccess
}
