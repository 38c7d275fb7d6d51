package conn

import (
	"net/netip"

	"github.com/danmuck/omapi/internal/omapi"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const listenBacklog = 128

// Listener accepts inbound connections. Each accepted connection holds a
// reference to its listener and is announced with a Connect signal down
// the listener's chain.
type Listener struct {
	omapi.Header

	fd         int
	addr       netip.AddrPort
	deps       Deps
	accepted   int
	closed     bool
	registered bool
}

func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Accepted reports how many connections this listener has produced.
func (l *Listener) Accepted() int { return l.accepted }

// Listen binds addr:port for owner and stores the listener in out. An
// empty addr listens on all IPv4 addresses; port 0 picks a free port.
func Listen(deps Deps, owner omapi.Object, addr string, port int, out *omapi.Ref) omapi.Status {
	if !deps.valid() || deps.Kinds.Listener == nil || out == nil || port < 0 || port > 0xffff {
		return omapi.StatusInvalidArgument
	}
	ip := netip.IPv4Unspecified()
	if addr != "" {
		parsed, err := netip.ParseAddr(addr)
		if err != nil {
			return omapi.StatusInvalidArgument
		}
		ip = parsed
	}

	l := &Listener{Header: omapi.NewHeader(deps.Kinds.Listener), fd: -1, deps: deps}
	var self omapi.Ref
	if status := self.Acquire(l); status != omapi.StatusSuccess {
		return status
	}
	defer self.Release()
	if owner != nil {
		if status := omapi.Link(l, owner); status != omapi.StatusSuccess {
			return status
		}
	}

	sa, family := sockaddrOf(netip.AddrPortFrom(ip, uint16(port)))
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		log.Error().Err(err).Msg("listener socket failed")
		return statusFromErr(err)
	}
	l.fd = fd
	unix.CloseOnExec(fd)
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		log.Debug().Err(err).Msg("SO_REUSEADDR failed")
	}
	if err := unix.Bind(fd, sa); err != nil {
		log.Error().Err(err).Str("addr", addr).Int("port", port).Msg("listener bind failed")
		return statusFromErr(err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		log.Error().Err(err).Msg("listen failed")
		return statusFromErr(err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return omapi.StatusUnexpected
	}
	l.addr = localAddr(fd)

	if status := deps.IO.RegisterIO(l); status != omapi.StatusSuccess {
		return status
	}
	l.registered = true
	log.Info().Stringer("addr", l.addr).Msg("listening")
	return out.Acquire(l)
}

func (l *Listener) ReadFD() (int, bool) {
	if l.closed || l.fd < 0 {
		return -1, false
	}
	return l.fd, true
}

func (l *Listener) WriteFD() (int, bool) { return -1, false }

// Reader accepts one pending connection.
func (l *Listener) Reader() omapi.Status {
	if l.closed {
		return omapi.StatusNotConnected
	}
	nfd, _, err := unix.Accept(l.fd)
	if err != nil {
		if temporary(err) || err == unix.ECONNABORTED {
			return omapi.StatusSuccess
		}
		log.Warn().Err(err).Stringer("addr", l.addr).Msg("accept failed")
		return statusFromErr(err)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return omapi.StatusUnexpected
	}

	var ref omapi.Ref
	if status := adopt(l.deps, nil, nfd, &ref); status != omapi.StatusSuccess {
		return status
	}
	defer ref.Release()
	c := ref.Get().(*Connection)
	if status := c.listener.Acquire(l); status != omapi.StatusSuccess {
		c.Disconnect(true)
		return status
	}
	l.accepted++
	log.Info().Stringer("remote", c.remote).Stringer("addr", l.addr).Msg("accepted connection")
	omapi.SendSignal(l, omapi.Connect{Conn: c})
	return omapi.StatusSuccess
}

func (l *Listener) Writer() omapi.Status { return omapi.StatusSuccess }

func (l *Listener) Reaper() omapi.Status {
	if l.closed {
		return omapi.StatusNotConnected
	}
	return omapi.StatusSuccess
}

// Close stops accepting and drops the dispatcher registration.
func (l *Listener) Close() omapi.Status {
	if l.closed {
		return omapi.StatusSuccess
	}
	var self omapi.Ref
	if !l.Destroying() {
		self.Acquire(l)
	}
	defer self.Release()
	l.closed = true
	if l.fd >= 0 {
		unix.Close(l.fd)
		l.fd = -1
	}
	if l.registered {
		l.registered = false
		l.deps.IO.UnregisterIO(l)
	}
	log.Info().Stringer("addr", l.addr).Msg("listener closed")
	return omapi.StatusSuccess
}

type listenerKind struct{}

func (listenerKind) SetValue(obj, _ omapi.Object, _ string, _ *omapi.TypedData) omapi.Status {
	if _, ok := obj.(*Listener); !ok {
		return omapi.StatusInvalidArgument
	}
	return omapi.StatusNotFound
}

func (listenerKind) GetValue(obj, _ omapi.Object, name string) (*omapi.Value, omapi.Status) {
	l, ok := obj.(*Listener)
	if !ok {
		return nil, omapi.StatusInvalidArgument
	}
	if name == "local-address" {
		return &omapi.Value{Name: name, Value: omapi.NewString(l.addr.String())}, omapi.StatusSuccess
	}
	return nil, omapi.StatusNotFound
}

func (listenerKind) Destroy(obj omapi.Object) omapi.Status {
	l, ok := obj.(*Listener)
	if !ok {
		return omapi.StatusUnexpected
	}
	return l.Close()
}

func (listenerKind) SignalHandler(obj omapi.Object, _ omapi.Signal) omapi.Status {
	if _, ok := obj.(*Listener); !ok {
		return omapi.StatusInvalidArgument
	}
	return omapi.StatusNotFound
}

func (listenerKind) StuffValues(w omapi.ValueWriter, _ omapi.Object, obj omapi.Object) omapi.Status {
	l, ok := obj.(*Listener)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if status := w.PutName("local-address"); status != omapi.StatusSuccess {
		return status
	}
	return w.PutString(l.addr.String())
}
