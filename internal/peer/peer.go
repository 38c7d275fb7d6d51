package peer

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/omapi/conn"
	"github.com/danmuck/omapi/internal/omapi/wire"
	"github.com/rs/zerolog/log"
)

// Scheduler runs fn on the dispatcher loop at or after at.
type Scheduler func(at time.Time, fn func())

type Deps struct {
	Conn     conn.Deps
	Schedule Scheduler
	Now      func() time.Time
	Rand     *rand.Rand
}

// Kind is the handler behind the "peer" type.
type Kind struct {
	typ  *omapi.Type
	deps Deps
}

// Setup registers the "peer" type.
func Setup(reg *omapi.Registry, deps Deps) *Kind {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	k := &Kind{deps: deps}
	k.typ = reg.MustRegister("peer", k)
	return k
}

func (k *Kind) Type() *omapi.Type { return k.typ }

// Peer keeps one outbound connection to a remote OMAPI endpoint alive.
// On every connect it writes the announced object's values, followed by
// an end marker.
type Peer struct {
	omapi.Header

	kind      *Kind
	cfg       Config
	conn      omapi.Ref
	announce  omapi.Ref
	connected bool
	stopped   bool
	// attempts counts consecutive failed dials.
	attempts int
	// gen invalidates reconnects scheduled before a Stop or Start.
	gen int
}

// New stores a stopped peer for cfg in out.
func (k *Kind) New(out *omapi.Ref, cfg Config) omapi.Status {
	if cfg.Host == "" || cfg.Port <= 0 {
		return omapi.StatusInvalidArgument
	}
	return out.Acquire(&Peer{Header: omapi.NewHeader(k.typ), kind: k, cfg: cfg, stopped: true})
}

func (p *Peer) Connected() bool { return p.connected }

func (p *Peer) Attempts() int { return p.attempts }

// Conn returns the live connection, if any.
func (p *Peer) Conn() *conn.Connection {
	c, _ := p.conn.Get().(*conn.Connection)
	return c
}

// Announce sets the object whose values are sent on connect.
func (p *Peer) Announce(obj omapi.Object) omapi.Status {
	if obj == nil {
		return p.announce.Release()
	}
	return p.announce.Acquire(obj)
}

// Start dials now. Failures are retried with backoff.
func (p *Peer) Start() omapi.Status {
	if !p.stopped {
		return omapi.StatusUnchanged
	}
	p.stopped = false
	p.gen++
	return p.dial()
}

// Stop cancels pending reconnects and force-closes the connection.
func (p *Peer) Stop() omapi.Status {
	if p.stopped {
		return omapi.StatusUnchanged
	}
	p.stopped = true
	p.gen++
	if c := p.Conn(); c != nil {
		return c.Disconnect(true)
	}
	return omapi.StatusSuccess
}

func (p *Peer) dial() omapi.Status {
	if p.stopped || !p.conn.Empty() {
		return omapi.StatusSuccess
	}
	ctx := context.Background()
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	status := conn.Connect(ctx, p.kind.deps.Conn, p, p.cfg.Host, p.cfg.Port, &p.conn)
	if status == omapi.StatusSuccess {
		return status
	}
	p.attempts++
	log.Warn().
		Str("host", p.cfg.Host).
		Int("port", p.cfg.Port).
		Int("attempt", p.attempts).
		Stringer("status", status).
		Msg("peer connect failed")
	p.scheduleReconnect()
	return status
}

func (p *Peer) scheduleReconnect() {
	if p.stopped {
		return
	}
	if p.cfg.MaxAttempts > 0 && p.attempts >= p.cfg.MaxAttempts {
		log.Error().Str("host", p.cfg.Host).Int("attempts", p.attempts).Msg("peer giving up")
		p.stopped = true
		return
	}
	if p.kind.deps.Schedule == nil {
		return
	}
	delay := NextBackoffDelay(p.cfg.Backoff, p.attempts, p.kind.deps.Rand)
	gen := p.gen
	var self omapi.Ref
	if status := self.Acquire(p); status != omapi.StatusSuccess {
		return
	}
	p.kind.deps.Schedule(p.kind.deps.Now().Add(delay), func() {
		defer self.Release()
		if gen != p.gen || p.stopped {
			return
		}
		p.dial()
	})
	log.Debug().Str("host", p.cfg.Host).Dur("delay", delay).Msg("peer reconnect scheduled")
}

func (p *Peer) onConnect(c omapi.Object) omapi.Status {
	p.connected = true
	p.attempts = 0
	log.Info().Str("host", p.cfg.Host).Int("port", p.cfg.Port).Msg("peer connected")
	obj := p.announce.Get()
	if obj == nil {
		return omapi.StatusSuccess
	}
	cn, ok := c.(*conn.Connection)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if status := omapi.StuffValues(cn, p, obj); status != omapi.StatusSuccess {
		log.Warn().Stringer("status", status).Msg("peer announce failed")
		return status
	}
	return cn.CopyIn(wire.AppendEnd(nil))
}

func (p *Peer) onDisconnect() omapi.Status {
	wasConnected := p.connected
	p.connected = false
	p.conn.Release()
	if wasConnected {
		log.Info().Str("host", p.cfg.Host).Msg("peer disconnected")
	}
	if !p.stopped {
		p.scheduleReconnect()
	}
	return omapi.StatusSuccess
}

func (k *Kind) peer(obj omapi.Object) (*Peer, bool) {
	p, ok := obj.(*Peer)
	if !ok || omapi.TypeOf(obj) != k.typ {
		return nil, false
	}
	return p, true
}

func (k *Kind) SetValue(obj, _ omapi.Object, name string, value *omapi.TypedData) omapi.Status {
	p, ok := k.peer(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	switch name {
	case "host":
		host, ok := value.Text()
		if !ok || host == "" {
			return omapi.StatusInvalidArgument
		}
		if host == p.cfg.Host {
			return omapi.StatusUnchanged
		}
		p.cfg.Host = host
		return omapi.StatusSuccess
	case "port":
		if value == nil || value.Type != omapi.DatatypeInt || value.Int <= 0 || value.Int > 0xffff {
			return omapi.StatusInvalidArgument
		}
		if int(value.Int) == p.cfg.Port {
			return omapi.StatusUnchanged
		}
		p.cfg.Port = int(value.Int)
		return omapi.StatusSuccess
	}
	return omapi.StatusNotFound
}

func (k *Kind) GetValue(obj, _ omapi.Object, name string) (*omapi.Value, omapi.Status) {
	p, ok := k.peer(obj)
	if !ok {
		return nil, omapi.StatusInvalidArgument
	}
	switch name {
	case "host":
		return &omapi.Value{Name: name, Value: omapi.NewString(p.cfg.Host)}, omapi.StatusSuccess
	case "port":
		return &omapi.Value{Name: name, Value: omapi.NewInt(int32(p.cfg.Port))}, omapi.StatusSuccess
	case "connected":
		return &omapi.Value{Name: name, Value: omapi.NewInt(boolInt(p.connected))}, omapi.StatusSuccess
	}
	return nil, omapi.StatusNotFound
}

func (k *Kind) Destroy(obj omapi.Object) omapi.Status {
	p, ok := k.peer(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	p.stopped = true
	p.gen++
	p.conn.Release()
	p.announce.Release()
	return omapi.StatusSuccess
}

func (k *Kind) SignalHandler(obj omapi.Object, sig omapi.Signal) omapi.Status {
	p, ok := k.peer(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	switch s := sig.(type) {
	case omapi.Connect:
		return p.onConnect(s.Conn)
	case omapi.Disconnect:
		return p.onDisconnect()
	}
	return omapi.StatusNotFound
}

func (k *Kind) StuffValues(w omapi.ValueWriter, _ omapi.Object, obj omapi.Object) omapi.Status {
	p, ok := k.peer(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	for _, v := range []omapi.Value{
		{Name: "host", Value: omapi.NewString(p.cfg.Host)},
		{Name: "port", Value: omapi.NewInt(int32(p.cfg.Port))},
		{Name: "connected", Value: omapi.NewInt(boolInt(p.connected))},
	} {
		if status := w.PutName(v.Name); status != omapi.StatusSuccess {
			return status
		}
		if status := w.PutTypedData(v.Value); status != omapi.StatusSuccess {
			return status
		}
	}
	return omapi.StatusSuccess
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Addr renders the configured endpoint.
func (p *Peer) Addr() string {
	return p.cfg.Host + ":" + strconv.Itoa(p.cfg.Port)
}
