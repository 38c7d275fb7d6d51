package server

import (
	"github.com/danmuck/omapi/internal/dhclient"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/omapi/conn"
	"github.com/danmuck/omapi/internal/omapi/wire"
	"github.com/rs/zerolog/log"
)

// greeter owns the OMAPI listener. Every accepted connection receives one
// value per listed interface (name = interface name, value = state),
// followed by an end marker. The peer announces the same object.
type greeter struct {
	omapi.Header
}

type greeterKind struct {
	typ    *omapi.Type
	ifaces *dhclient.Kind
}

func setupGreeter(reg *omapi.Registry, ifaces *dhclient.Kind) *greeterKind {
	k := &greeterKind{ifaces: ifaces}
	k.typ = reg.MustRegister("greeter", k)
	return k
}

func (k *greeterKind) New(out *omapi.Ref) omapi.Status {
	return out.Acquire(&greeter{Header: omapi.NewHeader(k.typ)})
}

func (k *greeterKind) SetValue(omapi.Object, omapi.Object, string, *omapi.TypedData) omapi.Status {
	return omapi.StatusNotFound
}

func (k *greeterKind) GetValue(omapi.Object, omapi.Object, string) (*omapi.Value, omapi.Status) {
	return nil, omapi.StatusNotFound
}

func (k *greeterKind) Destroy(omapi.Object) omapi.Status {
	return omapi.StatusSuccess
}

func (k *greeterKind) SignalHandler(obj omapi.Object, sig omapi.Signal) omapi.Status {
	s, ok := sig.(omapi.Connect)
	if !ok {
		return omapi.StatusNotFound
	}
	c, ok := s.Conn.(*conn.Connection)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if status := omapi.StuffValues(c, nil, obj); status != omapi.StatusSuccess {
		log.Warn().Stringer("status", status).Stringer("remote", c.RemoteAddr()).Msg("greeting failed")
		return status
	}
	log.Debug().Stringer("remote", c.RemoteAddr()).Msg("greeted connection")
	return c.CopyIn(wire.AppendEnd(nil))
}

func (k *greeterKind) StuffValues(w omapi.ValueWriter, _ omapi.Object, _ omapi.Object) omapi.Status {
	status := omapi.StatusSuccess
	k.ifaces.Interfaces().Each(func(ip *dhclient.Interface) bool {
		state := "down"
		if ip.Up() {
			state = "up"
		}
		if status = w.PutName(ip.Name()); status != omapi.StatusSuccess {
			return false
		}
		status = w.PutString(state)
		return status == omapi.StatusSuccess
	})
	return status
}
