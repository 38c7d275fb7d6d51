package dhclient

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/danmuck/omapi/internal/omapi"
)

// Flags describe why an interface is on the list and whether it runs.
type Flags uint32

const (
	FlagRequested Flags = 1 << iota
	FlagAutomatic
	FlagRunning
)

func (f Flags) String() string {
	out := ""
	for _, p := range []struct {
		bit  Flags
		name string
	}{{FlagRequested, "requested"}, {FlagAutomatic, "automatic"}, {FlagRunning, "running"}} {
		if f&p.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += p.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// ClientPhase is the coarse position of one client state.
type ClientPhase uint8

const (
	PhaseIdle ClientPhase = iota
	PhaseInit
	PhaseRebooting
)

func (p ClientPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInit:
		return "init"
	case PhaseRebooting:
		return "rebooting"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// ClientState is one address the client manages on an interface.
type ClientState struct {
	Interface *Interface
	Phase     ClientPhase
	// Alias is an extra address passed to scripts as alias_ parameters.
	Alias netip.Prefix
}

// Link is what discovery reports about a host interface.
type Link struct {
	Name         string
	Index        int
	MTU          int
	HardwareAddr net.HardwareAddr
	Up           bool
	Broadcast    bool
	Loopback     bool
}

// Interface is a network interface the client may configure.
type Interface struct {
	omapi.Header

	name    string
	flags   Flags
	clients []*ClientState
	link    *Link
}

func newInterface(t *omapi.Type, name string, flags Flags) *Interface {
	iface := &Interface{Header: omapi.NewHeader(t), name: name, flags: flags}
	iface.clients = []*ClientState{{Interface: iface}}
	return iface
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) Flags() Flags { return i.flags }

// Up reports whether the interface was requested.
func (i *Interface) Up() bool { return i.flags&FlagRequested != 0 }

func (i *Interface) Clients() []*ClientState { return i.clients }

// AddClient adds a client state carrying alias.
func (i *Interface) AddClient(alias netip.Prefix) *ClientState {
	c := &ClientState{Interface: i, Alias: alias}
	i.clients = append(i.clients, c)
	return c
}

// Link returns the last discovered host data, if any.
func (i *Interface) Link() (Link, bool) {
	if i.link == nil {
		return Link{}, false
	}
	return *i.link, true
}

func (i *Interface) state() string {
	if i.Up() {
		return "up"
	}
	return "down"
}
