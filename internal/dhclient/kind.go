package dhclient

import (
	"context"
	"math/rand"
	"time"

	"github.com/danmuck/omapi/internal/omapi"
	"github.com/rs/zerolog/log"
)

// Scheduler runs fn on the dispatcher loop at or after at.
type Scheduler func(at time.Time, fn func())

// RebootFunc starts the lease engine for one client state.
type RebootFunc func(client *ClientState)

// rebootSpread bounds the random delay before a client state reboots.
const rebootSpread = 5 * time.Second

type Deps struct {
	Interfaces *Interfaces
	Handles    *omapi.HandleTable
	Discoverer Discoverer
	Scripts    ScriptRunner
	Schedule   Scheduler
	Reboot     RebootFunc
	// InterfacesRequested limits configuration to requested interfaces.
	InterfacesRequested bool
	// AutoAdd puts unlisted broadcast interfaces on the list as automatic.
	AutoAdd bool
	Now     func() time.Time
	Rand    *rand.Rand
}

// Kind is the handler behind the "interface" type.
type Kind struct {
	typ  *omapi.Type
	deps Deps
}

// Setup registers the "interface" type. Registration failure is fatal.
func Setup(reg *omapi.Registry, deps Deps) *Kind {
	if deps.Interfaces == nil {
		deps.Interfaces = NewInterfaces()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if deps.Reboot == nil {
		deps.Reboot = defaultReboot
	}
	k := &Kind{deps: deps}
	k.typ = reg.MustRegister("interface", k)
	return k
}

func (k *Kind) Type() *omapi.Type { return k.typ }

func (k *Kind) Interfaces() *Interfaces { return k.deps.Interfaces }

// NewInterface stores a new, unlisted interface in out.
func (k *Kind) NewInterface(out *omapi.Ref, name string, flags Flags) omapi.Status {
	return out.Acquire(newInterface(k.typ, name, flags))
}

func (k *Kind) iface(obj omapi.Object) (*Interface, bool) {
	i, ok := obj.(*Interface)
	if !ok || omapi.TypeOf(obj) != k.typ {
		return nil, false
	}
	return i, true
}

func (k *Kind) SetValue(obj, _ omapi.Object, name string, value *omapi.TypedData) omapi.Status {
	iface, ok := k.iface(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if name != "name" {
		return omapi.StatusNotFound
	}
	s, ok := value.Text()
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if s == iface.name {
		return omapi.StatusUnchanged
	}
	iface.name = s
	return omapi.StatusSuccess
}

func (k *Kind) GetValue(obj, _ omapi.Object, name string) (*omapi.Value, omapi.Status) {
	iface, ok := k.iface(obj)
	if !ok {
		return nil, omapi.StatusInvalidArgument
	}
	switch name {
	case "name":
		return &omapi.Value{Name: name, Value: omapi.NewString(iface.name)}, omapi.StatusSuccess
	case "state":
		return &omapi.Value{Name: name, Value: omapi.NewString(iface.state())}, omapi.StatusSuccess
	case "flags":
		return &omapi.Value{Name: name, Value: omapi.NewInt(int32(iface.flags))}, omapi.StatusSuccess
	}
	return nil, omapi.StatusNotFound
}

func (k *Kind) Destroy(obj omapi.Object) omapi.Status {
	iface, ok := k.iface(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	for _, c := range iface.clients {
		c.Interface = nil
	}
	iface.clients = nil
	iface.link = nil
	return omapi.StatusSuccess
}

func (k *Kind) SignalHandler(obj omapi.Object, sig omapi.Signal) omapi.Status {
	iface, ok := k.iface(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if _, ok := sig.(omapi.Update); !ok {
		return omapi.StatusNotFound
	}
	return k.update(iface)
}

// StuffValues publishes "state" only; inner links add their own values.
func (k *Kind) StuffValues(w omapi.ValueWriter, _ omapi.Object, obj omapi.Object) omapi.Status {
	iface, ok := k.iface(obj)
	if !ok {
		return omapi.StatusInvalidArgument
	}
	if status := w.PutName("state"); status != omapi.StatusSuccess {
		return status
	}
	return w.PutString(iface.state())
}

// Lookup resolves a query by "handle" and then "name". When both are
// present they must name the same interface. A name matches the first
// listed interface it is a prefix of.
func (k *Kind) Lookup(out *omapi.Ref, id, query omapi.Object) omapi.Status {
	if out == nil || query == nil {
		return omapi.StatusInvalidArgument
	}
	var found omapi.Ref
	defer found.Release()

	if tv, status := omapi.GetValueStr(query, id, "handle"); status == omapi.StatusSuccess {
		if k.deps.Handles == nil {
			return omapi.StatusNotFound
		}
		if status := k.deps.Handles.LookupTypedData(&found, tv); status != omapi.StatusSuccess {
			return status
		}
		if omapi.TypeOf(found.Get()) != k.typ {
			return omapi.StatusInvalidArgument
		}
	}

	if nv, status := omapi.GetValueStr(query, id, "name"); status == omapi.StatusSuccess {
		name, ok := nv.Text()
		if !ok {
			return omapi.StatusInvalidArgument
		}
		var match omapi.Object
		if iface, ok := k.deps.Interfaces.FindPrefix(name); ok {
			match = iface
		}
		switch {
		case !found.Empty() && found.Get() != match:
			return omapi.StatusKeyConflict
		case match == nil:
			return omapi.StatusNotFound
		case found.Empty():
			if status := found.Acquire(match); status != omapi.StatusSuccess {
				return status
			}
		}
	}

	if found.Empty() {
		return omapi.StatusNoKeysSpecified
	}
	return out.Acquire(found.Get())
}

// Create returns a new requested interface. It joins the list on Update.
func (k *Kind) Create(out *omapi.Ref, _ omapi.Object) omapi.Status {
	if out == nil {
		return omapi.StatusInvalidArgument
	}
	return k.NewInterface(out, "", FlagRequested)
}

func (k *Kind) Remove(omapi.Object, omapi.Object) omapi.Status {
	return omapi.StatusNotImplemented
}

// update lists iface, runs PREINIT for requested interfaces that are not
// running yet and schedules a reboot for every client state of each
// interface that starts running.
func (k *Kind) update(iface *Interface) omapi.Status {
	list := k.deps.Interfaces
	if status := list.Add(iface); !status.OK() {
		return status
	}

	k.discover(DiscoverUnconfigured)

	list.Each(func(ip *Interface) bool {
		if ip.flags&FlagRunning != 0 || ip.flags&(FlagRequested|FlagAutomatic) != FlagRequested {
			return true
		}
		if k.deps.Scripts == nil || len(ip.clients) == 0 {
			return true
		}
		if err := k.deps.Scripts.Run(context.Background(), ip.clients[0], "PREINIT"); err != nil {
			log.Warn().Err(err).Str("interface", ip.name).Msg("PREINIT failed")
		}
		return true
	})

	if k.deps.InterfacesRequested {
		k.discover(DiscoverRequested)
	} else {
		k.discover(DiscoverRunning)
	}

	now := k.deps.Now()
	list.Each(func(ip *Interface) bool {
		if ip.flags&FlagRunning != 0 {
			return true
		}
		ip.flags |= FlagRunning
		log.Info().Str("interface", ip.name).Stringer("flags", ip.flags).Msg("interface running")
		for _, client := range ip.clients {
			client.Phase = PhaseInit
			k.scheduleReboot(now, client)
		}
		return true
	})
	return omapi.StatusSuccess
}

func (k *Kind) scheduleReboot(now time.Time, client *ClientState) {
	delay := time.Duration(k.deps.Rand.Int63n(int64(rebootSpread)))
	if k.deps.Schedule == nil {
		k.deps.Reboot(client)
		return
	}
	k.deps.Schedule(now.Add(delay), func() {
		if client.Interface == nil {
			return
		}
		k.deps.Reboot(client)
	})
}

func defaultReboot(client *ClientState) {
	client.Phase = PhaseRebooting
	name := ""
	if client.Interface != nil {
		name = client.Interface.name
	}
	log.Info().Str("interface", name).Msg("client rebooting")
}

// discover refreshes host data for listed interfaces. In requested mode
// interfaces nobody asked for leave the list.
func (k *Kind) discover(mode DiscoverMode) {
	if k.deps.Discoverer == nil {
		return
	}
	links, err := k.deps.Discoverer.Discover(mode)
	if err != nil {
		log.Warn().Err(err).Stringer("mode", mode).Msg("interface discovery failed")
		return
	}
	byName := make(map[string]Link, len(links))
	for _, l := range links {
		byName[l.Name] = l
	}

	list := k.deps.Interfaces
	var drop []*Interface
	list.Each(func(ip *Interface) bool {
		if l, ok := byName[ip.name]; ok {
			l := l
			ip.link = &l
			delete(byName, ip.name)
		} else if ip.flags&FlagRequested != 0 {
			log.Warn().Str("interface", ip.name).Stringer("mode", mode).Msg("requested interface not found on host")
		}
		if mode == DiscoverRequested && ip.flags&FlagRequested == 0 {
			drop = append(drop, ip)
		}
		return true
	})
	for _, ip := range drop {
		list.Remove(ip)
	}

	if mode != DiscoverUnconfigured || !k.deps.AutoAdd {
		return
	}
	for _, l := range links {
		if _, unlisted := byName[l.Name]; !unlisted || l.Loopback || !l.Broadcast {
			continue
		}
		l := l
		iface := newInterface(k.typ, l.Name, FlagAutomatic)
		iface.link = &l
		list.Add(iface)
		log.Debug().Str("interface", l.Name).Msg("automatic interface added")
	}
}
