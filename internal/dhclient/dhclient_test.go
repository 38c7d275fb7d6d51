package dhclient

import (
	"context"
	"errors"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/testutil/testlog"
)

type fakeDiscoverer struct {
	links []Link
	err   error
	modes []DiscoverMode
}

func (f *fakeDiscoverer) Discover(mode DiscoverMode) ([]Link, error) {
	f.modes = append(f.modes, mode)
	return f.links, f.err
}

type scriptCall struct {
	iface  string
	reason string
}

type fakeScripts struct {
	calls []scriptCall
	err   error
}

func (f *fakeScripts) Run(_ context.Context, client *ClientState, reason string) error {
	f.calls = append(f.calls, scriptCall{iface: client.Interface.Name(), reason: reason})
	return f.err
}

type scheduled struct {
	at time.Time
	fn func()
}

type env struct {
	reg      *omapi.Registry
	kind     *Kind
	generic  *omapi.GenericKind
	handles  *omapi.HandleTable
	disc     *fakeDiscoverer
	scripts  *fakeScripts
	timers   []scheduled
	rebooted []*ClientState
	now      time.Time
}

func newEnv(t *testing.T, requested bool) *env {
	t.Helper()
	testlog.Start(t)
	e := &env{
		reg:     omapi.NewRegistry(),
		handles: omapi.NewHandleTable(),
		disc:    &fakeDiscoverer{},
		scripts: &fakeScripts{},
		now:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	e.generic = omapi.SetupGeneric(e.reg)
	e.kind = Setup(e.reg, Deps{
		Handles:    e.handles,
		Discoverer: e.disc,
		Scripts:    e.scripts,
		Schedule: func(at time.Time, fn func()) {
			e.timers = append(e.timers, scheduled{at: at, fn: fn})
		},
		Reboot:              func(c *ClientState) { e.rebooted = append(e.rebooted, c) },
		InterfacesRequested: requested,
		Now:                 func() time.Time { return e.now },
		Rand:                rand.New(rand.NewSource(1)),
	})
	t.Cleanup(e.kind.Interfaces().Clear)
	return e
}

// listed creates an interface, puts it on the list and drops the local reference.
func (e *env) listed(t *testing.T, name string, flags Flags) *Interface {
	t.Helper()
	var ref omapi.Ref
	if status := e.kind.NewInterface(&ref, name, flags); status != omapi.StatusSuccess {
		t.Fatalf("new interface: %v", status)
	}
	defer ref.Release()
	iface := ref.Get().(*Interface)
	if status := e.kind.Interfaces().Add(iface); status != omapi.StatusSuccess {
		t.Fatalf("add %s: %v", name, status)
	}
	return iface
}

func (e *env) query(t *testing.T, values map[string]*omapi.TypedData) *omapi.Ref {
	t.Helper()
	ref := &omapi.Ref{}
	e.generic.New(ref)
	for name, v := range values {
		if status := omapi.SetValue(ref.Get(), nil, name, v); status != omapi.StatusSuccess {
			t.Fatalf("set %s: %v", name, status)
		}
	}
	t.Cleanup(func() { ref.Release() })
	return ref
}

func TestLookupByNameAndHandle(t *testing.T) {
	e := newEnv(t, false)
	eth0 := e.listed(t, "eth0", FlagRequested)
	eth1 := e.listed(t, "eth1", FlagRequested)
	h1, _ := e.handles.Assign(eth1)
	defer e.handles.Remove(h1)

	var out omapi.Ref
	q := e.query(t, map[string]*omapi.TypedData{"name": omapi.NewString("eth0")})
	if status := e.kind.Type().Lookup(&out, nil, q.Get()); status != omapi.StatusSuccess {
		t.Fatalf("lookup eth0: %v", status)
	}
	if out.Get() != omapi.Object(eth0) {
		t.Fatalf("lookup returned the wrong interface")
	}
	if eth0.Refcount() != 2 {
		t.Fatalf("lookup must return a counted reference, refcount %d", eth0.Refcount())
	}
	out.Release()

	q = e.query(t, map[string]*omapi.TypedData{"name": omapi.NewString("eth2")})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusNotFound {
		t.Fatalf("lookup eth2: expected not found, got %v", status)
	}

	q = e.query(t, map[string]*omapi.TypedData{
		"handle": omapi.NewInt(int32(h1)),
		"name":   omapi.NewString("eth0"),
	})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusKeyConflict {
		t.Fatalf("handle/name disagreement: expected key conflict, got %v", status)
	}
	if !out.Empty() {
		t.Fatalf("failed lookup must not store a result")
	}
	if eth1.Refcount() != 2 {
		t.Fatalf("failed lookup leaked a reference, refcount %d", eth1.Refcount())
	}

	q = e.query(t, map[string]*omapi.TypedData{"handle": omapi.NewInt(int32(h1))})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusSuccess || out.Get() != omapi.Object(eth1) {
		t.Fatalf("lookup by handle: %v", status)
	}
	out.Release()

	q = e.query(t, map[string]*omapi.TypedData{
		"handle": omapi.NewInt(int32(h1)),
		"name":   omapi.NewString("eth1"),
	})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusSuccess {
		t.Fatalf("agreeing keys: %v", status)
	}
	out.Release()
}

func TestLookupKeyErrors(t *testing.T) {
	e := newEnv(t, false)
	e.listed(t, "eth0", FlagRequested)

	var out omapi.Ref
	q := e.query(t, map[string]*omapi.TypedData{"other": omapi.NewString("x")})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusNoKeysSpecified {
		t.Fatalf("no keys: expected no keys specified, got %v", status)
	}

	// A handle naming an object of another kind is rejected.
	other := e.query(t, nil)
	h, _ := e.handles.Assign(other.Get())
	defer e.handles.Remove(h)
	q = e.query(t, map[string]*omapi.TypedData{"handle": omapi.NewInt(int32(h))})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusInvalidArgument {
		t.Fatalf("wrong type: expected invalid argument, got %v", status)
	}

	q = e.query(t, map[string]*omapi.TypedData{"handle": omapi.NewInt(9999)})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusNotFound {
		t.Fatalf("unknown handle: expected not found, got %v", status)
	}

	q = e.query(t, map[string]*omapi.TypedData{"name": omapi.NewInt(3)})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusInvalidArgument {
		t.Fatalf("int name: expected invalid argument, got %v", status)
	}
}

// countingWriter fails the test on any write after the first value.
type countingWriter struct {
	omapi.ValueRecorder
	names int
}

func (w *countingWriter) PutName(name string) omapi.Status {
	w.names++
	return w.ValueRecorder.PutName(name)
}

func TestStuffValuesRequestedWritesStateOnce(t *testing.T) {
	e := newEnv(t, false)
	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()

	var w countingWriter
	if status := omapi.StuffValues(&w, nil, ref.Get()); status != omapi.StatusSuccess {
		t.Fatalf("stuff: %v", status)
	}
	if w.names != 1 || len(w.Values) != 1 {
		t.Fatalf("expected exactly one value, got %+v", w.Values)
	}
	if v := w.Values[0]; v.Name != "state" {
		t.Fatalf("expected state, got %q", v.Name)
	} else if s, _ := v.Value.Text(); s != "up" {
		t.Fatalf("expected up, got %q", s)
	}

	var down omapi.Ref
	e.kind.NewInterface(&down, "eth1", FlagAutomatic)
	defer down.Release()
	var rec omapi.ValueRecorder
	omapi.StuffValues(&rec, nil, down.Get())
	if rec.Map()["state"] != "down" {
		t.Fatalf("unrequested interface should be down, got %v", rec.Map())
	}
}

func TestSetAndGetValues(t *testing.T) {
	e := newEnv(t, false)
	var ref omapi.Ref
	if status := e.kind.Type().Create(&ref, nil); status != omapi.StatusSuccess {
		t.Fatalf("create: %v", status)
	}
	defer ref.Release()
	iface := ref.Get().(*Interface)
	if iface.Flags() != FlagRequested {
		t.Fatalf("created interface should be requested, got %v", iface.Flags())
	}

	if status := omapi.SetValue(iface, nil, "name", omapi.NewData([]byte("eth3"))); status != omapi.StatusSuccess {
		t.Fatalf("set name: %v", status)
	}
	if status := omapi.SetValue(iface, nil, "name", omapi.NewString("eth3")); status != omapi.StatusUnchanged {
		t.Fatalf("same name: expected unchanged, got %v", status)
	}
	if status := omapi.SetValue(iface, nil, "name", omapi.NewInt(1)); status != omapi.StatusInvalidArgument {
		t.Fatalf("int name: expected invalid argument, got %v", status)
	}
	if status := omapi.SetValue(iface, nil, "mtu", omapi.NewInt(1500)); status != omapi.StatusNotFound {
		t.Fatalf("unknown key without inner: expected not found, got %v", status)
	}

	d, status := omapi.GetValueStr(iface, nil, "state")
	if s, _ := d.Text(); status != omapi.StatusSuccess || s != "up" {
		t.Fatalf("get state: %q %v", s, status)
	}
	if status := e.kind.Type().Remove(iface, nil); status != omapi.StatusNotImplemented {
		t.Fatalf("remove: expected not implemented, got %v", status)
	}
}

func TestUnknownKeyWithInnerStillNotFound(t *testing.T) {
	e := newEnv(t, false)
	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()

	var second omapi.Ref
	e.kind.NewInterface(&second, "eth1", 0)
	defer second.Release()
	if status := omapi.Link(ref.Get(), second.Get()); status != omapi.StatusSuccess {
		t.Fatalf("link: %v", status)
	}
	if status := omapi.SetValue(ref.Get(), nil, "mtu", omapi.NewInt(1500)); status != omapi.StatusNotFound {
		t.Fatalf("expected not found through the chain, got %v", status)
	}

	var rec omapi.ValueRecorder
	omapi.StuffValues(&rec, nil, ref.Get())
	if len(rec.Values) != 2 {
		t.Fatalf("stuffing is additive across the chain, got %+v", rec.Values)
	}
}

func TestUpdateRunsPreinitAndSchedulesReboot(t *testing.T) {
	e := newEnv(t, false)
	e.disc.links = []Link{{Name: "eth0", Index: 2, Broadcast: true, Up: true}}
	running := e.listed(t, "eth9", FlagRequested|FlagRunning)

	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()
	iface := ref.Get().(*Interface)
	iface.AddClient(netip.MustParsePrefix("10.0.0.5/24"))

	if status := omapi.SendSignal(iface, omapi.Update{}); status != omapi.StatusSuccess {
		t.Fatalf("update: %v", status)
	}
	if e.kind.Interfaces().Len() != 2 {
		t.Fatalf("updated interface should join the list")
	}
	if len(e.disc.modes) != 2 || e.disc.modes[0] != DiscoverUnconfigured || e.disc.modes[1] != DiscoverRunning {
		t.Fatalf("unexpected discovery modes %v", e.disc.modes)
	}
	if len(e.scripts.calls) != 1 || e.scripts.calls[0] != (scriptCall{iface: "eth0", reason: "PREINIT"}) {
		t.Fatalf("unexpected script calls %+v", e.scripts.calls)
	}
	if link, ok := iface.Link(); !ok || link.Index != 2 {
		t.Fatalf("discovery data not applied")
	}
	if iface.Flags()&FlagRunning == 0 {
		t.Fatalf("interface should be running")
	}
	if len(e.timers) != 2 {
		t.Fatalf("expected a reboot per client state, got %d", len(e.timers))
	}
	for _, tm := range e.timers {
		if tm.at.Before(e.now) || !tm.at.Before(e.now.Add(rebootSpread)) {
			t.Fatalf("reboot scheduled outside the spread: %v", tm.at)
		}
		tm.fn()
	}
	if len(e.rebooted) != 2 || e.rebooted[0].Interface != iface {
		t.Fatalf("reboots not delivered: %d", len(e.rebooted))
	}
	if running.Clients()[0].Phase != PhaseIdle {
		t.Fatalf("already running interface should be left alone")
	}

	// A second update finds nothing new to start.
	e.timers = nil
	omapi.SendSignal(iface, omapi.Update{})
	if len(e.timers) != 0 || len(e.scripts.calls) != 1 {
		t.Fatalf("second update should not restart running interfaces")
	}
}

func TestUpdateRequestedModeDropsUnrequested(t *testing.T) {
	e := newEnv(t, true)
	auto := e.listed(t, "eth5", FlagAutomatic)
	e.scripts.err = errors.New("script failed")

	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()

	if status := omapi.SendSignal(ref.Get(), omapi.Update{}); status != omapi.StatusSuccess {
		t.Fatalf("update: %v", status)
	}
	if e.disc.modes[1] != DiscoverRequested {
		t.Fatalf("expected requested discovery, got %v", e.disc.modes)
	}
	if _, ok := e.kind.Interfaces().Find("eth5"); ok {
		t.Fatalf("automatic interface should leave the list in requested mode")
	}
	if !auto.Destroying() {
		t.Fatalf("dropped interface should be released")
	}
	if len(e.timers) != 1 {
		t.Fatalf("only the requested interface should start, got %d timers", len(e.timers))
	}
}

func TestAutoAddListsBroadcastInterfaces(t *testing.T) {
	e := newEnv(t, false)
	e.kind.deps.AutoAdd = true
	e.disc.links = []Link{
		{Name: "lo", Loopback: true, Up: true},
		{Name: "eth0", Broadcast: true, Up: true},
		{Name: "wlan0", Broadcast: true, Up: true},
	}
	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()

	omapi.SendSignal(ref.Get(), omapi.Update{})
	wlan, ok := e.kind.Interfaces().Find("wlan0")
	if !ok || wlan.Flags()&FlagAutomatic == 0 {
		t.Fatalf("wlan0 should be added as automatic")
	}
	if _, ok := e.kind.Interfaces().Find("lo"); ok {
		t.Fatalf("loopback must not be added")
	}
	if len(e.scripts.calls) != 1 {
		t.Fatalf("automatic interfaces skip PREINIT, got %+v", e.scripts.calls)
	}
}

func TestOtherSignalsFallThrough(t *testing.T) {
	e := newEnv(t, false)
	var ref omapi.Ref
	e.kind.NewInterface(&ref, "eth0", FlagRequested)
	defer ref.Release()
	if status := omapi.SendSignal(ref.Get(), omapi.Ready{}); status != omapi.StatusNotFound {
		t.Fatalf("expected not found, got %v", status)
	}
	if e.kind.Interfaces().Len() != 0 {
		t.Fatalf("non-update signals must not list the interface")
	}
}

func TestScriptEnv(t *testing.T) {
	iface := &Interface{name: "eth0"}
	c := &ClientState{Interface: iface, Alias: netip.MustParsePrefix("192.0.2.10/24")}
	got := ScriptEnv(c, "PREINIT")
	want := []string{
		"reason=PREINIT",
		"interface=eth0",
		"alias_ip_address=192.0.2.10",
		"alias_subnet_mask=255.255.255.0",
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected env %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("env[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLookupNameMatchesListedPrefix(t *testing.T) {
	e := newEnv(t, false)
	eth0 := e.listed(t, "eth0", FlagRequested)
	e.listed(t, "eth1", FlagRequested)

	var out omapi.Ref
	q := e.query(t, map[string]*omapi.TypedData{"name": omapi.NewString("eth")})
	if status := e.kind.Lookup(&out, nil, q.Get()); status != omapi.StatusSuccess {
		t.Fatalf("lookup eth: %v", status)
	}
	defer out.Release()
	if out.Get() != omapi.Object(eth0) {
		t.Fatalf("prefix lookup should resolve to the first listed match")
	}

	q = e.query(t, map[string]*omapi.TypedData{"name": omapi.NewString("eth01")})
	var miss omapi.Ref
	if status := e.kind.Lookup(&miss, nil, q.Get()); status != omapi.StatusNotFound {
		t.Fatalf("longer query than any name: expected not found, got %v", status)
	}
	if iface, ok := e.kind.Interfaces().Find("eth"); ok {
		t.Fatalf("Find must stay exact, got %s", iface.Name())
	}
}
