package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/omapi/internal/omapi"
	"github.com/danmuck/omapi/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

type probe struct {
	omapi.Header
	fd        int
	pending   []byte
	reads     int
	writes    int
	reaps     int
	closed    bool
	panicRead bool
	destroyed bool
	onReap    func()
}

type probeKind struct{}

func (probeKind) SetValue(omapi.Object, omapi.Object, string, *omapi.TypedData) omapi.Status {
	return omapi.StatusNotFound
}

func (probeKind) GetValue(omapi.Object, omapi.Object, string) (*omapi.Value, omapi.Status) {
	return nil, omapi.StatusNotFound
}

func (probeKind) Destroy(obj omapi.Object) omapi.Status {
	obj.(*probe).destroyed = true
	return omapi.StatusSuccess
}

func (probeKind) SignalHandler(omapi.Object, omapi.Signal) omapi.Status {
	return omapi.StatusNotFound
}

func (probeKind) StuffValues(omapi.ValueWriter, omapi.Object, omapi.Object) omapi.Status {
	return omapi.StatusSuccess
}

func (p *probe) ReadFD() (int, bool) { return p.fd, !p.closed }

func (p *probe) WriteFD() (int, bool) { return p.fd, !p.closed && len(p.pending) > 0 }

func (p *probe) Reader() omapi.Status {
	if p.panicRead {
		panic("reader exploded")
	}
	buf := make([]byte, 64)
	n, err := unix.Read(p.fd, buf)
	if err == nil && n > 0 {
		p.reads++
	}
	return omapi.StatusSuccess
}

func (p *probe) Writer() omapi.Status {
	n, err := unix.Write(p.fd, p.pending)
	if err == nil {
		p.pending = p.pending[n:]
		p.writes++
	}
	return omapi.StatusSuccess
}

func (p *probe) Reaper() omapi.Status {
	p.reaps++
	if p.onReap != nil {
		p.onReap()
	}
	if p.closed {
		return omapi.StatusNotConnected
	}
	return omapi.StatusSuccess
}

func newProbe(t *testing.T, typ *omapi.Type) (*probe, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	unix.SetNonblock(fds[0], true)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return &probe{Header: omapi.NewHeader(typ), fd: fds[0]}, fds[1]
}

func setup(t *testing.T) (*Dispatcher, *omapi.Type) {
	t.Helper()
	testlog.Start(t)
	reg := omapi.NewRegistry()
	return New(Options{PollInterval: 10 * time.Millisecond}), reg.MustRegister("probe", probeKind{})
}

func TestDispatchCallsReaderAndWriter(t *testing.T) {
	d, typ := setup(t)
	p, peer := newProbe(t, typ)
	if status := d.RegisterIO(p); status != omapi.StatusSuccess {
		t.Fatalf("register: %v", status)
	}
	if status := d.RegisterIO(p); status != omapi.StatusUnchanged {
		t.Fatalf("second register: expected unchanged, got %v", status)
	}
	if p.Refcount() != 1 {
		t.Fatalf("dispatcher should hold one reference, got %d", p.Refcount())
	}

	unix.Write(peer, []byte("ping"))
	p.pending = []byte("pong")
	if err := d.Dispatch(time.Second); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if p.reads != 1 || p.writes != 1 || p.reaps != 1 {
		t.Fatalf("unexpected callback counts reads=%d writes=%d reaps=%d", p.reads, p.writes, p.reaps)
	}
	buf := make([]byte, 4)
	if n, _ := unix.Read(peer, buf); string(buf[:n]) != "pong" {
		t.Fatalf("peer read %q", buf[:n])
	}
}

func TestReaperNotConnectedDeregisters(t *testing.T) {
	d, typ := setup(t)
	p, _ := newProbe(t, typ)
	d.RegisterIO(p)

	p.closed = true
	if err := d.Dispatch(0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.Len() != 0 {
		t.Fatalf("closed object should be deregistered")
	}
	if !p.destroyed {
		t.Fatalf("dropping the last reference should destroy the object")
	}
}

func TestUnregisterDefersRelease(t *testing.T) {
	d, typ := setup(t)
	p, _ := newProbe(t, typ)
	d.RegisterIO(p)

	var released bool
	d.Do(func() {
		if status := d.UnregisterIO(p); status != omapi.StatusSuccess {
			t.Fatalf("unregister: %v", status)
		}
		released = p.destroyed
	})
	if released {
		t.Fatalf("object released while still inside the loop")
	}
	if !p.destroyed {
		t.Fatalf("object should be released once Do returns")
	}
	d.Do(func() {
		if status := d.UnregisterIO(p); status != omapi.StatusNotFound {
			t.Fatalf("second unregister: expected not found, got %v", status)
		}
	})
}

func TestCallbackPanicIsContained(t *testing.T) {
	d, typ := setup(t)
	p, peer := newProbe(t, typ)
	d.RegisterIO(p)
	p.panicRead = true

	unix.Write(peer, []byte("x"))
	if err := d.Dispatch(time.Second); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if p.reaps != 1 {
		t.Fatalf("reaper should still run after a panicking reader")
	}
}

func TestTimeoutsRunInOrderAndCancel(t *testing.T) {
	d, _ := setup(t)
	now := time.Now()
	var order []int
	d.AddTimeout(now.Add(2*time.Millisecond), func() { order = append(order, 2) })
	d.AddTimeout(now.Add(time.Millisecond), func() { order = append(order, 1) })
	skipped := d.AddTimeout(now, func() { order = append(order, 0) })
	skipped.Cancel()

	deadline := time.Now().Add(time.Second)
	for len(order) < 2 && time.Now().Before(deadline) {
		if err := d.Dispatch(5 * time.Millisecond); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected timeout order %v", order)
	}
}

func TestRunStopsOnCancelAndReleases(t *testing.T) {
	d, typ := setup(t)
	p, _ := newProbe(t, typ)
	d.RegisterIO(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var reaped int
	deadline := time.Now().Add(2 * time.Second)
	for reaped == 0 && time.Now().Before(deadline) {
		d.Do(func() { reaped = p.reaps })
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
	if reaped == 0 {
		t.Fatalf("loop never reaped")
	}
	if d.Len() != 0 || !p.destroyed {
		t.Fatalf("run should release registrations on exit")
	}
}

func TestTimeoutsScheduledInPassSeeReleasedObjects(t *testing.T) {
	d, typ := setup(t)
	p, _ := newProbe(t, typ)
	d.RegisterIO(p)

	ran := false
	destroyedFirst := false
	p.closed = true
	p.onReap = func() {
		d.AddTimeout(time.Now(), func() {
			ran = true
			destroyedFirst = p.destroyed
		})
	}
	if err := d.Dispatch(0); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ran {
		t.Fatalf("timeout scheduled during the pass should run at its end")
	}
	if !destroyedFirst {
		t.Fatalf("deregistered object must be released before pass timeouts run")
	}
}
