// Package dispatch drives registered I/O objects from a poll(2) loop.
//
// Ownership boundary:
// - the loop lock every object callback runs under
//
// - readiness polling and reader/writer/reaper invocation
//
// - deferred release of deregistered objects and loop-side timeouts
//
// RegisterIO, UnregisterIO and AddTimeout are loop-side: call them from a
// callback, a timeout or inside Do. Other goroutines reach objects through Do.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/omapi/internal/observability"
	"github.com/danmuck/omapi/internal/omapi"
	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const DefaultPollInterval = 250 * time.Millisecond

type Options struct {
	// PollInterval caps how long one pass waits for readiness.
	PollInterval time.Duration
}

type entry struct {
	obj  omapi.IOObject
	ref  omapi.Ref
	live bool
}

// Timeout is a callback scheduled on the loop.
type Timeout struct {
	at       time.Time
	fn       func()
	canceled bool
}

// Cancel stops a pending timeout. Loop-side.
func (t *Timeout) Cancel() {
	if t != nil {
		t.canceled = true
	}
}

// Dispatcher is the reference IORegistrar.
type Dispatcher struct {
	mu       sync.Mutex
	interval time.Duration

	entries []*entry
	index   map[omapi.Object]*entry
	count   atomic.Int64

	// reap holds *entry values whose references drop at the end of a pass.
	reap     *queue.Queue
	timeouts []*Timeout
}

func New(opts Options) *Dispatcher {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Dispatcher{
		interval: interval,
		index:    make(map[omapi.Object]*entry),
		reap:     queue.New(),
	}
}

// RegisterIO starts polling obj. The dispatcher holds a reference until
// obj is deregistered.
func (d *Dispatcher) RegisterIO(obj omapi.IOObject) omapi.Status {
	if obj == nil {
		return omapi.StatusInvalidArgument
	}
	if _, ok := d.index[obj]; ok {
		return omapi.StatusUnchanged
	}
	e := &entry{obj: obj, live: true}
	if status := e.ref.Acquire(obj); status != omapi.StatusSuccess {
		return status
	}
	d.entries = append(d.entries, e)
	d.index[obj] = e
	d.count.Add(1)
	observability.SetDispatchRegistered(int(d.count.Load()))
	log.Debug().Stringer("type", omapi.TypeOf(obj)).Msg("io object registered")
	return omapi.StatusSuccess
}

// UnregisterIO stops polling obj. Its reference is released once the
// current pass finishes, so callers may deregister from inside a callback.
func (d *Dispatcher) UnregisterIO(obj omapi.Object) omapi.Status {
	e, ok := d.index[obj]
	if !ok {
		return omapi.StatusNotFound
	}
	delete(d.index, obj)
	e.live = false
	for i, cur := range d.entries {
		if cur == e {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			break
		}
	}
	d.count.Add(-1)
	observability.SetDispatchRegistered(int(d.count.Load()))
	d.reap.Add(e)
	return omapi.StatusSuccess
}

// Len reports the registered object count. Safe from any goroutine.
func (d *Dispatcher) Len() int {
	return int(d.count.Load())
}

// AddTimeout runs fn on the loop at or after at.
func (d *Dispatcher) AddTimeout(at time.Time, fn func()) *Timeout {
	t := &Timeout{at: at, fn: fn}
	d.timeouts = append(d.timeouts, t)
	sort.SliceStable(d.timeouts, func(i, j int) bool {
		return d.timeouts[i].at.Before(d.timeouts[j].at)
	})
	return t
}

// Do runs fn under the loop lock.
func (d *Dispatcher) Do(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
	d.drainReap()
}

type pollTarget struct {
	e     *entry
	read  bool
	write bool
}

// Dispatch runs one pass: due timeouts, one poll of at most timeout, the
// reader and writer of every ready object, then every object's reaper.
func (d *Dispatcher) Dispatch(timeout time.Duration) error {
	start := time.Now()
	defer func() { observability.RecordDispatchPass(time.Since(start)) }()

	d.mu.Lock()
	d.runTimeouts(start)
	fds, targets := d.collect()
	wait := d.waitFor(timeout, start)
	d.mu.Unlock()

	n, err := unix.Poll(fds, int(wait/time.Millisecond))
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("dispatch poll: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if n > 0 {
		for i := range fds {
			revents := fds[i].Revents
			if revents == 0 {
				continue
			}
			t := targets[i]
			if t.read && t.e.live && revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				d.call(t.e, "reader", t.e.obj.Reader)
			}
			if t.write && t.e.live && revents&(unix.POLLOUT|unix.POLLERR) != 0 {
				d.call(t.e, "writer", t.e.obj.Writer)
			}
		}
	}
	for _, e := range append([]*entry(nil), d.entries...) {
		if !e.live {
			continue
		}
		if status := d.call(e, "reaper", e.obj.Reaper); status == omapi.StatusNotConnected && e.live {
			d.UnregisterIO(e.obj)
		}
	}
	// Release deregistered objects before timeouts run so a callback
	// scheduled during this pass sees them gone.
	d.drainReap()
	d.runTimeouts(time.Now())
	d.drainReap()
	return nil
}

// collect builds the poll set. A descriptor wanted for both directions
// gets one pollfd.
func (d *Dispatcher) collect() ([]unix.PollFd, []pollTarget) {
	fds := make([]unix.PollFd, 0, len(d.entries))
	targets := make([]pollTarget, 0, len(d.entries))
	for _, e := range d.entries {
		rfd, rok := e.obj.ReadFD()
		wfd, wok := e.obj.WriteFD()
		switch {
		case rok && wok && rfd == wfd:
			fds = append(fds, unix.PollFd{Fd: int32(rfd), Events: unix.POLLIN | unix.POLLOUT})
			targets = append(targets, pollTarget{e: e, read: true, write: true})
		default:
			if rok {
				fds = append(fds, unix.PollFd{Fd: int32(rfd), Events: unix.POLLIN})
				targets = append(targets, pollTarget{e: e, read: true})
			}
			if wok {
				fds = append(fds, unix.PollFd{Fd: int32(wfd), Events: unix.POLLOUT})
				targets = append(targets, pollTarget{e: e, write: true})
			}
		}
	}
	return fds, targets
}

func (d *Dispatcher) waitFor(timeout time.Duration, now time.Time) time.Duration {
	if timeout < 0 {
		timeout = 0
	}
	for _, t := range d.timeouts {
		if t.canceled {
			continue
		}
		if until := t.at.Sub(now); until < timeout {
			timeout = max(until, 0)
		}
		break
	}
	return timeout
}

func (d *Dispatcher) runTimeouts(now time.Time) {
	for len(d.timeouts) > 0 {
		t := d.timeouts[0]
		if !t.canceled && t.at.After(now) {
			return
		}
		d.timeouts = d.timeouts[1:]
		if !t.canceled {
			t.fn()
		}
	}
}

// call invokes one callback, containing panics to the object that raised them.
func (d *Dispatcher) call(e *entry, name string, fn func() omapi.Status) (status omapi.Status) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("callback", name).
				Stringer("type", omapi.TypeOf(e.obj)).
				Msg("io callback panicked")
			status = omapi.StatusUnexpected
		}
		observability.RecordDispatch(name, status.String())
	}()
	status = fn()
	if !status.OK() && status != omapi.StatusNotConnected {
		log.Warn().
			Str("callback", name).
			Stringer("type", omapi.TypeOf(e.obj)).
			Stringer("status", status).
			Msg("io callback failed")
	}
	return status
}

func (d *Dispatcher) drainReap() {
	for d.reap.Length() > 0 {
		e := d.reap.Remove().(*entry)
		e.ref.Release()
	}
}

// Run dispatches until ctx is done, then releases every registration.
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info().Dur("interval", d.interval).Msg("dispatcher running")
	for ctx.Err() == nil {
		if err := d.Dispatch(d.interval); err != nil {
			return err
		}
	}
	d.Close()
	log.Info().Msg("dispatcher stopped")
	return nil
}

// Close deregisters every object and drops pending timeouts.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.entries) > 0 {
		d.UnregisterIO(d.entries[0].obj)
	}
	d.timeouts = nil
	d.drainReap()
}
