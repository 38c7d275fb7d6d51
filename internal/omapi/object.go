package omapi

import (
	"github.com/rs/zerolog/log"
)

// Object is any value managed by the runtime. Kinds embed Header to satisfy it.
type Object interface {
	objectHeader() *Header
}

type lifecycle uint8

const (
	lifeAlive lifecycle = iota
	lifeDestroying
	lifeDestroyed
)

// Header is the identity every object kind embeds.
//
// inner is an owned slot; outer is a plain back-pointer and never counts
// toward the outer object's lifetime.
type Header struct {
	typ       *Type
	refs      int
	inner     Ref
	outer     Object
	handle    Handle
	hasHandle bool
	life      lifecycle
}

// NewHeader returns a header bound to t with a zero reference count.
func NewHeader(t *Type) Header {
	return Header{typ: t}
}

func (h *Header) objectHeader() *Header { return h }

func (h *Header) Type() *Type { return h.typ }

func (h *Header) Refcount() int { return h.refs }

func (h *Header) Inner() Object { return h.inner.obj }

func (h *Header) Outer() Object { return h.outer }

// Handle returns the remote handle, if one was ever assigned.
func (h *Header) Handle() (Handle, bool) { return h.handle, h.hasHandle }

// Destroying reports whether the destroy path has started for this object.
func (h *Header) Destroying() bool { return h.life != lifeAlive }

// TypeOf returns the registered type of obj, or nil.
func TypeOf(obj Object) *Type {
	if obj == nil {
		return nil
	}
	return obj.objectHeader().typ
}

// Ref is an owning slot. Every stored pointer that keeps an object alive
// goes through Acquire and Release; an emptied slot releases nothing.
type Ref struct {
	obj Object
}

func (r *Ref) Get() Object { return r.obj }

func (r *Ref) Empty() bool { return r.obj == nil }

// Acquire counts obj and stores it, releasing whatever the slot held before.
func (r *Ref) Acquire(obj Object) Status {
	if obj == nil {
		return StatusInvalidArgument
	}
	h := obj.objectHeader()
	if h.life != lifeAlive {
		return StatusInvalidArgument
	}
	h.refs++
	prev := r.obj
	r.obj = obj
	if prev != nil {
		return release(prev)
	}
	return StatusSuccess
}

// Release drops the slot's reference. The object is destroyed when its
// count reaches zero. Releasing an empty slot is a no-op.
func (r *Ref) Release() Status {
	obj := r.obj
	if obj == nil {
		return StatusSuccess
	}
	r.obj = nil
	return release(obj)
}

func release(obj Object) Status {
	h := obj.objectHeader()
	if h.refs <= 0 {
		log.Error().
			Stringer("type", h.typ).
			Int("refs", h.refs).
			Msg("omapi: refcount underflow")
		return StatusUnexpected
	}
	h.refs--
	if h.refs > 0 {
		return StatusSuccess
	}
	return destroy(obj)
}

func destroy(obj Object) Status {
	h := obj.objectHeader()
	if h.life != lifeAlive {
		return StatusSuccess
	}
	h.life = lifeDestroying
	status := StatusSuccess
	if h.typ != nil {
		status = h.typ.handler.Destroy(obj)
	}
	// Kinds are expected to release their own slots; the chain link is
	// always dropped here so a partially built object cannot leak it.
	Unlink(obj)
	h.outer = nil
	h.life = lifeDestroyed
	if status != StatusSuccess {
		log.Warn().
			Stringer("type", h.typ).
			Stringer("status", status).
			Msg("omapi: destroy reported failure")
	}
	return status
}

// Link makes inner the inner object of outer. outer takes a counted
// reference; inner records outer as its uncounted back-pointer.
func Link(outer, inner Object) Status {
	if outer == nil || inner == nil || outer == inner {
		return StatusInvalidArgument
	}
	oh := outer.objectHeader()
	ih := inner.objectHeader()
	if oh.inner.obj == inner {
		return StatusUnchanged
	}
	if ih.outer != nil && ih.outer != outer {
		return StatusInvalidArgument
	}
	for o := inner; o != nil; o = o.objectHeader().inner.obj {
		if o == outer {
			return StatusInvalidArgument
		}
	}
	if status := Unlink(outer); !status.OK() {
		return status
	}
	if status := oh.inner.Acquire(inner); status != StatusSuccess {
		return status
	}
	ih.outer = outer
	return StatusSuccess
}

// Unlink drops outer's inner object, clearing the back-pointer first.
func Unlink(outer Object) Status {
	if outer == nil {
		return StatusInvalidArgument
	}
	oh := outer.objectHeader()
	inner := oh.inner.obj
	if inner == nil {
		return StatusSuccess
	}
	if ih := inner.objectHeader(); ih.outer == outer {
		ih.outer = nil
	}
	return oh.inner.Release()
}
