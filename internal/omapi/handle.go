package omapi

import (
	"encoding/binary"
	"sync"
)

// Handle identifies a local object to a remote peer.
type Handle uint32

// HandleTable maps handles to live objects. The table holds a counted
// reference to every object it names.
type HandleTable struct {
	mu    sync.RWMutex
	next  Handle
	items map[Handle]*Ref
}

func NewHandleTable() *HandleTable {
	return &HandleTable{items: make(map[Handle]*Ref)}
}

// Assign gives obj a handle. An object keeps the first handle it is given.
func (t *HandleTable) Assign(obj Object) (Handle, Status) {
	if obj == nil {
		return 0, StatusInvalidArgument
	}
	h := obj.objectHeader()
	t.mu.Lock()
	defer t.mu.Unlock()
	if h.hasHandle {
		if _, ok := t.items[h.handle]; ok {
			return h.handle, StatusUnchanged
		}
		ref := &Ref{}
		if status := ref.Acquire(obj); status != StatusSuccess {
			return 0, status
		}
		t.items[h.handle] = ref
		return h.handle, StatusSuccess
	}
	t.next++
	if t.next == 0 {
		return 0, StatusNoResources
	}
	ref := &Ref{}
	if status := ref.Acquire(obj); status != StatusSuccess {
		t.next--
		return 0, status
	}
	h.handle = t.next
	h.hasHandle = true
	t.items[h.handle] = ref
	return h.handle, StatusSuccess
}

// Lookup stores a newly acquired reference to the object named by handle.
func (t *HandleTable) Lookup(out *Ref, handle Handle) Status {
	if out == nil {
		return StatusInvalidArgument
	}
	t.mu.RLock()
	ref, ok := t.items[handle]
	t.mu.RUnlock()
	if !ok {
		return StatusNotFound
	}
	return out.Acquire(ref.Get())
}

// LookupTypedData resolves a handle carried as an int, a 4-byte big-endian
// data buffer, or an object value.
func (t *HandleTable) LookupTypedData(out *Ref, d *TypedData) Status {
	if d == nil {
		return StatusInvalidArgument
	}
	switch d.Type {
	case DatatypeInt:
		return t.Lookup(out, Handle(uint32(d.Int)))
	case DatatypeData:
		if len(d.Buffer) != 4 {
			return StatusInvalidArgument
		}
		return t.Lookup(out, Handle(binary.BigEndian.Uint32(d.Buffer)))
	case DatatypeObject:
		if d.Object == nil {
			return StatusInvalidArgument
		}
		return out.Acquire(d.Object)
	default:
		return StatusInvalidArgument
	}
}

// Remove drops the table's reference. The object keeps its handle value.
func (t *HandleTable) Remove(handle Handle) Status {
	t.mu.Lock()
	ref, ok := t.items[handle]
	delete(t.items, handle)
	t.mu.Unlock()
	if !ok {
		return StatusNotFound
	}
	return ref.Release()
}

func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}

// HandleOf returns obj's handle, if one was ever assigned.
func HandleOf(obj Object) (Handle, bool) {
	if obj == nil {
		return 0, false
	}
	return obj.objectHeader().Handle()
}
